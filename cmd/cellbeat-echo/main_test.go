package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePasswords(t *testing.T) {
	t.Parallel()

	m, err := parsePasswords("")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = parsePasswords("cb1:secret, cb2:a:b")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cb1": "secret", "cb2": "a:b"}, m)

	_, err = parsePasswords("cb1")
	assert.Error(t, err)
}
