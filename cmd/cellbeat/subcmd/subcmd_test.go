package subcmd

import (
	"context"
	"testing"

	"github.com/cellbeat/cellbeat/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	main := func(context.Context, *state.Config) error { return nil }
	mods := []Mod{{Name: "run", Main: main}, {Name: "at", Main: main}}

	m, err := Parse("at", mods)
	require.NoError(t, err)
	assert.Equal(t, "at", m.Name)

	_, err = Parse("", mods)
	assert.EqualError(t, err, "empty command")

	_, err = Parse("fly", mods)
	assert.EqualError(t, err, "unknown command='fly' (expected one of [at run])")

	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{Main: main}}) })
}
