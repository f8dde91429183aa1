package echo

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

// 64-bit atomics panic on 386/arm unless stat is first, check with GOARCH=386 go test.
func TestStatAlign(t *testing.T) {
	t.Parallel()
	var s Server
	assert.Equal(t, uintptr(0), unsafe.Offsetof(s.stat))
}
