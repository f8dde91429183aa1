package helpers

// Random synchronisation util stash

import (
	"github.com/temoto/alive/v2"
)

// AliveSub stops leaf when root stops. Blocks, run in goroutine.
func AliveSub(root, leaf *alive.Alive) {
	select {
	case <-root.StopChan():
		leaf.Stop()
	case <-leaf.StopChan():
	}
}
