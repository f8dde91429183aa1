package state

import (
	"context"
	"os"
	"testing"

	"github.com/cellbeat/cellbeat/internal/tele"
	"github.com/cellbeat/cellbeat/log2"
)

// NewTestContext reads inline config, Init errors are returned for inspection.
func NewTestContext(t testing.TB, confString string, setup func(*Global)) (context.Context, *Global, error) {
	fs := NewMapReader(map[string]string{
		"test-inline": confString,
	})

	var log *log2.Log
	if os.Getenv("cellbeat_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log, tele.Noop{})
	if setup != nil {
		setup(g)
	}
	cfg, err := ReadConfig(log, fs, "test-inline")
	if err != nil {
		return ctx, g, err
	}
	return ctx, g, g.Init(ctx, cfg)
}
