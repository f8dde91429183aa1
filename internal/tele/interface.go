package tele

import (
	"context"

	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/supervisor"
)

type Teler interface {
	Init(context.Context, *log2.Log, Config) error
	Close()
	State(supervisor.State)
	Error(error)
	Report(*Report) error
}

type Noop struct{}

var _ Teler = Noop{} // compile-time interface test

func (Noop) Init(context.Context, *log2.Log, Config) error { return nil }
func (Noop) Close()                                         {}
func (Noop) State(supervisor.State)                         {}
func (Noop) Error(error)                                    {}
func (Noop) Report(*Report) error                           { return nil }
