package radio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cellbeat/cellbeat/helpers/msync"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/juju/errors"
)

type Outcome uint8

const (
	Pending Outcome = iota
	Registered
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Registered:
		return "registered"
	case TimedOut:
		return "timed-out"
	}
	return "pending"
}

// Waiter turns link notifications into single registered/timed-out result.
// Wait runs the link attach once, later calls return the same outcome.
type Waiter struct {
	link Link
	log  *log2.Log

	mu      sync.Mutex
	outcome Outcome
	err     error
	reg     *msync.Signal
	expired uint32 // atomic, set after TimedOut
}

func NewWaiter(link Link, log *log2.Log) *Waiter {
	return &Waiter{link: link, log: log, reg: msync.NewSignal()}
}

// Wait returns TimedOut with error when link Init fails.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (Outcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outcome != Pending {
		return w.outcome, w.err
	}

	w.link.Subscribe(w.onEvent)
	w.log.Infof("radio init")
	if err := w.link.Init(ctx); err != nil {
		w.outcome, w.err = TimedOut, errors.Annotate(err, "radio init")
		return w.outcome, w.err
	}

	w.log.Infof("radio waiting for registration timeout=%s", timeout)
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.reg.C():
		w.outcome = Registered
	case <-t.C:
		w.outcome = TimedOut
	case <-ctx.Done():
		w.outcome, w.err = TimedOut, ctx.Err()
	}
	if w.outcome == TimedOut {
		atomic.StoreUint32(&w.expired, 1)
	}
	return w.outcome, w.err
}

func (w *Waiter) onEvent(e Event) {
	switch e.Kind {
	case EventRegStatus:
		if e.Status.Registered() {
			if atomic.LoadUint32(&w.expired) != 0 {
				w.log.Infof("radio %s after registration timeout, ignored", e.Status)
				return
			}
			if w.reg.Set() {
				w.log.Infof("radio connected: %s", e.Status)
			} else {
				w.log.Debugf("radio %s (already signalled)", e.Status)
			}
			return
		}
		w.log.Infof("radio %s", e)
	case EventCellUpdate, EventRRCUpdate, EventModeUpdate:
		w.log.Infof("radio %s", e)
	default:
		w.log.Debugf("radio unhandled %s", e)
	}
}
