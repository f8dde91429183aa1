// Package retry implements the two-tier reconnect backoff:
// a run of short delays, then one escalated delay, then the run starts over.
// Not exponential, delay never grows past Escalated.
package retry

import (
	"fmt"
	"time"
)

// Counter of consecutive failures within one phase.
// Not safe for concurrent use, owned by a single loop.
type Counter struct {
	Failures            uint
	MaxBeforeEscalation uint
}

func NewCounter(maxBeforeEscalation uint) *Counter {
	return &Counter{MaxBeforeEscalation: maxBeforeEscalation}
}

func (c *Counter) String() string {
	return fmt.Sprintf("%d/%d", c.Failures, c.max())
}

func (c *Counter) max() uint {
	if c.MaxBeforeEscalation == 0 {
		return 1
	}
	return c.MaxBeforeEscalation
}

// Policy maps failure count to sleep duration. Stateless, all state is in Counter.
type Policy struct {
	Short     time.Duration
	Escalated time.Duration
}

// Use scenario:
// c := retry.NewCounter(3)
// for {
//   if err := op(); err != nil {
//     time.Sleep(policy.OnFailure(c))
//     continue
//   }
//   policy.OnSuccess(c)
// }
func (p Policy) OnFailure(c *Counter) time.Duration {
	d, _ := p.Next(c)
	return d
}

// Next is OnFailure which also reports whether the delay was escalated.
func (p Policy) Next(c *Counter) (time.Duration, bool) {
	c.Failures++
	if c.Failures >= c.max() {
		c.Failures = 0
		return p.Escalated, true
	}
	return p.Short, false
}

func (Policy) OnSuccess(c *Counter) { c.Failures = 0 }
