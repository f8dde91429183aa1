// Package atomic_clock is convenient API around atomic int64 system clock.
// Use for time accounting, e.g. last send/receive on a session. Do not use where time zone matters.
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v int64 }

func source() int64 { return time.Now().UnixNano() }

func (c *Clock) get() int64    { return atomic.LoadInt64(&c.v) }
func (c *Clock) set(new int64) { atomic.StoreInt64(&c.v, new) }

func (c *Clock) IsZero() bool { return c.get() == 0 }

func (c *Clock) Set(new int64) { c.set(new) }
func (c *Clock) SetNow()       { c.set(source()) }

// Time returns zero time.Time if clock was never set.
func (c *Clock) Time() time.Time {
	v := c.get()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

func (c *Clock) UnixNano() int64 { return c.get() }

func Now() *Clock { return &Clock{v: source()} }

// Since returns 0 for zero clock.
func Since(begin *Clock) time.Duration {
	v := begin.get()
	if v == 0 {
		return 0
	}
	return time.Duration(source() - v)
}
