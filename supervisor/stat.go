package supervisor

import (
	"fmt"
	"sync/atomic"

	"github.com/cellbeat/cellbeat/helpers/atomic_clock"
)

// Stat counters are written by Supervisor goroutine, safe to read concurrently.
// Must be 64-bit aligned (first field of containing struct) for 32-bit targets.
type Stat struct {
	Opens             uint64
	Closes            uint64
	EstablishFailures uint64
	Escalations       uint64
	Beats             uint64
	Replies           uint64
	Missed            uint64
	Broken            uint64
	LastReply         atomic_clock.Clock
	Registered        atomic_clock.Clock
}

// StatSnapshot is plain copy for reporting.
type StatSnapshot struct {
	Opens             uint64
	Closes            uint64
	EstablishFailures uint64
	Escalations       uint64
	Beats             uint64
	Replies           uint64
	Missed            uint64
	Broken            uint64
	LastReplyUnixNano int64
}

func (s *Stat) Snapshot() StatSnapshot {
	return StatSnapshot{
		Opens:             atomic.LoadUint64(&s.Opens),
		Closes:            atomic.LoadUint64(&s.Closes),
		EstablishFailures: atomic.LoadUint64(&s.EstablishFailures),
		Escalations:       atomic.LoadUint64(&s.Escalations),
		Beats:             atomic.LoadUint64(&s.Beats),
		Replies:           atomic.LoadUint64(&s.Replies),
		Missed:            atomic.LoadUint64(&s.Missed),
		Broken:            atomic.LoadUint64(&s.Broken),
		LastReplyUnixNano: s.LastReply.UnixNano(),
	}
}

func (s StatSnapshot) String() string {
	return fmt.Sprintf("(open=%d close=%d fail=%d escalate=%d beat=%d reply=%d missed=%d broken=%d)",
		s.Opens, s.Closes, s.EstablishFailures, s.Escalations, s.Beats, s.Replies, s.Missed, s.Broken)
}

func inc(addr *uint64) { atomic.AddUint64(addr, 1) }
