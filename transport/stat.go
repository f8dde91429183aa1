package transport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cellbeat/cellbeat/helpers/atomic_clock"
)

// SessionStat must be 64-bit aligned (first field of containing struct) for 32-bit targets.
type SessionStat struct {
	SendCount uint64
	SendBytes uint64
	RecvCount uint64
	RecvBytes uint64
	LastSend  atomic_clock.Clock
	LastRecv  atomic_clock.Clock
	Opened    atomic_clock.Clock
}

func (s *SessionStat) registerSend(n int) {
	atomic.AddUint64(&s.SendCount, 1)
	atomic.AddUint64(&s.SendBytes, uint64(n))
	s.LastSend.SetNow()
}

func (s *SessionStat) registerRecv(n int) {
	atomic.AddUint64(&s.RecvCount, 1)
	atomic.AddUint64(&s.RecvBytes, uint64(n))
	s.LastRecv.SetNow()
}

func (s *SessionStat) Age() time.Duration { return atomic_clock.Since(&s.Opened) }

func (s *SessionStat) String() string {
	return fmt.Sprintf("(send=%d/%dB recv=%d/%dB age=%s)",
		atomic.LoadUint64(&s.SendCount), atomic.LoadUint64(&s.SendBytes),
		atomic.LoadUint64(&s.RecvCount), atomic.LoadUint64(&s.RecvBytes),
		s.Age().Round(time.Millisecond))
}
