package transport

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
)

// MockReply is one scripted step of MockSession.
// SendErr fails the Send before this receive.
// Closed simulates zero-length read.
type MockReply struct {
	Data    []byte
	Err     error
	SendErr error
	Closed  bool
}

func MockTimeout() MockReply { return MockReply{Err: errors.Timeoutf("mock receive")} }

// MockDialer is scripted Dialer for tests. Counts opened and closed sessions.
// Open n is 1-based.
type MockDialer struct {
	OpenFunc func(n int) error
	Script   func(n int) []MockReply

	mu       sync.Mutex
	opens    int
	closes   int
	live     int
	maxLive  int
	attempts int
	sessions []*MockSession
}

var _ Dialer = &MockDialer{}

func (d *MockDialer) Open(ctx context.Context, ep Endpoint) (Session, error) {
	if err := ep.Validate(); err != nil {
		return nil, errors.Annotate(err, "address")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.OpenFunc != nil {
		if err := d.OpenFunc(d.attempts); err != nil {
			return nil, errors.Annotatef(err, "connect %s", ep)
		}
	}
	d.opens++
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	s := &MockSession{dialer: d, remote: ep.String()}
	s.stat.Opened.SetNow()
	if d.Script != nil {
		s.script = d.Script(d.opens)
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *MockDialer) Attempts() int { d.mu.Lock(); defer d.mu.Unlock(); return d.attempts }
func (d *MockDialer) Opens() int    { d.mu.Lock(); defer d.mu.Unlock(); return d.opens }
func (d *MockDialer) Closes() int   { d.mu.Lock(); defer d.mu.Unlock(); return d.closes }
func (d *MockDialer) Live() int     { d.mu.Lock(); defer d.mu.Unlock(); return d.live }
func (d *MockDialer) MaxLive() int  { d.mu.Lock(); defer d.mu.Unlock(); return d.maxLive }

func (d *MockDialer) Sessions() []*MockSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockSession(nil), d.sessions...)
}

// MockSession replays script, then echoes upper-cased last sent message forever.
type MockSession struct {
	stat   SessionStat // atomic align, keep first
	dialer *MockDialer
	remote string

	mu       sync.Mutex
	script   []MockReply
	sent     [][]byte
	timeouts []time.Duration
	closed   bool
}

var _ Session = &MockSession{}

func (s *MockSession) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosing
	}
	if len(s.script) > 0 && s.script[0].SendErr != nil {
		err := s.script[0].SendErr
		s.script = s.script[1:]
		return errors.Annotate(err, "send")
	}
	s.sent = append(s.sent, append([]byte(nil), b...))
	s.stat.registerSend(len(b))
	return nil
}

func (s *MockSession) Receive(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosing
	}
	s.timeouts = append(s.timeouts, timeout)
	if len(s.script) == 0 {
		var last []byte
		if len(s.sent) > 0 {
			last = s.sent[len(s.sent)-1]
		}
		s.stat.registerRecv(len(last))
		return bytes.ToUpper(last), nil
	}
	r := s.script[0]
	s.script = s.script[1:]
	switch {
	case r.Closed:
		return []byte{}, nil
	case r.Err != nil:
		return nil, r.Err
	}
	s.stat.registerRecv(len(r.Data))
	return r.Data, nil
}

func (s *MockSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosing
	}
	s.closed = true
	s.mu.Unlock()

	s.dialer.mu.Lock()
	s.dialer.closes++
	s.dialer.live--
	s.dialer.mu.Unlock()
	return nil
}

func (s *MockSession) RemoteAddr() string { return s.remote }
func (s *MockSession) Stat() *SessionStat { return &s.stat }

func (s *MockSession) Closed() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.closed }

func (s *MockSession) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

func (s *MockSession) ReceiveTimeouts() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.timeouts...)
}
