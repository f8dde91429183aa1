package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cellbeat/cellbeat/log2"
	"github.com/juju/errors"
)

// TCPDialer opens plain TCP sessions.
type TCPDialer struct {
	Log            *log2.Log
	ConnectTimeout time.Duration
	ReadLimit      int
}

var _ Dialer = &TCPDialer{}

func (d *TCPDialer) Open(ctx context.Context, ep Endpoint) (Session, error) {
	if err := ep.Validate(); err != nil {
		return nil, errors.Annotate(err, "address")
	}
	dialer := net.Dialer{Timeout: d.ConnectTimeout}
	if dialer.Timeout == 0 {
		dialer.Timeout = DefaultConnectTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if timeout := time.Until(deadline); timeout <= 0 {
			return nil, context.DeadlineExceeded
		} else if timeout < dialer.Timeout {
			dialer.Timeout = timeout
		}
	}
	conn, err := dialer.DialContext(ctx, "tcp4", ep.String())
	if err != nil {
		return nil, errors.Annotatef(err, "connect %s", ep)
	}
	readLimit := d.ReadLimit
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	return newTCPSession(conn, readLimit, d.Log), nil
}

type tcpSession struct {
	stat   SessionStat // atomic align, keep first
	mu     sync.Mutex
	closed bool
	net    net.Conn
	buf    []byte
	log    *log2.Log
}

// NewConnSession wraps already established conn.
func NewConnSession(conn net.Conn, readLimit int, log *log2.Log) Session {
	return newTCPSession(conn, readLimit, log)
}

func newTCPSession(conn net.Conn, readLimit int, log *log2.Log) *tcpSession {
	if tcp, ok := conn.(*net.TCPConn); ok {
		// radio link, keep traffic to heartbeats only
		_ = tcp.SetKeepAlive(false)
		_ = tcp.SetNoDelay(true)
	}
	s := &tcpSession{
		net: conn,
		buf: make([]byte, readLimit),
		log: log,
	}
	s.stat.Opened.SetNow()
	return s
}

func (s *tcpSession) Send(b []byte) error {
	for len(b) > 0 {
		n, err := s.net.Write(b)
		if err != nil {
			return errors.Annotate(err, "send")
		}
		s.stat.registerSend(n)
		b = b[n:]
	}
	return nil
}

func (s *tcpSession) Receive(timeout time.Duration) ([]byte, error) {
	if err := s.net.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errors.Annotate(err, "SetReadDeadline")
	}
	n, err := s.net.Read(s.buf)
	if n > 0 {
		s.stat.registerRecv(n)
		b := make([]byte, n)
		copy(b, s.buf[:n])
		return b, nil
	}
	switch {
	case err == nil || err == io.EOF:
		return []byte{}, nil
	case IsTimeout(err):
		return nil, errors.Timeoutf("receive %s", timeout)
	}
	return nil, errors.Annotate(err, "receive")
}

func (s *tcpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosing
	}
	s.closed = true
	s.log.Debugf("session close remote=%s stat=%s", s.RemoteAddr(), s.stat.String())
	return s.net.Close()
}

func (s *tcpSession) RemoteAddr() string {
	if a := s.net.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

func (s *tcpSession) Stat() *SessionStat { return &s.stat }
