// Package echo is the bench counterpart of the heartbeat client:
// plain TCP server answering every received chunk upper-cased.
package echo

import (
	"bytes"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cellbeat/cellbeat/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

const DefaultReadLimit = 1024

var ErrClosing = errors.New("server is closing")

type Options struct {
	Log       *log2.Log
	ReadLimit int
	// close silent connection after this, 0 = never
	IdleTimeout time.Duration
	// leave every Nth message unanswered, 0 = answer all
	DropEvery uint64
}

type Stat struct {
	Accepted uint64
	Messages uint64
	Dropped  uint64
}

type Server struct {
	stat Stat // atomic align, keep first
	sync.Mutex

	alive    *alive.Alive
	log      *log2.Log
	opt      Options
	listener net.Listener
	conns    map[net.Conn]struct{}
}

func New(opt Options) *Server {
	if opt.ReadLimit <= 0 {
		opt.ReadLimit = DefaultReadLimit
	}
	return &Server{
		alive: alive.NewAlive(),
		log:   opt.Log,
		opt:   opt,
		conns: make(map[net.Conn]struct{}),
	}
}

// Reply is the answer to one received message.
func Reply(b []byte) []byte { return bytes.ToUpper(b) }

func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp4", addr)
	if err != nil {
		return errors.Annotatef(err, "echo listen addr=%s", addr)
	}
	s.Lock()
	defer s.Unlock()
	if s.listener != nil {
		_ = listener.Close()
		return errors.AlreadyExistsf("echo listener")
	}
	if !s.alive.Add(1) {
		_ = listener.Close()
		return ErrClosing
	}
	s.listener = listener
	s.log.Infof("echo listen addr=%s", listener.Addr())
	go s.acceptLoop(listener)
	return nil
}

func (s *Server) Addr() net.Addr {
	s.Lock()
	defer s.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stat() Stat {
	return Stat{
		Accepted: atomic.LoadUint64(&s.stat.Accepted),
		Messages: atomic.LoadUint64(&s.stat.Messages),
		Dropped:  atomic.LoadUint64(&s.stat.Dropped),
	}
}

// Close stops listener and all connections, waits for handlers.
func (s *Server) Close() error {
	s.alive.Stop()
	var err error
	s.Lock()
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.Unlock()
	s.alive.WaitTasks()
	return err
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.alive.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.alive.IsRunning() {
				s.log.Errorf("echo accept err=%v", err)
			}
			return
		}
		s.Lock()
		if !s.alive.Add(1) {
			s.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.Unlock()
		atomic.AddUint64(&s.stat.Accepted, 1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.alive.Done()
	remote := conn.RemoteAddr().String()
	s.log.Infof("echo client connected remote=%s", remote)
	defer func() {
		s.Lock()
		delete(s.conns, conn)
		s.Unlock()
		_ = conn.Close()
		s.log.Infof("echo client gone remote=%s", remote)
	}()

	buf := make([]byte, s.opt.ReadLimit)
	for s.alive.IsRunning() {
		if s.opt.IdleTimeout != 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.opt.IdleTimeout)); err != nil {
				s.log.Errorf("echo remote=%s SetReadDeadline err=%v", remote, err)
				return
			}
		}
		n, err := conn.Read(buf)
		if n > 0 {
			s.handle(conn, remote, buf[:n])
		}
		if err != nil {
			if s.alive.IsRunning() {
				s.log.Debugf("echo remote=%s read err=%v", remote, err)
			}
			return
		}
	}
}

func (s *Server) handle(conn net.Conn, remote string, b []byte) {
	count := atomic.AddUint64(&s.stat.Messages, 1)
	s.log.Infof("echo rx remote=%s: %s", remote, b)
	if s.opt.DropEvery != 0 && count%s.opt.DropEvery == 0 {
		atomic.AddUint64(&s.stat.Dropped, 1)
		s.log.Debugf("echo drop remote=%s n=%d", remote, count)
		return
	}
	if _, err := conn.Write(Reply(b)); err != nil {
		s.log.Errorf("echo remote=%s write err=%v", remote, err)
	}
}
