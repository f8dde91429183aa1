package transport_test

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/transport"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	t.Parallel()
	type Case struct {
		address   string
		port      int
		expectErr string
	}
	cases := []Case{
		{"93.184.216.34", 7000, ""},
		{"127.0.0.1", 1, ""},
		{"example.com", 7000, "dotted-decimal"},
		{"::1", 7000, "dotted-decimal"},
		{"", 7000, "dotted-decimal"},
		{"10.0.0.1", 0, "port=0"},
		{"10.0.0.1", 70000, "port=70000"},
	}
	for _, c := range cases {
		c := c
		t.Run(fmt.Sprintf("%s:%d", c.address, c.port), func(t *testing.T) {
			ep, err := transport.ParseEndpoint(c.address, c.port)
			if c.expectErr == "" {
				require.NoError(t, err)
				assert.Equal(t, net.JoinHostPort(c.address, strconv.Itoa(c.port)), ep.String())
			} else {
				require.Error(t, err)
				assert.True(t, errors.IsNotValid(errors.Cause(err)))
				assert.Contains(t, err.Error(), c.expectErr)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()
	assert.False(t, transport.IsTimeout(nil))
	assert.False(t, transport.IsTimeout(fmt.Errorf("connection reset by peer")))
	assert.True(t, transport.IsTimeout(errors.Timeoutf("receive")))
	assert.True(t, transport.IsTimeout(errors.Annotate(errors.Timeoutf("receive"), "heartbeat")))
	assert.Equal(t, "timeout", transport.ErrorString(errors.Timeoutf("x")))
	assert.Equal(t, "refused", transport.ErrorString(fmt.Errorf("dial tcp4 1.2.3.4:5: connect: connection refused")))
}

// listener accepting single connection, handle runs in goroutine
func testServer(t testing.TB, handle func(net.Conn)) transport.Endpoint {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return transport.Endpoint{Address: "127.0.0.1", Port: uint16(addr.Port)}
}

func TestTCPSessionEcho(t *testing.T) {
	t.Parallel()
	ep := testServer(t, func(conn net.Conn) {
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err == nil {
			_, _ = conn.Write(bytes.ToUpper(buf[:n]))
		}
		time.Sleep(200 * time.Millisecond)
	})
	d := &transport.TCPDialer{Log: log2.NewTest(t, log2.LDebug), ConnectTimeout: time.Second}
	s, err := d.Open(context.Background(), ep)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send([]byte("hola mundo")))
	b, err := s.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "HOLA MUNDO", string(b))
	assert.Equal(t, uint64(1), s.Stat().RecvCount)
	assert.Equal(t, uint64(10), s.Stat().SendBytes)
}

func TestTCPSessionTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	ep := testServer(t, func(conn net.Conn) { <-release })
	defer close(release)
	d := &transport.TCPDialer{ConnectTimeout: time.Second}
	s, err := d.Open(context.Background(), ep)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Receive(50 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, transport.IsTimeout(err), "err=%v", err)
}

func TestTCPSessionClosedByRemote(t *testing.T) {
	t.Parallel()
	ep := testServer(t, func(conn net.Conn) {})
	d := &transport.TCPDialer{ConnectTimeout: time.Second}
	s, err := d.Open(context.Background(), ep)
	require.NoError(t, err)
	defer s.Close()

	b, err := s.Receive(time.Second)
	require.NoError(t, err)
	assert.Len(t, b, 0)
}

func TestTCPSessionCloseTwice(t *testing.T) {
	t.Parallel()
	ep := testServer(t, func(conn net.Conn) { time.Sleep(100 * time.Millisecond) })
	d := &transport.TCPDialer{}
	s, err := d.Open(context.Background(), ep)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.Equal(t, transport.ErrClosing, s.Close())
}

func TestTCPDialRefused(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d := &transport.TCPDialer{ConnectTimeout: time.Second}
	_, err = d.Open(context.Background(), transport.Endpoint{Address: "127.0.0.1", Port: uint16(port)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect 127.0.0.1:")
}

func TestTCPDialInvalidAddress(t *testing.T) {
	t.Parallel()
	d := &transport.TCPDialer{}
	_, err := d.Open(context.Background(), transport.Endpoint{Address: "localhost", Port: 7000})
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(errors.Cause(err)))
}

func TestMockSessionScript(t *testing.T) {
	t.Parallel()
	d := &transport.MockDialer{
		Script: func(n int) []transport.MockReply {
			return []transport.MockReply{{Data: []byte("one")}, transport.MockTimeout(), {Closed: true}}
		},
	}
	s, err := d.Open(context.Background(), transport.Endpoint{Address: "10.0.0.1", Port: 1})
	require.NoError(t, err)
	b, err := s.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "one", string(b))
	_, err = s.Receive(time.Second)
	assert.True(t, transport.IsTimeout(err))
	b, err = s.Receive(time.Second)
	require.NoError(t, err)
	assert.Len(t, b, 0)
	require.NoError(t, s.Send([]byte("ping")))
	b, err = s.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "PING", string(b))
	assert.Equal(t, 1, d.Live())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, d.Live())
	assert.Equal(t, 1, d.Closes())
}

type failDeadlineConn struct{ net.Conn }

func (failDeadlineConn) SetReadDeadline(time.Time) error { return errors.New("deadline not supported") }

func TestReceiveDeadlineError(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	defer server.Close()
	session := transport.NewConnSession(failDeadlineConn{client}, 64, log2.NewTest(t, log2.LDebug))
	defer session.Close()

	b, err := session.Receive(time.Second)
	require.Error(t, err)
	assert.Nil(t, b)
	assert.False(t, transport.IsTimeout(err))
	assert.Contains(t, err.Error(), "SetReadDeadline")
	assert.Equal(t, uint64(0), atomic.LoadUint64(&session.Stat().RecvCount))
}
