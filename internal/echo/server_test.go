package echo_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cellbeat/cellbeat/internal/echo"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/supervisor"
	"github.com/cellbeat/cellbeat/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t testing.TB, opt echo.Options) (*echo.Server, transport.Session) {
	opt.Log = log2.NewTest(t, log2.LDebug)
	s := echo.New(opt)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	t.Cleanup(func() { _ = s.Close() })

	addr := s.Addr().(*net.TCPAddr)
	ep, err := transport.ParseEndpoint("127.0.0.1", addr.Port)
	require.NoError(t, err)
	d := &transport.TCPDialer{Log: opt.Log, ConnectTimeout: time.Second}
	session, err := d.Open(context.Background(), ep)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return s, session
}

func TestHeartbeatAgainstEcho(t *testing.T) {
	t.Parallel()

	s, session := newServer(t, echo.Options{})
	log := log2.NewTest(t, log2.LDebug)
	for i := 0; i < 3; i++ {
		b := supervisor.Heartbeat(session, []byte("hola mundo"), time.Second, log)
		require.Equal(t, supervisor.Continue, b.Outcome)
		assert.False(t, b.Missed)
		assert.Equal(t, "HOLA MUNDO", string(b.Reply))
	}
	assert.Equal(t, echo.Stat{Accepted: 1, Messages: 3}, s.Stat())
}

func TestDropIsMissedReply(t *testing.T) {
	t.Parallel()

	_, session := newServer(t, echo.Options{DropEvery: 2})
	log := log2.NewTest(t, log2.LDebug)
	b := supervisor.Heartbeat(session, []byte("a"), time.Second, log)
	assert.Equal(t, "A", string(b.Reply))
	b = supervisor.Heartbeat(session, []byte("b"), 50*time.Millisecond, log)
	assert.Equal(t, supervisor.Continue, b.Outcome)
	assert.True(t, b.Missed)
}

func TestCloseIsBroken(t *testing.T) {
	t.Parallel()

	s, session := newServer(t, echo.Options{})
	log := log2.NewTest(t, log2.LDebug)
	require.Equal(t, supervisor.Continue, supervisor.Heartbeat(session, []byte("x"), time.Second, log).Outcome)
	require.NoError(t, s.Close())

	b := supervisor.Heartbeat(session, []byte("y"), time.Second, log)
	assert.Equal(t, supervisor.Broken, b.Outcome)
}

func TestIdleTimeout(t *testing.T) {
	t.Parallel()

	_, session := newServer(t, echo.Options{IdleTimeout: 20 * time.Millisecond})
	b, err := session.Receive(time.Second)
	require.NoError(t, err)
	assert.Len(t, b, 0)
}

func TestReply(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "HOLA MUNDO (NB-IOT)", string(echo.Reply([]byte("hola mundo (NB-IoT)"))))
}
