package collector_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/cellbeat/cellbeat/internal/tele/collector"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/supervisor"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDefaultTimeout = time.Second

type received struct {
	client string
	msg    packet.Message
}

type tenv struct {
	t      testing.TB
	log    *log2.Log
	s      *collector.Server
	addr   string
	msgs   chan received
	closes chan bool

	mu     sync.Mutex
	reject bool
}

func newTestServer(t testing.TB, passwords map[string]string) *tenv {
	env := &tenv{
		t:      t,
		log:    log2.NewTest(t, log2.LDebug),
		msgs:   make(chan received, 16),
		closes: make(chan bool, 16),
	}
	env.s = collector.New(context.Background(), collector.Options{
		Log:            env.log,
		NetworkTimeout: testDefaultTimeout,
		Passwords:      passwords,
		OnMessage: func(_ context.Context, id string, msg *packet.Message) error {
			env.mu.Lock()
			reject := env.reject
			env.mu.Unlock()
			if reject {
				return errors.New("rejected")
			}
			env.msgs <- received{id, *msg.Copy()}
			return nil
		},
		OnClose: func(_ string, clean bool, _ error) { env.closes <- clean },
	})
	require.NoError(t, env.s.Listen("tcp://127.0.0.1:0"))
	addrs := env.s.Addrs()
	require.Len(t, addrs, 1)
	env.addr = addrs[0]
	t.Cleanup(func() { assert.NoError(t, env.s.Close()) })
	return env
}

func (env *tenv) dial() transport.Conn {
	c, err := transport.Dial("tcp://" + env.addr)
	require.NoError(env.t, err)
	c.SetReadTimeout(testDefaultTimeout)
	return c
}

func (env *tenv) connect(c transport.Conn, id, password string, will *packet.Message) packet.ConnackCode {
	pkt := packet.NewConnect()
	pkt.CleanSession = true
	pkt.ClientID = id
	pkt.Username = id
	pkt.Password = password
	pkt.Will = will
	require.NoError(env.t, c.Send(pkt, false))
	connack, ok := env.receive(c).(*packet.Connack)
	require.True(env.t, ok)
	return connack.ReturnCode
}

func (env *tenv) receive(c transport.Conn) packet.Generic {
	pkt, err := c.Receive()
	require.NoError(env.t, err)
	env.log.Infof("testClient recv pkt=%s", collector.PacketText(pkt))
	return pkt
}

func (env *tenv) expectMessage() received {
	select {
	case r := <-env.msgs:
		return r
	case <-time.After(testDefaultTimeout):
		env.t.Fatal("timeout waiting for message")
	}
	return received{}
}

func TestPublishQos1(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)

	c := env.dial()
	defer c.Close()
	require.Equal(t, packet.ConnectionAccepted, env.connect(c, "cb7", "", nil))

	pub := packet.NewPublish()
	pub.ID = 42
	pub.Message = packet.Message{Topic: "cb7/w/1t", QOS: packet.QOSAtLeastOnce, Payload: []byte{1, 2, 3}}
	require.NoError(t, c.Send(pub, false))
	puback, ok := env.receive(c).(*packet.Puback)
	require.True(t, ok)
	assert.Equal(t, packet.ID(42), puback.ID)

	r := env.expectMessage()
	assert.Equal(t, "cb7", r.client)
	assert.Equal(t, "cb7/w/1t", r.msg.Topic)
	assert.Equal(t, []byte{1, 2, 3}, r.msg.Payload)
	assert.Equal(t, []string{"cb7"}, env.s.Clients())

	require.NoError(t, c.Send(packet.NewPingreq(), false))
	_, ok = env.receive(c).(*packet.Pingresp)
	assert.True(t, ok)

	require.NoError(t, c.Send(packet.NewDisconnect(), false))
	assert.True(t, <-env.closes)
}

func TestPublishRejectedNotAcked(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)
	env.mu.Lock()
	env.reject = true
	env.mu.Unlock()

	c := env.dial()
	defer c.Close()
	require.Equal(t, packet.ConnectionAccepted, env.connect(c, "cb8", "", nil))
	pub := packet.NewPublish()
	pub.ID = 1
	pub.Message = packet.Message{Topic: "cb8/w/1t", QOS: packet.QOSAtLeastOnce, Payload: []byte{1}}
	require.NoError(t, c.Send(pub, false))

	// ping response proves publish was processed without ack
	require.NoError(t, c.Send(packet.NewPingreq(), false))
	_, ok := env.receive(c).(*packet.Pingresp)
	assert.True(t, ok)
}

func TestAuth(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, map[string]string{"cb1": "secret"})

	cases := []struct {
		name     string
		id       string
		password string
		expect   packet.ConnackCode
	}{
		{"ok", "cb1", "secret", packet.ConnectionAccepted},
		{"wrong-password", "cb1", "guess", packet.NotAuthorized},
		{"unknown", "cb2", "secret", packet.NotAuthorized},
		{"empty-id", "", "", packet.IdentifierRejected},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			conn := env.dial()
			defer conn.Close()
			assert.Equal(t, c.expect, env.connect(conn, c.id, c.password, nil))
		})
	}
}

func TestWillOnUncleanClose(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)

	c := env.dial()
	will := &packet.Message{Topic: "cb9/c", QOS: packet.QOSAtLeastOnce, Retain: true, Payload: []byte{0}}
	require.Equal(t, packet.ConnectionAccepted, env.connect(c, "cb9", "", will))

	sub := packet.NewSubscribe()
	sub.ID = 3
	sub.Subscriptions = []packet.Subscription{{Topic: "cb9/r/#", QOS: 2}}
	require.NoError(t, c.Send(sub, false))
	suback, ok := env.receive(c).(*packet.Suback)
	require.True(t, ok)
	assert.Equal(t, []packet.QOS{packet.QOSAtLeastOnce}, suback.ReturnCodes)

	require.NoError(t, c.Close())
	r := env.expectMessage()
	assert.Equal(t, "cb9", r.client)
	assert.Equal(t, "cb9/c", r.msg.Topic)
	assert.Equal(t, []byte{0}, r.msg.Payload)
	assert.False(t, <-env.closes)
}

func TestPacketText(t *testing.T) {
	t.Parallel()

	state := packet.NewPublish()
	state.ID = 3
	state.Message = packet.Message{Topic: "cb7/w/1s", QOS: packet.QOSAtLeastOnce, Retain: true,
		Payload: []byte{0x02, byte(supervisor.SessionActive)}}
	foreign := packet.NewPublish()
	foreign.Message = packet.Message{Topic: "other/topic", Payload: []byte{0xca, 0xfe}}

	cases := []struct {
		name   string
		pkt    packet.Generic
		expect string
	}{
		{"nil", nil, "(nil)"},
		{"state", state, "publish id=3 dup=false topic=cb7/w/1s qos=1 retain=true state=" + supervisor.SessionActive.String()},
		{"foreign", foreign, "publish id=0 dup=false topic=other/topic qos=0 retain=false payload=cafe"},
		{"other", packet.NewPingreq(), packet.NewPingreq().String()},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, c.expect, collector.PacketText(c.pkt))
		})
	}
}
