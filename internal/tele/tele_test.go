package tele_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cellbeat/cellbeat/internal/tele"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/supervisor"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

type transportMock struct {
	t            testing.TB
	failFirst    int
	outTelemetry chan []byte
	outState     chan []byte
	sends        int
	closed       bool
}

func newTransportMock(t testing.TB) *transportMock {
	return &transportMock{
		t:            t,
		outTelemetry: make(chan []byte, 16),
		outState:     make(chan []byte, 16),
	}
}

func (self *transportMock) Init(ctx context.Context, log *log2.Log, teleConfig tele.Config, willPayload []byte) error {
	assert.Equal(self.t, []byte{0}, willPayload)
	return nil
}

func (self *transportMock) SendTelemetry(payload []byte) bool {
	self.sends++
	if self.sends <= self.failFirst {
		self.t.Logf("mock network timeout")
		return false
	}
	self.outTelemetry <- payload
	return true
}

func (self *transportMock) SendState(payload []byte) bool {
	self.outState <- payload
	return true
}

func (self *transportMock) Close() { self.closed = true }

func newTestTele(t testing.TB, trans tele.Transporter) *tele.Tele {
	dir, err := ioutil.TempDir("", "cellbeat-tele-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	tl := tele.NewWithTransporter(trans)
	tl.RetryDelay = time.Millisecond
	conf := tele.Config{
		Enabled:     true,
		DeviceId:    -7,
		PersistPath: filepath.Join(dir, "tele"),
	}
	require.NoError(t, tl.Init(context.Background(), log2.NewTest(t, log2.LDebug), conf))
	return tl
}

func receive(t testing.TB, ch <-chan []byte) []byte {
	select {
	case b := <-ch:
		return b
	case <-time.After(testTimeout):
		t.Fatal("timeout")
	}
	return nil
}

func TestReport(t *testing.T) {
	t.Parallel()
	mock := newTransportMock(t)
	tl := newTestTele(t, mock)
	defer tl.Close()

	tl.State(supervisor.SessionActive)
	require.NoError(t, tl.Report(&tele.Report{
		Stat:     supervisor.StatSnapshot{Opens: 2, Closes: 1, Beats: 10, Replies: 9, Missed: 1},
		Boots:    3,
		Sessions: 17,
		RegFails: 4,
	}))

	var r tele.Report
	require.NoError(t, r.Unmarshal(receive(t, mock.outTelemetry)))
	assert.Equal(t, tele.KindStat, r.Kind)
	assert.Equal(t, int32(-7), r.DeviceId)
	assert.Equal(t, supervisor.SessionActive, r.State)
	assert.Equal(t, uint64(10), r.Stat.Beats)
	assert.Equal(t, uint64(9), r.Stat.Replies)
	assert.Equal(t, uint64(3), r.Boots)
	assert.Equal(t, uint64(17), r.Sessions)
	assert.Equal(t, uint64(4), r.RegFails)
	assert.Contains(t, r.String(), "regfails=4")
	assert.NotZero(t, r.Time)
}

func TestError(t *testing.T) {
	t.Parallel()
	mock := newTransportMock(t)
	tl := newTestTele(t, mock)
	defer tl.Close()

	tl.Error(errors.New("modem not responding"))
	var r tele.Report
	require.NoError(t, r.Unmarshal(receive(t, mock.outTelemetry)))
	assert.Equal(t, tele.KindError, r.Kind)
	assert.Equal(t, "modem not responding", r.Error)
}

func TestRedeliver(t *testing.T) {
	t.Parallel()
	mock := newTransportMock(t)
	mock.failFirst = 2
	tl := newTestTele(t, mock)
	defer tl.Close()

	require.NoError(t, tl.Report(&tele.Report{Boots: 1}))
	var r tele.Report
	require.NoError(t, r.Unmarshal(receive(t, mock.outTelemetry)))
	assert.Equal(t, uint64(1), r.Boots)
	assert.Equal(t, 3, mock.sends)
}

func TestStateOnChange(t *testing.T) {
	t.Parallel()
	mock := newTransportMock(t)
	tl := newTestTele(t, mock)

	tl.State(supervisor.EstablishingSession)
	tl.State(supervisor.EstablishingSession)
	tl.State(supervisor.SessionActive)
	assert.Equal(t, []byte{2, byte(supervisor.EstablishingSession)}, receive(t, mock.outState))
	assert.Equal(t, []byte{2, byte(supervisor.SessionActive)}, receive(t, mock.outState))
	assert.Len(t, mock.outState, 0)
	tl.Close()
	assert.True(t, mock.closed)
}

func TestDisabled(t *testing.T) {
	t.Parallel()
	mock := newTransportMock(t)
	tl := tele.NewWithTransporter(mock)
	require.NoError(t, tl.Init(context.Background(), log2.NewTest(t, log2.LDebug), tele.Config{}))
	tl.State(supervisor.SessionActive)
	tl.Error(errors.New("e"))
	assert.NoError(t, tl.Report(&tele.Report{}))
	tl.Close()
	assert.Len(t, mock.outState, 0)
	assert.Len(t, mock.outTelemetry, 0)
	assert.False(t, mock.closed)
}

func TestEnabledRequiresPersistPath(t *testing.T) {
	t.Parallel()
	tl := tele.NewWithTransporter(newTransportMock(t))
	err := tl.Init(context.Background(), log2.NewTest(t, log2.LDebug), tele.Config{Enabled: true})
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err))
}

func TestReportUnmarshalErrors(t *testing.T) {
	t.Parallel()
	r := tele.Report{Kind: tele.KindState, DeviceId: 5, State: supervisor.Degraded}
	b, err := r.Marshal()
	require.NoError(t, err)
	var r2 tele.Report
	require.NoError(t, r2.Unmarshal(b))
	assert.Equal(t, "device=5 state=degraded", r2.String())

	assert.Error(t, r2.Unmarshal(b[:len(b)-1]))
	err = r2.Unmarshal(append([]byte{9}, b[1:]...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version=9")
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	report := &tele.Report{Kind: tele.KindState, DeviceId: 5, State: supervisor.Degraded}
	rb, err := report.Marshal()
	require.NoError(t, err)

	cases := []struct {
		topic     string
		payload   []byte
		expect    string
		expectErr string
	}{
		{tele.TopicConnect(5), []byte{0x01}, "online", ""},
		{tele.TopicConnect(5), []byte{0x00}, "offline", ""},
		{tele.TopicConnect(5), []byte{0x07}, "", "connect payload=07"},
		{tele.TopicState(5), []byte{0x02, byte(supervisor.SessionActive)}, "state=session-active", ""},
		{tele.TopicState(5), []byte{0x03}, "", "state payload=03"},
		{tele.TopicTelemetry(5), rb, report.String(), ""},
		{"", rb, report.String(), ""},
		{"cb5/x", nil, "", "topic=cb5/x"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.topic, func(t *testing.T) {
			s, err := tele.Describe(c.topic, c.payload)
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, s)
		})
	}

	assert.Equal(t, int32(5), tele.DeviceOf(tele.TopicState(5)))
	assert.Equal(t, int32(-1), tele.DeviceOf("vm5/w/1s"))
}

// blockingTransport holds SendState until release is closed, like publish over a dead link.
type blockingTransport struct {
	*transportMock
	release chan struct{}
}

func (self *blockingTransport) SendState(payload []byte) bool {
	<-self.release
	return self.transportMock.SendState(payload)
}

func TestStateDoesNotBlock(t *testing.T) {
	t.Parallel()
	trans := &blockingTransport{transportMock: newTransportMock(t), release: make(chan struct{})}
	tl := newTestTele(t, trans)

	tbegin := time.Now()
	for i := 0; i < 3*16; i++ {
		tl.State(supervisor.EstablishingSession)
		tl.State(supervisor.SessionFailed)
	}
	tl.State(supervisor.SessionActive)
	assert.Less(t, int64(time.Since(tbegin)), int64(testTimeout/2))

	close(trans.release)
	var last []byte
	require.Eventually(t, func() bool {
		for len(trans.outState) > 0 {
			last = <-trans.outState
		}
		return len(last) == 2 && last[1] == byte(supervisor.SessionActive)
	}, testTimeout, time.Millisecond)
	tl.Close()
}
