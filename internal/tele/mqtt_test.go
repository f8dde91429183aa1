package tele_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/cellbeat/cellbeat/internal/tele"
	"github.com/cellbeat/cellbeat/internal/tele/collector"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Real paho client against in-process collector.
func TestMqttCollector(t *testing.T) {
	t.Parallel()
	const deviceId = 31
	log := log2.NewTest(t, log2.LDebug)

	msgs := make(chan *packet.Message, 32)
	closes := make(chan bool, 1)
	srv := collector.New(context.Background(), collector.Options{
		Log:            log.Clone(log2.LDebug),
		NetworkTimeout: 5 * time.Second,
		Passwords:      map[string]string{tele.ClientId(deviceId): "secret"},
		OnMessage: func(_ context.Context, id string, msg *packet.Message) error {
			msgs <- msg.Copy()
			return nil
		},
		OnClose: func(_ string, clean bool, _ error) { closes <- clean },
	})
	require.NoError(t, srv.Listen("tcp://127.0.0.1:0"))
	defer srv.Close()

	dir, err := ioutil.TempDir("", "cellbeat-tele-mqtt-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	tl := tele.New()
	tl.RetryDelay = 50 * time.Millisecond
	require.NoError(t, tl.Init(context.Background(), log, tele.Config{
		Enabled:           true,
		DeviceId:          deviceId,
		KeepaliveSec:      5,
		MqttBroker:        "tcp://" + srv.Addrs()[0],
		MqttPassword:      "secret",
		NetworkTimeoutSec: 2,
		PersistPath:       filepath.Join(dir, "tele"),
	}))
	require.NoError(t, tl.Report(&tele.Report{Boots: 5, Stat: supervisor.StatSnapshot{Beats: 3}}))

	deadline := time.After(10 * time.Second)
	for {
		select {
		case msg := <-msgs:
			if msg.Topic != tele.TopicTelemetry(deviceId) {
				t.Logf("skip topic=%s", msg.Topic)
				continue
			}
			var r tele.Report
			require.NoError(t, r.Unmarshal(msg.Payload))
			assert.Equal(t, int32(deviceId), r.DeviceId)
			assert.Equal(t, uint64(5), r.Boots)
			assert.Equal(t, uint64(3), r.Stat.Beats)

			tl.Close()
			select {
			case clean := <-closes:
				assert.True(t, clean, "expected DISCONNECT, will must not be published")
			case <-time.After(5 * time.Second):
				t.Error("collector did not see disconnect")
			}
			return

		case <-deadline:
			t.Fatal("telemetry not delivered")
		}
	}
}
