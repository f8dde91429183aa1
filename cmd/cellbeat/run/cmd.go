// Main mode of operation: wait for network, keep heartbeat session alive.
package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cellbeat/cellbeat/cmd/cellbeat/subcmd"
	"github.com/cellbeat/cellbeat/internal/state"
	"github.com/coreos/go-systemd/daemon"
)

var Mod = subcmd.Mod{Name: "run", Usage: "supervise heartbeat session (default)", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.OnReady = func() { subcmd.SdNotify(daemon.SdNotifyReady) }
	g.MustInit(ctx, config)
	defer g.Tele.Close()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigch)
	go func() {
		select {
		case sig := <-sigch:
			g.Log.Infof("signal=%v stopping", sig)
			subcmd.SdNotify(daemon.SdNotifyStopping)
			g.Stop()
		case <-g.Alive.StopChan():
		}
	}()

	return g.Run(ctx)
}
