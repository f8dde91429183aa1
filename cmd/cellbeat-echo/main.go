// Bench server for cellbeat devices: upper-case TCP echo,
// optionally MQTT telemetry collector printing decoded reports.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/cellbeat/cellbeat/internal/echo"
	"github.com/cellbeat/cellbeat/internal/tele"
	"github.com/cellbeat/cellbeat/internal/tele/collector"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

func main() {
	flagListen := flag.String("listen", "0.0.0.0:7000", "TCP echo address")
	flagReadLimit := flag.Int("read-limit", echo.DefaultReadLimit, "bytes per read")
	flagIdle := flag.Duration("idle", 0, "close silent connections after, 0 = never")
	flagDrop := flag.Uint64("drop-every", 0, "leave every Nth message unanswered")
	flagMqtt := flag.String("mqtt-listen", "", "telemetry collector url, e.g. tcp://0.0.0.0:1883")
	flagPasswords := flag.String("mqtt-passwords", "", "clientid:password,... empty allows any")
	flagDebug := flag.Bool("debug", false, "")
	flag.Parse()

	level := log2.LInfo
	if *flagDebug {
		level = log2.LDebug
	}
	log := log2.NewStderr(level)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LServiceFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := echo.New(echo.Options{
		Log:         log,
		ReadLimit:   *flagReadLimit,
		IdleTimeout: *flagIdle,
		DropEvery:   *flagDrop,
	})
	if err := srv.Listen(*flagListen); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	var coll *collector.Server
	if *flagMqtt != "" {
		passwords, err := parsePasswords(*flagPasswords)
		if err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		coll = collector.New(ctx, collector.Options{
			Log:            log,
			NetworkTimeout: 30 * time.Second,
			Passwords:      passwords,
			OnMessage: func(ctx context.Context, id string, msg *packet.Message) error {
				s, err := tele.Describe(msg.Topic, msg.Payload)
				if err != nil {
					log.Errorf("collector client=%s topic=%s payload=%x err=%v", id, msg.Topic, msg.Payload, err)
					return nil // retry will not help
				}
				log.Infof("tele client=%s %s", id, s)
				return nil
			},
			OnClose: func(id string, clean bool, e error) {
				log.Infof("collector client=%s disconnected clean=%t err=%v", id, clean, e)
			},
		})
		if err := coll.Listen(*flagMqtt); err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
	}

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigch
	log.Infof("signal=%v stopping", sig)
	if coll != nil {
		if err := coll.Close(); err != nil {
			log.Errorf("collector close err=%v", err)
		}
	}
	if err := srv.Close(); err != nil {
		log.Errorf("echo close err=%v", err)
	}
	st := srv.Stat()
	log.Infof("accepted=%d messages=%d dropped=%d", st.Accepted, st.Messages, st.Dropped)
}

func parsePasswords(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	m := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, errors.NotValidf("mqtt-passwords item=%q", pair)
		}
		m[parts[0]] = parts[1]
	}
	return m, nil
}
