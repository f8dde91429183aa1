// Package state reads cellbeat config and wires the process-wide Global: radio, dialer,
// supervisor, telemetry and persisted lifetime counters.
package state

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cellbeat/cellbeat/helpers"
	"github.com/cellbeat/cellbeat/internal/persist"
	"github.com/cellbeat/cellbeat/internal/tele"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/radio"
	"github.com/cellbeat/cellbeat/radio/atmodem"
	"github.com/cellbeat/cellbeat/supervisor"
	"github.com/cellbeat/cellbeat/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

const (
	ContextKey            = "run/state-global"
	DefaultReportInterval = 15 * time.Minute
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Log          *log2.Log
	Tele         tele.Teler

	Profile  TimingProfile
	Endpoint transport.Endpoint
	Lifetime persist.Lifetime
	persist  persist.Persist

	// tests may set Radio and Dialer before Init
	Radio      radio.Link
	Dialer     transport.Dialer
	Supervisor *supervisor.Supervisor

	// OnReady is called once after network registration
	OnReady func()

	reportNow chan struct{}
	inited    uint32
}

func NewContext(log *log2.Log, teler tele.Teler) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive:     alive.NewAlive(),
		Log:       log,
		Tele:      teler,
		reportNow: make(chan struct{}, 1),
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	if !atomic.CompareAndSwapUint32(&g.inited, 0, 1) {
		return errors.Errorf("code error Global.Init called twice")
	}
	g.Config = cfg
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}

	if g.Config.Persist.Root == "" {
		g.Log.Infof("config: persist.root=empty, lifetime counters and telemetry queue are not saved")
	}
	g.Log.Debugf("config: persist.root=%s", g.Config.Persist.Root)

	// Since tele is remote error reporting mechanism, it must be inited before anything else
	if g.Config.Tele.PersistPath == "" && g.Config.Persist.Root != "" {
		g.Config.Tele.PersistPath = filepath.Join(g.Config.Persist.Root, "tele")
	}
	if err := g.Tele.Init(ctx, g.Log, g.Config.Tele); err != nil {
		return errors.Annotate(err, "tele init")
	}
	g.Log.SetErrorFunc(g.Tele.Error)

	errs := make([]error, 0)
	if err := g.initPersist(); err != nil {
		g.Log.Error(err)
		errs = append(errs, err)
	}

	var err error
	if g.Profile, err = cfg.Profile(); err != nil {
		errs = append(errs, err)
	}
	if g.Endpoint, err = cfg.Endpoint(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) != 0 {
		return helpers.FoldErrors(errs)
	}

	if g.Radio == nil {
		if g.Radio, err = g.initRadio(); err != nil {
			return errors.Annotate(err, "radio")
		}
	}
	if g.Dialer == nil {
		g.Dialer = &transport.TCPDialer{
			Log:            g.Log,
			ConnectTimeout: helpers.IntSecondDefault(cfg.Timing.ConnectSec, transport.DefaultConnectTimeout),
			ReadLimit:      g.Profile.ReadLimit,
		}
	}

	g.Supervisor, err = supervisor.New(supervisor.Options{
		Log:          g.Log,
		Link:         g.Radio,
		Dialer:       g.Dialer,
		Endpoint:     g.Endpoint,
		Message:      []byte(g.Profile.Message),
		Timing:       g.Profile.Timing,
		OnState:      g.onState,
		OnRegistered: g.onRegistered,
		OnBeat:       g.onBeat,
	})
	return errors.Annotate(err, "supervisor")
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Errorf(errors.ErrorStack(err))
	}
}

// Run blocks until Alive is stopped or registration fails.
func (g *Global) Run(ctx context.Context) error {
	if g.Supervisor == nil {
		return errors.Errorf("code error Global.Run before Init")
	}
	g.Log.Infof("cellbeat %s profile=%s radio=%s server=%s message=%q timing=%s",
		g.BuildVersion, g.Profile.Name, g.Profile.Mode, g.Endpoint, g.Profile.Message, g.Profile.Timing)

	if g.Alive.Add(2) {
		go func() {
			defer g.Alive.Done()
			helpers.AliveSub(g.Alive, g.Supervisor.Alive())
		}()
		go g.reportLoop(ctx)
	}

	err := g.Supervisor.Run(ctx)
	if errors.Cause(err) == supervisor.ErrRegistrationTimeout {
		g.modify(func(l *persist.Lifetime) { l.RegFails++ })
		if g.Profile.Mode == radio.ModeNBIoT {
			g.Log.Infof("check NB-IoT coverage and antenna")
		}
	}
	g.report()
	g.Stop()
	if closeErr := g.Radio.Close(); closeErr != nil {
		g.Log.Errorf("radio close err=%v", closeErr)
	}
	return err
}

func (g *Global) Stop() {
	g.Alive.Stop()
	if g.Supervisor != nil {
		g.Supervisor.Stop()
	}
}

// ReportNow requests out of schedule telemetry report.
func (g *Global) ReportNow() {
	select {
	case g.reportNow <- struct{}{}:
	default:
	}
}

func (g *Global) reportLoop(ctx context.Context) {
	defer g.Alive.Done()
	interval := helpers.IntSecondDefault(g.Config.Tele.ReportIntervalSec, DefaultReportInterval)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
		case <-g.reportNow:
		case <-g.Alive.StopChan():
			return
		case <-ctx.Done():
			return
		}
		g.report()
	}
}

func (g *Global) report() {
	boots, sessions, reconnects, regFails := g.Lifetime.Snapshot()
	r := &tele.Report{
		Kind:       tele.KindStat,
		State:      g.Supervisor.State(),
		Stat:       g.Supervisor.Stat().Snapshot(),
		Boots:      boots,
		Sessions:   sessions,
		Reconnects: reconnects,
		RegFails:   regFails,
	}
	g.Log.Debugf("report %s", r)
	_ = g.Tele.Report(r)
}

func (g *Global) initPersist() error {
	if err := g.persist.Init("lifetime", &g.Lifetime, g.Config.Persist.Root, g.Log); err != nil {
		return err
	}
	if err := g.persist.Load(); err != nil {
		// corrupt counters are not fatal, start over
		g.Log.Errorf("%v", err)
	}
	g.modify(func(l *persist.Lifetime) { l.Boots++ })
	g.Log.Infof("lifetime %s", g.Lifetime.String())
	return nil
}

func (g *Global) modify(f func(*persist.Lifetime)) {
	g.Lifetime.Modify(f)
	if err := g.persist.Store(); err != nil {
		g.Log.Errorf("%v", err)
	}
}

func (g *Global) initRadio() (radio.Link, error) {
	rc := &g.Config.Radio
	switch rc.Driver {
	case "", "at":
		if rc.Device == "" {
			return nil, errors.NotValidf("config radio.device=empty")
		}
		baud := rc.Baud
		if baud == 0 {
			baud = 115200
		}
		port, err := atmodem.OpenSerial(rc.Device, baud)
		if err != nil {
			return nil, err
		}
		if rc.PowerPin < 0 {
			return nil, errors.NotValidf("config radio.power_pin=%d", rc.PowerPin)
		}
		return atmodem.New(port, atmodem.Config{
			Mode:           g.Profile.Mode,
			CommandTimeout: helpers.IntMillisecondDefault(rc.CommandMs, atmodem.DefaultCommandTimeout),
			PowerChip:      rc.PowerChip,
			PowerPin:       uint32(rc.PowerPin),
			PowerPulse:     helpers.IntMillisecondDefault(rc.PowerPulseMs, atmodem.DefaultPowerPulse),
		}, g.Log), nil

	case "mock":
		delay := time.Duration(rc.MockRegisterMs) * time.Millisecond
		g.Log.Infof("radio driver=mock registers after %s", delay)
		return &radio.Mock{Script: []radio.MockStep{
			{Event: radio.Event{Kind: radio.EventModeUpdate, Mode: g.Profile.Mode}},
			{Delay: delay, Event: radio.RegEvent(radio.RegisteredHome)},
		}}, nil
	}
	return nil, errors.NotValidf("config radio.driver=%s", rc.Driver)
}

func (g *Global) onState(old, new supervisor.State) {
	g.Tele.State(new)
	if new == supervisor.SessionActive && old == supervisor.EstablishingSession {
		g.modify(func(l *persist.Lifetime) { l.Sessions++ })
	}
}

func (g *Global) onRegistered() {
	g.ReportNow()
	if g.OnReady != nil {
		g.OnReady()
	}
}

func (g *Global) onBeat(b supervisor.Beat) {
	if b.Outcome == supervisor.Broken {
		g.modify(func(l *persist.Lifetime) { l.Reconnects++ })
		g.ReportNow()
	}
}
