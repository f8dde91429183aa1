// Interactive AT console to the modem, for bench diagnostics.
package at

import (
	"context"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/cellbeat/cellbeat/cmd/cellbeat/subcmd"
	"github.com/cellbeat/cellbeat/helpers"
	"github.com/cellbeat/cellbeat/helpers/cli"
	"github.com/cellbeat/cellbeat/internal/state"
	"github.com/cellbeat/cellbeat/radio"
	"github.com/cellbeat/cellbeat/radio/atmodem"
	"github.com/juju/errors"
)

const modName = "at"

const usage = `syntax: one AT command per line, response lines are printed
(meta)
- /init    run modem init sequence for configured radio mode
- /help    this text
`

var Mod = subcmd.Mod{Name: modName, Usage: "interactive AT console", Main: Main}

var queries = []prompt.Suggest{
	{Text: "AT+CEREG?", Description: "registration status"},
	{Text: "AT+CSCON?", Description: "RRC mode"},
	{Text: "AT+CESQ", Description: "signal quality"},
	{Text: "AT+CGMR", Description: "firmware revision"},
	{Text: "AT+CFUN?", Description: "functional mode"},
	{Text: "/init", Description: "modem init sequence"},
	{Text: "/help"},
}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	profile, err := config.Profile()
	if err != nil {
		return err
	}
	rc := &config.Radio
	if rc.Device == "" {
		return errors.NotValidf("config radio.device=empty")
	}
	baud := rc.Baud
	if baud == 0 {
		baud = 115200
	}
	port, err := atmodem.OpenSerial(rc.Device, baud)
	if err != nil {
		return err
	}
	modem := atmodem.New(port, atmodem.Config{
		Mode:           profile.Mode,
		CommandTimeout: helpers.IntMillisecondDefault(rc.CommandMs, atmodem.DefaultCommandTimeout),
	}, g.Log)
	defer modem.Close()
	modem.Subscribe(func(e radio.Event) { g.Log.Infof("urc %s", e.String()) })
	modem.Start()

	suggests := append([]prompt.Suggest(nil), queries...)
	for _, cmd := range atmodem.InitSequence(profile.Mode) {
		suggests = append(suggests, prompt.Suggest{Text: cmd})
	}
	return cli.MainLoop(modName, newExecutor(ctx, modem), cli.FilterWord(suggests), func() { _ = modem.Close() })
}

func newExecutor(ctx context.Context, modem *atmodem.Modem) cli.Executor {
	g := state.GetGlobal(ctx)
	return func(line string) {
		switch strings.ToLower(line) {
		case "/help":
			g.Log.Infof(usage)
			return
		case "/init":
			if err := modem.Init(ctx); err != nil {
				g.Log.Errorf(errors.ErrorStack(err))
			}
			return
		}
		lines, err := modem.Command(ctx, line)
		for _, l := range lines {
			g.Log.Infof("< %s", l)
		}
		if err != nil {
			g.Log.Errorf("%v", err)
			return
		}
		g.Log.Infof("< OK")
	}
}
