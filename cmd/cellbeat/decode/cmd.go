// Console to inspect telemetry captured elsewhere, e.g. `mosquitto_sub -F '%t %x'`.
package decode

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/cellbeat/cellbeat/cmd/cellbeat/subcmd"
	"github.com/cellbeat/cellbeat/helpers/cli"
	"github.com/cellbeat/cellbeat/internal/state"
	"github.com/cellbeat/cellbeat/internal/tele"
	"github.com/juju/errors"
)

const modName = "decode"

var Mod = subcmd.Mod{Name: modName, Usage: "decode telemetry lines: [topic] hex", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	return cli.MainLoop(modName, func(line string) {
		s, err := Line(line)
		if err != nil {
			g.Log.Errorf("%v", err)
			return
		}
		g.Log.Info(s)
	}, cli.FilterWord(nil), nil)
}

// Line decodes "[topic] hex".
func Line(line string) (string, error) {
	topic, h := "", strings.TrimSpace(line)
	if i := strings.IndexByte(h, ' '); i >= 0 {
		topic, h = h[:i], strings.TrimSpace(h[i+1:])
	}
	// mosquitto_sub wrongly strips leading zero in hex format
	if len(h)%2 == 1 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return "", errors.Annotate(err, "hex decode")
	}
	s, err := tele.Describe(topic, b)
	if err != nil {
		return "", err
	}
	if id := tele.DeviceOf(topic); id >= 0 {
		s = tele.ClientId(id) + " " + s
	}
	return s, nil
}
