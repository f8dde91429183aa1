package state

import (
	"sort"
	"time"

	"github.com/cellbeat/cellbeat/radio"
	"github.com/cellbeat/cellbeat/supervisor"
	"github.com/juju/errors"
)

const DefaultProfile = "lte-m"

// TimingProfile is the complete per-radio parametrization of one state machine.
type TimingProfile struct {
	Name      string
	Mode      radio.Mode
	Message   string
	ReadLimit int
	supervisor.Timing
}

var presets = map[string]TimingProfile{
	"lte-m": {
		Name:      "lte-m",
		Mode:      radio.ModeLTEM,
		Message:   "hola mundo",
		ReadLimit: 64,
		Timing: supervisor.Timing{
			RegistrationTimeout:     120 * time.Second,
			InterBeat:               1 * time.Second,
			ReceiveTimeout:          5 * time.Second,
			ShortRetry:              5 * time.Second,
			EscalatedRetry:          30 * time.Second,
			RetriesBeforeEscalation: 3,
		},
	},
	"nb-iot": {
		Name:      "nb-iot",
		Mode:      radio.ModeNBIoT,
		Message:   "hola mundo (NB-IoT)",
		ReadLimit: 128,
		Timing: supervisor.Timing{
			RegistrationTimeout:     300 * time.Second,
			InterBeat:               1 * time.Second,
			ReceiveTimeout:          30 * time.Second,
			ShortRetry:              10 * time.Second,
			EscalatedRetry:          60 * time.Second,
			RetriesBeforeEscalation: 3,
		},
	},
}

func Preset(name string) (TimingProfile, error) {
	if name == "" {
		name = DefaultProfile
	}
	p, ok := presets[name]
	if !ok {
		return TimingProfile{}, errors.NotValidf("profile=%s (expected one of %v)", name, PresetNames())
	}
	return p, nil
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p TimingProfile) Validate() error {
	if p.Message == "" {
		return errors.NotValidf("message=empty")
	}
	if p.ReadLimit <= 0 {
		return errors.NotValidf("timing read_limit=%d", p.ReadLimit)
	}
	return p.Timing.Validate()
}
