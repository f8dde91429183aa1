package state

import (
	"path/filepath"
	"sync"

	"github.com/cellbeat/cellbeat/helpers"
	"github.com/cellbeat/cellbeat/internal/tele"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/radio"
	"github.com/cellbeat/cellbeat/transport"
	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	ProfileName string `hcl:"profile"`
	Message     string `hcl:"message"`
	LogDebug    bool   `hcl:"log_debug"`

	Server struct {
		Address string `hcl:"address"`
		Port    int    `hcl:"port"`
	} `hcl:"server"`

	// zero value keeps profile preset
	Timing struct {
		RegistrationSec         int `hcl:"registration_sec"`
		InterBeatMs             int `hcl:"inter_beat_ms"`
		ReceiveSec              int `hcl:"receive_sec"`
		ShortRetrySec           int `hcl:"short_retry_sec"`
		EscalatedRetrySec       int `hcl:"escalated_retry_sec"`
		RetriesBeforeEscalation int `hcl:"retries_before_escalation"`
		ReadLimit               int `hcl:"read_limit"`
		ConnectSec              int `hcl:"connect_sec"`
	} `hcl:"timing"`

	Radio struct {
		Driver       string `hcl:"driver"` // at | mock
		Device       string `hcl:"device"`
		Baud         int    `hcl:"baud"`
		Mode         string `hcl:"mode"` // default from profile
		CommandMs    int    `hcl:"command_ms"`
		PowerChip    string `hcl:"power_chip"`
		PowerPin     int    `hcl:"power_pin"`
		PowerPulseMs int    `hcl:"power_pulse_ms"`
		// mock driver reports registered after this delay
		MockRegisterMs int `hcl:"mock_register_ms"`
	} `hcl:"radio"`

	Persist struct {
		Root string `hcl:"root"`
	} `hcl:"persist"`

	Tele tele.Config `hcl:"tele"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

// Profile resolves preset named by `profile` and applies overrides.
func (c *Config) Profile() (TimingProfile, error) {
	p, err := Preset(c.ProfileName)
	if err != nil {
		return p, err
	}
	t := &c.Timing
	for key, x := range map[string]int{
		"registration_sec":          t.RegistrationSec,
		"inter_beat_ms":             t.InterBeatMs,
		"receive_sec":               t.ReceiveSec,
		"short_retry_sec":           t.ShortRetrySec,
		"escalated_retry_sec":       t.EscalatedRetrySec,
		"retries_before_escalation": t.RetriesBeforeEscalation,
		"read_limit":                t.ReadLimit,
		"connect_sec":               t.ConnectSec,
	} {
		if x < 0 {
			return p, errors.NotValidf("config timing.%s=%d", key, x)
		}
	}
	p.RegistrationTimeout = helpers.IntSecondDefault(t.RegistrationSec, p.RegistrationTimeout)
	p.InterBeat = helpers.IntMillisecondDefault(t.InterBeatMs, p.InterBeat)
	p.ReceiveTimeout = helpers.IntSecondDefault(t.ReceiveSec, p.ReceiveTimeout)
	p.ShortRetry = helpers.IntSecondDefault(t.ShortRetrySec, p.ShortRetry)
	p.EscalatedRetry = helpers.IntSecondDefault(t.EscalatedRetrySec, p.EscalatedRetry)
	if t.RetriesBeforeEscalation != 0 {
		p.RetriesBeforeEscalation = uint(t.RetriesBeforeEscalation)
	}
	if t.ReadLimit != 0 {
		p.ReadLimit = t.ReadLimit
	}
	if c.Message != "" {
		p.Message = c.Message
	}
	if c.Radio.Mode != "" {
		if p.Mode, err = radio.ParseMode(c.Radio.Mode); err != nil {
			return p, errors.Annotate(err, "config radio.mode")
		}
	}
	return p, errors.Annotate(p.Validate(), "config")
}

func (c *Config) Endpoint() (transport.Endpoint, error) {
	ep, err := transport.ParseEndpoint(c.Server.Address, c.Server.Port)
	return ep, errors.Annotate(err, "config server")
}

func (c *Config) read(log *log2.Log, fs SourceReader, source ConfigSource, errs *[]error) {
	norm := fs.Resolve(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.Read(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Resolve(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs SourceReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*DirReader); ok {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, err
		}
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs SourceReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
