// Package atmodem drives a cellular modem over AT command serial port
// (nRF91 serial modem firmware and similar 3GPP 27.007 modems).
// Registration and RRC state come from +CEREG/+CSCON unsolicited result codes.
package atmodem

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/radio"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

const (
	DefaultCommandTimeout = 5 * time.Second
	DefaultPowerPulse     = 200 * time.Millisecond
)

var ErrClosed = errors.New("modem closed")

type Config struct {
	Mode           radio.Mode
	CommandTimeout time.Duration
	// optional modem reset line, pulsed before init
	PowerChip  string
	PowerPin   uint32
	PowerPulse time.Duration
}

type Modem struct {
	alive  *alive.Alive
	config Config
	log    *log2.Log
	port   io.ReadWriteCloser
	respch chan string

	mu       sync.Mutex // protects handlers
	handlers []radio.Handler

	cmdmu      sync.Mutex // one command at a time
	pending    atomic.Value // string, current command
	readerOnce sync.Once
}

var _ radio.Link = &Modem{}

func New(port io.ReadWriteCloser, config Config, log *log2.Log) *Modem {
	if config.CommandTimeout == 0 {
		config.CommandTimeout = DefaultCommandTimeout
	}
	if config.PowerPulse == 0 {
		config.PowerPulse = DefaultPowerPulse
	}
	m := &Modem{
		alive:  alive.NewAlive(),
		config: config,
		log:    log,
		port:   port,
		respch: make(chan string, 32),
	}
	m.pending.Store("")
	return m
}

func (m *Modem) Subscribe(h radio.Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

func (m *Modem) Init(ctx context.Context) error {
	if m.config.PowerChip != "" {
		m.log.Debugf("modem power pulse chip=%s pin=%d", m.config.PowerChip, m.config.PowerPin)
		if err := PowerPulse(m.config.PowerChip, m.config.PowerPin, m.config.PowerPulse); err != nil {
			return errors.Annotate(err, "modem power")
		}
	}
	m.Start()
	for _, cmd := range InitSequence(m.config.Mode) {
		if _, err := m.Command(ctx, cmd); err != nil {
			return errors.Annotatef(err, "modem init")
		}
	}
	m.log.Infof("modem attach started mode=%s", m.config.Mode)
	return nil
}

// Start the reader. Init calls it, only needed for raw console use.
func (m *Modem) Start() {
	m.readerOnce.Do(func() {
		if m.alive.Add(1) {
			go m.readLoop()
		}
	})
}

func InitSequence(mode radio.Mode) []string {
	return []string{
		"AT",
		"AT+CFUN=4",
		SystemModeCommand(mode),
		"AT+CEREG=5",
		"AT+CSCON=1",
		"AT+CFUN=1",
	}
}

// Command sends one AT command and collects response lines until final result code.
func (m *Modem) Command(ctx context.Context, cmd string) ([]string, error) {
	if !m.alive.IsRunning() {
		return nil, ErrClosed
	}
	m.cmdmu.Lock()
	defer m.cmdmu.Unlock()

	// drop stale lines
	for len(m.respch) > 0 {
		<-m.respch
	}
	m.pending.Store(cmd)
	defer m.pending.Store("")

	m.log.Debugf("modem > %s", cmd)
	if _, err := io.WriteString(m.port, cmd+"\r\n"); err != nil {
		return nil, errors.Annotatef(err, "modem write cmd=%s", cmd)
	}

	timer := time.NewTimer(m.config.CommandTimeout)
	defer timer.Stop()
	lines := make([]string, 0, 4)
	for {
		select {
		case line := <-m.respch:
			switch {
			case line == cmd: // echo
			case line == "OK":
				return lines, nil
			case line == "ERROR" || strings.HasPrefix(line, "+CME ERROR") || strings.HasPrefix(line, "+CMS ERROR"):
				return lines, errors.Errorf("modem cmd=%s response=%s", cmd, line)
			default:
				lines = append(lines, line)
			}

		case <-timer.C:
			return lines, errors.Timeoutf("modem cmd=%s", cmd)

		case <-ctx.Done():
			return lines, ctx.Err()

		case <-m.alive.StopChan():
			return lines, ErrClosed
		}
	}
}

func (m *Modem) Close() error {
	m.alive.Stop()
	err := m.port.Close()
	m.alive.WaitTasks()
	return err
}

func (m *Modem) readLoop() {
	defer m.alive.Done()
	scanner := bufio.NewScanner(m.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m.log.Debugf("modem < %s", line)
		if IsURC(line) && !m.queried(line) {
			m.dispatch(line)
			continue
		}
		select {
		case m.respch <- line:
		default:
			m.log.Debugf("modem unexpected line=%q dropped", line)
		}
	}
	if err := scanner.Err(); err != nil && m.alive.IsRunning() {
		m.log.Errorf("modem read err=%v", err)
	}
	m.alive.Stop()
}

// queried is true when line is a response to pending read command like AT+CEREG?
func (m *Modem) queried(line string) bool {
	cmd, _ := m.pending.Load().(string)
	if !strings.HasSuffix(cmd, "?") {
		return false
	}
	prefix := line[:strings.IndexByte(line, ':')]
	return strings.Contains(cmd, prefix)
}

func (m *Modem) dispatch(line string) {
	events, err := ParseURC(line)
	if err != nil {
		m.log.Errorf("modem urc err=%v", err)
		return
	}
	m.mu.Lock()
	hs := append([]radio.Handler(nil), m.handlers...)
	m.mu.Unlock()
	for _, e := range events {
		for _, h := range hs {
			h(e)
		}
	}
}
