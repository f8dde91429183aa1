// Package tele delivers device state and statistics to MQTT telemetry collector.
//
// Tele contract:
// - Init() fails only with invalid config, network issues ignored
// - State/Error/Report block at most for disk write,
//   network may be slow or absent (it is the supervised cellular link),
//   messages are delivered in background
// - Error/Report messages delivered at least once, persisted in spq queue
// - State messages may be lost
package tele

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cellbeat/cellbeat/helpers"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/supervisor"
	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/spq"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	DefaultRetryDelay     = 10 * time.Second

	stateQueueLen = 16
)

// denote value type in persistent queue bytes form
const (
	qReport byte = 1
)

// will message payload, also first byte of state message
const (
	stateOffline byte = 0x00
	stateTag     byte = 0x02
)

type Tele struct {
	alive     *alive.Alive
	config    Config
	log       *log2.Log
	transport Transporter
	q         *spq.Queue
	deviceId  int32
	stateq    chan supervisor.State
	state     int32 // last sent supervisor.State, -1 = none

	// RetryDelay between failed deliveries of queued message
	RetryDelay time.Duration
}

var _ Teler = &Tele{}

func New() *Tele {
	return &Tele{state: -1}
}

func NewWithTransporter(trans Transporter) *Tele {
	return &Tele{transport: trans, state: -1}
}

func (self *Tele) Init(ctx context.Context, log *log2.Log, teleConfig Config) error {
	self.config = teleConfig
	// own logger without error hook, tele errors must not loop into tele
	level := log2.LInfo
	if self.config.LogDebug {
		level = log2.LDebug
	}
	self.log = log.Clone(level)
	self.alive = alive.NewAlive()
	self.deviceId = int32(self.config.DeviceId)
	if self.RetryDelay == 0 {
		self.RetryDelay = DefaultRetryDelay
	}
	if !self.config.Enabled {
		return nil
	}

	if self.config.PersistPath == "" {
		return errors.NotValidf("tele enabled but persist_path=empty")
	}
	var err error
	self.q, err = spq.Open(self.config.PersistPath)
	if err != nil {
		return errors.Annotate(err, "tele queue")
	}

	// test code sets .transport
	if self.transport == nil { // production path
		self.transport = &transportMqtt{}
	}
	if err := self.transport.Init(ctx, self.log, self.config, []byte{stateOffline}); err != nil {
		self.q.Close()
		self.q = nil
		return errors.Annotate(err, "tele transport")
	}

	self.stateq = make(chan supervisor.State, stateQueueLen)
	self.alive.Add(2)
	go self.qworker()
	go self.stateWorker()
	return nil
}

func (self *Tele) Close() {
	if self.alive == nil {
		return
	}
	self.alive.Stop()
	if self.q != nil {
		self.q.Close()
	}
	self.alive.WaitTasks()
	if self.transport != nil && self.config.Enabled {
		self.transport.Close()
	}
}

func (self *Tele) enabled() bool {
	if !self.config.Enabled {
		self.log.Debugf("tele disabled")
		return false
	}
	return true
}

func (self *Tele) State(s supervisor.State) {
	if !self.enabled() {
		return
	}
	if atomic.SwapInt32(&self.state, int32(s)) == int32(s) {
		return
	}
	// caller is supervisor goroutine, hand off to stateWorker, newest state wins
	for {
		select {
		case self.stateq <- s:
			return
		default:
		}
		select {
		case old := <-self.stateq:
			self.log.Debugf("tele state queue full, dropped %s", old)
		default:
		}
	}
}

func (self *Tele) stateWorker() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	for {
		select {
		case s := <-self.stateq:
			if !self.transport.SendState([]byte{stateTag, byte(s)}) {
				self.log.Debugf("tele state=%s not sent", s)
			}
		case <-stopch:
			return
		}
	}
}

func (self *Tele) Error(e error) {
	if !self.enabled() {
		return
	}
	self.log.Debugf("tele.Error: " + errors.ErrorStack(e))
	r := &Report{Kind: KindError, Error: e.Error()}
	if err := self.qpushReport(r); err != nil {
		self.log.Errorf("CRITICAL tele qpushReport error=%v err=%v", e, err)
	}
}

func (self *Tele) Report(r *Report) error {
	if !self.enabled() {
		return nil
	}
	if r.Kind == KindInvalid {
		r.Kind = KindStat
	}
	err := self.qpushReport(r)
	if err != nil {
		self.log.Errorf("CRITICAL tele qpushReport report=%s err=%v", r, err)
	}
	return err
}

func (self *Tele) qpushReport(r *Report) error {
	if r.DeviceId == 0 {
		r.DeviceId = self.deviceId
	}
	if r.Time == 0 {
		r.Time = time.Now().UnixNano()
	}
	if s := atomic.LoadInt32(&self.state); s >= 0 && r.State == supervisor.Uninitialized {
		r.State = supervisor.State(s)
	}
	buf := proto.NewBuffer(make([]byte, 0, 128))
	if err := buf.EncodeVarint(uint64(qReport)); err != nil {
		return err
	}
	if err := r.marshalTo(buf); err != nil {
		return err
	}
	return self.q.Push(buf.Bytes())
}

func (self *Tele) qworker() {
	defer self.alive.Done()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			b := box.Bytes()
			del, err := self.qhandle(b)
			if err != nil {
				self.log.Errorf("tele qhandle b=%x err=%v", b, err)
			}
			if del {
				if err = self.q.Delete(box); err != nil {
					self.log.Errorf("tele qhandle Delete b=%x err=%v", b, err)
				}
				continue
			}
			if err = self.q.DeletePush(box); err != nil {
				self.log.Errorf("tele qhandle DeletePush b=%x err=%v", b, err)
			}
			if helpers.SleepStop(context.Background(), self.RetryDelay, self.alive.StopChan()) != nil {
				return
			}

		case spq.ErrClosed:
			if self.alive.IsRunning() {
				self.log.Errorf("CRITICAL tele spq closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL tele spq err=%v", err)
			if helpers.SleepStop(context.Background(), self.RetryDelay, self.alive.StopChan()) != nil {
				return
			}
		}
	}
}

// qhandle returns true when message must be removed from queue.
func (self *Tele) qhandle(b []byte) (bool, error) {
	if len(b) == 0 {
		return true, errors.Errorf("tele spq peek=empty")
	}
	switch b[0] {
	case qReport:
		var r Report
		if err := r.Unmarshal(b[1:]); err != nil {
			return true, err // retry will not help
		}
		return self.transport.SendTelemetry(b[1:]), nil
	}
	return true, errors.Errorf("unknown kind=%d", b[0])
}
