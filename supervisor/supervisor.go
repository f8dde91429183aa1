// Package supervisor keeps one TCP heartbeat session alive over intermittent cellular link.
//
// Lifecycle:
// wait for network registration once, bounded;
// then forever: establish session with two-tier retry, exchange heartbeats,
// on broken session close the handle and establish again.
// At most one session handle exists at any time.
package supervisor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cellbeat/cellbeat/helpers"
	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/radio"
	"github.com/cellbeat/cellbeat/retry"
	"github.com/cellbeat/cellbeat/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

var (
	ErrRegistrationTimeout = errors.New("network registration timeout")
	ErrStopped             = helpers.ErrStopped
)

// SleepFunc must return non-nil error to abort supervisor loop.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	Log      *log2.Log
	Link     radio.Link
	Dialer   transport.Dialer
	Endpoint transport.Endpoint
	Message  []byte
	Timing   Timing

	// Optional hooks, called from Run goroutine.
	OnState      StateFunc
	OnRegistered func()
	OnBeat       func(Beat)
	Sleep        SleepFunc
}

type Supervisor struct {
	stat    Stat // atomic align, keep first
	alive   *alive.Alive
	log     *log2.Log
	opt     Options
	policy  retry.Policy
	waiter  *radio.Waiter
	state   int32 // State
	session transport.Session
}

func New(opt Options) (*Supervisor, error) {
	if opt.Link == nil {
		return nil, errors.NotValidf("radio link=nil")
	}
	if opt.Dialer == nil {
		return nil, errors.NotValidf("dialer=nil")
	}
	if err := opt.Endpoint.Validate(); err != nil {
		return nil, errors.Annotate(err, "supervisor")
	}
	if len(opt.Message) == 0 {
		return nil, errors.NotValidf("empty heartbeat message")
	}
	if err := opt.Timing.Validate(); err != nil {
		return nil, errors.Annotate(err, "supervisor")
	}
	s := &Supervisor{
		alive:  alive.NewAlive(),
		log:    opt.Log,
		opt:    opt,
		policy: opt.Timing.Policy(),
		waiter: radio.NewWaiter(opt.Link, opt.Log),
	}
	return s, nil
}

func (s *Supervisor) State() State { return State(atomic.LoadInt32(&s.state)) }
func (s *Supervisor) Stat() *Stat  { return &s.stat }

// Stop requests graceful shutdown. Current heartbeat cycle completes, the handle is closed.
func (s *Supervisor) Stop() { s.alive.Stop() }

// Wait until Run returns after Stop.
func (s *Supervisor) Wait() { s.alive.Wait() }

func (s *Supervisor) StopChan() <-chan struct{} { return s.alive.StopChan() }

// Alive is exposed to link supervisor lifetime with the owner, see helpers.AliveSub.
func (s *Supervisor) Alive() *alive.Alive { return s.alive }

// Run returns:
// - ErrRegistrationTimeout (wrapped) if network did not register in time, no session opened
// - radio init error
// - nil after Stop, with session handle closed
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.alive.Add(1) {
		return ErrStopped
	}
	defer s.alive.Done()

	s.setState(AwaitingRegistration)
	timeout := s.opt.Timing.RegistrationTimeout
	s.log.Infof("waiting for network registration, timeout=%s", timeout)
	outcome, err := s.waitRegistration(ctx, timeout)
	if outcome != radio.Registered {
		s.setState(RegistrationFailed)
		if !s.alive.IsRunning() {
			return nil
		}
		if err != nil {
			return errors.Annotate(err, "registration")
		}
		return errors.Annotatef(ErrRegistrationTimeout, "after %s", timeout)
	}
	s.stat.Registered.SetNow()
	s.setState(Registered)
	if s.opt.OnRegistered != nil {
		s.opt.OnRegistered()
	}

	for {
		session := s.establish(ctx)
		if session == nil {
			return nil
		}
		s.steady(ctx, session)
		if !s.running(ctx) {
			return nil
		}
	}
}

// waitRegistration is the only phase interrupted by Stop immediately.
func (s *Supervisor) waitRegistration(ctx context.Context, timeout time.Duration) (radio.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()
	return s.waiter.Wait(ctx, timeout)
}

// establish retries forever until session is open or supervisor is stopped.
// Returns nil only on stop.
func (s *Supervisor) establish(ctx context.Context) transport.Session {
	counter := retry.NewCounter(s.opt.Timing.RetriesBeforeEscalation)
	for s.running(ctx) {
		s.setState(EstablishingSession)
		s.log.Infof("connecting to %s", s.opt.Endpoint)
		session, err := s.opt.Dialer.Open(ctx, s.opt.Endpoint)
		if err == nil {
			s.policy.OnSuccess(counter)
			s.session = session
			inc(&s.stat.Opens)
			s.log.Infof("connected to %s", session.RemoteAddr())
			s.setState(SessionActive)
			return session
		}

		inc(&s.stat.EstablishFailures)
		s.setState(SessionFailed)
		s.log.Errorf("connect %s err=%s", s.opt.Endpoint, transport.ErrorString(err))
		s.log.Debugf("connect err=%s", errors.ErrorStack(err))
		delay, escalated := s.policy.Next(counter)
		if escalated {
			inc(&s.stat.Escalations)
			s.log.Infof("max retries reached, retry in %s", delay)
		} else {
			s.log.Infof("retry in %s (%s)", delay, counter)
		}
		if s.sleep(ctx, delay) != nil {
			return nil
		}
	}
	return nil
}

// steady runs heartbeat cycles until the session breaks or supervisor is stopped.
// Always closes the handle before return.
func (s *Supervisor) steady(ctx context.Context, session transport.Session) {
	defer s.closeSession()

	missed := retry.NewCounter(s.opt.Timing.RetriesBeforeEscalation)
	for {
		inc(&s.stat.Beats)
		beat := Heartbeat(session, s.opt.Message, s.opt.Timing.ReceiveTimeout, s.log)
		if s.opt.OnBeat != nil {
			s.opt.OnBeat(beat)
		}
		if beat.Outcome == Broken {
			inc(&s.stat.Broken)
			s.log.Infof("communication error, reconnecting")
			return
		}

		if beat.Missed {
			inc(&s.stat.Missed)
			s.setState(Degraded)
			if _, escalated := s.policy.Next(missed); escalated {
				s.log.Infof("no reply %d times in a row, session kept", missed.MaxBeforeEscalation)
			}
		} else {
			inc(&s.stat.Replies)
			s.stat.LastReply.SetNow()
			s.policy.OnSuccess(missed)
			s.setState(SessionActive)
		}

		if s.sleep(ctx, s.opt.Timing.InterBeat) != nil {
			return
		}
	}
}

func (s *Supervisor) closeSession() {
	if s.session == nil {
		return
	}
	if err := s.session.Close(); err != nil {
		s.log.Errorf("close session err=%v", err)
	}
	s.log.Debugf("session closed stat=%s", s.session.Stat())
	s.session = nil
	inc(&s.stat.Closes)
}

func (s *Supervisor) running(ctx context.Context) bool {
	return s.alive.IsRunning() && ctx.Err() == nil
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	if s.opt.Sleep != nil {
		if err := s.opt.Sleep(ctx, d); err != nil {
			return err
		}
		if !s.running(ctx) {
			return ErrStopped
		}
		return nil
	}
	return helpers.SleepStop(ctx, d, s.alive.StopChan())
}

func (s *Supervisor) setState(new State) {
	old := State(atomic.SwapInt32(&s.state, int32(new)))
	if old == new {
		return
	}
	s.log.Debugf("state %s -> %s", old, new)
	if s.opt.OnState != nil {
		s.opt.OnState(old, new)
	}
}
