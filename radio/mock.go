package radio

import (
	"context"
	"sync"
	"time"
)

type MockStep struct {
	Delay time.Duration
	Event Event
}

// Mock link delivers Script events after Init, each after its Delay, from separate goroutine.
type Mock struct {
	InitErr error
	Script  []MockStep

	mu       sync.Mutex
	handlers []Handler
	inits    int
	closed   bool
	stopch   chan struct{}
}

var _ Link = &Mock{}

func (m *Mock) Subscribe(h Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

func (m *Mock) Init(ctx context.Context) error {
	m.mu.Lock()
	m.inits++
	if m.stopch == nil {
		m.stopch = make(chan struct{})
	}
	stopch := m.stopch
	m.mu.Unlock()
	if m.InitErr != nil {
		return m.InitErr
	}
	script := append([]MockStep(nil), m.Script...)
	go func() {
		for _, step := range script {
			select {
			case <-time.After(step.Delay):
			case <-stopch:
				return
			}
			m.Emit(step.Event)
		}
	}()
	return nil
}

// Emit delivers event to all subscribers synchronously.
func (m *Mock) Emit(e Event) {
	m.mu.Lock()
	hs := append([]Handler(nil), m.handlers...)
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	for _, h := range hs {
		h(e)
	}
}

func (m *Mock) Inits() int { m.mu.Lock(); defer m.mu.Unlock(); return m.inits }

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		if m.stopch != nil {
			close(m.stopch)
		}
	}
	return nil
}

func RegEvent(s RegStatus) Event { return Event{Kind: EventRegStatus, Status: s} }
