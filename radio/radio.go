// Package radio is the cellular link boundary.
// Link drivers push Events from their own goroutine, consumers must not block in handler.
package radio

import (
	"context"
	"fmt"
)

// RegStatus values follow 3GPP 27.007 +CEREG <stat>.
type RegStatus uint8

const (
	NotRegistered     RegStatus = 0
	RegisteredHome    RegStatus = 1
	Searching         RegStatus = 2
	Denied            RegStatus = 3
	Unknown           RegStatus = 4
	RegisteredRoaming RegStatus = 5
)

// Registered is true for home and roaming, both are equally good.
func (s RegStatus) Registered() bool {
	return s == RegisteredHome || s == RegisteredRoaming
}

func (s RegStatus) String() string {
	switch s {
	case NotRegistered:
		return "not-registered"
	case RegisteredHome:
		return "registered-home"
	case Searching:
		return "searching"
	case Denied:
		return "denied"
	case Unknown:
		return "unknown"
	case RegisteredRoaming:
		return "registered-roaming"
	}
	return fmt.Sprintf("reg-status(%d)", uint8(s))
}

type Mode uint8

const (
	ModeNone Mode = iota
	ModeLTEM
	ModeNBIoT
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "lte-m", "ltem", "":
		return ModeLTEM, nil
	case "nb-iot", "nbiot":
		return ModeNBIoT, nil
	}
	return ModeNone, fmt.Errorf("unknown radio mode=%s", s)
}

func (m Mode) String() string {
	switch m {
	case ModeLTEM:
		return "LTE-M"
	case ModeNBIoT:
		return "NB-IoT"
	}
	return "none"
}

type EventKind uint8

const (
	EventRegStatus EventKind = iota + 1
	EventRRCUpdate
	EventCellUpdate
	EventModeUpdate
)

type Cell struct {
	ID  uint32
	TAC uint32
}

type Event struct {
	Kind         EventKind
	Status       RegStatus
	RRCConnected bool
	Cell         Cell
	Mode         Mode
}

func (e Event) String() string {
	switch e.Kind {
	case EventRegStatus:
		return "reg=" + e.Status.String()
	case EventRRCUpdate:
		if e.RRCConnected {
			return "rrc=connected"
		}
		return "rrc=idle"
	case EventCellUpdate:
		return fmt.Sprintf("cell id=%d tac=%d", e.Cell.ID, e.Cell.TAC)
	case EventModeUpdate:
		return "mode=" + e.Mode.String()
	}
	return fmt.Sprintf("event(%d)", e.Kind)
}

type Handler func(Event)

// Link contract:
// - Subscribe before Init, handler may be called from any goroutine until Close
// - Init starts network attach and returns without waiting for registration
type Link interface {
	Subscribe(Handler)
	Init(ctx context.Context) error
	Close() error
}
