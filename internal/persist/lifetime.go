package persist

import (
	"fmt"
	"sync"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
)

const lifetimeVersion = 1

// Lifetime counters survive process restarts.
type Lifetime struct {
	mu         sync.Mutex
	Boots      uint64
	Sessions   uint64
	Reconnects uint64
	RegFails   uint64
}

var _ Record = &Lifetime{}

func (l *Lifetime) MarshalBinary() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	buf := proto.NewBuffer(make([]byte, 0, 32))
	for _, x := range []uint64{lifetimeVersion, l.Boots, l.Sessions, l.Reconnects, l.RegFails} {
		if err := buf.EncodeVarint(x); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (l *Lifetime) UnmarshalBinary(b []byte) error {
	buf := proto.NewBuffer(b)
	version, err := buf.DecodeVarint()
	if err != nil {
		return errors.Annotate(err, "lifetime version")
	}
	if version != lifetimeVersion {
		return errors.NotSupportedf("lifetime version=%d", version)
	}
	var xs [4]uint64
	for i := range xs {
		if xs[i], err = buf.DecodeVarint(); err != nil {
			return errors.Annotatef(err, "lifetime field=%d", i)
		}
	}
	l.mu.Lock()
	l.Boots, l.Sessions, l.Reconnects, l.RegFails = xs[0], xs[1], xs[2], xs[3]
	l.mu.Unlock()
	return nil
}

// Modify applies f under lock.
func (l *Lifetime) Modify(f func(*Lifetime)) {
	l.mu.Lock()
	f(l)
	l.mu.Unlock()
}

func (l *Lifetime) Snapshot() (boots, sessions, reconnects, regFails uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Boots, l.Sessions, l.Reconnects, l.RegFails
}

func (l *Lifetime) String() string {
	b, s, r, f := l.Snapshot()
	return fmt.Sprintf("(boots=%d sessions=%d reconnects=%d regfails=%d)", b, s, r, f)
}
