package tele

import (
	"fmt"

	"github.com/cellbeat/cellbeat/supervisor"
	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
)

const reportVersion = 2

type Kind uint8

const (
	KindInvalid Kind = iota
	KindStat
	KindError
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindStat:
		return "stat"
	case KindError:
		return "error"
	case KindState:
		return "state"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Report is one telemetry message, fixed field order on the wire.
type Report struct {
	Kind     Kind
	DeviceId int32
	Time     int64 // unix nano
	State    supervisor.State
	Error    string
	Stat     supervisor.StatSnapshot

	// lifetime counters
	Boots      uint64
	Sessions   uint64
	Reconnects uint64
	RegFails   uint64
}

func (r *Report) statFields() []*uint64 {
	return []*uint64{
		&r.Stat.Opens, &r.Stat.Closes, &r.Stat.EstablishFailures, &r.Stat.Escalations,
		&r.Stat.Beats, &r.Stat.Replies, &r.Stat.Missed, &r.Stat.Broken,
		&r.Boots, &r.Sessions, &r.Reconnects, &r.RegFails,
	}
}

func (r *Report) Marshal() ([]byte, error) {
	buf := proto.NewBuffer(make([]byte, 0, 128))
	if err := r.marshalTo(buf); err != nil {
		return nil, errors.Annotate(err, "report marshal")
	}
	return buf.Bytes(), nil
}

func (r *Report) marshalTo(buf *proto.Buffer) error {
	head := []uint64{reportVersion, uint64(r.Kind)}
	for _, x := range head {
		if err := buf.EncodeVarint(x); err != nil {
			return err
		}
	}
	if err := buf.EncodeZigzag64(uint64(int64(r.DeviceId))); err != nil {
		return err
	}
	if err := buf.EncodeZigzag64(uint64(r.Time)); err != nil {
		return err
	}
	if err := buf.EncodeVarint(uint64(r.State)); err != nil {
		return err
	}
	if err := buf.EncodeStringBytes(r.Error); err != nil {
		return err
	}
	if err := buf.EncodeZigzag64(uint64(r.Stat.LastReplyUnixNano)); err != nil {
		return err
	}
	for _, p := range r.statFields() {
		if err := buf.EncodeVarint(*p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) Unmarshal(b []byte) error {
	buf := proto.NewBuffer(b)
	err := r.unmarshalFrom(buf)
	return errors.Annotate(err, "report unmarshal")
}

func (r *Report) unmarshalFrom(buf *proto.Buffer) error {
	version, err := buf.DecodeVarint()
	if err != nil {
		return err
	}
	if version != reportVersion {
		return errors.NotSupportedf("report version=%d", version)
	}
	var x uint64
	if x, err = buf.DecodeVarint(); err != nil {
		return err
	}
	r.Kind = Kind(x)
	if x, err = buf.DecodeZigzag64(); err != nil {
		return err
	}
	r.DeviceId = int32(int64(x))
	if x, err = buf.DecodeZigzag64(); err != nil {
		return err
	}
	r.Time = int64(x)
	if x, err = buf.DecodeVarint(); err != nil {
		return err
	}
	r.State = supervisor.State(x)
	if r.Error, err = buf.DecodeStringBytes(); err != nil {
		return err
	}
	if x, err = buf.DecodeZigzag64(); err != nil {
		return err
	}
	r.Stat.LastReplyUnixNano = int64(x)
	for _, p := range r.statFields() {
		if *p, err = buf.DecodeVarint(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) String() string {
	switch r.Kind {
	case KindState:
		return fmt.Sprintf("device=%d state=%s", r.DeviceId, r.State)
	case KindError:
		return fmt.Sprintf("device=%d error=%s", r.DeviceId, r.Error)
	}
	return fmt.Sprintf("device=%d %s state=%s stat=%s boots=%d sessions=%d reconnects=%d regfails=%d",
		r.DeviceId, r.Kind, r.State, r.Stat, r.Boots, r.Sessions, r.Reconnects, r.RegFails)
}
