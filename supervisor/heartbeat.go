package supervisor

import (
	"time"

	"github.com/cellbeat/cellbeat/log2"
	"github.com/cellbeat/cellbeat/transport"
	"github.com/juju/errors"
)

type Outcome uint8

const (
	Continue Outcome = iota + 1
	Broken
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Broken:
		return "broken"
	}
	return "invalid"
}

// Beat is result of one send-receive exchange.
type Beat struct {
	Outcome Outcome
	Reply   []byte
	Missed  bool // receive timeout, tolerated
	Err     error
}

var ErrClosedByRemote = errors.New("connection closed by remote")

// Heartbeat sends message and waits for one reply.
// Timeout is tolerated (server may be slow, link may be silent),
// send error, zero-length read or any other receive error means the connection is gone.
func Heartbeat(session transport.Session, message []byte, receiveTimeout time.Duration, log *log2.Log) Beat {
	log.Infof("tx: %s", message)
	if err := session.Send(message); err != nil {
		log.Errorf("heartbeat send err=%s", transport.ErrorString(err))
		return Beat{Outcome: Broken, Err: err}
	}

	reply, err := session.Receive(receiveTimeout)
	switch {
	case err == nil && len(reply) > 0:
		log.Infof("rx: %s", reply)
		return Beat{Outcome: Continue, Reply: reply}

	case err == nil:
		log.Infof("connection closed by server")
		return Beat{Outcome: Broken, Err: ErrClosedByRemote}

	case transport.IsTimeout(err):
		log.Infof("timeout waiting for reply (%s)", receiveTimeout)
		return Beat{Outcome: Continue, Missed: true, Err: err}
	}
	log.Errorf("heartbeat receive err=%s", transport.ErrorString(err))
	return Beat{Outcome: Broken, Err: err}
}
