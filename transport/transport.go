// Package transport is the session boundary of the heartbeat client.
// One Session is one TCP connection to the fixed server endpoint.
//
// Receive contract:
// - data: (b, nil) with len(b) > 0
// - orderly close by remote: (empty, nil)
// - deadline expired: error with IsTimeout(err) == true
// - anything else: error, session is dead
package transport

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/juju/errors"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadLimit      = 64
)

var ErrClosing = errors.New("closing")

type Dialer interface {
	Open(ctx context.Context, ep Endpoint) (Session, error)
}

type Session interface {
	Send(b []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
	RemoteAddr() string
	Stat() *SessionStat
}

// IsTimeout reports deadline expiry, the only receive error tolerated by the heartbeat.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	if errors.IsTimeout(cause) {
		return true
	}
	if neterr, ok := cause.(net.Error); ok && neterr.Timeout() {
		return true
	}
	return false
}

// reformat some well known errors for easier log reading
func ErrorString(err error) string {
	if err == nil {
		return ""
	}
	if IsTimeout(err) {
		return "timeout"
	}
	s := err.Error()
	switch {
	case strings.HasSuffix(s, "connection refused"):
		return "refused"
	case strings.HasSuffix(s, "connection reset by peer"):
		return "closed by remote"
	}
	return s
}
