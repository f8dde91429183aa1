package supervisor

import (
	"fmt"
	"time"

	"github.com/cellbeat/cellbeat/retry"
	"github.com/juju/errors"
)

// Timing is the only difference between radio profiles, state machine is the same.
type Timing struct {
	RegistrationTimeout     time.Duration
	InterBeat               time.Duration
	ReceiveTimeout          time.Duration
	ShortRetry              time.Duration
	EscalatedRetry          time.Duration
	RetriesBeforeEscalation uint
}

func (t Timing) Validate() error {
	check := []struct {
		name string
		d    time.Duration
	}{
		{"registration", t.RegistrationTimeout},
		{"inter_beat", t.InterBeat},
		{"receive", t.ReceiveTimeout},
		{"short_retry", t.ShortRetry},
		{"escalated_retry", t.EscalatedRetry},
	}
	for _, c := range check {
		if c.d <= 0 {
			return errors.NotValidf("timing %s=%s", c.name, c.d)
		}
	}
	if t.RetriesBeforeEscalation == 0 {
		return errors.NotValidf("timing retries_before_escalation=0")
	}
	return nil
}

func (t Timing) Policy() retry.Policy {
	return retry.Policy{Short: t.ShortRetry, Escalated: t.EscalatedRetry}
}

func (t Timing) String() string {
	return fmt.Sprintf("(registration=%s beat=%s receive=%s retry=%s/%s after %d)",
		t.RegistrationTimeout, t.InterBeat, t.ReceiveTimeout, t.ShortRetry, t.EscalatedRetry, t.RetriesBeforeEscalation)
}
