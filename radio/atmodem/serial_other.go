//go:build !linux
// +build !linux

package atmodem

import (
	"io"
	"time"

	"github.com/juju/errors"
)

func OpenSerial(path string, baud int) (io.ReadWriteCloser, error) {
	return nil, errors.NotSupportedf("serial on this OS")
}

func PowerPulse(chip string, pin uint32, pulse time.Duration) error {
	return errors.NotSupportedf("gpio on this OS")
}
