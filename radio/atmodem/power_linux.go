//go:build linux
// +build linux

package atmodem

import (
	"time"

	"github.com/cellbeat/cellbeat/helpers"
	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
)

// PowerPulse drives modem reset/PWRKEY line high for pulse duration.
func PowerPulse(chip string, pin uint32, pulse time.Duration) error {
	c, err := gpio.Open(chip, "cellbeat")
	if err != nil {
		return errors.Annotatef(err, "gpio open chip=%s", chip)
	}
	lines, err := c.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, "modem-power", pin)
	if err != nil {
		_ = c.Close()
		return errors.Annotatef(err, "gpio open line=%d", pin)
	}
	set := lines.SetFunc(pin)
	set(1)
	err = lines.Flush()
	if err == nil {
		time.Sleep(pulse)
		set(0)
		err = lines.Flush()
	}
	return helpers.FoldErrors([]error{
		errors.Annotate(err, "gpio pulse"),
		lines.Close(),
		c.Close(),
	})
}
