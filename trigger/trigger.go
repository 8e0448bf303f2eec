// Package trigger drives a serial camera trigger box, which fires n
// exposures when sent "<n>\n"
package trigger

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/nasa-jpl/scanlab/comm"
)

// ErrNoImages is returned when asked to take fewer than one image
var ErrNoImages = errors.New("image count must be positive")

// Serial is a trigger box on a serial port
type Serial struct {
	*comm.RemoteDevice
}

// NewSerial returns a trigger on the given port, e.g. /dev/ttyUSB0.
// baud of zero uses 9600.
func NewSerial(port string, baud int) Serial {
	rd := comm.NewRemoteDevice(port, true)
	rd.Baud = baud
	rd.TxTerminator = '\n'
	rd.RxTerminator = '\n'
	return Serial{RemoteDevice: rd}
}

// TakeImages fires n exposures.  The port is opened if it is not already.
func (s Serial) TakeImages(n int) error {
	if n <= 0 {
		return fmt.Errorf("%d: %w", n, ErrNoImages)
	}
	if err := s.Open(); err != nil {
		return err
	}
	return s.Send([]byte(strconv.Itoa(n)))
}
