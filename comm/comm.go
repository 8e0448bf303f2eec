/*Package comm provides an embeddable type for line oriented communication
with lab hardware over RS232 or TCP.

Most usages of this package will boil down to:
	1.  embed RemoteDevice in a type that represents your hardware.
	2.  set the terminators if the device does not use carriage returns.
	3.  write methods on the embedding type in terms of Send and SendRecv.

A minimal example for a camera trigger box which takes "<n>\n" and fires
n exposures:

	type Box struct {
		*comm.RemoteDevice
	}

	func (b Box) Fire(n int) error {
		return b.Send([]byte(strconv.Itoa(n)))
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

const (
	// DefaultBaud is used for serial devices when Baud is zero
	DefaultBaud = 9600

	// DefaultTimeout bounds connects, reads and writes
	DefaultTimeout = 3 * time.Second
)

// RemoteDevice has an address and a connection to it.  It is safe for
// concurrent use; each Send or SendRecv holds the connection for its whole
// exchange.
type RemoteDevice struct {
	// Addr is a host:port for TCP devices, or a path such as /dev/ttyUSB0
	Addr string

	// IsSerial selects RS232 (tarm/serial) over TCP
	IsSerial bool

	// Baud is the serial baud rate, DefaultBaud if zero
	Baud int

	// TxTerminator is appended to each transmission, RxTerminator ends each
	// response.  Both default to a carriage return.
	TxTerminator, RxTerminator byte

	// Timeout bounds connects, reads and writes, DefaultTimeout if zero
	Timeout time.Duration

	// Dial overrides how the connection is made, used for tests and
	// non-standard transports
	Dial func() (io.ReadWriteCloser, error)

	mu   sync.Mutex
	Conn io.ReadWriteCloser
	rdr  *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice with carriage return terminators
func NewRemoteDevice(addr string, serial bool) *RemoteDevice {
	return &RemoteDevice{
		Addr:         addr,
		IsSerial:     serial,
		TxTerminator: '\r',
		RxTerminator: '\r'}
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout == 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

// SerialConf yields a serial config object for use with serial.OpenPort
func (rd *RemoteDevice) SerialConf() *serial.Config {
	baud := rd.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	return &serial.Config{Name: rd.Addr, Baud: baud, ReadTimeout: rd.timeout()}
}

// Open the connection, setting the Conn variable.  Opening an open device
// does nothing.
func (rd *RemoteDevice) Open() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn != nil {
		return nil
	}
	// exponential backoff, some remotes do not like being connection thrashed.
	// refusals are final.
	op := func() error {
		err := rd.open()
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "refused") {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      rd.timeout(),
		Clock:               backoff.SystemClock})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", rd.Addr, err)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var (
		err  error
		conn io.ReadWriteCloser
	)
	switch {
	case rd.Dial != nil:
		conn, err = rd.Dial()
	case rd.IsSerial:
		conn, err = serial.OpenPort(rd.SerialConf())
	default:
		conn, err = TCPSetup(rd.Addr, rd.timeout())
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rdr = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.rdr = nil
	return err
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	if c, ok := rd.Conn.(net.Conn); ok {
		c.SetWriteDeadline(time.Now().Add(rd.timeout()))
	}
	msg := make([]byte, 0, len(b)+1)
	msg = append(append(msg, b...), rd.TxTerminator)
	_, err := rd.Conn.Write(msg)
	return err
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if c, ok := rd.Conn.(net.Conn); ok {
		c.SetReadDeadline(time.Now().Add(rd.timeout()))
	}
	buf, err := rd.rdr.ReadBytes(rd.RxTerminator)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	return bytes.TrimSuffix(buf, []byte{rd.RxTerminator}), nil
}

// Send writes data to the remote after appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.send(b)
}

// Recv recieves data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.recv()
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}
