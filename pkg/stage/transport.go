package stage

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const (
	baudRate     = 460800
	readTimeout  = 2 * time.Second
	drainTimeout = 10 * time.Millisecond
)

// port is the subset of serial.Port the transport needs. Tests substitute a
// scripted device.
type port interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// transport owns the serial link for the lifetime of the controller. It has
// no knowledge of motion; it moves frames and polices line hygiene.
type transport struct {
	port   port
	closed bool
}

func openTransport(portName string) (*transport, error) {
	p, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("%w on port %s: %v", ErrConnection, portName, err)
	}
	return &transport{port: p}, nil
}

// send writes a command frame and, if respLen > 0, reads exactly respLen
// response bytes. Afterwards it verifies nothing is left on the line: a
// stray byte means host and device have desynchronized, which is fatal.
func (t *transport) send(cmd []byte, respLen int) ([]byte, error) {
	if _, err := t.port.Write(cmd); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}
	var resp []byte
	if respLen > 0 {
		if err := t.port.SetReadTimeout(readTimeout); err != nil {
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
		resp = make([]byte, respLen)
		for n := 0; n < respLen; {
			r, err := t.port.Read(resp[n:])
			if err != nil {
				return nil, fmt.Errorf("read response: %w", err)
			}
			if r == 0 {
				// No bytes at all is a silent device; a partial
				// frame means the line itself is suspect.
				if n == 0 {
					return nil, fmt.Errorf("%w: no response within %s",
						ErrReadTimeout, readTimeout)
				}
				return nil, fmt.Errorf("%w: device returned %d of %d response bytes",
					ErrLinkDesync, n, respLen)
			}
			n += r
		}
	}
	if err := t.drainCheck(); err != nil {
		return nil, err
	}
	return resp, nil
}

// drainCheck asserts the receive buffer is empty after an exchange. Relies
// on Read returning (0, nil) when the timeout expires with no data.
func (t *transport) drainCheck() error {
	if err := t.port.SetReadTimeout(drainTimeout); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	buf := make([]byte, 1)
	n, err := t.port.Read(buf)
	if err != nil {
		return fmt.Errorf("drain check: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: byte %#02x left on the line after response",
			ErrLinkDesync, buf[0])
	}
	return nil
}

// close releases the port. Safe to call more than once.
func (t *transport) close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
