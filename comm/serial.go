package comm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tarm/serial"
)

// SerialTransport talks to a peer through a serial device that the OS has
// already bound to it: /dev/rfcomm0 after `rfcomm bind`, or the outgoing COM
// port Windows creates for a paired SPP device. The peer address is the
// device name.
type SerialTransport struct {
	Baud int
	// ReadTimeout makes Read return periodically with no data. Closing a
	// serial port does not wake a pending read, so this bounds how long Stop
	// waits for the read loop. Zero means defaultSerialReadTimeout.
	ReadTimeout time.Duration
}

const (
	defaultSerialBaud        = 9600
	defaultSerialReadTimeout = 500 * time.Millisecond
)

func (t *SerialTransport) config(address string) *serial.Config {
	c := &serial.Config{Name: address, Baud: t.Baud, ReadTimeout: t.ReadTimeout}
	if c.Baud <= 0 {
		c.Baud = defaultSerialBaud
	}
	// tarm/serial blocks forever on zero.
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultSerialReadTimeout
	}
	return c
}

func (t *SerialTransport) Open(ctx context.Context, address string, service uuid.UUID) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port, err := serial.OpenPort(t.config(address))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", address, err)
	}
	return port, nil
}
