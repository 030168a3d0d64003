package comm

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// SerialPortProfile is the well-known SPP service class UUID.
var SerialPortProfile = uuid.MustParse("00001101-0000-1000-8000-00805F9B34FB")

// Stream is an open connection to the peer. Close must unblock a pending Read.
type Stream = io.ReadWriteCloser

// Transport opens streams to a peer address for a given service.
type Transport interface {
	Open(ctx context.Context, address string, service uuid.UUID) (Stream, error)
}

// writeDeadliner is implemented by sockets that support write timeouts.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// RFCOMMTransport dials the peer directly over an RFCOMM socket.
// Channel 0 tries channels 1..5, which covers HC-05/HC-06 and Android SPP servers.
type RFCOMMTransport struct {
	Channel uint8
}

func (t *RFCOMMTransport) channels() []uint8 {
	if t.Channel != 0 {
		return []uint8{t.Channel}
	}
	return []uint8{1, 2, 3, 4, 5}
}
