//go:build !linux && !windows

package comm

import (
	"context"

	"github.com/google/uuid"
)

func (t *RFCOMMTransport) Open(ctx context.Context, address string, service uuid.UUID) (Stream, error) {
	return nil, ErrTransportUnsupported
}
