//go:build linux

package comm

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// parseMAC converts "AA:BB:CC:DD:EE:FF" to the reversed byte order the kernel
// stores BD_ADDR in.
func parseMAC(macStr string) ([6]byte, error) {
	var b [6]byte
	hw, err := net.ParseMAC(macStr)
	if err != nil {
		return b, err
	}
	if len(hw) != 6 {
		return b, fmt.Errorf("not a bluetooth address: %s", macStr)
	}
	for i := 0; i < 6; i++ {
		b[i] = hw[5-i]
	}
	return b, nil
}

// Open dials address over RFCOMM. The kernel has no UUID lookup for raw
// sockets, so service is only used for error reporting; the channel comes
// from the transport settings.
func (t *RFCOMMTransport) Open(ctx context.Context, address string, service uuid.UUID) (Stream, error) {
	addr, err := parseMAC(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}

	var lastErr error
	for _, ch := range t.channels() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
		if err != nil {
			return nil, fmt.Errorf("create rfcomm socket: %w", err)
		}
		if err := connectRFCOMM(ctx, fd, &unix.SockaddrRFCOMM{Addr: addr, Channel: ch}); err != nil {
			unix.Close(fd)
			lastErr = fmt.Errorf("channel %d: %w", ch, err)
			continue
		}
		// Hand the fd to the runtime poller so Close wakes a blocked Read.
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("set nonblock: %w", err)
		}
		return os.NewFile(uintptr(fd), "rfcomm:"+address), nil
	}
	return nil, fmt.Errorf("connect %s service %s: %w", address, service, lastErr)
}

// connectRFCOMM runs the blocking connect and shuts the socket down if ctx ends
// first. The kernel page timeout bounds how long the syscall can linger.
func connectRFCOMM(ctx context.Context, fd int, sa unix.Sockaddr) error {
	done := make(chan error, 1)
	go func() { done <- unix.Connect(fd, sa) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		unix.Shutdown(fd, unix.SHUT_RDWR)
		<-done
		return ctx.Err()
	}
}
