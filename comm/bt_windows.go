package comm

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/windows"
)

var modws2_32 = windows.NewLazySystemDLL("ws2_32.dll")
var procConnect = modws2_32.NewProc("connect")

const (
	afBTH          = 32
	bthProtoRFCOMM = 3
	sockaddrBTHLen = 30
)

func macToUint64(macStr string) (uint64, error) {
	hw, err := net.ParseMAC(macStr)
	if err != nil {
		return 0, err
	}
	var result uint64
	// hw[0] ends up in the high byte.
	for i := 0; i < 6; i++ {
		result = (result << 8) | uint64(hw[i])
	}
	return result, nil
}

// Open connects by service GUID; Winsock resolves the RFCOMM channel through
// SDP when the port is 0. A non-zero Channel skips the lookup.
func (t *RFCOMMTransport) Open(ctx context.Context, address string, service uuid.UUID) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	macAddr, err := macToUint64(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	guid, err := windows.GUIDFromString("{" + service.String() + "}")
	if err != nil {
		return nil, fmt.Errorf("service guid: %w", err)
	}

	fd, err := windows.Socket(afBTH, windows.SOCK_STREAM, bthProtoRFCOMM)
	if err != nil {
		return nil, fmt.Errorf("create rfcomm socket: %w", err)
	}

	// SOCKADDR_BTH is packed: Family(2) + Addr(8) + GUID(16) + Port(4) = 30 bytes,
	// so build it by hand to avoid Go struct padding.
	rawSa := make([]byte, sockaddrBTHLen)
	*(*uint16)(unsafe.Pointer(&rawSa[0])) = afBTH
	*(*uint64)(unsafe.Pointer(&rawSa[2])) = macAddr
	*(*windows.GUID)(unsafe.Pointer(&rawSa[10])) = guid
	*(*uint32)(unsafe.Pointer(&rawSa[26])) = uint32(t.Channel)

	r1, _, callErr := procConnect.Call(uintptr(fd), uintptr(unsafe.Pointer(&rawSa[0])), uintptr(sockaddrBTHLen))
	if r1 != 0 {
		windows.Closesocket(fd)
		return nil, fmt.Errorf("winsock connect %s: %v", address, callErr)
	}
	return &rawBtSocket{fd: fd}, nil
}

type rawBtSocket struct {
	fd        windows.Handle
	closeOnce sync.Once
}

func (s *rawBtSocket) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := windows.WSABuf{Len: uint32(len(p)), Buf: &p[0]}
	var done, flags uint32
	if err := windows.WSARecv(s.fd, &buf, 1, &done, &flags, nil, nil); err != nil {
		if err == windows.WSAEWOULDBLOCK {
			return 0, nil
		}
		return 0, err
	}
	// Zero bytes means the peer closed its side.
	if done == 0 {
		return 0, io.EOF
	}
	return int(done), nil
}

func (s *rawBtSocket) Write(p []byte) (int, error) {
	var total int
	for total < len(p) {
		remaining := p[total:]
		buf := windows.WSABuf{Len: uint32(len(remaining)), Buf: &remaining[0]}
		var done uint32
		if err := windows.WSASend(s.fd, &buf, 1, &done, 0, nil, nil); err != nil {
			if err == windows.WSAEWOULDBLOCK {
				continue
			}
			return total, err
		}
		if done == 0 {
			return total, io.ErrUnexpectedEOF
		}
		total += int(done)
	}
	return total, nil
}

// Close shuts the socket down once; a pending WSARecv returns with an error.
func (s *rawBtSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = windows.Closesocket(s.fd)
	})
	return err
}
