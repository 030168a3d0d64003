//go:build linux

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

const profileIface = "org.bluez.Profile1"

var errListenerClosed = errors.New("listener closed")

// Conn is one incoming RFCOMM link handed over by BlueZ.
type Conn struct {
	*os.File
	Device dbus.ObjectPath
}

// RFCOMMListener registers a server profile with BlueZ and queues the
// sockets it receives in NewConnection.
type RFCOMMListener struct {
	bus     *dbus.Conn
	path    dbus.ObjectPath
	uuid    string
	accept  chan *Conn
	done    chan struct{}
	closeMu sync.Once
}

// profile is the object exported to BlueZ.
type profile struct {
	l *RFCOMMListener
}

func (p *profile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	// Nonblocking so the runtime poller can interrupt reads on Close.
	if err := unix.SetNonblock(int(fd), true); err != nil {
		unix.Close(int(fd))
		return dbus.MakeFailedError(err)
	}
	c := &Conn{File: os.NewFile(uintptr(fd), "rfcomm:"+string(device)), Device: device}
	select {
	case p.l.accept <- c:
		return nil
	case <-p.l.done:
		c.Close()
		return dbus.MakeFailedError(errListenerClosed)
	}
}

func (p *profile) RequestDisconnection(dbus.ObjectPath) *dbus.Error { return nil }
func (p *profile) Release() *dbus.Error                          { return nil }

// ListenRFCOMM registers the service uuid on the given RFCOMM channel.
func ListenRFCOMM(name, uuid string, channel uint16) (*RFCOMMListener, error) {
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	l := &RFCOMMListener{
		bus:    bus,
		path:   dbus.ObjectPath(fmt.Sprintf("/org/btserial/sim%d", os.Getpid())),
		uuid:   uuid,
		accept: make(chan *Conn),
		done:   make(chan struct{}),
	}
	if err := bus.Export(&profile{l: l}, l.path, profileIface); err != nil {
		bus.Close()
		return nil, err
	}
	opts := map[string]dbus.Variant{
		"Name":                  dbus.MakeVariant(name),
		"Role":                  dbus.MakeVariant("server"),
		"Channel":               dbus.MakeVariant(channel),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
	}
	obj := bus.Object("org.bluez", "/org/bluez")
	if err := obj.Call("org.bluez.ProfileManager1.RegisterProfile", 0, l.path, uuid, opts).Store(); err != nil {
		bus.Close()
		return nil, fmt.Errorf("register profile: %w", err)
	}
	return l, nil
}

// Accept blocks until BlueZ hands over a connection or the listener closes.
func (l *RFCOMMListener) Accept() (*Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, errListenerClosed
	}
}

// Close unregisters the profile. Safe to call more than once.
func (l *RFCOMMListener) Close() error {
	var err error
	l.closeMu.Do(func() {
		close(l.done)
		obj := l.bus.Object("org.bluez", "/org/bluez")
		err = obj.Call("org.bluez.ProfileManager1.UnregisterProfile", 0, l.path).Err
		l.bus.Export(nil, l.path, profileIface)
		err = errors.Join(err, l.bus.Close())
	})
	return err
}

func (l *RFCOMMListener) Addr() net.Addr {
	return rfcommAddr(l.uuid)
}

type rfcommAddr string

func (a rfcommAddr) Network() string { return "rfcomm" }
func (a rfcommAddr) String() string  { return string(a) }
