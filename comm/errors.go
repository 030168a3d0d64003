package comm

import "errors"

var (
	// ErrAdapterUnavailable means there is no usable radio adapter on this host.
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")
	// ErrNoMatchingPeer means no bonded peer matched the allow-list. Pair a device and retry.
	ErrNoMatchingPeer = errors.New("no matching bonded device")
	// ErrConnection wraps failures while opening the stream to the peer.
	ErrConnection = errors.New("connection error")
	// ErrRead wraps fatal I/O failures inside the read loop.
	ErrRead = errors.New("read error")
	// ErrNotConnected is returned by operations that need an open stream.
	ErrNotConnected = errors.New("not connected")
	// ErrTransportUnsupported is returned by transports not built for this platform.
	ErrTransportUnsupported = errors.New("transport not supported on this platform")
)
