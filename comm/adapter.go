package comm

// Adapter is the host radio. Enable is fire-and-forget: it only asks the
// platform to power on and never waits for the result.
type Adapter interface {
	IsEnabled() bool
	Enable()
	BondedPeers() ([]Peer, error)
}

// StaticAdapter serves a fixed peer list. On Windows a paired SPP device shows
// up as a virtual COM port, so the "address" is the port name.
type StaticAdapter struct {
	Peers []Peer
}

func (s *StaticAdapter) IsEnabled() bool { return true }

func (s *StaticAdapter) Enable() {}

func (s *StaticAdapter) BondedPeers() ([]Peer, error) {
	out := make([]Peer, len(s.Peers))
	copy(out, s.Peers)
	return out, nil
}
