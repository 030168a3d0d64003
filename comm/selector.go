package comm

import "strings"

// Peer is a bonded remote device as reported by the adapter.
type Peer struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

func (p Peer) String() string {
	if p.Name == "" {
		return p.Address
	}
	return p.Name + " (" + p.Address + ")"
}

// DefaultPatterns are the module names we accept out of the box.
var DefaultPatterns = []string{"HC-05", "HC-06", "ESP32", "YourDeviceName"}

// SelectPeer returns the first peer, in the order given, whose name contains
// one of patterns ignoring case. Only one device is ever tried per start, so
// later matches are not looked at.
func SelectPeer(peers []Peer, patterns []string) (Peer, bool) {
	for _, p := range peers {
		if p.Name == "" {
			continue
		}
		name := strings.ToLower(p.Name)
		for _, pat := range patterns {
			if pat == "" {
				continue
			}
			if strings.Contains(name, strings.ToLower(pat)) {
				return p, true
			}
		}
	}
	return Peer{}, false
}
