package comm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectPeer(t *testing.T) {
	tests := []struct {
		name     string
		peers    []Peer
		patterns []string
		want     Peer
		found    bool
	}{
		{
			name:     "match later in list",
			peers:    []Peer{{"foo", "1"}, {"HC-05 module", "2"}},
			patterns: []string{"hc-05"},
			want:     Peer{"HC-05 module", "2"},
			found:    true,
		},
		{
			name:     "no match",
			peers:    []Peer{{"foo", "1"}},
			patterns: []string{"hc-05"},
		},
		{
			name:     "first match wins",
			peers:    []Peer{{"my ESP32", "1"}, {"HC-06", "2"}},
			patterns: []string{"HC-06", "esp32"},
			want:     Peer{"my ESP32", "1"},
			found:    true,
		},
		{
			name:     "empty name never matches",
			peers:    []Peer{{"", "1"}, {"hc-06", "2"}},
			patterns: []string{"HC"},
			want:     Peer{"hc-06", "2"},
			found:    true,
		},
		{
			name:     "empty pattern is ignored",
			peers:    []Peer{{"headphones", "1"}},
			patterns: []string{""},
		},
		{
			name:     "no peers",
			patterns: DefaultPatterns,
		},
		{
			name:  "no patterns",
			peers: []Peer{{"HC-05", "1"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectPeer(tt.peers, tt.patterns)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPeerString(t *testing.T) {
	assert.Equal(t, "HC-05 module (98:D3:31:F5:1A:2B)", hc05.String())
	assert.Equal(t, "00:11:22:33:44:55", Peer{Address: "00:11:22:33:44:55"}.String())
}
