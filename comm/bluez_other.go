//go:build !linux

package comm

import (
	"fmt"
	"log/slog"
)

// BlueZAdapter only exists on Linux; elsewhere list peers in the config and
// use the static adapter.
type BlueZAdapter struct{}

func NewBlueZAdapter(name string, logger *slog.Logger) (*BlueZAdapter, error) {
	return nil, fmt.Errorf("%w: bluez needs linux", ErrAdapterUnavailable)
}

func (a *BlueZAdapter) IsEnabled() bool { return false }

func (a *BlueZAdapter) Enable() {}

func (a *BlueZAdapter) BondedPeers() ([]Peer, error) { return nil, ErrAdapterUnavailable }

func (a *BlueZAdapter) Close() error { return nil }
