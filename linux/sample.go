//go:build linux

package main

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// sensor produces the kind of telemetry a small SPP module streams.
type sensor struct {
	seq  int
	temp float64
	rnd  *rand.Rand
}

func newSensor(seed uint64) *sensor {
	return &sensor{temp: 21.5, rnd: rand.New(rand.NewPCG(seed, seed^0x5eed))}
}

// next returns the next reading, CRLF terminated like most modules send.
func (s *sensor) next() string {
	s.seq++
	s.temp += (s.rnd.Float64() - 0.5) / 5
	return fmt.Sprintf("seq=%d temp=%.1f hum=%d\r\n", s.seq, s.temp, 40+s.rnd.IntN(10))
}

// reply answers a command line from the bridge.
func reply(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	switch {
	case cmd == "":
		return ""
	case strings.EqualFold(cmd, "PING"):
		return "PONG\r\n"
	default:
		return "OK " + cmd + "\r\n"
	}
}
