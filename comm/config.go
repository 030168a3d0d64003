package comm

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "_config.yaml"

const (
	TransportRFCOMM = "rfcomm"
	TransportSerial = "serial"
)

type Config struct {
	Patterns       []string      `yaml:"patterns"`
	ServiceUUID    string        `yaml:"service_uuid"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
	Framing        Framing       `yaml:"framing"`
	MaxLineLength  int           `yaml:"max_line_length"`
	QueueSize      int           `yaml:"queue_size"`
	Overflow       Overflow      `yaml:"overflow"`
	EOFBackoff     time.Duration `yaml:"eof_backoff"`

	Transport         string        `yaml:"transport"`
	Controller        string        `yaml:"controller,omitempty"`
	RFCOMMChannel     uint8         `yaml:"rfcomm_channel"`
	SerialBaud        int           `yaml:"serial_baud"`
	SerialReadTimeout time.Duration `yaml:"serial_read_timeout"`
	// Peers, when set, replaces the bluez bonded list.
	Peers []Peer `yaml:"peers,omitempty"`

	RelayListen string `yaml:"relay_listen"`
	AutoStart   bool   `yaml:"auto_start"`
}

func DefaultConfig() *Config {
	return &Config{
		Patterns:          append([]string(nil), DefaultPatterns...),
		ServiceUUID:       strings.ToUpper(SerialPortProfile.String()),
		ReadBufferSize:    DefaultReadBufferSize,
		Framing:           FramingChunk,
		MaxLineLength:     defaultMaxLineLength,
		Overflow:          OverflowBlock,
		EOFBackoff:        defaultEOFBackoff,
		Transport:         TransportRFCOMM,
		SerialBaud:        defaultSerialBaud,
		SerialReadTimeout: defaultSerialReadTimeout,
		RelayListen:       ":8866",
	}
}

// LoadConfig reads path on top of the defaults. A missing file is not an
// error; the defaults are returned so the program can start empty.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("no config file, starting with defaults", "path", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.Patterns) == 0 {
		errs = append(errs, errors.New("patterns: at least one device name pattern is required"))
	}
	if _, err := uuid.Parse(c.ServiceUUID); err != nil {
		errs = append(errs, fmt.Errorf("service_uuid: %w", err))
	}
	if c.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("read_buffer_size: must be positive, got %d", c.ReadBufferSize))
	}
	switch c.Framing {
	case FramingChunk, FramingLine:
	default:
		errs = append(errs, fmt.Errorf("framing: unknown value %q", c.Framing))
	}
	switch c.Overflow {
	case OverflowBlock, OverflowDropOldest, OverflowDropNewest:
	default:
		errs = append(errs, fmt.Errorf("overflow: unknown value %q", c.Overflow))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("queue_size: must not be negative, got %d", c.QueueSize))
	}
	switch c.Transport {
	case TransportRFCOMM:
	case TransportSerial:
		if c.SerialReadTimeout <= 0 {
			errs = append(errs, fmt.Errorf("serial_read_timeout: must be positive, got %s", c.SerialReadTimeout))
		}
	default:
		errs = append(errs, fmt.Errorf("transport: unknown value %q", c.Transport))
	}
	return errors.Join(errs...)
}

// BridgeOptions maps the config onto bridge options. Callbacks and the logger
// are left for the caller.
func (c *Config) BridgeOptions() Options {
	service, err := uuid.Parse(c.ServiceUUID)
	if err != nil {
		service = SerialPortProfile
	}
	return Options{
		Patterns:       c.Patterns,
		Service:        service,
		ReadBufferSize: c.ReadBufferSize,
		Framing:        c.Framing,
		MaxLineLength:  c.MaxLineLength,
		QueueSize:      c.QueueSize,
		Overflow:       c.Overflow,
		EOFBackoff:     c.EOFBackoff,
	}
}

func (c *Config) NewTransport() Transport {
	if c.Transport == TransportSerial {
		return &SerialTransport{Baud: c.SerialBaud, ReadTimeout: c.SerialReadTimeout}
	}
	return &RFCOMMTransport{Channel: c.RFCOMMChannel}
}

// NewAdapter returns the static adapter when peers are configured, otherwise
// the bluez controller. The returned close func releases the bus connection.
func (c *Config) NewAdapter(logger *slog.Logger) (Adapter, func() error, error) {
	if len(c.Peers) > 0 {
		return &StaticAdapter{Peers: c.Peers}, func() error { return nil }, nil
	}
	a, err := NewBlueZAdapter(c.Controller, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, a.Close, nil
}
