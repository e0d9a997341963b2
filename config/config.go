// Package config loads TriOS deployment configuration from TOML: the
// serial port, bus tuning and the instruments expected on the bus. A
// configured instrument list lets a logger skip discovery on sites where
// the wiring is known.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/oceansignal/go-trios/bus"
	"github.com/oceansignal/go-trios/logger"
	"github.com/oceansignal/go-trios/measure"
	"github.com/oceansignal/go-trios/transport"
	"github.com/oceansignal/go-trios/trios"
)

// Duration is a time.Duration that unmarshals from TOML strings like "3s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v

	return nil
}

// Instrument is one configured instrument entry.
type Instrument struct {
	// Address is the six-hex-digit bus address, e.g. "020080".
	Address string `toml:"address"`

	// Family is the sensor family name, e.g. "RAMSES_SAM".
	Family string `toml:"family"`

	// IntegrationTime is the integration time index to program before each
	// measurement; nil leaves the instrument setting untouched.
	IntegrationTime *int `toml:"integration_time"`

	// CollectTimeout bounds one measurement; zero selects the default.
	CollectTimeout Duration `toml:"collect_timeout"`
}

// Profile builds the instrument profile for this entry.
func (i *Instrument) Profile() (*trios.InstrumentProfile, error) {
	addr, err := trios.ParseAddress(i.Address)
	if err != nil {
		return nil, err
	}

	family, err := trios.ParseSensorFamily(i.Family)
	if err != nil {
		return nil, fmt.Errorf("config: instrument %s: %w", i.Address, err)
	}

	return trios.NewProfile(addr, family), nil
}

// SessionOptions maps the entry's measurement settings to session options.
func (i *Instrument) SessionOptions() []measure.SessionOption {
	var opts []measure.SessionOption

	if i.IntegrationTime != nil {
		opts = append(opts, measure.WithIntegrationTime(*i.IntegrationTime))
	}
	if i.CollectTimeout.Duration > 0 {
		opts = append(opts, measure.WithCollectTimeout(i.CollectTimeout.Duration))
	}

	return opts
}

// Config is the root of a TOML deployment file.
type Config struct {
	// Port is the serial device path.
	Port string `toml:"port"`

	// BaudRate is the line speed; zero selects the instrument default.
	BaudRate int `toml:"baud_rate"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level"`

	ReplyTimeout    Duration `toml:"reply_timeout"`
	RetryLimit      *int     `toml:"retry_limit"`
	DiscoveryWindow Duration `toml:"discovery_window"`

	// ChecksumValidation defaults to true when absent.
	ChecksumValidation *bool `toml:"checksum_validation"`

	Instruments []Instrument `toml:"instruments"`
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	var cfg Config

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config: %s not found", path)
		}
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}

	if _, err := c.Level(); err != nil {
		return err
	}

	seen := make(map[trios.BusID]string, len(c.Instruments))
	for idx := range c.Instruments {
		p, err := c.Instruments[idx].Profile()
		if err != nil {
			return err
		}

		if other, dup := seen[p.Addr.Bus()]; dup {
			return fmt.Errorf("%w: %s and %s", trios.ErrDuplicateAddress,
				other, c.Instruments[idx].Address)
		}
		seen[p.Addr.Bus()] = c.Instruments[idx].Address

		if it := c.Instruments[idx].IntegrationTime; it != nil {
			if !p.Capabilities.ValidIntegrationIndex(*it) {
				return fmt.Errorf("instrument %s: integration index %d out of range",
					c.Instruments[idx].Address, *it)
			}
		}
	}

	return nil
}

// Level converts the configured log level name.
func (c *Config) Level() (logger.Level, error) {
	switch c.LogLevel {
	case "", "info":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "warn":
		return logger.WarnLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return logger.InfoLevel, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}

// Serial returns the transport settings.
func (c *Config) Serial() transport.SerialConfig {
	return transport.SerialConfig{
		Port:     c.Port,
		BaudRate: c.BaudRate,
	}
}

// BusOptions maps the configuration to bus options.
func (c *Config) BusOptions(l logger.Logger) []bus.Option {
	var opts []bus.Option

	if l != nil {
		opts = append(opts, bus.WithLogger(l))
	}
	if c.ReplyTimeout.Duration > 0 {
		opts = append(opts, bus.WithReplyTimeout(c.ReplyTimeout.Duration))
	}
	if c.RetryLimit != nil {
		opts = append(opts, bus.WithRetryLimit(*c.RetryLimit))
	}
	if c.DiscoveryWindow.Duration > 0 {
		opts = append(opts, bus.WithDiscoveryWindow(c.DiscoveryWindow.Duration))
	}
	if c.ChecksumValidation != nil {
		opts = append(opts, bus.WithChecksumValidation(*c.ChecksumValidation))
	}

	return opts
}

// Registry builds an instrument registry from the configured entries.
func (c *Config) Registry() (*trios.Registry, error) {
	reg := trios.NewRegistry()

	for idx := range c.Instruments {
		p, err := c.Instruments[idx].Profile()
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
