// Package mtu implements the MTU (meter transmission unit) role: the clock
// generator / sampler, the asynchronous frame reassembler, and the
// session/statistics layer that together drive one read transaction over
// the water-meter CLK/DATA link (spec.md sections 4.3-4.5).
package mtu

import (
	"fmt"
	"os"
	"time"

	"github.com/istorrs/watermeter-link/telegram"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

// Config is the immutable-per-transaction link configuration described in
// spec.md section 3.
type Config struct {
	// Framing selects 7E1 or 7E2 character framing.
	Framing telegram.Framing `yaml:"-"`
	// BitRate is the nominal link speed; one bit period is BitRate.Period()
	// and CLK's half-period is half that.
	BitRate physic.Frequency `yaml:"-"`
	// PowerUpHold is how long CLK is held HIGH before the first falling edge.
	PowerUpHold time.Duration `yaml:"power_up_hold"`
	// MaxDuration bounds one transaction.
	MaxDuration time.Duration `yaml:"max_duration"`
	// ExpectedMessage is the reference byte string (including trailing CR)
	// used by the comparator.
	ExpectedMessage []byte `yaml:"-"`

	// BitTimeout bounds how long the reassembler waits for each bit of a
	// frame once a start bit has been seen. Spec default: ~2s.
	BitTimeout time.Duration `yaml:"bit_timeout"`
	// QueueCapacity is the bit queue's fixed capacity. Spec minimum: 64.
	QueueCapacity int `yaml:"queue_capacity"`
	// InterTestPause is the pause RunTest takes between transactions.
	// Spec default: ~500ms.
	InterTestPause time.Duration `yaml:"inter_test_pause"`

	FramingName         string `yaml:"framing"`
	ExpectedMessageText string `yaml:"expected_message"`
	BaudValue           int    `yaml:"baud"`
}

// DefaultConfig returns a configuration matching spec.md's nominal values:
// 1200 baud 7E1 framing, a 10ms power-up hold, a 30s max duration.
func DefaultConfig() Config {
	cfg := Config{
		Framing:         telegram.SevenE1,
		PowerUpHold:     10 * time.Millisecond,
		MaxDuration:     30 * time.Second,
		ExpectedMessage: []byte("WATER001\r"),
		BitTimeout:      2 * time.Second,
		QueueCapacity:   64,
		InterTestPause:  500 * time.Millisecond,
	}
	cfg.SetBaudRate(1200)
	return cfg
}

// SetBaudRate sets BitRate from a nominal baud rate (bits/second),
// satisfying spec.md section 6's "set_baud_rate (baud -> cycle_time
// reciprocal)" operation. Grounded on periph-host/ftdi/handle.go's
// handle.SetBaudRate, which takes the same physic.Frequency and converts
// it with the same f/physic.Hertz division used by BaudRate below.
func (c *Config) SetBaudRate(baud int) {
	c.BitRate = physic.Frequency(baud) * physic.Hertz
}

// BaudRate returns the nominal baud rate implied by BitRate.
func (c Config) BaudRate() int {
	return int(c.BitRate / physic.Hertz)
}

// CycleTime returns the bit period implied by BitRate.
func (c Config) CycleTime() time.Duration {
	return c.BitRate.Period()
}

// LoadConfig reads a YAML configuration file into a Config, starting from
// DefaultConfig() so unspecified fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("mtu: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("mtu: parsing config %s: %w", path, err)
	}

	switch cfg.FramingName {
	case "", "7E1":
		cfg.Framing = telegram.SevenE1
	case "7E2":
		cfg.Framing = telegram.SevenE2
	default:
		return Config{}, fmt.Errorf("mtu: unknown framing %q", cfg.FramingName)
	}
	if cfg.ExpectedMessageText != "" {
		cfg.ExpectedMessage = []byte(cfg.ExpectedMessageText)
	}
	if cfg.BaudValue > 0 {
		cfg.SetBaudRate(cfg.BaudValue)
	}
	if cfg.BitTimeout <= 0 {
		cfg.BitTimeout = 2 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.InterTestPause <= 0 {
		cfg.InterTestPause = 500 * time.Millisecond
	}
	return cfg, nil
}
