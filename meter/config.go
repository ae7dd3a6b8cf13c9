// Package meter implements the clock-triggered bit-shift responder (the
// METER role of spec.md): a state machine that, driven only by rising
// edges observed on CLK, shifts a pre-built telegram onto DATA.
package meter

import (
	"fmt"
	"os"
	"time"

	"github.com/istorrs/watermeter-link/telegram"
	"gopkg.in/yaml.v3"
)

// Config holds the meter's configuration. Fields other than Enabled,
// Framing and ResponseMessage are fixed protocol parameters from spec.md
// section 4.2, made overridable so tests can exercise the state machine
// without waiting on real wall-clock timeouts.
type Config struct {
	// Enabled gates whether the bit-pump responds to wake-up edges at all.
	Enabled bool `yaml:"enabled"`
	// Framing selects 7E1 or 7E2 character framing for the response.
	Framing telegram.Framing `yaml:"-"`
	// ResponseMessage is the telegram sent in response to a wake-up,
	// including its terminating CR.
	ResponseMessage []byte `yaml:"-"`

	// WakeThreshold is the number of rising edges counted before the
	// responder starts transmitting. Spec default: 10.
	WakeThreshold int `yaml:"wake_threshold"`
	// InterEdgeTimeout bounds how long the responder waits between rising
	// edges while transmitting before abandoning back to IDLE. Spec
	// default: ~2s.
	InterEdgeTimeout time.Duration `yaml:"inter_edge_timeout"`

	// FramingName is a YAML-friendly mirror of Framing ("7E1"/"7E2").
	FramingName   string `yaml:"framing"`
	ResponseText  string `yaml:"response_message"`
}

// DefaultConfig returns the configuration used by the Sensus-style default
// meter: 7E1 framing, a short default telegram, wake threshold 10, and a
// 2-second inter-edge timeout.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Framing:          telegram.SevenE1,
		ResponseMessage:  []byte("WATER001\r"),
		WakeThreshold:    10,
		InterEdgeTimeout: 2 * time.Second,
	}
}

// LoadConfig reads a YAML configuration file into a Config, starting from
// DefaultConfig() so unspecified fields keep their defaults. Grounded on
// doismellburning-samoyed's use of gopkg.in/yaml.v3 for configuration data.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("meter: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("meter: parsing config %s: %w", path, err)
	}

	switch cfg.FramingName {
	case "", "7E1":
		cfg.Framing = telegram.SevenE1
	case "7E2":
		cfg.Framing = telegram.SevenE2
	default:
		return Config{}, fmt.Errorf("meter: unknown framing %q", cfg.FramingName)
	}
	if cfg.ResponseText != "" {
		cfg.ResponseMessage = []byte(cfg.ResponseText)
	}
	if cfg.WakeThreshold <= 0 {
		cfg.WakeThreshold = 10
	}
	if cfg.InterEdgeTimeout <= 0 {
		cfg.InterEdgeTimeout = 2 * time.Second
	}
	return cfg, nil
}
