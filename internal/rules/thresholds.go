package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds carries every tunable parameter of the rule layer. The
// built-in table is a default configuration, not an algorithm: all floors
// and trigger thresholds can be overridden from the environment or a YAML
// file.
type Thresholds struct {
	TrustedDevices map[string]bool `yaml:"-"`

	HighAmount        float64 `yaml:"high_amount"`
	CriticalAmount    float64 `yaml:"critical_amount"`
	VelocityLimit     int     `yaml:"velocity_limit"`
	UnusualHourStart  int     `yaml:"unusual_hour_start"`
	UnusualHourEnd    int     `yaml:"unusual_hour_end"` // exclusive; end < start wraps past midnight
	MaxTravelSpeedKmh float64 `yaml:"max_travel_speed_kmh"`

	UnknownDeviceFloor          float64 `yaml:"unknown_device_floor"`
	UnknownDeviceEscalatedFloor float64 `yaml:"unknown_device_escalated_floor"`
	EscalateCombinedAbove       float64 `yaml:"escalate_combined_above"`
	VelocityFloor               float64 `yaml:"velocity_floor"`
	HighAmountOffHourFloor      float64 `yaml:"high_amount_off_hour_floor"`
	CriticalAmountFloor         float64 `yaml:"critical_amount_floor"`
	ImpossibleTravelFloor       float64 `yaml:"impossible_travel_floor"`

	TrustedDeviceList []string `yaml:"trusted_devices"`
}

// DefaultThresholds returns the canonical tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TrustedDevices:    map[string]bool{},
		HighAmount:        10000,
		CriticalAmount:    30000,
		VelocityLimit:     5,
		UnusualHourStart:  0,
		UnusualHourEnd:    6,
		MaxTravelSpeedKmh: 800,

		UnknownDeviceFloor:          0.60,
		UnknownDeviceEscalatedFloor: 0.95,
		EscalateCombinedAbove:       0.4,
		VelocityFloor:               0.85,
		HighAmountOffHourFloor:      0.60,
		CriticalAmountFloor:         0.80,
		ImpossibleTravelFloor:       0.90,
	}
}

// Trust marks devices as trusted.
func (t *Thresholds) Trust(devices ...string) {
	if t.TrustedDevices == nil {
		t.TrustedDevices = map[string]bool{}
	}
	for _, d := range devices {
		t.TrustedDevices[d] = true
	}
}

// LoadThresholds reads a YAML tuning file over the defaults. Fields absent
// from the file keep their default values.
func LoadThresholds(path string) (Thresholds, error) {
	th := DefaultThresholds()

	data, err := os.ReadFile(path)
	if err != nil {
		return th, fmt.Errorf("read rules config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &th); err != nil {
		return th, fmt.Errorf("parse rules config %s: %w", path, err)
	}

	th.Trust(th.TrustedDeviceList...)
	return th, nil
}
