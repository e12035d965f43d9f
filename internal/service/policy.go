package service

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration decodes TOML strings such as "12h" or "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// Policy holds the booking rules operators may tune without redeploying.
// Source: TOML file at POLICY_PATH.
type Policy struct {
	AdvanceLimit         Duration `toml:"advance_limit"`
	LeadTime             Duration `toml:"lead_time"`
	MaxDuration          Duration `toml:"max_duration"` // zero disables the cap
	LockWait             Duration `toml:"lock_wait"`
	DefaultRejectionNote string   `toml:"default_rejection_note"`
}

func DefaultPolicy() Policy {
	return Policy{
		AdvanceLimit:         Duration{7 * 24 * time.Hour},
		LeadTime:             Duration{12 * time.Hour},
		LockWait:             Duration{5 * time.Second},
		DefaultRejectionNote: "Rejected",
	}
}

// LoadPolicy reads path on top of DefaultPolicy. An empty path yields the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to load booking policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	if p.AdvanceLimit.Duration <= 0 {
		return fmt.Errorf("advance_limit must be positive")
	}
	if p.LeadTime.Duration < 0 {
		return fmt.Errorf("lead_time must not be negative")
	}
	if p.MaxDuration.Duration < 0 {
		return fmt.Errorf("max_duration must not be negative")
	}
	if p.LockWait.Duration <= 0 {
		return fmt.Errorf("lock_wait must be positive")
	}
	return nil
}
