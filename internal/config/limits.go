package config

import (
	"fmt"
	"time"
)

// CoreLimits bounds the work of the reasoning core and sets its clock.
type CoreLimits struct {
	// Sense and think steps per second
	SenseHz float64 `yaml:"sense_hz" json:"sense_hz" validate:"gt=0"`
	ThinkHz float64 `yaml:"think_hz" json:"think_hz" validate:"gt=0"`

	// Fraction of a sense period for catch-up
	Budget float64 `yaml:"budget" json:"budget" validate:"gt=0,lte=1"`

	// Node handle and focus caps
	PoolSize  int `yaml:"pool_size" json:"pool_size"`
	ChainPool int `yaml:"chain_pool" json:"chain_pool"`

	BeliefThreshold float64 `yaml:"belief_threshold" json:"belief_threshold" validate:"gte=0,lte=1"`

	// Rule fixed-point cap
	HaloPasses int `yaml:"halo_passes" json:"halo_passes"`

	// Operator admission threshold, and the threshold after operators run out
	MinPref       float64 `yaml:"min_pref" json:"min_pref"`
	DowngradePref float64 `yaml:"downgrade_pref" json:"downgrade_pref"`
}

// DefaultCoreLimits returns the standard clock and limits.
func DefaultCoreLimits() CoreLimits {
	return CoreLimits{
		SenseHz:         30,
		ThinkHz:         80,
		Budget:          0.9,
		PoolSize:        50000,
		ChainPool:       256,
		BeliefThreshold: 0.5,
		HaloPasses:      8,
		MinPref:         0.5,
		DowngradePref:   0.1,
	}
}

// ValidateCoreLimits checks that core limits are within acceptable ranges.
func (c *Config) ValidateCoreLimits() error {
	l := c.Core
	if l.ThinkHz < l.SenseHz {
		return fmt.Errorf("think_hz (%g) must be >= sense_hz (%g)", l.ThinkHz, l.SenseHz)
	}
	if l.PoolSize < 64 {
		return fmt.Errorf("pool_size must be >= 64")
	}
	if l.ChainPool < 1 {
		return fmt.Errorf("chain_pool must be >= 1")
	}
	if l.HaloPasses < 1 || l.HaloPasses > 64 {
		return fmt.Errorf("halo_passes must be in [1,64]")
	}
	if l.DowngradePref > l.MinPref {
		return fmt.Errorf("downgrade_pref (%g) must not exceed min_pref (%g)", l.DowngradePref, l.MinPref)
	}
	return nil
}

// SensePeriod is the wall time between sense steps.
func (l CoreLimits) SensePeriod() time.Duration {
	return time.Duration(float64(time.Second) / l.SenseHz)
}

// ThinkPeriod is the wall time between think steps.
func (l CoreLimits) ThinkPeriod() time.Duration {
	return time.Duration(float64(time.Second) / l.ThinkHz)
}

// ThinkBudget is the longest a single Think call may spend catching up.
func (l CoreLimits) ThinkBudget() time.Duration {
	return time.Duration(l.Budget * float64(l.SensePeriod()))
}
