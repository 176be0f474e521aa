package rampup

import (
	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
)

type ProfileType string

const (
	Regular           ProfileType = "regular"
	Accelerating      ProfileType = "accelerating"
	ProgressiveVolume ProfileType = "progressive-volume"
	TimeFrame         ProfileType = "time-frame"
	Immediate         ProfileType = "immediate"
)

// Configuration selects one profile and carries its parameters, as found in a campaign request or a config file.
// User-defined profiles are code, so they are attached to the scenario directly and have no configuration.
type Configuration struct {
	Type              ProfileType               `yaml:"type" json:"type" mapstructure:"type"`
	Regular           *RegularProfile           `yaml:"regular,omitempty" json:"regular,omitempty" mapstructure:"regular"`
	Accelerating      *AcceleratingProfile      `yaml:"accelerating,omitempty" json:"accelerating,omitempty" mapstructure:"accelerating"`
	ProgressiveVolume *ProgressiveVolumeProfile `yaml:"progressiveVolume,omitempty" json:"progressiveVolume,omitempty" mapstructure:"progressiveVolume"`
	TimeFrame         *TimeFrameProfile         `yaml:"timeFrame,omitempty" json:"timeFrame,omitempty" mapstructure:"timeFrame"`
}

// IsZero returns true when no profile was configured.
func (c Configuration) IsZero() bool {
	return c.Type == ""
}

func (c Configuration) Validate() error {
	switch c.Type {
	case Regular:
		if c.Regular == nil {
			return missingParameters(c.Type)
		}
		if err := positive("regular.periodMs", c.Regular.PeriodMs); err != nil {
			return err
		}
		return positive("regular.minionsCountProLaunch", int64(c.Regular.MinionsCountProLaunch))
	case Accelerating:
		p := c.Accelerating
		if p == nil {
			return missingParameters(c.Type)
		}
		if err := positive("accelerating.startPeriodMs", p.StartPeriodMs); err != nil {
			return err
		}
		if err := positive("accelerating.minPeriodMs", p.MinPeriodMs); err != nil {
			return err
		}
		if err := positive("accelerating.minionsCountProLaunch", int64(p.MinionsCountProLaunch)); err != nil {
			return err
		}
		if p.Accelerator < 1 {
			return &fleeterrors.ErrInvalidArgument{Name: "accelerating.accelerator", Value: p.Accelerator, Message: "must be at least 1"}
		}
		if p.MinPeriodMs > p.StartPeriodMs {
			return &fleeterrors.ErrInvalidArgument{Name: "accelerating.minPeriodMs", Value: p.MinPeriodMs, Message: "must not exceed startPeriodMs"}
		}
		return nil
	case ProgressiveVolume:
		p := c.ProgressiveVolume
		if p == nil {
			return missingParameters(c.Type)
		}
		if err := positive("progressiveVolume.periodMs", p.PeriodMs); err != nil {
			return err
		}
		if err := positive("progressiveVolume.minionsCountProLaunchAtStart", int64(p.MinionsCountProLaunchAtStart)); err != nil {
			return err
		}
		if err := positive("progressiveVolume.maxMinionsCountProLaunch", int64(p.MaxMinionsCountProLaunch)); err != nil {
			return err
		}
		if p.Multiplier <= 0 {
			return &fleeterrors.ErrInvalidArgument{Name: "progressiveVolume.multiplier", Value: p.Multiplier, Message: "must be positive"}
		}
		return nil
	case TimeFrame:
		if c.TimeFrame == nil {
			return missingParameters(c.Type)
		}
		if err := positive("timeFrame.periodInMs", c.TimeFrame.PeriodInMs); err != nil {
			return err
		}
		return positive("timeFrame.timeFrameInMs", c.TimeFrame.TimeFrameInMs)
	case Immediate:
		return nil
	default:
		return &fleeterrors.ErrInvalidArgument{Name: "type", Value: c.Type, Message: "unknown execution profile"}
	}
}

// Build validates the configuration and returns the selected profile.
func (c Configuration) Build() (Profile, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Type {
	case Regular:
		return c.Regular, nil
	case Accelerating:
		return c.Accelerating, nil
	case ProgressiveVolume:
		return c.ProgressiveVolume, nil
	case TimeFrame:
		return c.TimeFrame, nil
	default:
		return &ImmediateProfile{}, nil
	}
}

func missingParameters(t ProfileType) error {
	return &fleeterrors.ErrInvalidArgument{Name: string(t), Value: nil, Message: "parameters of the profile are missing"}
}

func positive(name string, value int64) error {
	if value <= 0 {
		return &fleeterrors.ErrInvalidArgument{Name: name, Value: value, Message: "must be positive"}
	}
	return nil
}
