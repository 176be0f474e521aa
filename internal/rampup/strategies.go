package rampup

import (
	"math"
	"time"
)

// RegularProfile starts a fixed batch of minions at a fixed period.
type RegularProfile struct {
	PeriodMs              int64 `yaml:"periodMs" json:"periodMs" mapstructure:"periodMs"`
	MinionsCountProLaunch int   `yaml:"minionsCountProLaunch" json:"minionsCountProLaunch" mapstructure:"minionsCountProLaunch"`
}

func (p *RegularProfile) Iterator(totalCount int, speedFactor float64) Iterator {
	return &regularIterator{
		countdown: countdown{remaining: totalCount},
		period:    periodFor(p.PeriodMs, speedFactor),
		batch:     p.MinionsCountProLaunch,
	}
}

type regularIterator struct {
	countdown
	period time.Duration
	batch  int
}

func (it *regularIterator) Next() StartingLine {
	count := it.take(it.batch)
	if count == 0 {
		return StartingLine{}
	}
	return StartingLine{Count: count, Offset: it.period}
}

// AcceleratingProfile starts a fixed batch of minions, dividing the period by Accelerator after every batch
// until it reaches MinPeriodMs.
type AcceleratingProfile struct {
	StartPeriodMs         int64   `yaml:"startPeriodMs" json:"startPeriodMs" mapstructure:"startPeriodMs"`
	Accelerator           float64 `yaml:"accelerator" json:"accelerator" mapstructure:"accelerator"`
	MinPeriodMs           int64   `yaml:"minPeriodMs" json:"minPeriodMs" mapstructure:"minPeriodMs"`
	MinionsCountProLaunch int     `yaml:"minionsCountProLaunch" json:"minionsCountProLaunch" mapstructure:"minionsCountProLaunch"`
}

func (p *AcceleratingProfile) Iterator(totalCount int, speedFactor float64) Iterator {
	return &acceleratingIterator{
		countdown:   countdown{remaining: totalCount},
		current:     periodFor(p.StartPeriodMs, speedFactor).Milliseconds(),
		minimum:     periodFor(p.MinPeriodMs, speedFactor).Milliseconds(),
		accelerator: p.Accelerator,
		batch:       p.MinionsCountProLaunch,
	}
}

type acceleratingIterator struct {
	countdown
	current     int64
	minimum     int64
	accelerator float64
	batch       int
}

func (it *acceleratingIterator) Next() StartingLine {
	count := it.take(it.batch)
	if count == 0 {
		return StartingLine{}
	}
	line := StartingLine{Count: count, Offset: time.Duration(it.current) * time.Millisecond}
	next := int64(float64(it.current) / it.accelerator)
	if next < it.minimum {
		next = it.minimum
	}
	it.current = next
	return line
}

// ProgressiveVolumeProfile starts batches at a fixed period, multiplying the batch size by Multiplier after
// every batch until it reaches MaxMinionsCountProLaunch.
type ProgressiveVolumeProfile struct {
	PeriodMs                     int64   `yaml:"periodMs" json:"periodMs" mapstructure:"periodMs"`
	MinionsCountProLaunchAtStart int     `yaml:"minionsCountProLaunchAtStart" json:"minionsCountProLaunchAtStart" mapstructure:"minionsCountProLaunchAtStart"`
	Multiplier                   float64 `yaml:"multiplier" json:"multiplier" mapstructure:"multiplier"`
	MaxMinionsCountProLaunch     int     `yaml:"maxMinionsCountProLaunch" json:"maxMinionsCountProLaunch" mapstructure:"maxMinionsCountProLaunch"`
}

func (p *ProgressiveVolumeProfile) Iterator(totalCount int, speedFactor float64) Iterator {
	return &progressiveVolumeIterator{
		countdown:  countdown{remaining: totalCount},
		period:     periodFor(p.PeriodMs, speedFactor),
		batch:      p.MinionsCountProLaunchAtStart,
		multiplier: p.Multiplier,
		maxBatch:   p.MaxMinionsCountProLaunch,
	}
}

type progressiveVolumeIterator struct {
	countdown
	period     time.Duration
	batch      int
	multiplier float64
	maxBatch   int
}

func (it *progressiveVolumeIterator) Next() StartingLine {
	count := it.take(minInt(it.batch, it.maxBatch))
	if count == 0 {
		return StartingLine{}
	}
	next := int(math.Round(float64(it.batch) * it.multiplier))
	if next < 1 {
		next = 1
	}
	it.batch = minInt(next, it.maxBatch)
	return StartingLine{Count: count, Offset: it.period}
}

// TimeFrameProfile spreads all the minions evenly over TimeFrameInMs, one batch every PeriodInMs.
type TimeFrameProfile struct {
	PeriodInMs    int64 `yaml:"periodInMs" json:"periodInMs" mapstructure:"periodInMs"`
	TimeFrameInMs int64 `yaml:"timeFrameInMs" json:"timeFrameInMs" mapstructure:"timeFrameInMs"`
}

func (p *TimeFrameProfile) Iterator(totalCount int, speedFactor float64) Iterator {
	periods := int(math.Ceil(float64(p.TimeFrameInMs) / float64(p.PeriodInMs)))
	if periods < 1 {
		periods = 1
	}
	return &timeFrameIterator{
		countdown:        countdown{remaining: totalCount},
		period:           periodFor(p.PeriodInMs, speedFactor),
		remainingPeriods: periods,
	}
}

type timeFrameIterator struct {
	countdown
	period           time.Duration
	remainingPeriods int
}

func (it *timeFrameIterator) Next() StartingLine {
	if it.remaining == 0 {
		return StartingLine{}
	}
	// Recomputed on every call so that rounding never leaves minions behind at the end of the frame.
	batch := int(math.Ceil(float64(it.remaining) / float64(it.remainingPeriods)))
	if it.remainingPeriods > 1 {
		it.remainingPeriods--
	}
	return StartingLine{Count: it.take(batch), Offset: it.period}
}

// ImmediateProfile starts every minion at once.
type ImmediateProfile struct{}

func (p *ImmediateProfile) Iterator(totalCount int, _ float64) Iterator {
	return &immediateIterator{countdown: countdown{remaining: totalCount}}
}

type immediateIterator struct {
	countdown
}

func (it *immediateIterator) Next() StartingLine {
	count := it.take(it.remaining)
	if count == 0 {
		return StartingLine{}
	}
	return StartingLine{Count: count, Offset: time.Millisecond}
}

// UserDefinedFunc returns the next line given the offset of the previous line (0 on the first call), the count
// of minions left to start and the speed factor.
type UserDefinedFunc func(pastPeriodMs int64, remainingCount int, speedFactor float64) StartingLine

// UserDefinedProfile delegates to a function, clamping the requested count to the minions left.
type UserDefinedProfile struct {
	Next UserDefinedFunc
}

func (p *UserDefinedProfile) Iterator(totalCount int, speedFactor float64) Iterator {
	return &userDefinedIterator{
		countdown:   countdown{remaining: totalCount},
		next:        p.Next,
		speedFactor: speedFactor,
	}
}

type userDefinedIterator struct {
	countdown
	next         UserDefinedFunc
	speedFactor  float64
	pastPeriodMs int64
}

func (it *userDefinedIterator) Next() StartingLine {
	if it.remaining == 0 {
		return StartingLine{}
	}
	line := it.next(it.pastPeriodMs, it.remaining, it.speedFactor)
	if line.Count <= 0 {
		// Returned as is, NextChecked reports it.
		return line
	}
	line.Count = it.take(line.Count)
	it.pastPeriodMs = line.Offset.Milliseconds()
	return line
}
