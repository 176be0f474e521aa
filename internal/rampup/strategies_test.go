package rampup

import (
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(count int, offsetMs int64) StartingLine {
	return StartingLine{Count: count, Offset: time.Duration(offsetMs) * time.Millisecond}
}

func TestRegularProfile(t *testing.T) {
	profile := &RegularProfile{PeriodMs: 10, MinionsCountProLaunch: 5}

	lines, err := Collect(profile.Iterator(11, 1), 100)

	require.NoError(t, err)
	assert.Equal(t, []StartingLine{line(5, 10), line(5, 10), line(1, 10), {}}, lines)
}

func TestRegularProfile_SpeedFactor(t *testing.T) {
	profile := &RegularProfile{PeriodMs: 10, MinionsCountProLaunch: 5}

	lines, err := Collect(profile.Iterator(5, 3), 100)

	require.NoError(t, err)
	assert.Equal(t, []StartingLine{line(5, 4), {}}, lines)
}

func TestAcceleratingProfile(t *testing.T) {
	profile := &AcceleratingProfile{StartPeriodMs: 100, Accelerator: 2, MinPeriodMs: 10, MinionsCountProLaunch: 4}

	lines, err := Collect(profile.Iterator(22, 1), 100)

	require.NoError(t, err)
	assert.Equal(t, []StartingLine{
		line(4, 100), line(4, 50), line(4, 25), line(4, 12), line(4, 10), line(2, 10), {},
	}, lines)
}

func TestAcceleratingProfile_OffsetsNeverIncreaseNorUndershoot(t *testing.T) {
	for _, factor := range []float64{0.5, 1, 3} {
		t.Run(fmt.Sprintf("factor %v", factor), func(t *testing.T) {
			profile := &AcceleratingProfile{StartPeriodMs: 1000, Accelerator: 1.3, MinPeriodMs: 20, MinionsCountProLaunch: 3}
			minimum := periodFor(20, factor)

			lines, err := Collect(profile.Iterator(500, factor), 1000)
			require.NoError(t, err)

			previous := time.Duration(1<<63 - 1)
			for _, l := range lines[:len(lines)-1] {
				assert.LessOrEqual(t, l.Offset, previous)
				assert.GreaterOrEqual(t, l.Offset, minimum)
				previous = l.Offset
			}
		})
	}
}

func TestProgressiveVolumeProfile(t *testing.T) {
	profile := &ProgressiveVolumeProfile{PeriodMs: 20, MinionsCountProLaunchAtStart: 2, Multiplier: 2, MaxMinionsCountProLaunch: 6}

	lines, err := Collect(profile.Iterator(20, 1), 100)

	require.NoError(t, err)
	assert.Equal(t, []StartingLine{line(2, 20), line(4, 20), line(6, 20), line(6, 20), line(2, 20), {}}, lines)
}

func TestTimeFrameProfile(t *testing.T) {
	profile := &TimeFrameProfile{PeriodInMs: 100, TimeFrameInMs: 400}

	lines, err := Collect(profile.Iterator(10, 1), 100)

	require.NoError(t, err)
	assert.Equal(t, []StartingLine{line(3, 100), line(3, 100), line(2, 100), line(2, 100), {}}, lines)
}

func TestTimeFrameProfile_FrameShorterThanPeriod(t *testing.T) {
	profile := &TimeFrameProfile{PeriodInMs: 500, TimeFrameInMs: 100}

	lines, err := Collect(profile.Iterator(7, 1), 100)

	require.NoError(t, err)
	assert.Equal(t, []StartingLine{line(7, 500), {}}, lines)
}

func TestImmediateProfile(t *testing.T) {
	lines, err := Collect((&ImmediateProfile{}).Iterator(42, 7), 10)

	require.NoError(t, err)
	assert.Equal(t, []StartingLine{line(42, 1), {}}, lines)
}

func TestProfiles_ConserveTheTotalCount(t *testing.T) {
	profiles := map[string]Profile{
		"regular":            &RegularProfile{PeriodMs: 15, MinionsCountProLaunch: 7},
		"accelerating":       &AcceleratingProfile{StartPeriodMs: 300, Accelerator: 1.5, MinPeriodMs: 5, MinionsCountProLaunch: 9},
		"progressive volume": &ProgressiveVolumeProfile{PeriodMs: 10, MinionsCountProLaunchAtStart: 1, Multiplier: 1.5, MaxMinionsCountProLaunch: 40},
		"time frame":         &TimeFrameProfile{PeriodInMs: 30, TimeFrameInMs: 1000},
		"immediate":          &ImmediateProfile{},
		"user defined": &UserDefinedProfile{Next: func(_ int64, remaining int, _ float64) StartingLine {
			return line(remaining/2+1, 5)
		}},
	}
	for name, profile := range profiles {
		for _, total := range []int{0, 1, 13, 100, 1001} {
			for _, factor := range []float64{0.5, 1, 2.5} {
				t.Run(fmt.Sprintf("%s/%d/%v", name, total, factor), func(t *testing.T) {
					lines, err := Collect(profile.Iterator(total, factor), 10000)
					require.NoError(t, err)

					sum := 0
					for _, l := range lines {
						sum += l.Count
					}
					assert.Equal(t, total, sum)
					assert.True(t, lines[len(lines)-1].IsTerminal())
				})
			}
		}
	}
}

func TestIterators_AreIndependent(t *testing.T) {
	profile := &RegularProfile{PeriodMs: 10, MinionsCountProLaunch: 2}
	first := profile.Iterator(4, 1)
	second := profile.Iterator(4, 1)

	first.Next()
	first.Next()

	assert.Equal(t, 0, first.Remaining())
	assert.Equal(t, 4, second.Remaining())
	assert.Equal(t, line(2, 10), second.Next())
}

func TestIterator_KeepsReturningTerminalLine(t *testing.T) {
	it := (&ImmediateProfile{}).Iterator(1, 1)
	it.Next()

	assert.True(t, it.Next().IsTerminal())
	assert.True(t, it.Next().IsTerminal())
}

func TestUserDefinedProfile_ReceivesRemainingAndPastPeriod(t *testing.T) {
	type call struct {
		past      int64
		remaining int
	}
	var calls []call
	profile := &UserDefinedProfile{Next: func(past int64, remaining int, factor float64) StartingLine {
		calls = append(calls, call{past, remaining})
		return line(4, past+10)
	}}

	lines, err := Collect(profile.Iterator(10, 1), 100)

	require.NoError(t, err)
	assert.Equal(t, []StartingLine{line(4, 10), line(4, 20), line(2, 30), {}}, lines)
	assert.Equal(t, []call{{0, 10}, {10, 6}, {20, 2}}, calls)
}

func TestUserDefinedProfile_InvalidLines(t *testing.T) {
	tests := map[string]UserDefinedFunc{
		"premature end": func(int64, int, float64) StartingLine { return StartingLine{} },
		"negative count": func(int64, int, float64) StartingLine {
			return line(-3, 10)
		},
		"zero offset": func(int64, int, float64) StartingLine {
			return line(1, 0)
		},
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Collect((&UserDefinedProfile{Next: fn}).Iterator(5, 1), 100)
			assert.True(t, errors.Is(err, ErrInvalidStartingLine))
		})
	}
}

func TestCollect_BoundsTheSequence(t *testing.T) {
	profile := &RegularProfile{PeriodMs: 1, MinionsCountProLaunch: 1}

	lines, err := Collect(profile.Iterator(100, 1), 10)

	assert.Error(t, err)
	assert.Len(t, lines, 10)
}
