// Package rampup computes when minions are started. A Profile produces, for each campaign, a lazy sequence of
// starting lines: start Count minions, then wait Offset before the next line. A line with a zero count ends the
// sequence.
package rampup

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
)

// StartingLine asks for Count minions to be started, then for Offset to elapse before the next line.
type StartingLine struct {
	Count  int
	Offset time.Duration
}

// IsTerminal returns true for the line closing the sequence.
func (l StartingLine) IsTerminal() bool {
	return l.Count == 0
}

func (l StartingLine) String() string {
	return fmt.Sprintf("(%d, %dms)", l.Count, l.Offset.Milliseconds())
}

// Iterator yields the starting lines of one campaign. Once the terminal line was returned, Next keeps returning it.
// Iterators are stateful and not safe for concurrent use.
type Iterator interface {
	Next() StartingLine
	// Remaining is the number of minions not yet handed out.
	Remaining() int
}

// Profile creates independent iterators, so that concurrent campaigns of the same scenario never share state.
type Profile interface {
	Iterator(totalCount int, speedFactor float64) Iterator
}

// ErrInvalidStartingLine is returned when a profile produced a line that cannot be honoured.
var ErrInvalidStartingLine = errors.New("invalid starting line")

// NextChecked returns the next line of it, failing when the line breaks the profile contract:
// a non-terminal line must start at least one minion and wait a positive offset, and the sequence
// must not end before every minion was handed out.
func NextChecked(it Iterator) (StartingLine, error) {
	remaining := it.Remaining()
	line := it.Next()
	if line.Count == 0 {
		if remaining > 0 {
			return line, errors.Wrapf(ErrInvalidStartingLine, "sequence ended with %d minions left", remaining)
		}
		return line, nil
	}
	if line.Count < 0 {
		return line, errors.Wrapf(ErrInvalidStartingLine, "negative count in %s", line)
	}
	if line.Offset <= 0 {
		return line, errors.Wrapf(ErrInvalidStartingLine, "non-positive offset in %s", line)
	}
	return line, nil
}

// Collect drains it into a slice ending with the terminal line. maxLines bounds the sequence length.
func Collect(it Iterator, maxLines int) ([]StartingLine, error) {
	var lines []StartingLine
	for len(lines) < maxLines {
		line, err := NextChecked(it)
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
		if line.IsTerminal() {
			return lines, nil
		}
	}
	return lines, errors.Errorf("profile produced more than %d starting lines", maxLines)
}

// periodFor applies the speed factor to a period in milliseconds, rounding up to at least one millisecond.
func periodFor(periodMs int64, speedFactor float64) time.Duration {
	ms := int64(math.Ceil(float64(periodMs) / speedFactor))
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// countdown holds the part shared by every iterator: how many minions are left to start.
type countdown struct {
	remaining int
}

func (c *countdown) Remaining() int {
	return c.remaining
}

// take hands out up to n minions and returns how many were taken.
func (c *countdown) take(n int) int {
	taken := minInt(n, c.remaining)
	if taken < 0 {
		taken = 0
	}
	c.remaining -= taken
	return taken
}
