// Package interval implements half-open minute interval arithmetic used for
// availability and conflict computations. All values are minutes since midnight.
package interval

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MinutesPerDay is the exclusive upper bound of a clock time.
const MinutesPerDay = 24 * 60

// Interval is the half-open range [Start, End) in minutes since midnight.
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// New builds an interval from a start and a duration.
func New(start, durationMinutes int) Interval {
	return Interval{Start: start, End: start + durationMinutes}
}

// Empty reports whether the interval covers no time.
func (i Interval) Empty() bool {
	return i.End <= i.Start
}

// Duration returns the length in minutes.
func (i Interval) Duration() int {
	if i.Empty() {
		return 0
	}
	return i.End - i.Start
}

// Contains reports whether other lies entirely inside i.
func (i Interval) Contains(other Interval) bool {
	return other.Start >= i.Start && other.End <= i.End
}

func (i Interval) String() string {
	return FormatClock(i.Start) + "-" + FormatClock(i.End)
}

// Overlaps reports whether [a.Start,a.End) and [b.Start,b.End) share any minute.
func Overlaps(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// SubtractBusy removes every busy interval from window. Busy intervals may be
// unsorted and may overlap each other; each currently free segment is split
// against each busy interval in turn. The result is sorted by start and never
// contains empty intervals.
func SubtractBusy(window Interval, busy []Interval) []Interval {
	if window.Empty() {
		return nil
	}
	free := []Interval{window}
	for _, b := range busy {
		if b.Empty() {
			continue
		}
		next := make([]Interval, 0, len(free)+1)
		for _, f := range free {
			if !Overlaps(f, b) {
				next = append(next, f)
				continue
			}
			if b.Start > f.Start {
				next = append(next, Interval{Start: f.Start, End: b.Start})
			}
			if b.End < f.End {
				next = append(next, Interval{Start: b.End, End: f.End})
			}
		}
		free = next
		if len(free) == 0 {
			break
		}
	}
	sort.Slice(free, func(i, j int) bool { return free[i].Start < free[j].Start })
	return free
}

// TotalDuration sums the durations of the provided intervals.
func TotalDuration(items []Interval) int {
	total := 0
	for _, item := range items {
		total += item.Duration()
	}
	return total
}

// ParseClock converts an HH:MM string into minutes since midnight. 24:00 is
// accepted as the end-of-day boundary.
func ParseClock(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ":")
	if len(parts) != 2 || len(parts[1]) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 {
		return 0, fmt.Errorf("invalid clock time %q: expected HH:MM", raw)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", raw, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", raw, err)
	}
	if hours < 0 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid clock time %q", raw)
	}
	total := hours*60 + minutes
	if total > MinutesPerDay {
		return 0, fmt.Errorf("invalid clock time %q: beyond 24:00", raw)
	}
	return total, nil
}

// FormatClock renders minutes since midnight as HH:MM.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
