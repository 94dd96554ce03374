// Package timewindow provides interval arithmetic over half-open [Start, End)
// time ranges and business-hours clipping in a business's local time zone.
//
// Every function here is pure. Malformed intervals (End <= Start) never cause
// an error; they simply produce empty results.
package timewindow

import (
	"sort"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds an interval from two instants.
func New(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Empty reports whether the interval contains no instants.
func (iv Interval) Empty() bool {
	return !iv.Start.Before(iv.End)
}

// Duration returns the interval length, or zero for an empty interval.
func (iv Interval) Duration() time.Duration {
	if iv.Empty() {
		return 0
	}
	return iv.End.Sub(iv.Start)
}

// Expand widens the interval by before and after. Negative values are treated as zero.
func (iv Interval) Expand(before, after time.Duration) Interval {
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}
	return Interval{Start: iv.Start.Add(-before), End: iv.End.Add(after)}
}

// Overlaps returns true iff a.Start < b.End && b.Start < a.End.
// Touching intervals and zero-length intervals never overlap.
func Overlaps(a, b Interval) bool {
	if a.Empty() || b.Empty() {
		return false
	}
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// DurationMinutes returns the interval length truncated to whole minutes.
func DurationMinutes(iv Interval) int {
	return int(iv.Duration() / time.Minute)
}

// Intersect returns the common part of a and b, which may be empty.
func Intersect(a, b Interval) Interval {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	return Interval{Start: start, End: end}
}

// Merge sorts intervals by start and coalesces overlapping or touching ones.
// Empty intervals are dropped.
func Merge(ivs []Interval) []Interval {
	out := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		if !iv.Empty() {
			out = append(out, iv)
		}
	}
	if len(out) == 0 {
		return out
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })

	merged := out[:1]
	for _, iv := range out[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// Subtract removes every busy interval from each free interval and returns the
// remaining pieces in chronological order.
func Subtract(free []Interval, busy []Interval) []Interval {
	busy = Merge(busy)
	var out []Interval

	for _, f := range Merge(free) {
		cursor := f.Start
		for _, b := range busy {
			if !b.End.After(cursor) {
				continue
			}
			if !b.Start.Before(f.End) {
				break
			}
			if b.Start.After(cursor) {
				out = append(out, Interval{Start: cursor, End: b.Start})
			}
			if b.End.After(cursor) {
				cursor = b.End
			}
		}
		if cursor.Before(f.End) {
			out = append(out, Interval{Start: cursor, End: f.End})
		}
	}
	return out
}

// DayStart returns local midnight of the calendar day containing t in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DateKey formats the local calendar day of t as YYYY-MM-DD.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// DaysBetween counts whole calendar days from a to b in loc (negative if b is before a).
func DaysBetween(a, b time.Time, loc *time.Location) int {
	da := DayStart(a, loc)
	db := DayStart(b, loc)
	ay, am, ad := da.Date()
	by, bm, bd := db.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / (24 * time.Hour))
}
