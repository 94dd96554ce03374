package timewindow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ClockTime is a wall-clock time of day in minutes since local midnight.
type ClockTime int

// ParseClock parses "HH:MM" (24h). "24:00" is accepted as end of day.
func ParseClock(s string) (ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return ClockTime(h*60 + m), nil
}

// MustClock is ParseClock for literals known to be valid.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// On returns the instant at this clock time on the local day of date.
func (c ClockTime) On(date time.Time, loc *time.Location) time.Time {
	d := date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), int(c)/60, int(c)%60, 0, 0, loc)
}

// ClockWindow is an open/close pair for one weekday. A Close at or before Open
// means the window runs past midnight into the next day.
type ClockWindow struct {
	Open  ClockTime `json:"open"`
	Close ClockTime `json:"close"`
}

// On materialises the window on the local day of date.
func (w ClockWindow) On(date time.Time, loc *time.Location) Interval {
	start := w.Open.On(date, loc)
	if w.Close > w.Open {
		return Interval{Start: start, End: w.Close.On(date, loc)}
	}
	next := DayStart(date, loc).AddDate(0, 0, 1)
	return Interval{Start: start, End: w.Close.On(next, loc)}
}

// WorkingHours maps each weekday to its open windows.
type WorkingHours map[time.Weekday][]ClockWindow

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday accepts full English day names, case-insensitive.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
	return d, nil
}

// IsZero reports whether no weekday has any window configured.
func (h WorkingHours) IsZero() bool {
	for _, ws := range h {
		if len(ws) > 0 {
			return false
		}
	}
	return true
}

// Windows returns the concrete open intervals that start on the local day of date.
func (h WorkingHours) Windows(date time.Time, loc *time.Location) []Interval {
	day := date.In(loc).Weekday()
	out := make([]Interval, 0, len(h[day]))
	for _, w := range h[day] {
		out = append(out, w.On(date, loc))
	}
	return Merge(out)
}

// WindowsTouching returns the merged open windows of every day that can
// overlap iv, including windows that open the day before and run past midnight.
func (h WorkingHours) WindowsTouching(iv Interval, loc *time.Location) []Interval {
	var windows []Interval
	for day := DayStart(iv.Start, loc).AddDate(0, 0, -1); day.Before(iv.End); day = day.AddDate(0, 0, 1) {
		windows = append(windows, h.Windows(day, loc)...)
	}
	return Merge(windows)
}

func (h WorkingHours) MarshalJSON() ([]byte, error) {
	m := make(map[string][]ClockWindow, len(h))
	for d, ws := range h {
		m[strings.ToLower(d.String())] = ws
	}
	return json.Marshal(m)
}

func (h *WorkingHours) UnmarshalJSON(data []byte) error {
	var m map[string][]ClockWindow
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(WorkingHours, len(m))
	for name, ws := range m {
		d, err := ParseWeekday(name)
		if err != nil {
			return err
		}
		out[d] = ws
	}
	*h = out
	return nil
}

// ClipToBusinessHours intersects iv with every open window it touches and
// returns the pieces in order, split at local midnight so each piece belongs
// to exactly one calendar day.
func ClipToBusinessHours(iv Interval, hours WorkingHours, loc *time.Location) []Interval {
	if iv.Empty() {
		return nil
	}

	var out []Interval
	for _, w := range hours.WindowsTouching(iv, loc) {
		part := Intersect(iv, w)
		if part.Empty() {
			continue
		}
		out = append(out, SplitAtMidnight(part, loc)...)
	}
	return out
}

// SplitAtMidnight breaks iv into per-day pieces in loc.
func SplitAtMidnight(iv Interval, loc *time.Location) []Interval {
	var out []Interval
	cursor := iv.Start
	for cursor.Before(iv.End) {
		next := DayStart(cursor, loc).AddDate(0, 0, 1)
		end := iv.End
		if next.Before(end) {
			end = next
		}
		out = append(out, Interval{Start: cursor, End: end})
		cursor = end
	}
	return out
}
