// Package availability computes bookable slots from business hours and the
// jobs already on the calendar. It never reserves anything; see ValidateSlot
// for the commit-time check.
package availability

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/timewindow"
)

var (
	// ErrConfigurationMissing means no working hours or no duration could be resolved.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrDataInconsistent marks a job whose interval ends before it starts.
	ErrDataInconsistent = errors.New("data inconsistent")

	// ErrRangeTooLarge is returned when the requested date range exceeds Config.MaxRangeDays.
	ErrRangeTooLarge = errors.New("date range too large")
)

// MaxDurationMinutes is the longest job the booking surface accepts.
const MaxDurationMinutes = 24 * 60

// Config holds calculator defaults.
type Config struct {
	StepMinutes  int // grid step for slot starts
	MaxRangeDays int // longest range a single request may cover
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		StepMinutes:  15,
		MaxRangeDays: 31,
	}
}

// Slot is a bookable [Start, End) range.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Interval converts the slot for interval arithmetic.
func (s Slot) Interval() timewindow.Interval {
	return timewindow.New(s.Start, s.End)
}

// Request describes one availability query. From and To are local dates;
// both days are included.
type Request struct {
	Hours               timewindow.WorkingHours
	Location            *time.Location
	From                time.Time
	To                  time.Time
	DurationMinutes     int
	BufferBeforeMinutes int
	BufferAfterMinutes  int
	StepMinutes         int       // 0 uses the calculator default
	NotBefore           time.Time // slots starting earlier are dropped; zero keeps all
}

// Calculator produces ordered slot lists. It is safe for concurrent use.
type Calculator struct {
	config Config
	logger *zap.Logger
}

// NewCalculator creates a calculator, filling zero config values with defaults.
func NewCalculator(cfg Config, logger *zap.Logger) *Calculator {
	def := DefaultConfig()
	if cfg.StepMinutes <= 0 {
		cfg.StepMinutes = def.StepMinutes
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = def.MaxRangeDays
	}
	return &Calculator{config: cfg, logger: logger}
}

// Slots returns every start on the step grid where a job of the requested
// duration fits inside business hours without touching any buffered job.
// Results are in start-time order.
func (c *Calculator) Slots(req Request, jobs []*db.Job) ([]Slot, error) {
	if req.Hours.IsZero() {
		return nil, fmt.Errorf("working hours: %w", ErrConfigurationMissing)
	}
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("service duration: %w", ErrConfigurationMissing)
	}

	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	from := timewindow.DayStart(req.From, loc)
	to := timewindow.DayStart(req.To, loc)
	if to.Before(from) {
		return nil, nil
	}
	if days := timewindow.DaysBetween(from, to, loc) + 1; days > c.config.MaxRangeDays {
		return nil, fmt.Errorf("%d days requested, limit %d: %w", days, c.config.MaxRangeDays, ErrRangeTooLarge)
	}

	step := req.StepMinutes
	if step <= 0 {
		step = c.config.StepMinutes
	}

	var open []timewindow.Interval
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		open = append(open, req.Hours.Windows(day, loc)...)
	}

	busy := c.busyIntervals(jobs, req.BufferBeforeMinutes, req.BufferAfterMinutes)
	free := timewindow.Subtract(open, busy)

	// Compare in minutes first; converting an arbitrary int to a Duration can overflow.
	if int64(req.DurationMinutes) > longestMinutes(free) {
		return nil, nil
	}
	duration := time.Duration(req.DurationMinutes) * time.Minute
	var slots []Slot
	for _, f := range free {
		if f.Duration() < duration {
			continue
		}
		for start := gridStart(f.Start, loc, step); !start.Add(duration).After(f.End); start = start.Add(time.Duration(step) * time.Minute) {
			if !req.NotBefore.IsZero() && start.Before(req.NotBefore) {
				continue
			}
			slots = append(slots, Slot{Start: start, End: start.Add(duration)})
		}
	}
	return slots, nil
}

func longestMinutes(ivs []timewindow.Interval) int64 {
	var longest int64
	for _, iv := range ivs {
		if m := int64(iv.Duration() / time.Minute); m > longest {
			longest = m
		}
	}
	return longest
}

// busyIntervals expands every occupying job by the buffers. Jobs whose end
// does not follow their start are logged and skipped.
func (c *Calculator) busyIntervals(jobs []*db.Job, before, after int) []timewindow.Interval {
	busy := make([]timewindow.Interval, 0, len(jobs))
	for _, j := range jobs {
		if !j.Occupies() {
			continue
		}
		iv, _ := j.Interval()
		if iv.Empty() {
			c.logger.Warn("skipping job with inconsistent interval",
				zap.String("job_id", j.ID.String()),
				zap.Time("scheduled_start", iv.Start),
				zap.Time("scheduled_end", iv.End),
				zap.Error(ErrDataInconsistent),
			)
			continue
		}
		busy = append(busy, iv.Expand(time.Duration(before)*time.Minute, time.Duration(after)*time.Minute))
	}
	return busy
}

// gridStart returns the first grid point at or after t. The grid is anchored
// at local midnight of t's day.
func gridStart(t time.Time, loc *time.Location, stepMinutes int) time.Time {
	midnight := timewindow.DayStart(t, loc)
	step := time.Duration(stepMinutes) * time.Minute
	offset := t.Sub(midnight)
	steps := offset / step
	if offset%step != 0 {
		steps++
	}
	return midnight.Add(steps * step)
}
