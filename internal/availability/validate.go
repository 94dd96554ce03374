package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/timewindow"
)

var (
	// ErrInvalidSlot is returned for a slot whose end does not follow its start.
	ErrInvalidSlot = errors.New("invalid slot")

	// ErrOutsideBusinessHours is returned when a slot is not inside one open window.
	ErrOutsideBusinessHours = errors.New("slot outside business hours")

	// ErrSlotTaken is returned when a buffered job overlaps the slot.
	ErrSlotTaken = errors.New("slot overlaps an existing job")
)

// Rules are the business settings a slot is checked against.
type Rules struct {
	Hours               timewindow.WorkingHours
	Location            *time.Location
	BufferBeforeMinutes int
	BufferAfterMinutes  int
}

// ValidateSlot re-checks a slot against the jobs on the calendar right now.
// Callers run it inside the same transaction that inserts the job.
func ValidateSlot(rules Rules, slot Slot, jobs []*db.Job) error {
	iv := slot.Interval()
	if iv.Empty() {
		return ErrInvalidSlot
	}
	if rules.Hours.IsZero() {
		return fmt.Errorf("working hours: %w", ErrConfigurationMissing)
	}

	loc := rules.Location
	if loc == nil {
		loc = time.UTC
	}

	// Merged windows never touch, so full coverage means one window holds the slot.
	var open time.Duration
	for _, part := range timewindow.ClipToBusinessHours(iv, rules.Hours, loc) {
		open += part.Duration()
	}
	if open != iv.Duration() {
		return ErrOutsideBusinessHours
	}

	before := time.Duration(rules.BufferBeforeMinutes) * time.Minute
	after := time.Duration(rules.BufferAfterMinutes) * time.Minute
	for _, j := range jobs {
		if !j.Occupies() {
			continue
		}
		jiv, _ := j.Interval()
		if jiv.Empty() {
			continue
		}
		if timewindow.Overlaps(iv, jiv.Expand(before, after)) {
			return fmt.Errorf("job %s: %w", j.ID, ErrSlotTaken)
		}
	}
	return nil
}
