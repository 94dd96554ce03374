package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/slotwise/internal/timewindow"
)

// Tier gates which opportunity types a business receives.
type Tier string

const (
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
	TierFleet   Tier = "fleet"
)

// Business holds the scheduling configuration the engine consumes.
// Zero-valued tunables fall back to service-wide defaults.
type Business struct {
	ID                  uuid.UUID               `json:"id"`
	Name                string                  `json:"name"`
	Tier                Tier                    `json:"tier"`
	Timezone            string                  `json:"timezone"`
	Hours               timewindow.WorkingHours `json:"hours"`
	BufferBeforeMinutes int                     `json:"buffer_before_minutes"`
	BufferAfterMinutes  int                     `json:"buffer_after_minutes"`
	DefaultCadenceDays  int                     `json:"default_cadence_days"`
	SlotStepMinutes     int                     `json:"slot_step_minutes"`
	LookaheadDays       int                     `json:"lookahead_days"`
	MinFillableMinutes  int                     `json:"min_fillable_minutes"`
	LargeGapMinutes     int                     `json:"large_gap_minutes"`
	NotifyEmail         *string                 `json:"notify_email,omitempty"`
	NotifyPhone         *string                 `json:"notify_phone,omitempty"`
	WebhookURL          *string                 `json:"webhook_url,omitempty"`
	CreatedAt           time.Time               `json:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at"`
}

// Location resolves the business time zone. An empty zone means UTC.
func (b *Business) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", b.Timezone, err)
	}
	return loc, nil
}

// Job status constants
const (
	JobStatusScheduled  = "scheduled"
	JobStatusConfirmed  = "confirmed"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusCancelled  = "cancelled"
)

// Job is a calendar entry owned by the job store. Jobs without a scheduled
// start are unscheduled and never occupy time.
type Job struct {
	ID              uuid.UUID  `json:"id"`
	BusinessID      uuid.UUID  `json:"business_id"`
	CustomerID      *uuid.UUID `json:"customer_id,omitempty"`
	ServiceID       *uuid.UUID `json:"service_id,omitempty"`
	Status          string     `json:"status"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	PriorityBlockID *uuid.UUID `json:"priority_block_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Interval returns the job's scheduled range. ok is false for unscheduled jobs.
func (j *Job) Interval() (iv timewindow.Interval, ok bool) {
	if j.ScheduledStart == nil || j.ScheduledEnd == nil {
		return timewindow.Interval{}, false
	}
	return timewindow.New(*j.ScheduledStart, *j.ScheduledEnd), true
}

// Occupies reports whether the job holds calendar time. Cancelled and
// unscheduled jobs do not.
func (j *Job) Occupies() bool {
	return j.Status != JobStatusCancelled && j.ScheduledStart != nil && j.ScheduledEnd != nil
}

// PriorityBlock is a recurring weekly window the business wants filled first.
type PriorityBlock struct {
	ID          uuid.UUID            `json:"id"`
	BusinessID  uuid.UUID            `json:"business_id"`
	Name        string               `json:"name"`
	DayOfWeek   time.Weekday         `json:"day_of_week"`
	StartTime   timewindow.ClockTime `json:"start_time"`
	EndTime     timewindow.ClockTime `json:"end_time"`
	PriorityFor string               `json:"priority_for"`
}

// Customer carries the history the overdue detector needs.
// LastJobDate is derived from the customer's latest completed job.
type Customer struct {
	ID          uuid.UUID  `json:"id"`
	BusinessID  uuid.UUID  `json:"business_id"`
	Name        string     `json:"name"`
	Phone       *string    `json:"phone,omitempty"`
	CadenceDays *int       `json:"cadence_days,omitempty"`
	LastJobDate *time.Time `json:"last_job_date,omitempty"`
}

// VehicleSize drives per-service duration overrides.
type VehicleSize string

const (
	VehicleSmall  VehicleSize = "small"
	VehicleMedium VehicleSize = "medium"
	VehicleLarge  VehicleSize = "large"
	VehicleXL     VehicleSize = "xl"
)

// ParseVehicleSize validates a size string.
func ParseVehicleSize(s string) (VehicleSize, error) {
	switch v := VehicleSize(s); v {
	case VehicleSmall, VehicleMedium, VehicleLarge, VehicleXL:
		return v, nil
	default:
		return "", fmt.Errorf("invalid vehicle size %q", s)
	}
}

// Service is a bookable offering with a default duration and optional
// per-vehicle-size durations.
type Service struct {
	ID              uuid.UUID           `json:"id"`
	BusinessID      uuid.UUID           `json:"business_id"`
	Name            string              `json:"name"`
	Active          bool                `json:"active"`
	DurationMinutes int                 `json:"duration_minutes"`
	SizeDurations   map[VehicleSize]int `json:"size_durations,omitempty"`
}

// DurationFor resolves the service duration for a vehicle size, falling back
// to the default duration. Returns 0 when nothing is configured.
func (s *Service) DurationFor(size VehicleSize) int {
	if d, ok := s.SizeDurations[size]; ok && d > 0 {
		return d
	}
	return s.DurationMinutes
}

// ShortestDuration returns the smallest positive duration this service can take.
func (s *Service) ShortestDuration() int {
	shortest := s.DurationMinutes
	for _, d := range s.SizeDurations {
		if d > 0 && (shortest <= 0 || d < shortest) {
			shortest = d
		}
	}
	return shortest
}
