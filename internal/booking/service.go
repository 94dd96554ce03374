// Package booking resolves service durations and turns availability slots
// into jobs with a commit-time re-validation.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/ai"
	"github.com/lalithlochan/slotwise/internal/availability"
	"github.com/lalithlochan/slotwise/internal/db"
)

var (
	// ErrConflictOnCommit means the slot was taken between calculation and
	// commit. Callers may retry with a fresh slot.
	ErrConflictOnCommit = errors.New("slot no longer available")

	// ErrInvalidRequest wraps caller mistakes.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrConfigurationMissing is shared with the calculator.
	ErrConfigurationMissing = availability.ErrConfigurationMissing
)

// Repository is the subset of db operations booking needs.
type Repository interface {
	GetBusiness(ctx context.Context, id uuid.UUID) (*db.Business, error)
	GetService(ctx context.Context, businessID, serviceID uuid.UUID) (*db.Service, error)
	ListJobs(ctx context.Context, businessID uuid.UUID, from, to time.Time) ([]*db.Job, error)
	BookJob(ctx context.Context, job *db.Job, from, to time.Time, check func(existing []*db.Job) error) error
}

// Estimator sizes a vehicle from a photo.
type Estimator interface {
	EstimateSize(ctx context.Context, photoURL string) (*ai.Estimate, error)
}

// DurationRequest says how to work out a job's length: explicit minutes, or a
// service plus a vehicle size, or a service plus a photo to size from.
type DurationRequest struct {
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	ServiceID       *uuid.UUID `json:"service_id,omitempty"`
	VehicleSize     string     `json:"vehicle_size,omitempty"`
	PhotoURL        string     `json:"photo_url,omitempty"`
}

// Duration is a resolved job length.
type Duration struct {
	Minutes     int            `json:"duration_minutes"`
	VehicleSize db.VehicleSize `json:"vehicle_size,omitempty"`
	Estimated   bool           `json:"estimated,omitempty"`
}

// Service coordinates duration resolution, slot listing and booking.
type Service struct {
	repo       Repository
	estimator  Estimator // nil disables photo sizing
	calculator *availability.Calculator
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a booking service. estimator may be nil.
func NewService(repo Repository, estimator Estimator, calculator *availability.Calculator, logger *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		estimator:  estimator,
		calculator: calculator,
		logger:     logger,
		now:        time.Now,
	}
}

// ResolveDuration works out how long a job takes for this business.
func (s *Service) ResolveDuration(ctx context.Context, businessID uuid.UUID, req DurationRequest) (*Duration, error) {
	if req.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidRequest)
	}
	if req.DurationMinutes > availability.MaxDurationMinutes {
		return nil, fmt.Errorf("%w: duration_minutes may not exceed %d", ErrInvalidRequest, availability.MaxDurationMinutes)
	}
	if req.DurationMinutes > 0 {
		return &Duration{Minutes: req.DurationMinutes}, nil
	}
	if req.ServiceID == nil {
		return nil, fmt.Errorf("%w: duration_minutes or service_id is required", ErrInvalidRequest)
	}

	svc, err := s.repo.GetService(ctx, businessID, *req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.Active {
		return nil, fmt.Errorf("%w: service %s is not active", ErrInvalidRequest, svc.ID)
	}

	out := &Duration{}
	switch {
	case req.VehicleSize != "":
		size, err := db.ParseVehicleSize(req.VehicleSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		out.VehicleSize = size
	case req.PhotoURL != "":
		if s.estimator == nil {
			return nil, fmt.Errorf("%w: photo sizing is not enabled", ErrInvalidRequest)
		}
		est, err := s.estimator.EstimateSize(ctx, req.PhotoURL)
		if err != nil {
			return nil, fmt.Errorf("estimate vehicle size: %w", err)
		}
		out.VehicleSize = est.Size
		out.Estimated = true
	}

	out.Minutes = svc.DurationFor(out.VehicleSize)
	if out.Minutes <= 0 {
		return nil, fmt.Errorf("service %s duration: %w", svc.ID, ErrConfigurationMissing)
	}
	return out, nil
}

// SlotsRequest asks for bookable slots between two local dates, inclusive.
type SlotsRequest struct {
	From time.Time
	To   time.Time
	DurationRequest
}

// SlotsResult carries the slots and the duration they were computed for.
type SlotsResult struct {
	Duration *Duration           `json:"duration"`
	Timezone string              `json:"timezone"`
	Slots    []availability.Slot `json:"slots"`
}

// AvailableSlots lists bookable slots for a business. Slots in the past are
// omitted.
func (s *Service) AvailableSlots(ctx context.Context, businessID uuid.UUID, req SlotsRequest) (*SlotsResult, error) {
	b, err := s.repo.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	loc, err := b.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationMissing, err)
	}

	dur, err := s.ResolveDuration(ctx, businessID, req.DurationRequest)
	if err != nil {
		return nil, err
	}

	// Local dates: the range runs from midnight on From to midnight after To,
	// padded so overnight windows and buffers see neighbouring jobs.
	from := time.Date(req.From.Year(), req.From.Month(), req.From.Day(), 0, 0, 0, 0, loc)
	to := time.Date(req.To.Year(), req.To.Month(), req.To.Day(), 0, 0, 0, 0, loc)
	jobs, err := s.repo.ListJobs(ctx, businessID, from.AddDate(0, 0, -1), to.AddDate(0, 0, 2))
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	slots, err := s.calculator.Slots(availability.Request{
		Hours:               b.Hours,
		Location:            loc,
		From:                from,
		To:                  to,
		DurationMinutes:     dur.Minutes,
		BufferBeforeMinutes: b.BufferBeforeMinutes,
		BufferAfterMinutes:  b.BufferAfterMinutes,
		StepMinutes:         b.SlotStepMinutes,
		NotBefore:           s.now(),
	}, jobs)
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []availability.Slot{}
	}

	return &SlotsResult{Duration: dur, Timezone: loc.String(), Slots: slots}, nil
}

// BookRequest is a request to turn a slot into a job.
type BookRequest struct {
	CustomerID      *uuid.UUID `json:"customer_id,omitempty"`
	PriorityBlockID *uuid.UUID `json:"priority_block_id,omitempty"`
	Start           time.Time  `json:"start"`
	DurationRequest
}

// Book re-validates the slot against the live calendar and inserts the job in
// one transaction. Losing a race returns ErrConflictOnCommit.
func (s *Service) Book(ctx context.Context, businessID uuid.UUID, req BookRequest) (*db.Job, error) {
	if req.Start.IsZero() {
		return nil, fmt.Errorf("%w: start is required", ErrInvalidRequest)
	}
	if !req.Start.After(s.now()) {
		return nil, fmt.Errorf("%w: start must be in the future", ErrInvalidRequest)
	}

	b, err := s.repo.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	loc, err := b.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationMissing, err)
	}

	dur, err := s.ResolveDuration(ctx, businessID, req.DurationRequest)
	if err != nil {
		return nil, err
	}

	slot := availability.Slot{
		Start: req.Start.UTC(),
		End:   req.Start.UTC().Add(time.Duration(dur.Minutes) * time.Minute),
	}
	rules := availability.Rules{
		Hours:               b.Hours,
		Location:            loc,
		BufferBeforeMinutes: b.BufferBeforeMinutes,
		BufferAfterMinutes:  b.BufferAfterMinutes,
	}

	job := &db.Job{
		ID:              uuid.New(),
		BusinessID:      businessID,
		CustomerID:      req.CustomerID,
		ServiceID:       req.ServiceID,
		Status:          db.JobStatusScheduled,
		ScheduledStart:  &slot.Start,
		ScheduledEnd:    &slot.End,
		PriorityBlockID: req.PriorityBlockID,
	}

	// A job conflicts when it ends after start-bufferAfter and starts before end+bufferBefore.
	from := slot.Start.Add(-time.Duration(b.BufferAfterMinutes) * time.Minute)
	to := slot.End.Add(time.Duration(b.BufferBeforeMinutes) * time.Minute)

	err = s.repo.BookJob(ctx, job, from, to, func(existing []*db.Job) error {
		err := availability.ValidateSlot(rules, slot, existing)
		if errors.Is(err, availability.ErrSlotTaken) {
			return fmt.Errorf("%w: %w", ErrConflictOnCommit, err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrConflictOnCommit) {
			s.logger.Info("booking lost a race",
				zap.String("business_id", businessID.String()),
				zap.Time("start", slot.Start),
			)
		}
		return nil, err
	}
	return job, nil
}
