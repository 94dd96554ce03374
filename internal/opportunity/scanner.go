// Package opportunity scans a business's calendar snapshot for scheduling
// opportunities: unfilled priority blocks, fillable gaps between jobs, and
// repeat customers who are overdue for a visit.
//
// Scanning is pure. Detectors read a Snapshot and return candidates; they
// never touch storage. Persisting candidates is the lifecycle package's job.
package opportunity

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/timewindow"
)

var (
	// ErrConfigurationMissing aborts a business's scan, or a single detector
	// when only that detector lacks its inputs.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrDataInconsistent marks a record that was logged and skipped.
	ErrDataInconsistent = errors.New("data inconsistent")

	// ErrDetectorFailure wraps any error or panic raised by one detector.
	ErrDetectorFailure = errors.New("detector failure")
)

// Config holds service-wide thresholds. Each can be overridden per business.
type Config struct {
	LookaheadDays      int
	UrgentWithin       time.Duration // empty priority slots starting sooner are high priority
	LargeGapMinutes    int           // gaps longer than this are high priority
	DefaultCadenceDays int           // customer cadence when neither customer nor business sets one
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		LookaheadDays:      14,
		UrgentWithin:       48 * time.Hour,
		LargeGapMinutes:    120,
		DefaultCadenceDays: 30,
	}
}

// Snapshot is the read-only calendar state one scan works from.
// Jobs must cover at least Window(Now).
type Snapshot struct {
	Business  *db.Business
	Jobs      []*db.Job
	Blocks    []*db.PriorityBlock
	Customers []*db.Customer
	Services  []*db.Service
	Now       time.Time
}

// Candidate is a detected condition, ready for reconciliation.
type Candidate struct {
	Type         db.NotificationType
	Title        string
	Message      string
	Priority     string
	Metadata     db.Metadata
	NaturalKey   string
	ConditionKey string
}

func newCandidate(title, message, priority string, md db.Metadata) (Candidate, error) {
	t := md.NotificationType()
	natural, err := db.NaturalKey(t, md)
	if err != nil {
		return Candidate{}, err
	}
	condition, err := db.ConditionKey(t, md)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{
		Type:         t,
		Title:        title,
		Message:      message,
		Priority:     priority,
		Metadata:     md,
		NaturalKey:   natural,
		ConditionKey: condition,
	}, nil
}

// Result is the outcome of scanning one business. Covered lists the types
// whose detector ran to completion; only those may be auto-resolved.
type Result struct {
	Candidates []Candidate
	Covered    []db.NotificationType // enabled types whose detector ran cleanly
	Disabled   []db.NotificationType // types the business's tier does not receive
	Failures   map[db.NotificationType]error
}

// Settled returns the types whose stored notifications this result fully
// describes: cleanly scanned types plus types the tier no longer receives.
// Failed types are left out so their notifications survive the outage.
func (r *Result) Settled() []db.NotificationType {
	out := make([]db.NotificationType, 0, len(r.Covered)+len(r.Disabled))
	out = append(out, r.Covered...)
	return append(out, r.Disabled...)
}

// Partial reports whether at least one enabled detector failed.
func (r *Result) Partial() bool {
	return len(r.Failures) > 0
}

// params are the thresholds in effect for one business.
type params struct {
	loc             *time.Location
	lookaheadDays   int
	urgentWithin    time.Duration
	largeGapMinutes int
	cadenceDays     int
	minFillable     int
}

type detectFunc func(snap *Snapshot, p params) ([]Candidate, error)

// Scanner runs the detectors a business's tier allows.
type Scanner struct {
	config    Config
	logger    *zap.Logger
	detectors map[db.NotificationType]detectFunc
}

// NewScanner creates a scanner, filling zero config values with defaults.
func NewScanner(cfg Config, logger *zap.Logger) *Scanner {
	def := DefaultConfig()
	if cfg.LookaheadDays <= 0 {
		cfg.LookaheadDays = def.LookaheadDays
	}
	if cfg.UrgentWithin <= 0 {
		cfg.UrgentWithin = def.UrgentWithin
	}
	if cfg.LargeGapMinutes <= 0 {
		cfg.LargeGapMinutes = def.LargeGapMinutes
	}
	if cfg.DefaultCadenceDays <= 0 {
		cfg.DefaultCadenceDays = def.DefaultCadenceDays
	}

	s := &Scanner{config: cfg, logger: logger}
	s.detectors = map[db.NotificationType]detectFunc{
		db.TypeEmptyPrioritySlot: s.detectEmptyPrioritySlots,
		db.TypeGapOpportunity:    s.detectGaps,
		db.TypeCustomerOverdue:   s.detectOverdueCustomers,
	}
	return s
}

// EnabledTypes returns the notification types a tier receives.
// Unknown tiers get the starter set.
func EnabledTypes(tier db.Tier) []db.NotificationType {
	switch tier {
	case db.TierPro, db.TierFleet:
		return []db.NotificationType{db.TypeEmptyPrioritySlot, db.TypeGapOpportunity, db.TypeCustomerOverdue}
	default:
		return []db.NotificationType{db.TypeEmptyPrioritySlot, db.TypeCustomerOverdue}
	}
}

// DisabledTypes returns the notification types a tier does not receive.
func DisabledTypes(tier db.Tier) []db.NotificationType {
	enabled := make(map[db.NotificationType]bool)
	for _, t := range EnabledTypes(tier) {
		enabled[t] = true
	}
	var out []db.NotificationType
	for _, t := range []db.NotificationType{db.TypeEmptyPrioritySlot, db.TypeGapOpportunity, db.TypeCustomerOverdue} {
		if !enabled[t] {
			out = append(out, t)
		}
	}
	return out
}

// Window returns the job range a snapshot must cover for a business:
// from the start of today through the end of the lookahead period.
func (s *Scanner) Window(b *db.Business, now time.Time) (from, to time.Time, err error) {
	loc, err := b.Location()
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %w", ErrConfigurationMissing, err)
	}
	days := s.config.LookaheadDays
	if b.LookaheadDays > 0 {
		days = b.LookaheadDays
	}
	today := timewindow.DayStart(now, loc)
	return today, today.AddDate(0, 0, days), nil
}

// Scan runs every enabled detector over snap. A detector error or panic is
// recorded in Result.Failures and never stops the others. The returned error
// is non-nil only when the business itself cannot be scanned.
func (s *Scanner) Scan(snap *Snapshot) (*Result, error) {
	if snap == nil || snap.Business == nil {
		return nil, fmt.Errorf("business: %w", ErrConfigurationMissing)
	}
	p, err := s.paramsFor(snap)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Disabled: DisabledTypes(snap.Business.Tier),
		Failures: make(map[db.NotificationType]error),
	}
	for _, t := range EnabledTypes(snap.Business.Tier) {
		cands, err := s.run(t, snap, p)
		if err != nil {
			s.logger.Error("detector failed",
				zap.String("business_id", snap.Business.ID.String()),
				zap.String("type", string(t)),
				zap.Error(err),
			)
			result.Failures[t] = err
			continue
		}
		result.Covered = append(result.Covered, t)
		result.Candidates = append(result.Candidates, cands...)
	}
	return result, nil
}

func (s *Scanner) run(t db.NotificationType, snap *Snapshot, p params) (cands []Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			cands = nil
			err = fmt.Errorf("%w: %s: panic: %v", ErrDetectorFailure, t, r)
		}
	}()

	fn, ok := s.detectors[t]
	if !ok {
		return nil, fmt.Errorf("%w: no detector for %s", ErrDetectorFailure, t)
	}
	cands, err = fn(snap, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDetectorFailure, t, err)
	}
	return cands, nil
}

func (s *Scanner) paramsFor(snap *Snapshot) (params, error) {
	b := snap.Business
	loc, err := b.Location()
	if err != nil {
		return params{}, fmt.Errorf("%w: %w", ErrConfigurationMissing, err)
	}

	p := params{
		loc:             loc,
		lookaheadDays:   s.config.LookaheadDays,
		urgentWithin:    s.config.UrgentWithin,
		largeGapMinutes: s.config.LargeGapMinutes,
		cadenceDays:     s.config.DefaultCadenceDays,
		minFillable:     b.MinFillableMinutes,
	}
	if b.LookaheadDays > 0 {
		p.lookaheadDays = b.LookaheadDays
	}
	if b.LargeGapMinutes > 0 {
		p.largeGapMinutes = b.LargeGapMinutes
	}
	if b.DefaultCadenceDays > 0 {
		p.cadenceDays = b.DefaultCadenceDays
	}
	if p.minFillable <= 0 {
		p.minFillable = shortestActiveService(snap.Services)
	}
	return p, nil
}

// shortestActiveService returns 0 when no active service has a duration.
func shortestActiveService(services []*db.Service) int {
	shortest := 0
	for _, svc := range services {
		if !svc.Active {
			continue
		}
		if d := svc.ShortestDuration(); d > 0 && (shortest == 0 || d < shortest) {
			shortest = d
		}
	}
	return shortest
}

// occupyingJobs filters to jobs that hold calendar time and logs, then drops,
// the ones with an inverted interval. The result is sorted by start.
func (s *Scanner) occupyingJobs(snap *Snapshot) []*db.Job {
	jobs := make([]*db.Job, 0, len(snap.Jobs))
	for _, j := range snap.Jobs {
		if !j.Occupies() {
			continue
		}
		if !j.ScheduledEnd.After(*j.ScheduledStart) {
			s.logger.Warn("skipping job with inconsistent interval",
				zap.String("business_id", snap.Business.ID.String()),
				zap.String("job_id", j.ID.String()),
				zap.Error(ErrDataInconsistent),
			)
			continue
		}
		jobs = append(jobs, j)
	}
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].ScheduledStart.Before(*jobs[b].ScheduledStart)
	})
	return jobs
}
