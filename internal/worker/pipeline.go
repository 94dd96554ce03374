package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/lifecycle"
	"github.com/lalithlochan/slotwise/internal/metrics"
	"github.com/lalithlochan/slotwise/internal/opportunity"
)

// Repository is the storage the scan pipeline reads and writes.
type Repository interface {
	GetBusiness(ctx context.Context, id uuid.UUID) (*db.Business, error)
	ListJobs(ctx context.Context, businessID uuid.UUID, from, to time.Time) ([]*db.Job, error)
	ListPriorityBlocks(ctx context.Context, businessID uuid.UUID) ([]*db.PriorityBlock, error)
	ListCustomers(ctx context.Context, businessID uuid.UUID) ([]*db.Customer, error)
	ListServices(ctx context.Context, businessID uuid.UUID) ([]*db.Service, error)
	ReconcileNotifications(ctx context.Context, businessID uuid.UUID, conditionKeys []string, plan db.ReconcileFunc) error
}

// Locker keeps two workers from scanning the same business at once.
type Locker interface {
	Acquire(ctx context.Context, businessID string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, businessID, token string) error
}

// EventPublisher announces created notifications to other systems.
type EventPublisher interface {
	PublishCreated(ctx context.Context, created []*db.SmartNotification) (int, error)
}

// Notifier tells the business itself.
type Notifier interface {
	Deliver(ctx context.Context, b *db.Business, created []*db.SmartNotification)
}

// Deps are the optional collaborators of a Pipeline. Nil fields are skipped.
type Deps struct {
	Lock     Locker
	LockTTL  time.Duration
	Events   EventPublisher
	Notifier Notifier
}

// Report summarises one business scan.
type Report struct {
	BusinessID  uuid.UUID         `json:"business_id"`
	Skipped     bool              `json:"skipped,omitempty"`
	Created     int               `json:"created"`
	Updated     int               `json:"updated"`
	Reactivated int               `json:"reactivated"`
	Resolved    int               `json:"resolved"`
	Suppressed  int               `json:"suppressed"`
	Unchanged   int               `json:"unchanged"`
	Failures    map[string]string `json:"failures,omitempty"`
}

// Pipeline runs one full scan: snapshot, detect, reconcile, announce.
type Pipeline struct {
	repo       Repository
	scanner    *opportunity.Scanner
	reconciler *lifecycle.Reconciler
	deps       Deps
	logger     *zap.Logger
	now        func() time.Time
}

func NewPipeline(repo Repository, scanner *opportunity.Scanner, reconciler *lifecycle.Reconciler, deps Deps, logger *zap.Logger) *Pipeline {
	if deps.LockTTL <= 0 {
		deps.LockTTL = 2 * time.Minute
	}
	return &Pipeline{
		repo:       repo,
		scanner:    scanner,
		reconciler: reconciler,
		deps:       deps,
		logger:     logger,
		now:        time.Now,
	}
}

// ScanBusiness scans one business and persists the outcome. A scan already
// running elsewhere yields a Skipped report and no error.
func (p *Pipeline) ScanBusiness(ctx context.Context, businessID uuid.UUID) (*Report, error) {
	start := time.Now()

	if p.deps.Lock != nil {
		token, ok, err := p.deps.Lock.Acquire(ctx, businessID.String(), p.deps.LockTTL)
		switch {
		case err != nil:
			// The database lock taken while reconciling still serialises writers.
			p.logger.Warn("scan lock unavailable, continuing without it",
				zap.String("business_id", businessID.String()),
				zap.Error(err),
			)
		case !ok:
			p.logger.Info("scan already running, skipping",
				zap.String("business_id", businessID.String()),
			)
			metrics.RecordScan("skipped", 0)
			return &Report{BusinessID: businessID, Skipped: true}, nil
		default:
			defer func() {
				if err := p.deps.Lock.Release(context.WithoutCancel(ctx), businessID.String(), token); err != nil {
					p.logger.Warn("failed to release scan lock",
						zap.String("business_id", businessID.String()),
						zap.Error(err),
					)
				}
			}()
		}
	}

	report, business, created, err := p.scan(ctx, businessID)
	if err != nil {
		metrics.RecordScan("failed", time.Since(start))
		return nil, err
	}

	result := "ok"
	if len(report.Failures) > 0 {
		result = "partial"
	}
	metrics.RecordScan(result, time.Since(start))
	metrics.RecordReconcile("created", report.Created)
	metrics.RecordReconcile("updated", report.Updated)
	metrics.RecordReconcile("reactivated", report.Reactivated)
	metrics.RecordReconcile("resolved", report.Resolved)
	metrics.RecordReconcile("suppressed", report.Suppressed)

	p.logger.Info("business scanned",
		zap.String("business_id", businessID.String()),
		zap.String("result", result),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("resolved", report.Resolved),
		zap.Duration("duration", time.Since(start)),
	)

	if len(created) > 0 {
		p.announce(ctx, business, created)
	}
	return report, nil
}

func (p *Pipeline) scan(ctx context.Context, businessID uuid.UUID) (*Report, *db.Business, []*db.SmartNotification, error) {
	business, err := p.repo.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load business: %w", err)
	}

	now := p.now()
	from, to, err := p.scanner.Window(business, now)
	if err != nil {
		return nil, nil, nil, err
	}

	snap, err := p.snapshot(ctx, business, from, to, now)
	if err != nil {
		return nil, nil, nil, err
	}

	result, err := p.scanner.Scan(snap)
	if err != nil {
		return nil, nil, nil, err
	}

	report := &Report{BusinessID: businessID}
	for t, ferr := range result.Failures {
		metrics.RecordDetectorFailure(string(t))
		if report.Failures == nil {
			report.Failures = make(map[string]string)
		}
		report.Failures[string(t)] = ferr.Error()
	}

	keys := make([]string, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		keys = append(keys, c.ConditionKey)
	}

	var plan *lifecycle.Plan
	err = p.repo.ReconcileNotifications(ctx, businessID, keys, func(existing []*db.SmartNotification) ([]*db.SmartNotification, []*db.SmartNotification, error) {
		plan = p.reconciler.Reconcile(now, businessID, result.Candidates, result.Settled(), existing)
		return plan.Creates, plan.Updates, nil
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reconcile notifications: %w", err)
	}
	if plan == nil {
		return nil, nil, nil, errors.New("reconcile notifications: no plan computed")
	}

	report.Created = plan.Created
	report.Updated = plan.Updated
	report.Reactivated = plan.Reactivated
	report.Resolved = plan.Resolved
	report.Suppressed = plan.Suppressed
	report.Unchanged = plan.Unchanged
	return report, business, plan.Creates, nil
}

func (p *Pipeline) snapshot(ctx context.Context, b *db.Business, from, to, now time.Time) (*opportunity.Snapshot, error) {
	jobs, err := p.repo.ListJobs(ctx, b.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	blocks, err := p.repo.ListPriorityBlocks(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("load priority blocks: %w", err)
	}
	customers, err := p.repo.ListCustomers(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	services, err := p.repo.ListServices(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	return &opportunity.Snapshot{
		Business:  b,
		Jobs:      jobs,
		Blocks:    blocks,
		Customers: customers,
		Services:  services,
		Now:       now,
	}, nil
}

// announce runs after commit; its failures never undo the scan.
func (p *Pipeline) announce(ctx context.Context, b *db.Business, created []*db.SmartNotification) {
	if p.deps.Events != nil {
		n, err := p.deps.Events.PublishCreated(ctx, created)
		if err != nil {
			p.logger.Error("failed to publish notification events",
				zap.String("business_id", b.ID.String()),
				zap.Error(err),
			)
		} else if n < len(created) {
			p.logger.Warn("some notification events were not published",
				zap.String("business_id", b.ID.String()),
				zap.Int("published", n),
				zap.Int("created", len(created)),
			)
		}
	}
	if p.deps.Notifier != nil {
		p.deps.Notifier.Deliver(ctx, b, created)
	}
}
