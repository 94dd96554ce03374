package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/lifecycle"
	"github.com/lalithlochan/slotwise/internal/opportunity"
	"github.com/lalithlochan/slotwise/internal/timewindow"
)

// Sunday 2026-10-11, noon UTC. The Monday VIP block is under 48h away.
var sundayNoon = time.Date(2026, 10, 11, 12, 0, 0, 0, time.UTC)

type mockRepo struct {
	mu            sync.Mutex
	business      *db.Business
	blocks        []*db.PriorityBlock
	notifications []*db.SmartNotification
	reconciles    int
	loadErr       error
}

func (m *mockRepo) GetBusiness(ctx context.Context, id uuid.UUID) (*db.Business, error) {
	if m.business == nil || m.business.ID != id {
		return nil, db.ErrNotFound
	}
	return m.business, nil
}

func (m *mockRepo) ListJobs(ctx context.Context, businessID uuid.UUID, from, to time.Time) ([]*db.Job, error) {
	return nil, m.loadErr
}

func (m *mockRepo) ListPriorityBlocks(ctx context.Context, businessID uuid.UUID) ([]*db.PriorityBlock, error) {
	return m.blocks, nil
}

func (m *mockRepo) ListCustomers(ctx context.Context, businessID uuid.UUID) ([]*db.Customer, error) {
	return nil, nil
}

func (m *mockRepo) ListServices(ctx context.Context, businessID uuid.UUID) ([]*db.Service, error) {
	return nil, nil
}

func (m *mockRepo) ReconcileNotifications(ctx context.Context, businessID uuid.UUID, conditionKeys []string, plan db.ReconcileFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciles++

	creates, updates, err := plan(m.notifications)
	if err != nil {
		return err
	}
	m.notifications = append(m.notifications, creates...)
	for _, u := range updates {
		for i, n := range m.notifications {
			if n.ID == u.ID {
				m.notifications[i] = u
			}
		}
	}
	return nil
}

type fakeLock struct {
	busy     bool
	err      error
	released []string
}

func (f *fakeLock) Acquire(ctx context.Context, businessID string, ttl time.Duration) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	if f.busy {
		return "", false, nil
	}
	return "token-" + businessID, true, nil
}

func (f *fakeLock) Release(ctx context.Context, businessID, token string) error {
	f.released = append(f.released, token)
	return nil
}

type fakeEvents struct{ published []*db.SmartNotification }

func (f *fakeEvents) PublishCreated(ctx context.Context, created []*db.SmartNotification) (int, error) {
	f.published = append(f.published, created...)
	return len(created), nil
}

type fakeNotifier struct{ delivered []*db.SmartNotification }

func (f *fakeNotifier) Deliver(ctx context.Context, b *db.Business, created []*db.SmartNotification) {
	f.delivered = append(f.delivered, created...)
}

func newTestRepo() *mockRepo {
	b := &db.Business{ID: uuid.New(), Name: "Shine Mobile Detailing", Tier: db.TierStarter, Timezone: "UTC", LookaheadDays: 7}
	return &mockRepo{
		business: b,
		blocks: []*db.PriorityBlock{{
			ID:          uuid.New(),
			BusinessID:  b.ID,
			Name:        "VIP morning",
			DayOfWeek:   time.Monday,
			StartTime:   timewindow.MustClock("09:00"),
			EndTime:     timewindow.MustClock("10:00"),
			PriorityFor: "fleet accounts",
		}},
	}
}

func newTestPipeline(repo Repository, deps Deps) *Pipeline {
	logger := zap.NewNop()
	p := NewPipeline(repo, opportunity.NewScanner(opportunity.Config{}, logger), lifecycle.NewReconciler(logger), deps, logger)
	p.now = func() time.Time { return sundayNoon }
	return p
}

func TestPipeline_CreatesAndAnnounces(t *testing.T) {
	repo := newTestRepo()
	lock := &fakeLock{}
	events := &fakeEvents{}
	notifier := &fakeNotifier{}
	p := newTestPipeline(repo, Deps{Lock: lock, Events: events, Notifier: notifier})

	report, err := p.ScanBusiness(context.Background(), repo.business.ID)
	if err != nil {
		t.Fatalf("ScanBusiness() error = %v", err)
	}
	if report.Created != 1 {
		t.Fatalf("expected 1 created, got %+v", report)
	}
	if len(repo.notifications) != 1 || repo.notifications[0].Type != db.TypeEmptyPrioritySlot {
		t.Fatalf("unexpected stored notifications %+v", repo.notifications)
	}
	if len(events.published) != 1 || len(notifier.delivered) != 1 {
		t.Errorf("expected one event and one delivery, got %d/%d", len(events.published), len(notifier.delivered))
	}
	if len(lock.released) != 1 {
		t.Errorf("expected lock released once, got %v", lock.released)
	}
}

func TestPipeline_RescanIsIdempotent(t *testing.T) {
	repo := newTestRepo()
	events := &fakeEvents{}
	p := newTestPipeline(repo, Deps{Events: events})
	ctx := context.Background()

	if _, err := p.ScanBusiness(ctx, repo.business.ID); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	report, err := p.ScanBusiness(ctx, repo.business.ID)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}

	if report.Created != 0 || report.Unchanged != 1 {
		t.Errorf("expected nothing new on rescan, got %+v", report)
	}
	if len(repo.notifications) != 1 {
		t.Errorf("expected 1 stored notification, got %d", len(repo.notifications))
	}
	if len(events.published) != 1 {
		t.Errorf("rescan must not publish again, got %d events", len(events.published))
	}
}

func TestPipeline_ResolvesWhenBlockRemoved(t *testing.T) {
	repo := newTestRepo()
	p := newTestPipeline(repo, Deps{})
	ctx := context.Background()

	if _, err := p.ScanBusiness(ctx, repo.business.ID); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	repo.blocks = nil

	report, err := p.ScanBusiness(ctx, repo.business.ID)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if report.Resolved != 1 {
		t.Fatalf("expected 1 resolved, got %+v", report)
	}
	n := repo.notifications[0]
	if n.Status != db.StatusActed || !n.AutoResolved {
		t.Errorf("expected auto-resolved notification, got status=%s auto=%v", n.Status, n.AutoResolved)
	}
}

func TestPipeline_ResolvesTypesOutsideTier(t *testing.T) {
	repo := newTestRepo()
	gapStart := time.Date(2026, 10, 12, 11, 0, 0, 0, time.UTC)
	md := db.GapOpportunityMetadata{
		GapStart:    gapStart,
		GapEnd:      gapStart.Add(90 * time.Minute),
		GapMinutes:  90,
		BeforeJobID: uuid.New(),
		AfterJobID:  uuid.New(),
	}
	key, err := db.NaturalKey(db.TypeGapOpportunity, md)
	if err != nil {
		t.Fatalf("natural key: %v", err)
	}
	// Left over from when the business was on the pro tier.
	repo.notifications = []*db.SmartNotification{{
		ID:         uuid.New(),
		BusinessID: repo.business.ID,
		Type:       db.TypeGapOpportunity,
		Priority:   db.PriorityMedium,
		Status:     db.StatusActive,
		Metadata:   md,
		NaturalKey: key,
		CreatedAt:  sundayNoon.Add(-24 * time.Hour),
		UpdatedAt:  sundayNoon.Add(-24 * time.Hour),
	}}
	p := newTestPipeline(repo, Deps{})

	report, err := p.ScanBusiness(context.Background(), repo.business.ID)
	if err != nil {
		t.Fatalf("ScanBusiness() error = %v", err)
	}
	if report.Resolved != 1 {
		t.Fatalf("expected the gap notification to resolve, got %+v", report)
	}
	for _, n := range repo.notifications {
		if n.Type == db.TypeGapOpportunity && n.Status == db.StatusActive {
			t.Errorf("starter business still has an active gap notification")
		}
	}
}

func TestPipeline_SkipsWhenLocked(t *testing.T) {
	repo := newTestRepo()
	p := newTestPipeline(repo, Deps{Lock: &fakeLock{busy: true}})

	report, err := p.ScanBusiness(context.Background(), repo.business.ID)
	if err != nil {
		t.Fatalf("ScanBusiness() error = %v", err)
	}
	if !report.Skipped {
		t.Error("expected skipped report")
	}
	if repo.reconciles != 0 {
		t.Error("skipped scan must not reconcile")
	}
}

func TestPipeline_LockErrorDoesNotBlockScan(t *testing.T) {
	repo := newTestRepo()
	p := newTestPipeline(repo, Deps{Lock: &fakeLock{err: errors.New("redis down")}})

	report, err := p.ScanBusiness(context.Background(), repo.business.ID)
	if err != nil {
		t.Fatalf("ScanBusiness() error = %v", err)
	}
	if report.Skipped || report.Created != 1 {
		t.Errorf("expected scan to proceed, got %+v", report)
	}
}

func TestPipeline_Errors(t *testing.T) {
	repo := newTestRepo()
	p := newTestPipeline(repo, Deps{})

	if _, err := p.ScanBusiness(context.Background(), uuid.New()); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown business, got %v", err)
	}

	repo.loadErr = errors.New("connection reset")
	if _, err := p.ScanBusiness(context.Background(), repo.business.ID); err == nil {
		t.Error("expected snapshot load error")
	}
	if repo.reconciles != 0 {
		t.Error("failed snapshot must not reconcile")
	}

	repo.loadErr = nil
	repo.business.Timezone = "Mars/Olympus"
	if _, err := p.ScanBusiness(context.Background(), repo.business.ID); !errors.Is(err, opportunity.ErrConfigurationMissing) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
