package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/db"
)

var (
	// ErrInvalidTransition is returned when a user acts on a notification
	// that is already dismissed or acted.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidSnooze is returned for a snooze that does not end in the future.
	ErrInvalidSnooze = errors.New("snooze must end in the future")
)

// Dismiss marks n as dismissed by the user.
func Dismiss(n *db.SmartNotification, now time.Time) error {
	return resolve(n, db.StatusDismissed, now)
}

// Act marks n as acted on by the user.
func Act(n *db.SmartNotification, now time.Time) error {
	return resolve(n, db.StatusActed, now)
}

// Snooze defers n until the given time. A snoozed notification may be
// snoozed again.
func Snooze(n *db.SmartNotification, until, now time.Time) error {
	if !db.IsOpen(n.Status) {
		return fmt.Errorf("snooze %s notification: %w", n.Status, ErrInvalidTransition)
	}
	if !until.After(now) {
		return ErrInvalidSnooze
	}
	u := until.UTC()
	n.Status = db.StatusSnoozed
	n.SnoozedUntil = &u
	n.UpdatedAt = now
	return nil
}

func resolve(n *db.SmartNotification, status string, now time.Time) error {
	if !db.IsOpen(n.Status) {
		return fmt.Errorf("%s %s notification: %w", status, n.Status, ErrInvalidTransition)
	}
	n.Status = status
	n.AutoResolved = false
	n.SnoozedUntil = nil
	n.UpdatedAt = now
	return nil
}

// Store persists a single notification transition under a row lock.
type Store interface {
	TransitionNotification(ctx context.Context, id uuid.UUID, mutate func(n *db.SmartNotification) error) (*db.SmartNotification, error)
}

// Manager applies user-triggered transitions against the store.
type Manager struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a transition manager
func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logger, now: time.Now}
}

// Dismiss dismisses the notification with the given id.
func (m *Manager) Dismiss(ctx context.Context, id uuid.UUID) (*db.SmartNotification, error) {
	return m.transition(ctx, id, "dismiss", func(n *db.SmartNotification, now time.Time) error {
		return Dismiss(n, now)
	})
}

// Act records that the user acted on the notification.
func (m *Manager) Act(ctx context.Context, id uuid.UUID) (*db.SmartNotification, error) {
	return m.transition(ctx, id, "act", func(n *db.SmartNotification, now time.Time) error {
		return Act(n, now)
	})
}

// Snooze defers the notification until the given time.
func (m *Manager) Snooze(ctx context.Context, id uuid.UUID, until time.Time) (*db.SmartNotification, error) {
	return m.transition(ctx, id, "snooze", func(n *db.SmartNotification, now time.Time) error {
		return Snooze(n, until, now)
	})
}

func (m *Manager) transition(ctx context.Context, id uuid.UUID, action string, fn func(*db.SmartNotification, time.Time) error) (*db.SmartNotification, error) {
	now := m.now().UTC()
	n, err := m.store.TransitionNotification(ctx, id, func(n *db.SmartNotification) error {
		return fn(n, now)
	})
	if err != nil {
		m.logger.Warn("notification transition rejected",
			zap.String("notification_id", id.String()),
			zap.String("action", action),
			zap.Error(err),
		)
		return nil, err
	}
	return n, nil
}
