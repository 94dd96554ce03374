// Package lifecycle reconciles freshly detected opportunities against stored
// notifications and applies user status transitions.
package lifecycle

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/opportunity"
)

// Plan is the set of writes one reconciliation produces. Applying it must be
// atomic per business.
type Plan struct {
	Creates []*db.SmartNotification
	Updates []*db.SmartNotification

	Created     int
	Updated     int
	Reactivated int
	Resolved    int
	Suppressed  int
	Unchanged   int
}

// Empty reports whether the plan writes nothing.
func (p *Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0
}

// Reconciler turns scan results into a Plan. It holds no state between calls.
type Reconciler struct {
	logger *zap.Logger
	newID  func() uuid.UUID
}

// NewReconciler creates a reconciler
func NewReconciler(logger *zap.Logger) *Reconciler {
	return &Reconciler{logger: logger, newID: uuid.New}
}

type dedupKey struct {
	t   db.NotificationType
	key string
}

// Reconcile compares candidates with existing notifications for one business.
//
// existing must hold every open (active or snoozed) notification of the
// business, plus any user-resolved ones sharing a candidate's condition key.
// Only types listed in covered are auto-resolved, so a failed detector never
// clears its notifications. Types the tier no longer receives belong in
// covered too; with no candidates their open notifications resolve. The
// inputs are not modified; every notification in the plan is a fresh copy.
func (r *Reconciler) Reconcile(now time.Time, businessID uuid.UUID, candidates []opportunity.Candidate, covered []db.NotificationType, existing []*db.SmartNotification) *Plan {
	plan := &Plan{}

	open := make(map[dedupKey]*db.SmartNotification)
	resolvedByUser := make(map[string]bool)
	var duplicates []*db.SmartNotification

	for _, n := range existing {
		if n.BusinessID != businessID {
			continue
		}
		switch {
		case db.IsOpen(n.Status):
			k := dedupKey{n.Type, n.NaturalKey}
			if prev, ok := open[k]; ok {
				// Keep the most recently touched record; the other is a leftover duplicate.
				if n.UpdatedAt.After(prev.UpdatedAt) {
					open[k], n = n, prev
				}
				duplicates = append(duplicates, n)
				continue
			}
			open[k] = n
		case !n.AutoResolved:
			resolvedByUser[n.ConditionKey] = true
		}
	}

	seen := make(map[dedupKey]bool, len(candidates))
	for _, c := range candidates {
		k := dedupKey{c.Type, c.NaturalKey}
		if seen[k] {
			r.logger.Debug("duplicate candidate dropped",
				zap.String("type", string(c.Type)),
				zap.String("natural_key", c.NaturalKey),
			)
			continue
		}
		seen[k] = true

		current, ok := open[k]
		if !ok {
			if resolvedByUser[c.ConditionKey] {
				plan.Suppressed++
				continue
			}
			plan.Creates = append(plan.Creates, r.create(now, businessID, c))
			plan.Created++
			continue
		}

		switch current.Status {
		case db.StatusActive:
			n := clone(current)
			if apply(n, c) {
				n.UpdatedAt = now
				plan.Updates = append(plan.Updates, n)
				plan.Updated++
			} else {
				plan.Unchanged++
			}
		case db.StatusSnoozed:
			if !snoozeElapsed(current, now) {
				plan.Unchanged++
				continue
			}
			n := clone(current)
			apply(n, c)
			n.Status = db.StatusActive
			n.SnoozedUntil = nil
			n.UpdatedAt = now
			plan.Updates = append(plan.Updates, n)
			plan.Reactivated++
		}
	}

	isCovered := make(map[db.NotificationType]bool, len(covered))
	for _, t := range covered {
		isCovered[t] = true
	}

	stale := duplicates
	for _, n := range existing {
		k := dedupKey{n.Type, n.NaturalKey}
		if open[k] == n && !seen[k] {
			stale = append(stale, n)
		}
	}
	for _, n := range stale {
		if !isCovered[n.Type] {
			continue
		}
		if n.Status == db.StatusSnoozed && !snoozeElapsed(n, now) {
			continue
		}
		resolved := clone(n)
		resolved.Status = db.StatusActed
		resolved.AutoResolved = true
		resolved.SnoozedUntil = nil
		resolved.UpdatedAt = now
		plan.Updates = append(plan.Updates, resolved)
		plan.Resolved++
	}

	return plan
}

func (r *Reconciler) create(now time.Time, businessID uuid.UUID, c opportunity.Candidate) *db.SmartNotification {
	return &db.SmartNotification{
		ID:           r.newID(),
		BusinessID:   businessID,
		Type:         c.Type,
		Title:        c.Title,
		Message:      c.Message,
		Priority:     c.Priority,
		Status:       db.StatusActive,
		Metadata:     c.Metadata,
		NaturalKey:   c.NaturalKey,
		ConditionKey: c.ConditionKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// apply copies the candidate's mutable fields onto n and reports whether
// anything changed.
func apply(n *db.SmartNotification, c opportunity.Candidate) bool {
	changed := false
	if n.Title != c.Title {
		n.Title = c.Title
		changed = true
	}
	if n.Message != c.Message {
		n.Message = c.Message
		changed = true
	}
	if n.Priority != c.Priority {
		n.Priority = c.Priority
		changed = true
	}
	if !db.MetadataEqual(n.Metadata, c.Metadata) {
		n.Metadata = c.Metadata
		changed = true
	}
	if n.ConditionKey != c.ConditionKey {
		n.ConditionKey = c.ConditionKey
		changed = true
	}
	return changed
}

// A snooze without an end time is treated as already elapsed.
func snoozeElapsed(n *db.SmartNotification, now time.Time) bool {
	return n.SnoozedUntil == nil || !n.SnoozedUntil.After(now)
}

func clone(n *db.SmartNotification) *db.SmartNotification {
	c := *n
	if n.SnoozedUntil != nil {
		t := *n.SnoozedUntil
		c.SnoozedUntil = &t
	}
	return &c
}
