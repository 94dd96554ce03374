package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const notificationColumns = `
	id, business_id, type, title, message, priority, status, metadata,
	natural_key, condition_key, auto_resolved, snoozed_until, created_at, updated_at`

func scanNotification(row rowScanner) (*SmartNotification, error) {
	var n SmartNotification
	var metadata []byte
	err := row.Scan(
		&n.ID,
		&n.BusinessID,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.Priority,
		&n.Status,
		&metadata,
		&n.NaturalKey,
		&n.ConditionKey,
		&n.AutoResolved,
		&n.SnoozedUntil,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	md, err := DecodeMetadata(n.Type, metadata)
	if err != nil {
		return nil, fmt.Errorf("notification %s: %w", n.ID, err)
	}
	n.Metadata = md
	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*SmartNotification, error) {
	defer rows.Close()

	var out []*SmartNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// listReconcilable returns the notifications reconciliation must consider:
// every open (active/snoozed) notification, plus user-resolved ones whose
// condition key is among conditionKeys.
func listReconcilable(ctx context.Context, q querier, businessID uuid.UUID, conditionKeys []string) ([]*SmartNotification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM smart_notifications
		WHERE business_id = $1
		  AND (
			status IN ('active', 'snoozed')
			OR (status IN ('dismissed', 'acted') AND NOT auto_resolved AND condition_key = ANY($2))
		  )
		ORDER BY created_at ASC
	`

	if conditionKeys == nil {
		conditionKeys = []string{}
	}

	rows, err := q.Query(ctx, query, businessID, conditionKeys)
	if err != nil {
		return nil, fmt.Errorf("query reconcilable notifications: %w", err)
	}
	return collectNotifications(rows)
}

// ReconcileFunc computes the writes for one business from the notifications
// currently stored for it.
type ReconcileFunc func(existing []*SmartNotification) (creates, updates []*SmartNotification, err error)

// ReconcileNotifications reads, plans and writes one business's notifications
// in a single transaction holding the business advisory lock. Concurrent
// reconciliations and user transitions for the business are serialised, and
// either every insert and update lands or none does.
func (r *Repository) ReconcileNotifications(ctx context.Context, businessID uuid.UUID, conditionKeys []string, plan ReconcileFunc) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockBusiness(ctx, tx, businessID); err != nil {
		return err
	}

	existing, err := listReconcilable(ctx, tx, businessID, conditionKeys)
	if err != nil {
		return err
	}

	creates, updates, err := plan(existing)
	if err != nil {
		return err
	}
	if len(creates) == 0 && len(updates) == 0 {
		return nil
	}

	for _, n := range creates {
		metadata, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO smart_notifications (
				id, business_id, type, title, message, priority, status, metadata,
				natural_key, condition_key, auto_resolved, snoozed_until, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			n.ID, n.BusinessID, n.Type, n.Title, n.Message, n.Priority, n.Status, metadata,
			n.NaturalKey, n.ConditionKey, n.AutoResolved, n.SnoozedUntil, n.CreatedAt, n.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert notification %s: %w", n.ID, err)
		}
	}

	for _, n := range updates {
		metadata, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE smart_notifications
			SET title = $2, message = $3, priority = $4, status = $5, metadata = $6,
			    condition_key = $7, auto_resolved = $8, snoozed_until = $9, updated_at = $10
			WHERE id = $1 AND business_id = $11
		`,
			n.ID, n.Title, n.Message, n.Priority, n.Status, metadata,
			n.ConditionKey, n.AutoResolved, n.SnoozedUntil, n.UpdatedAt, businessID,
		)
		if err != nil {
			return fmt.Errorf("update notification %s: %w", n.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update notification %s: %w", n.ID, ErrNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Debug("notification changes applied",
		zap.String("business_id", businessID.String()),
		zap.Int("created", len(creates)),
		zap.Int("updated", len(updates)),
	)
	return nil
}

// ListActiveNotifications returns a business's active notifications, most
// urgent first.
func (r *Repository) ListActiveNotifications(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]*SmartNotification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM smart_notifications
		WHERE business_id = $1 AND status = 'active'
		ORDER BY
			CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
			created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, businessID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query active notifications: %w", err)
	}
	return collectNotifications(rows)
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*SmartNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM smart_notifications WHERE id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// TransitionNotification loads a notification under the business advisory
// lock, lets mutate change it, and persists the result. Holding the same lock
// as ReconcileNotifications keeps a scan from overwriting a user's choice it
// never saw. An error from mutate aborts the update.
func (r *Repository) TransitionNotification(ctx context.Context, id uuid.UUID, mutate func(n *SmartNotification) error) (*SmartNotification, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var businessID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT business_id FROM smart_notifications WHERE id = $1`, id).Scan(&businessID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	if err := lockBusiness(ctx, tx, businessID); err != nil {
		return nil, err
	}

	n, err := scanNotification(tx.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM smart_notifications WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}

	if err := mutate(n); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE smart_notifications
		SET status = $2, snoozed_until = $3, updated_at = $4
		WHERE id = $1
	`, n.ID, n.Status, n.SnoozedUntil, n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update notification status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("notification status updated",
		zap.String("notification_id", n.ID.String()),
		zap.String("status", n.Status),
	)
	return n, nil
}
