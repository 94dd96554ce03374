package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/timewindow"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Repository handles database operations for the scheduling engine
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const businessColumns = `
	id, name, tier, timezone, hours,
	buffer_before_minutes, buffer_after_minutes, default_cadence_days,
	slot_step_minutes, lookahead_days, min_fillable_minutes, large_gap_minutes,
	notify_email, notify_phone, webhook_url, created_at, updated_at`

func scanBusiness(row rowScanner) (*Business, error) {
	var b Business
	var hours []byte
	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.Tier,
		&b.Timezone,
		&hours,
		&b.BufferBeforeMinutes,
		&b.BufferAfterMinutes,
		&b.DefaultCadenceDays,
		&b.SlotStepMinutes,
		&b.LookaheadDays,
		&b.MinFillableMinutes,
		&b.LargeGapMinutes,
		&b.NotifyEmail,
		&b.NotifyPhone,
		&b.WebhookURL,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &b.Hours); err != nil {
			return nil, fmt.Errorf("decode hours for business %s: %w", b.ID, err)
		}
	}
	return &b, nil
}

// GetBusiness retrieves a business and its scheduling configuration.
func (r *Repository) GetBusiness(ctx context.Context, id uuid.UUID) (*Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE id = $1`

	b, err := scanBusiness(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("business %s: %w", id, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get business",
			zap.Error(err),
			zap.String("business_id", id.String()),
		)
		return nil, fmt.Errorf("query business: %w", err)
	}
	return b, nil
}

// ListBusinessIDs returns every business id, in a stable order.
func (r *Repository) ListBusinessIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT id FROM businesses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query businesses: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan business id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return ids, nil
}

const jobColumns = `
	id, business_id, customer_id, service_id, status,
	scheduled_start, scheduled_end, priority_block_id, created_at, updated_at`

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID,
		&j.BusinessID,
		&j.CustomerID,
		&j.ServiceID,
		&j.Status,
		&j.ScheduledStart,
		&j.ScheduledEnd,
		&j.PriorityBlockID,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*Job, error) {
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return jobs, nil
}

// ListJobs returns scheduled jobs of a business whose interval touches [from, to).
// Unscheduled jobs are never returned.
func (r *Repository) ListJobs(ctx context.Context, businessID uuid.UUID, from, to time.Time) ([]*Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE business_id = $1
		  AND scheduled_start IS NOT NULL
		  AND scheduled_start < $3
		  AND (scheduled_end IS NULL OR scheduled_end > $2)
		ORDER BY scheduled_start ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, businessID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListPriorityBlocks returns the recurring priority blocks of a business.
func (r *Repository) ListPriorityBlocks(ctx context.Context, businessID uuid.UUID) ([]*PriorityBlock, error) {
	query := `
		SELECT id, business_id, name, day_of_week, start_minute, end_minute, priority_for
		FROM priority_blocks
		WHERE business_id = $1
		ORDER BY day_of_week, start_minute
	`

	rows, err := r.db.Pool().Query(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("query priority blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*PriorityBlock
	for rows.Next() {
		var b PriorityBlock
		var day, start, end int
		if err := rows.Scan(&b.ID, &b.BusinessID, &b.Name, &day, &start, &end, &b.PriorityFor); err != nil {
			return nil, fmt.Errorf("scan priority block: %w", err)
		}
		b.DayOfWeek = time.Weekday(day)
		b.StartTime = timewindow.ClockTime(start)
		b.EndTime = timewindow.ClockTime(end)
		blocks = append(blocks, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return blocks, nil
}

// ListCustomers returns customers with their last completed job date.
func (r *Repository) ListCustomers(ctx context.Context, businessID uuid.UUID) ([]*Customer, error) {
	query := `
		SELECT
			c.id, c.business_id, c.name, c.phone, c.cadence_days,
			MAX(j.scheduled_start) FILTER (WHERE j.status = 'completed') AS last_job_date
		FROM customers c
		LEFT JOIN jobs j ON j.customer_id = c.id AND j.business_id = c.business_id
		WHERE c.business_id = $1
		GROUP BY c.id
		ORDER BY c.name
	`

	rows, err := r.db.Pool().Query(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var customers []*Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.BusinessID, &c.Name, &c.Phone, &c.CadenceDays, &c.LastJobDate); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return customers, nil
}

func scanService(row rowScanner) (*Service, error) {
	var s Service
	var sizes []byte
	if err := row.Scan(&s.ID, &s.BusinessID, &s.Name, &s.Active, &s.DurationMinutes, &sizes); err != nil {
		return nil, err
	}
	if len(sizes) > 0 {
		if err := json.Unmarshal(sizes, &s.SizeDurations); err != nil {
			return nil, fmt.Errorf("decode size durations for service %s: %w", s.ID, err)
		}
	}
	return &s, nil
}

// ListServices returns the services a business offers.
func (r *Repository) ListServices(ctx context.Context, businessID uuid.UUID) ([]*Service, error) {
	query := `
		SELECT id, business_id, name, active, duration_minutes, size_durations
		FROM services
		WHERE business_id = $1
		ORDER BY name
	`

	rows, err := r.db.Pool().Query(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return services, nil
}

// GetService retrieves a single service owned by a business.
func (r *Repository) GetService(ctx context.Context, businessID, serviceID uuid.UUID) (*Service, error) {
	query := `
		SELECT id, business_id, name, active, duration_minutes, size_durations
		FROM services
		WHERE id = $1 AND business_id = $2
	`

	s, err := scanService(r.db.Pool().QueryRow(ctx, query, serviceID, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("service %s: %w", serviceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query service: %w", err)
	}
	return s, nil
}

// BookJob inserts a job after check approves the jobs already occupying the
// surrounding window. The check and the insert run in one transaction holding
// the business's advisory lock, so two concurrent bookings cannot both pass.
func (r *Repository) BookJob(ctx context.Context, job *Job, from, to time.Time, check func(existing []*Job) error) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockBusiness(ctx, tx, job.BusinessID); err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE business_id = $1
		  AND status <> 'cancelled'
		  AND scheduled_start IS NOT NULL
		  AND scheduled_start < $3
		  AND scheduled_end > $2
	`, job.BusinessID, from, to)
	if err != nil {
		return fmt.Errorf("query conflicting jobs: %w", err)
	}
	existing, err := collectJobs(rows)
	if err != nil {
		return err
	}

	if err := check(existing); err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO jobs (
			id, business_id, customer_id, service_id, status,
			scheduled_start, scheduled_end, priority_block_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`,
		job.ID,
		job.BusinessID,
		job.CustomerID,
		job.ServiceID,
		job.Status,
		job.ScheduledStart,
		job.ScheduledEnd,
		job.PriorityBlockID,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("job booked",
		zap.String("job_id", job.ID.String()),
		zap.String("business_id", job.BusinessID.String()),
		zap.Time("start", *job.ScheduledStart),
	)
	return nil
}

func lockBusiness(ctx context.Context, tx pgx.Tx, businessID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, businessID.String()); err != nil {
		return fmt.Errorf("lock business %s: %w", businessID, err)
	}
	return nil
}
