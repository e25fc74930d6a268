package repo

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeventeLantos/careops/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const queueColumns = `
	id, phone, payload, status, retries, error, scheduled_at, sent_at,
	last_attempt_at, idempotency_key, internal_message_id, provider_message_id,
	created_at, updated_at`

// EnsureSchema creates the tables and indexes when they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}

type PostgresQueueRepo struct {
	db *sql.DB
}

func NewPostgresQueueRepo(db *sql.DB) *PostgresQueueRepo {
	return &PostgresQueueRepo{db: db}
}

var _ QueueRepository = (*PostgresQueueRepo)(nil)

func (r *PostgresQueueRepo) Create(ctx context.Context, item *model.QueueItem) error {
	payload, err := item.Payload.MarshalJSON()
	if err != nil {
		return err
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO queue_items (
			phone, payload, status, retries, scheduled_at,
			idempotency_key, internal_message_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`,
		item.Phone,
		payload,
		string(item.Status),
		item.Retries,
		nullTime(item.ScheduledAt),
		item.IdempotencyKey,
		item.InternalMessageID,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *PostgresQueueRepo) FindByID(ctx context.Context, id int64) (model.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = $1`, id)
	return scanQueueItem(row)
}

func (r *PostgresQueueRepo) FindByIdempotencyKey(ctx context.Context, key string) (model.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM queue_items
		WHERE idempotency_key = $1 AND status <> 'canceled'
		ORDER BY id DESC
		LIMIT 1
	`, key)
	return scanQueueItem(row)
}

func (r *PostgresQueueRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM queue_items
		WHERE status IN ('pending', 'retrying')
		  AND COALESCE(scheduled_at, created_at) <= $1
		ORDER BY COALESCE(scheduled_at, created_at) ASC, id ASC
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Undecodable rows stay in the batch with an empty payload. Claim returns
	// the decode error and the worker marks them dead.
	var out []model.QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil && (it.ID == 0 || !errors.Is(err, model.ErrMalformedPayload)) {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Claim is a compare-and-swap: the UPDATE matches at most one row and only
// while it is still pending/retrying and due.
func (r *PostgresQueueRepo) Claim(ctx context.Context, id int64, now time.Time) (model.QueueItem, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE queue_items
		SET status = 'sending',
		    last_attempt_at = $2,
		    updated_at = $2
		WHERE id = $1
		  AND status IN ('pending', 'retrying')
		  AND COALESCE(scheduled_at, created_at) <= $2
		RETURNING `+queueColumns, id, now.UTC())

	item, err := scanQueueItem(row)
	if errors.Is(err, ErrNotFound) {
		return model.QueueItem{}, false, nil
	}
	if err != nil {
		// item.ID is set when only the payload failed to decode; the row is claimed.
		return item, item.ID != 0, err
	}
	return item, true, nil
}

func (r *PostgresQueueRepo) MarkSent(ctx context.Context, id int64, providerMessageID string, sentAt time.Time) error {
	return r.execSending(ctx, `
		UPDATE queue_items
		SET status = 'sent',
		    sent_at = $2,
		    provider_message_id = $3,
		    error = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'sending'
	`, id, sentAt.UTC(), providerMessageID)
}

func (r *PostgresQueueRepo) MarkRetrying(ctx context.Context, id int64, retries int, reason string, next time.Time) error {
	return r.execSending(ctx, `
		UPDATE queue_items
		SET status = 'retrying',
		    retries = $2,
		    error = $3,
		    scheduled_at = $4,
		    updated_at = now()
		WHERE id = $1 AND status = 'sending'
	`, id, retries, reason, next.UTC())
}

func (r *PostgresQueueRepo) MarkDead(ctx context.Context, id int64, retries int, reason string) error {
	return r.execSending(ctx, `
		UPDATE queue_items
		SET status = 'dead',
		    retries = $2,
		    error = $3,
		    updated_at = now()
		WHERE id = $1 AND status = 'sending'
	`, id, retries, reason)
}

func (r *PostgresQueueRepo) Transition(ctx context.Context, id int64, from []model.Status, to model.Status) (model.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE queue_items
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+queueColumns, id, statusStrings(from), string(to))

	item, err := scanQueueItem(row)
	if !errors.Is(err, ErrNotFound) {
		return item, err
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM queue_items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return model.QueueItem{}, err
	}
	if exists {
		return model.QueueItem{}, ErrStatusConflict
	}
	return model.QueueItem{}, ErrNotFound
}

func (r *PostgresQueueRepo) List(ctx context.Context, f model.QueueFilter) ([]model.QueueItem, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM queue_items
		WHERE ($1 = '' OR status = $1)
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return collectQueueItems(rows)
}

func (r *PostgresQueueRepo) Search(ctx context.Context, term string, limit int) ([]model.QueueItem, error) {
	if limit <= 0 {
		limit = 20
	}
	var id int64
	if v, err := strconv.ParseInt(term, 10, 64); err == nil {
		id = v
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM queue_items
		WHERE id = $1
		   OR idempotency_key = $2
		   OR internal_message_id = $2
		   OR provider_message_id = $2
		   OR phone = $2
		ORDER BY id DESC
		LIMIT $3
	`, id, term, limit)
	if err != nil {
		return nil, err
	}
	return collectQueueItems(rows)
}

func (r *PostgresQueueRepo) execSending(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("queue item %v: %w", args[0], ErrStatusConflict)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(s rowScanner) (model.QueueItem, error) {
	var (
		it         model.QueueItem
		status     string
		payload    []byte
		lastErr    sql.NullString
		scheduled  sql.NullTime
		sentAt     sql.NullTime
		lastTry    sql.NullTime
		providerID sql.NullString
	)
	err := s.Scan(
		&it.ID,
		&it.Phone,
		&payload,
		&status,
		&it.Retries,
		&lastErr,
		&scheduled,
		&sentAt,
		&lastTry,
		&it.IdempotencyKey,
		&it.InternalMessageID,
		&providerID,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.QueueItem{}, ErrNotFound
	}
	if err != nil {
		return model.QueueItem{}, err
	}

	it.Status = model.Status(status)
	if lastErr.Valid {
		s := lastErr.String
		it.Error = &s
	}
	if scheduled.Valid {
		t := scheduled.Time
		it.ScheduledAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		it.SentAt = &t
	}
	if lastTry.Valid {
		t := lastTry.Time
		it.LastAttemptAt = &t
	}
	if providerID.Valid {
		s := providerID.String
		it.ProviderMessageID = &s
	}

	p, err := model.DecodePayload(payload)
	if err != nil {
		return it, fmt.Errorf("queue item %d: %w", it.ID, err)
	}
	it.Payload = p
	return it, nil
}

func collectQueueItems(rows *sql.Rows) ([]model.QueueItem, error) {
	defer rows.Close()

	var out []model.QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
