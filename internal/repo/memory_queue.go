package repo

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/LeventeLantos/careops/internal/model"
)

// MemoryQueueRepo keeps the queue in process memory. It honors the same
// conditional-update contract as the Postgres repository and backs tests and
// single-process development runs.
type MemoryQueueRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]memQueueRow
	now    func() time.Time
}

type memQueueRow struct {
	item    model.QueueItem
	payload []byte
}

func NewMemoryQueueRepo() *MemoryQueueRepo {
	return &MemoryQueueRepo{
		rows: make(map[int64]memQueueRow),
		now:  time.Now,
	}
}

var _ QueueRepository = (*MemoryQueueRepo)(nil)

func (r *MemoryQueueRepo) Create(ctx context.Context, item *model.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(item.Payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.item.IdempotencyKey == item.IdempotencyKey && row.item.Status != model.Canceled {
			return ErrDuplicateKey
		}
	}

	r.nextID++
	now := r.now().UTC()
	item.ID = r.nextID
	item.CreatedAt = now
	item.UpdatedAt = now
	r.rows[item.ID] = memQueueRow{item: *item, payload: raw}
	return nil
}

func (r *MemoryQueueRepo) FindByID(ctx context.Context, id int64) (model.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return model.QueueItem{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return model.QueueItem{}, ErrNotFound
	}
	return row.load()
}

func (r *MemoryQueueRepo) FindByIdempotencyKey(ctx context.Context, key string) (model.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return model.QueueItem{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.item.IdempotencyKey == key && row.item.Status != model.Canceled {
			return row.load()
		}
	}
	return model.QueueItem{}, ErrNotFound
}

func (r *MemoryQueueRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []memQueueRow
	for _, row := range r.rows {
		if row.item.Status.In(model.Dispatchable) && !row.item.DueAt().After(now) {
			due = append(due, row)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].item.DueAt(), due[j].item.DueAt()
		if a.Equal(b) {
			return due[i].item.ID < due[j].item.ID
		}
		return a.Before(b)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	// A row whose payload no longer decodes is still listed; Claim reports
	// the decode error so the worker can mark it dead.
	out := make([]model.QueueItem, 0, len(due))
	for _, row := range due {
		it, err := row.load()
		if err != nil && !errors.Is(err, model.ErrMalformedPayload) {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (r *MemoryQueueRepo) Claim(ctx context.Context, id int64, now time.Time) (model.QueueItem, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.QueueItem{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || !row.item.Status.In(model.Dispatchable) || row.item.DueAt().After(now) {
		return model.QueueItem{}, false, nil
	}
	at := now.UTC()
	row.item.Status = model.Sending
	row.item.LastAttemptAt = &at
	row.item.UpdatedAt = at
	r.rows[id] = row

	item, err := row.load()
	return item, true, err
}

func (r *MemoryQueueRepo) MarkSent(ctx context.Context, id int64, providerMessageID string, sentAt time.Time) error {
	return r.updateSending(ctx, id, func(it *model.QueueItem) {
		at := sentAt.UTC()
		it.Status = model.Sent
		it.SentAt = &at
		it.ProviderMessageID = &providerMessageID
		it.Error = nil
	})
}

func (r *MemoryQueueRepo) MarkRetrying(ctx context.Context, id int64, retries int, reason string, next time.Time) error {
	return r.updateSending(ctx, id, func(it *model.QueueItem) {
		at := next.UTC()
		it.Status = model.Retrying
		it.Retries = retries
		it.Error = &reason
		it.ScheduledAt = &at
	})
}

func (r *MemoryQueueRepo) MarkDead(ctx context.Context, id int64, retries int, reason string) error {
	return r.updateSending(ctx, id, func(it *model.QueueItem) {
		it.Status = model.Dead
		it.Retries = retries
		it.Error = &reason
	})
}

func (r *MemoryQueueRepo) Transition(ctx context.Context, id int64, from []model.Status, to model.Status) (model.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return model.QueueItem{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return model.QueueItem{}, ErrNotFound
	}
	if !row.item.Status.In(from) {
		return model.QueueItem{}, ErrStatusConflict
	}
	row.item.Status = to
	row.item.UpdatedAt = r.now().UTC()
	r.rows[id] = row
	return row.load()
}

func (r *MemoryQueueRepo) List(ctx context.Context, f model.QueueFilter) ([]model.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []memQueueRow
	for _, row := range r.rows {
		if f.Status != "" && row.item.Status != f.Status {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].item.ID > out[j].item.ID })
	return loadAll(page(out, f.Limit, f.Offset))
}

func (r *MemoryQueueRepo) Search(ctx context.Context, term string, limit int) ([]model.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []memQueueRow
	for _, row := range r.rows {
		it := row.item
		if strconv.FormatInt(it.ID, 10) == term ||
			it.IdempotencyKey == term ||
			it.InternalMessageID == term ||
			it.Phone == term ||
			(it.ProviderMessageID != nil && *it.ProviderMessageID == term) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].item.ID > out[j].item.ID })
	return loadAll(page(out, limit, 0))
}

func (r *MemoryQueueRepo) updateSending(ctx context.Context, id int64, apply func(*model.QueueItem)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	if row.item.Status != model.Sending {
		return ErrStatusConflict
	}
	apply(&row.item)
	row.item.UpdatedAt = r.now().UTC()
	r.rows[id] = row
	return nil
}

// load decodes the stored payload so callers never share maps with the store.
func (row memQueueRow) load() (model.QueueItem, error) {
	item := row.item
	p, err := model.DecodePayload(row.payload)
	if err != nil {
		return item, err
	}
	item.Payload = p
	return item, nil
}

func loadAll(rows []memQueueRow) ([]model.QueueItem, error) {
	out := make([]model.QueueItem, 0, len(rows))
	for _, row := range rows {
		it, err := row.load()
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func page[T any](in []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
