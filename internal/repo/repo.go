package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/careops/internal/model"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateKey   = errors.New("duplicate idempotency key")
	ErrStatusConflict = errors.New("status does not allow this transition")
)

// QueueRepository is the single source of truth for outbox status. Every
// status change is a conditional update on the current status.
type QueueRepository interface {
	// Create inserts item and assigns its ID. ErrDuplicateKey is returned when
	// a non-canceled item already holds the idempotency key.
	Create(ctx context.Context, item *model.QueueItem) error
	FindByID(ctx context.Context, id int64) (model.QueueItem, error)
	// FindByIdempotencyKey ignores canceled items.
	FindByIdempotencyKey(ctx context.Context, key string) (model.QueueItem, error)

	// ListDue returns pending/retrying items due at now, oldest due first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error)
	// Claim moves a due pending/retrying item to sending. ok is false when
	// another caller claimed it first or it is no longer due.
	Claim(ctx context.Context, id int64, now time.Time) (item model.QueueItem, ok bool, err error)
	MarkSent(ctx context.Context, id int64, providerMessageID string, sentAt time.Time) error
	MarkRetrying(ctx context.Context, id int64, retries int, reason string, next time.Time) error
	MarkDead(ctx context.Context, id int64, retries int, reason string) error

	// Transition sets status to `to` only if the current status is in from.
	Transition(ctx context.Context, id int64, from []model.Status, to model.Status) (model.QueueItem, error)
	List(ctx context.Context, f model.QueueFilter) ([]model.QueueItem, error)
	// Search matches id, idempotency key, internal id, provider id or phone.
	Search(ctx context.Context, term string, limit int) ([]model.QueueItem, error)
}

// TransitionFunc receives the locked allocation plus the caregiver's other
// CONFIRMADO/EM_ANDAMENTO allocations and returns the updated record.
type TransitionFunc func(current model.Alocacao, holding []model.Alocacao) (model.Alocacao, error)

type AllocationRepository interface {
	SaveAll(ctx context.Context, alocacoes []model.Alocacao) error
	Get(ctx context.Context, id string) (model.Alocacao, error)
	ListByEquipe(ctx context.Context, equipeID string) ([]model.Alocacao, error)
	// Apply runs fn serialized per caregiver and persists its result.
	Apply(ctx context.Context, id string, fn TransitionFunc) (model.Alocacao, error)
}

func statusStrings(set []model.Status) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}
