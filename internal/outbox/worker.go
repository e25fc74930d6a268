package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/LeventeLantos/careops/internal/apperr"
	"github.com/LeventeLantos/careops/internal/breaker"
	"github.com/LeventeLantos/careops/internal/cache"
	"github.com/LeventeLantos/careops/internal/client"
	"github.com/LeventeLantos/careops/internal/events"
	"github.com/LeventeLantos/careops/internal/model"
	"github.com/LeventeLantos/careops/internal/repo"
)

type SendClient interface {
	Send(ctx context.Context, phone, message, kind string) (providerMessageID string, err error)
}

type Result struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Worker dispatches due queue items to the bridge. ProcessOnce is safe to
// call concurrently: items are claimed by conditional update, so each claim
// is won by exactly one pass.
type Worker struct {
	repo        repo.QueueRepository
	client      SendClient
	breaker     *breaker.Breaker
	backoff     Backoff
	cache       cache.MessageCache
	publisher   events.Publisher
	limiter     *rate.Limiter
	sendTimeout time.Duration
	log         *slog.Logger
	now         func() time.Time
}

type WorkerOption func(*Worker)

func WithBackoff(b Backoff) WorkerOption {
	return func(w *Worker) { w.backoff = b }
}

func WithWorkerCache(c cache.MessageCache) WorkerOption {
	return func(w *Worker) { w.cache = c }
}

func WithPublisher(p events.Publisher) WorkerOption {
	return func(w *Worker) { w.publisher = p }
}

// WithRateLimit throttles bridge sends; nil disables throttling.
func WithRateLimit(l *rate.Limiter) WorkerOption {
	return func(w *Worker) { w.limiter = l }
}

func WithSendTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.sendTimeout = d }
}

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.log = l }
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(r repo.QueueRepository, c SendClient, b *breaker.Breaker, opts ...WorkerOption) *Worker {
	w := &Worker{
		repo:        r,
		client:      c,
		breaker:     b,
		backoff:     NewBackoff(DefaultMaxRetries),
		cache:       cache.Nop{},
		publisher:   events.Nop{},
		sendTimeout: client.DefaultTimeout,
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.breaker == nil {
		w.breaker = breaker.New(breaker.DefaultConfig())
	}
	return w
}

func (w *Worker) Breaker() *breaker.Breaker {
	return w.breaker
}

// ProcessOnce runs a single dispatch pass over at most limit due items.
// Bridge failures are recorded on the items, never returned.
func (w *Worker) ProcessOnce(ctx context.Context, limit int) (Result, error) {
	var res Result
	if limit <= 0 {
		return res, apperr.Validation("invalid_limit", "limit must be > 0")
	}

	due, err := w.repo.ListDue(ctx, w.now(), limit)
	if err != nil {
		return res, apperr.Internal(err, "list due queue items")
	}

	for i, candidate := range due {
		if ctx.Err() != nil {
			res.Skipped += len(due) - i
			break
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				res.Skipped += len(due) - i
				break
			}
		}
		if !w.breaker.Allow() {
			res.Skipped += len(due) - i
			w.log.Warn("bridge circuit open, ending pass",
				"skipped", len(due)-i,
				"breaker", w.breaker.Snapshot().State,
			)
			break
		}

		item, ok, err := w.repo.Claim(ctx, candidate.ID, w.now())
		if !ok {
			w.breaker.Abandon()
			if err != nil {
				w.log.Error("claim failed", "queue_item_id", candidate.ID, "error", err)
			}
			res.Skipped++
			continue
		}
		res.Processed++

		if err != nil {
			w.breaker.Abandon()
			res.Failed++
			w.markUndeliverable(ctx, item, err)
			continue
		}

		if w.dispatch(ctx, item) {
			res.Sent++
		} else {
			res.Failed++
		}
	}

	if res.Processed > 0 || res.Skipped > 0 {
		w.log.Info("outbox pass completed",
			"processed", res.Processed,
			"sent", res.Sent,
			"failed", res.Failed,
			"skipped", res.Skipped,
		)
	}
	return res, nil
}

func (w *Worker) dispatch(ctx context.Context, item model.QueueItem) bool {
	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	providerID, sendErr := w.client.Send(sendCtx, item.Phone, item.Payload.Message(), string(item.Payload.Kind))
	cancel()

	// Status writes outlive a canceled pass so the claim is never orphaned.
	storeCtx := context.WithoutCancel(ctx)
	now := w.now().UTC()

	if sendErr == nil {
		w.breaker.RecordSuccess()
		if err := w.repo.MarkSent(storeCtx, item.ID, providerID, now); err != nil {
			w.log.Error("mark sent failed", "queue_item_id", item.ID, "provider_message_id", providerID, "error", err)
		}
		item.ProviderMessageID = &providerID
		item.Status = model.Sent
		item.SentAt = &now
		w.afterSent(storeCtx, item)
		return true
	}

	w.breaker.RecordFailure()
	retries := item.Retries + 1
	reason := sendErr.Error()
	if errors.Is(sendErr, context.DeadlineExceeded) {
		reason = "bridge timeout: " + reason
	}

	if w.backoff.ShouldDie(retries) {
		if err := w.repo.MarkDead(storeCtx, item.ID, retries, reason); err != nil {
			w.log.Error("mark dead failed", "queue_item_id", item.ID, "error", err)
		}
		item.Status = model.Dead
		item.Retries = retries
		item.Error = &reason
		w.publish(storeCtx, item)
		w.log.Warn("queue item dead",
			"queue_item_id", item.ID,
			"internal_message_id", item.InternalMessageID,
			"retries", retries,
			"error", reason,
		)
		return false
	}

	next := w.backoff.NextScheduledAt(retries, now)
	if err := w.repo.MarkRetrying(storeCtx, item.ID, retries, reason, next); err != nil {
		w.log.Error("mark retrying failed", "queue_item_id", item.ID, "error", err)
	}
	w.log.Info("queue item scheduled for retry",
		"queue_item_id", item.ID,
		"internal_message_id", item.InternalMessageID,
		"retries", retries,
		"next_attempt_at", next,
		"breaker", w.breaker.Snapshot().State,
		"error", reason,
	)
	return false
}

func (w *Worker) markUndeliverable(ctx context.Context, item model.QueueItem, cause error) {
	reason := cause.Error()
	if err := w.repo.MarkDead(context.WithoutCancel(ctx), item.ID, item.Retries, reason); err != nil {
		w.log.Error("mark dead failed", "queue_item_id", item.ID, "error", err)
	}
	item.Status = model.Dead
	item.Error = &reason
	w.publish(ctx, item)
	w.log.Error("queue item payload undecodable", "queue_item_id", item.ID, "error", reason)
}

func (w *Worker) afterSent(ctx context.Context, item model.QueueItem) {
	terms := BuildQueueCorrelationTerms(correlationOf(item))
	if err := w.cache.IndexTerms(ctx, item.ID, terms); err != nil {
		w.log.Warn("correlation index failed", "queue_item_id", item.ID, "error", err)
	}
	w.publish(ctx, item)
	w.log.Info("queue item sent",
		"queue_item_id", item.ID,
		"internal_message_id", item.InternalMessageID,
		"provider_message_id", *item.ProviderMessageID,
	)
}

func (w *Worker) publish(ctx context.Context, item model.QueueItem) {
	ev := events.DeliveryEvent{
		QueueItemID:       item.ID,
		InternalMessageID: item.InternalMessageID,
		IdempotencyKey:    item.IdempotencyKey,
		Kind:              item.Payload.Kind,
		Status:            item.Status,
		Phone:             item.Phone,
		Retries:           item.Retries,
		OccurredAt:        w.now().UTC(),
	}
	if item.ProviderMessageID != nil {
		ev.ProviderMessageID = *item.ProviderMessageID
	}
	if item.Error != nil {
		ev.Error = *item.Error
	}
	if err := w.publisher.Publish(ctx, ev); err != nil {
		w.log.Warn("delivery event publish failed", "queue_item_id", item.ID, "status", item.Status, "error", err)
	}
}
