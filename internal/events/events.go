// Package events announces terminal delivery outcomes to other services.
package events

import (
	"context"
	"time"

	"github.com/LeventeLantos/careops/internal/model"
)

type DeliveryEvent struct {
	QueueItemID       int64         `json:"queueItemId"`
	InternalMessageID string        `json:"internalMessageId"`
	IdempotencyKey    string        `json:"idempotencyKey"`
	Kind              model.JobKind `json:"kind"`
	Status            model.Status  `json:"status"`
	Phone             string        `json:"phone"`
	ProviderMessageID string        `json:"providerMessageId,omitempty"`
	Retries           int           `json:"retries"`
	Error             string        `json:"error,omitempty"`
	OccurredAt        time.Time     `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, ev DeliveryEvent) error
}

type Nop struct{}

func (Nop) Publish(context.Context, DeliveryEvent) error { return nil }
