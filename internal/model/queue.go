package model

import "time"

type Status string

const (
	Pending  Status = "pending"
	Sending  Status = "sending"
	Sent     Status = "sent"
	Retrying Status = "retrying"
	Failed   Status = "failed"
	Dead     Status = "dead"
	Canceled Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case Pending, Sending, Sent, Retrying, Failed, Dead, Canceled:
		return true
	}
	return false
}

// Cancelable lists the statuses an admin may cancel from.
var Cancelable = []Status{Dead, Failed, Pending, Retrying, Canceled}

// Retryable lists the statuses an admin may clone into a new pending item.
var Retryable = []Status{Dead, Failed}

// Dispatchable lists the statuses the worker may claim.
var Dispatchable = []Status{Pending, Retrying}

func (s Status) In(set []Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

type QueueItem struct {
	ID                int64      `json:"id"`
	Phone             string     `json:"phone"`
	Payload           Payload    `json:"payload"`
	Status            Status     `json:"status"`
	Retries           int        `json:"retries"`
	Error             *string    `json:"error,omitempty"`
	ScheduledAt       *time.Time `json:"scheduledAt,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	LastAttemptAt     *time.Time `json:"lastAttemptAt,omitempty"`
	IdempotencyKey    string     `json:"idempotencyKey"`
	InternalMessageID string     `json:"internalMessageId"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// DueAt treats a nil schedule as immediately due.
func (q QueueItem) DueAt() time.Time {
	if q.ScheduledAt == nil {
		return q.CreatedAt
	}
	return *q.ScheduledAt
}

type QueueFilter struct {
	Status Status
	Limit  int
	Offset int
}
