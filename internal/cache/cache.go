package cache

import "context"

// MessageCache indexes correlation terms so admins can find queue items from
// any identifier seen in logs or provider callbacks. A term such as a phone
// number may map to many items.
type MessageCache interface {
	IndexTerms(ctx context.Context, queueItemID int64, terms []string) error
	// Lookup returns the queue item ids indexed under term, newest first.
	Lookup(ctx context.Context, term string) ([]int64, error)
}

// Nop is used when Redis is not configured.
type Nop struct{}

func (Nop) IndexTerms(context.Context, int64, []string) error { return nil }
func (Nop) Lookup(context.Context, string) ([]int64, error) { return nil, nil }
