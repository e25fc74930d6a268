package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/LeventeLantos/careops/internal/cache"
	"github.com/LeventeLantos/careops/internal/events"
)

var testNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type recordingCache struct {
	mu      sync.Mutex
	indexed map[string][]int64
}

var _ cache.MessageCache = (*recordingCache)(nil)

func newRecordingCache() *recordingCache {
	return &recordingCache{indexed: map[string][]int64{}}
}

func (c *recordingCache) IndexTerms(ctx context.Context, id int64, terms []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, term := range terms {
		if !slices.Contains(c.indexed[term], id) {
			c.indexed[term] = append(c.indexed[term], id)
		}
	}
	return nil
}

func (c *recordingCache) Lookup(ctx context.Context, term string) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := slices.Clone(c.indexed[term])
	slices.Sort(ids)
	slices.Reverse(ids)
	return ids, nil
}

// only returns the single id indexed under term, or 0.
func (c *recordingCache) only(term string) int64 {
	ids, _ := c.Lookup(context.Background(), term)
	if len(ids) != 1 {
		return 0
	}
	return ids[0]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DeliveryEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.DeliveryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) all() []events.DeliveryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.DeliveryEvent(nil), p.events...)
}
