package outbox

import "strings"

const minCorrelationTermLen = 4

// CorrelationInput holds every identifier a message can be looked up by.
// Nil and blank fields are ignored.
type CorrelationInput struct {
	QueueItemID       *string
	InternalMessageID *string
	IdempotencyKey    *string
	ProviderMessageID *string
	ResolvedMessageID *string
	Phone             *string
	JID               *string
}

// BuildQueueCorrelationTerms returns trimmed, de-duplicated terms in
// first-seen order, dropping anything shorter than four characters.
func BuildQueueCorrelationTerms(in CorrelationInput) []string {
	candidates := []*string{
		in.QueueItemID,
		in.InternalMessageID,
		in.IdempotencyKey,
		in.ProviderMessageID,
		in.ResolvedMessageID,
		in.Phone,
		in.JID,
	}

	seen := make(map[string]struct{}, len(candidates))
	terms := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == nil {
			continue
		}
		term := strings.TrimSpace(*c)
		if len(term) < minCorrelationTermLen {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

func strPtr(s string) *string {
	return &s
}
