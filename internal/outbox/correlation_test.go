package outbox

import (
	"reflect"
	"testing"
)

func TestBuildQueueCorrelationTerms_Dedup(t *testing.T) {
	t.Parallel()

	got := BuildQueueCorrelationTerms(CorrelationInput{
		QueueItemID:       strPtr("qi_123"),
		InternalMessageID: strPtr("im_123"),
		IdempotencyKey:    strPtr("idem_123"),
		ProviderMessageID: strPtr("wa_123"),
		ResolvedMessageID: strPtr("wa_123"),
		Phone:             strPtr("5511999999999"),
		JID:               strPtr("5511999999999@s.whatsapp.net"),
	})

	want := []string{"qi_123", "im_123", "idem_123", "wa_123", "5511999999999", "5511999999999@s.whatsapp.net"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestBuildQueueCorrelationTerms_Filtering(t *testing.T) {
	t.Parallel()

	got := BuildQueueCorrelationTerms(CorrelationInput{
		QueueItemID:       strPtr("  "),
		ProviderMessageID: strPtr("  wa_987  "),
		Phone:             strPtr("123"),
	})

	if !reflect.DeepEqual(got, []string{"wa_987"}) {
		t.Fatalf("expected [wa_987], got %v", got)
	}

	if got := BuildQueueCorrelationTerms(CorrelationInput{}); len(got) != 0 {
		t.Fatalf("expected no terms for empty input, got %v", got)
	}
}
