package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/LeventeLantos/careops/internal/apperr"
	"github.com/LeventeLantos/careops/internal/cache"
	"github.com/LeventeLantos/careops/internal/model"
	"github.com/LeventeLantos/careops/internal/repo"
	"github.com/LeventeLantos/careops/internal/templates"
)

var DefaultTemplates = map[model.JobKind]string{
	model.JobProposta: "Ola! Segue a sua proposta de atendimento (orcamento {{orcamentoId}}): {{linkProposta}}",
	model.JobContrato: "Ola! Seu contrato (orcamento {{orcamentoId}}) esta disponivel para assinatura: {{linkContrato}}",
}

type TextJob struct {
	Phone          string
	Message        string
	IdempotencyKey string
	ScheduledAt    *time.Time
	Context        map[string]any
	Metadata       map[string]any
}

type DocumentJob struct {
	Kind           model.JobKind
	Phone          string
	OrcamentoID    string
	Template       string
	Variables      map[string]any
	IdempotencyKey string
	ScheduledAt    *time.Time
	Context        map[string]any
	Metadata       map[string]any
}

type EnqueueResult struct {
	QueueItemID       int64        `json:"queueItemId"`
	InternalMessageID string       `json:"internalMessageId"`
	Status            model.Status `json:"status"`
	ProviderMessageID *string      `json:"providerMessageId"`
	Duplicate         bool         `json:"duplicate"`
}

func resultOf(it model.QueueItem, duplicate bool) EnqueueResult {
	return EnqueueResult{
		QueueItemID:       it.ID,
		InternalMessageID: it.InternalMessageID,
		Status:            it.Status,
		ProviderMessageID: it.ProviderMessageID,
		Duplicate:         duplicate,
	}
}

// DefaultContentMax is the WhatsApp text body limit in characters.
const DefaultContentMax = 4096

const lookupLimit = 20

type Service struct {
	repo       repo.QueueRepository
	cache      cache.MessageCache
	log        *slog.Logger
	now        func() time.Time
	baseURL    string
	contentMax int
}

type ServiceOption func(*Service)

func WithCache(c cache.MessageCache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithPublicBaseURL sets the prefix used to build document links.
func WithPublicBaseURL(u string) ServiceOption {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithContentMax bounds the rendered message length; n <= 0 keeps the default.
func WithContentMax(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.contentMax = n
		}
	}
}

func NewService(r repo.QueueRepository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:       r,
		cache:      cache.Nop{},
		log:        slog.Default(),
		now:        time.Now,
		baseURL:    "http://localhost:8080",
		contentMax: DefaultContentMax,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) EnqueueText(ctx context.Context, job TextJob) (EnqueueResult, error) {
	if strings.TrimSpace(job.Message) == "" {
		return EnqueueResult{}, apperr.Validation("empty_message", "message must not be empty")
	}
	return s.enqueue(ctx, enqueueArgs{
		kind:        model.JobText,
		phone:       job.Phone,
		key:         job.IdempotencyKey,
		scheduledAt: job.ScheduledAt,
		meta:        model.PayloadMeta{Context: job.Context, Metadata: job.Metadata},
		build: func(p *model.Payload) {
			p.Text = &model.TextContent{Message: job.Message}
		},
		message: job.Message,
	})
}

// EnqueueDocument renders the per-kind template and queues the link message.
// Unresolved placeholders reject the job.
func (s *Service) EnqueueDocument(ctx context.Context, job DocumentJob) (EnqueueResult, error) {
	if !job.Kind.IsDocument() {
		return EnqueueResult{}, apperr.Validation("invalid_kind", "unsupported document kind %q", job.Kind)
	}
	if strings.TrimSpace(job.OrcamentoID) == "" {
		return EnqueueResult{}, apperr.Validation("missing_orcamento", "orcamentoId is required")
	}

	tmpl := job.Template
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplates[job.Kind]
	}

	link := fmt.Sprintf("%s/orcamentos/%s/%s", s.baseURL, job.OrcamentoID, job.Kind)
	vars := map[string]any{
		"orcamentoId": job.OrcamentoID,
		"link":        link,
	}
	if job.Kind == model.JobProposta {
		vars["linkProposta"] = link
	} else {
		vars["linkContrato"] = link
	}
	for k, v := range job.Variables {
		vars[k] = v
	}

	res := templates.RenderTemplateContent(tmpl, vars)
	if len(res.MissingVariables) > 0 {
		return EnqueueResult{}, apperr.Validation("missing_template_variables",
			"template variables without value: %s", strings.Join(res.MissingVariables, ", "))
	}

	return s.enqueue(ctx, enqueueArgs{
		kind:        job.Kind,
		phone:       job.Phone,
		key:         job.IdempotencyKey,
		scheduledAt: job.ScheduledAt,
		meta:        model.PayloadMeta{Context: job.Context, Metadata: job.Metadata},
		build: func(p *model.Payload) {
			p.Document = &model.DocumentContent{
				OrcamentoID: job.OrcamentoID,
				DocumentURL: link,
				Message:     res.Rendered,
			}
		},
		message: res.Rendered,
	})
}

type enqueueArgs struct {
	kind        model.JobKind
	phone       string
	key         string
	scheduledAt *time.Time
	meta        model.PayloadMeta
	build       func(*model.Payload)
	message     string
}

func (s *Service) enqueue(ctx context.Context, args enqueueArgs) (EnqueueResult, error) {
	phone, err := NormalizePhoneBR(args.phone)
	if err != nil {
		return EnqueueResult{}, err
	}
	if n := utf8.RuneCountInString(args.message); n > s.contentMax {
		return EnqueueResult{}, apperr.Validation("content_too_long", "message has %d chars, limit is %d", n, s.contentMax)
	}

	key := strings.TrimSpace(args.key)
	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, key)
		switch {
		case err == nil:
			s.log.Info("enqueue deduplicated", "idempotency_key", key, "queue_item_id", existing.ID)
			return resultOf(existing, true), nil
		case !errors.Is(err, repo.ErrNotFound):
			return EnqueueResult{}, apperr.Internal(err, "lookup idempotency key")
		}
	} else {
		key = fmt.Sprintf("%s_%s", args.kind, uuid.NewString())
	}

	now := s.now().UTC()
	scheduledAt := now
	if args.scheduledAt != nil && !args.scheduledAt.IsZero() {
		scheduledAt = args.scheduledAt.UTC()
	}

	meta := args.meta
	meta.IdempotencyKey = key
	meta.InternalMessageID = "im_" + uuid.NewString()
	meta.ContentHash = contentHash(args.kind, phone, args.message)

	payload := model.Payload{Kind: args.kind, Meta: meta}
	args.build(&payload)
	if err := payload.Validate(); err != nil {
		return EnqueueResult{}, apperr.Validation("invalid_payload", "%v", err)
	}

	item := &model.QueueItem{
		Phone:             phone,
		Payload:           payload,
		Status:            model.Pending,
		ScheduledAt:       &scheduledAt,
		IdempotencyKey:    key,
		InternalMessageID: meta.InternalMessageID,
	}

	if err := s.repo.Create(ctx, item); err != nil {
		if !errors.Is(err, repo.ErrDuplicateKey) {
			return EnqueueResult{}, apperr.Internal(err, "insert queue item")
		}
		// Lost a race with a concurrent enqueue of the same key.
		existing, ferr := s.repo.FindByIdempotencyKey(ctx, key)
		if ferr != nil {
			return EnqueueResult{}, apperr.Internal(ferr, "reload queue item after duplicate key")
		}
		return resultOf(existing, true), nil
	}

	s.index(ctx, *item)
	s.log.Info("enqueued",
		"queue_item_id", item.ID,
		"kind", args.kind,
		"internal_message_id", item.InternalMessageID,
		"scheduled_at", scheduledAt,
	)
	return resultOf(*item, false), nil
}

func (s *Service) Get(ctx context.Context, id int64) (model.QueueItem, error) {
	it, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return model.QueueItem{}, apperr.NotFound("queue_item_not_found", "queue item %d not found", id)
	}
	if err != nil {
		return model.QueueItem{}, apperr.Internal(err, "load queue item %d", id)
	}
	return it, nil
}

func (s *Service) List(ctx context.Context, f model.QueueFilter) ([]model.QueueItem, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("invalid_status", "unknown status %q", f.Status)
	}
	items, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "list queue items")
	}
	return items, nil
}

// Lookup resolves any correlation term to queue items, newest first. The
// cache index is consulted before falling back to storage.
func (s *Service) Lookup(ctx context.Context, term string) ([]model.QueueItem, error) {
	term = strings.TrimSpace(term)
	if len(term) < minCorrelationTermLen {
		return nil, apperr.Validation("invalid_term", "term must have at least %d characters", minCorrelationTermLen)
	}

	ids, err := s.cache.Lookup(ctx, term)
	if err != nil {
		s.log.Warn("correlation cache lookup failed", "term", term, "error", err)
	}
	if len(ids) > lookupLimit {
		ids = ids[:lookupLimit]
	}
	var items []model.QueueItem
	for _, id := range ids {
		it, err := s.repo.FindByID(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Internal(err, "load queue item %d", id)
		}
		items = append(items, it)
	}
	if len(items) > 0 {
		return items, nil
	}

	items, err = s.repo.Search(ctx, strings.TrimSuffix(term, whatsappJIDSuffix), lookupLimit)
	if err != nil {
		return nil, apperr.Internal(err, "search queue items")
	}
	return items, nil
}

func (s *Service) Cancel(ctx context.Context, id int64) (model.QueueItem, error) {
	it, err := s.repo.Transition(ctx, id, model.Cancelable, model.Canceled)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return model.QueueItem{}, apperr.NotFound("queue_item_not_found", "queue item %d not found", id)
	case errors.Is(err, repo.ErrStatusConflict):
		return model.QueueItem{}, apperr.Conflict("not_cancelable", "queue item %d cannot be canceled in its current status", id)
	case err != nil:
		return model.QueueItem{}, apperr.Internal(err, "cancel queue item %d", id)
	}
	s.log.Info("queue item canceled", "queue_item_id", id)
	return it, nil
}

// Retry clones a dead or failed item into a fresh pending row. The original
// is left untouched for audit.
func (s *Service) Retry(ctx context.Context, id int64) (model.QueueItem, error) {
	orig, err := s.Get(ctx, id)
	if err != nil {
		return model.QueueItem{}, err
	}
	if !orig.Status.In(model.Retryable) {
		return model.QueueItem{}, apperr.Conflict("not_retryable", "queue item %d is %s; only dead or failed items can be retried", id, orig.Status)
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	now := s.now().UTC()

	payload := orig.Payload
	payload.Meta.IdempotencyKey = fmt.Sprintf("%s:retry:%s", orig.IdempotencyKey, suffix)
	payload.Meta.InternalMessageID = fmt.Sprintf("%s-r%s", orig.InternalMessageID, suffix)
	retryOf := orig.ID
	payload.Meta.RetryOf = &retryOf

	clone := &model.QueueItem{
		Phone:             orig.Phone,
		Payload:           payload,
		Status:            model.Pending,
		ScheduledAt:       &now,
		IdempotencyKey:    payload.Meta.IdempotencyKey,
		InternalMessageID: payload.Meta.InternalMessageID,
	}
	if err := s.repo.Create(ctx, clone); err != nil {
		return model.QueueItem{}, apperr.Internal(err, "insert retry of queue item %d", id)
	}

	s.index(ctx, *clone)
	s.log.Info("queue item retried", "queue_item_id", clone.ID, "retry_of", id)
	return *clone, nil
}

func (s *Service) index(ctx context.Context, it model.QueueItem) {
	terms := BuildQueueCorrelationTerms(correlationOf(it))
	if err := s.cache.IndexTerms(ctx, it.ID, terms); err != nil {
		s.log.Warn("correlation index failed", "queue_item_id", it.ID, "error", err)
	}
}

func correlationOf(it model.QueueItem) CorrelationInput {
	in := CorrelationInput{
		QueueItemID:       strPtr(strconv.FormatInt(it.ID, 10)),
		InternalMessageID: strPtr(it.InternalMessageID),
		IdempotencyKey:    strPtr(it.IdempotencyKey),
		ProviderMessageID: it.ProviderMessageID,
		Phone:             strPtr(it.Phone),
	}
	if it.Phone != "" {
		in.JID = strPtr(PhoneJID(it.Phone))
	}
	return in
}

func contentHash(kind model.JobKind, phone, message string) string {
	d := xxhash.New()
	_, _ = d.WriteString(string(kind))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(phone)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(message)
	return strconv.FormatUint(d.Sum64(), 16)
}
