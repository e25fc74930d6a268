package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LeventeLantos/careops/internal/allocation"
	"github.com/LeventeLantos/careops/internal/breaker"
	"github.com/LeventeLantos/careops/internal/model"
	"github.com/LeventeLantos/careops/internal/outbox"
	"github.com/LeventeLantos/careops/internal/scheduler"
	"github.com/LeventeLantos/careops/internal/templates"
)

type OutboxService interface {
	EnqueueText(ctx context.Context, job outbox.TextJob) (outbox.EnqueueResult, error)
	EnqueueDocument(ctx context.Context, job outbox.DocumentJob) (outbox.EnqueueResult, error)
	Get(ctx context.Context, id int64) (model.QueueItem, error)
	List(ctx context.Context, f model.QueueFilter) ([]model.QueueItem, error)
	Lookup(ctx context.Context, term string) ([]model.QueueItem, error)
	Cancel(ctx context.Context, id int64) (model.QueueItem, error)
	Retry(ctx context.Context, id int64) (model.QueueItem, error)
}

type Dispatcher interface {
	ProcessOnce(ctx context.Context, limit int) (outbox.Result, error)
	Breaker() *breaker.Breaker
}

type AllocationService interface {
	Iniciar(ctx context.Context, req allocation.IniciarRequest) (allocation.IniciarResultado, error)
	Get(ctx context.Context, id string) (model.Alocacao, error)
	ListByEquipe(ctx context.Context, equipeID string) ([]model.Alocacao, error)
	Aplicar(ctx context.Context, id string, acao allocation.Acao) (model.Alocacao, error)
}

type WorkerScheduler interface {
	Start() bool
	Stop() bool
	IsRunning() bool
	Status() scheduler.Status
}

var (
	_ OutboxService     = (*outbox.Service)(nil)
	_ Dispatcher        = (*outbox.Worker)(nil)
	_ AllocationService = (*allocation.Service)(nil)
	_ WorkerScheduler   = (*scheduler.Scheduler)(nil)
)

type Handler struct {
	outbox    OutboxService
	worker    Dispatcher
	alloc     AllocationService
	sched     WorkerScheduler
	batchSize int
	log       *slog.Logger
}

// NewHandler wires the API. batchSize bounds the synchronous pass run after
// each enqueue and by POST /v1/worker/run.
func NewHandler(o OutboxService, w Dispatcher, a AllocationService, s WorkerScheduler, batchSize int, log *slog.Logger) *Handler {
	if batchSize <= 0 {
		batchSize = 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{outbox: o, worker: w, alloc: a, sched: s, batchSize: batchSize, log: log}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type workerStatus struct {
	Running   bool             `json:"running"`
	Scheduler scheduler.Status `json:"scheduler"`
	Breaker   breaker.Snapshot `json:"breaker"`
}

func (h *Handler) workerStatus() workerStatus {
	return workerStatus{
		Running:   h.sched.IsRunning(),
		Scheduler: h.sched.Status(),
		Breaker:   h.worker.Breaker().Snapshot(),
	}
}

func (h *Handler) WorkerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workerStatus())
}

func (h *Handler) WorkerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.workerStatus())
}

func (h *Handler) WorkerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.workerStatus())
}

func (h *Handler) WorkerRun(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), h.batchSize)
	res, err := h.worker.ProcessOnce(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type textRequest struct {
	Phone          string         `json:"phone"`
	Message        string         `json:"message"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	ScheduledAt    *time.Time     `json:"scheduledAt,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (h *Handler) EnqueueText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.outbox.EnqueueText(r.Context(), outbox.TextJob{
		Phone:          req.Phone,
		Message:        req.Message,
		IdempotencyKey: req.IdempotencyKey,
		ScheduledAt:    req.ScheduledAt,
		Context:        req.Context,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondEnqueued(w, r, res)
}

type documentRequest struct {
	Phone          string         `json:"phone"`
	OrcamentoID    string         `json:"orcamentoId"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Template       string         `json:"template,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
	ScheduledAt    *time.Time     `json:"scheduledAt,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (h *Handler) EnqueueDocument(kind model.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req documentRequest
		if err := decodeBody(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}

		res, err := h.outbox.EnqueueDocument(r.Context(), outbox.DocumentJob{
			Kind:           kind,
			Phone:          req.Phone,
			OrcamentoID:    req.OrcamentoID,
			Template:       req.Template,
			Variables:      req.Variables,
			IdempotencyKey: req.IdempotencyKey,
			ScheduledAt:    req.ScheduledAt,
			Context:        req.Context,
			Metadata:       req.Metadata,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.respondEnqueued(w, r, res)
	}
}

// respondEnqueued runs one dispatch pass so the caller sees the item's
// current status. Bridge failures only show up as that status.
func (h *Handler) respondEnqueued(w http.ResponseWriter, r *http.Request, res outbox.EnqueueResult) {
	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}

	if res.Status.In(model.Dispatchable) {
		if _, err := h.worker.ProcessOnce(r.Context(), h.batchSize); err != nil {
			h.log.WarnContext(r.Context(), "synchronous dispatch pass failed", "queue_item_id", res.QueueItemID, "error", err)
		}
		if it, err := h.outbox.Get(r.Context(), res.QueueItemID); err == nil {
			res.Status = it.Status
			res.ProviderMessageID = it.ProviderMessageID
		}
	}
	writeJSON(w, status, res)
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.outbox.List(r.Context(), model.QueueFilter{
		Status: model.Status(q.Get("status")),
		Limit:  parseInt(q.Get("limit"), 50),
		Offset: parseInt(q.Get("offset"), 0),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) LookupQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.outbox.Lookup(r.Context(), r.URL.Query().Get("term"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	h.withQueueItem(w, r, h.outbox.Get)
}

func (h *Handler) CancelQueueItem(w http.ResponseWriter, r *http.Request) {
	h.withQueueItem(w, r, h.outbox.Cancel)
}

func (h *Handler) RetryQueueItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	clone, err := h.outbox.Retry(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}

func (h *Handler) withQueueItem(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (model.QueueItem, error)) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	it, err := fn(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type renderRequest struct {
	Template  string         `json:"template"`
	Variables map[string]any `json:"variables"`
}

type renderResponse struct {
	templates.Result
	Variables []string `json:"variables"`
}

func (h *Handler) RenderTemplate(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderResponse{
		Result:    templates.RenderTemplateContent(req.Template, req.Variables),
		Variables: templates.ListTemplateVariables(req.Template),
	})
}

func (h *Handler) IniciarAlocacao(w http.ResponseWriter, r *http.Request) {
	var req allocation.IniciarRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.alloc.Iniciar(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetAlocacao(w http.ResponseWriter, r *http.Request) {
	a, err := h.alloc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type acaoRequest struct {
	Action allocation.Acao `json:"action"`
}

func (h *Handler) AplicarAcao(w http.ResponseWriter, r *http.Request) {
	var req acaoRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.alloc.Aplicar(r.Context(), chi.URLParam(r, "id"), req.Action)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) ListAlocacoesEquipe(w http.ResponseWriter, r *http.Request) {
	items, err := h.alloc.ListByEquipe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
