package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LeventeLantos/careops/internal/model"
)

func Router(h *Handler, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(log))
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/worker/status", h.WorkerStatus)
		r.Post("/worker/start", h.WorkerStart)
		r.Post("/worker/stop", h.WorkerStop)
		r.Post("/worker/run", h.WorkerRun)

		r.Post("/outbox/text", h.EnqueueText)
		r.Post("/outbox/proposta", h.EnqueueDocument(model.JobProposta))
		r.Post("/outbox/contrato", h.EnqueueDocument(model.JobContrato))

		r.Get("/queue", h.ListQueue)
		r.Get("/queue/lookup", h.LookupQueue)
		r.Get("/queue/{id}", h.GetQueueItem)
		r.Post("/queue/{id}/cancel", h.CancelQueueItem)
		r.Post("/queue/{id}/retry", h.RetryQueueItem)

		r.Post("/templates/render", h.RenderTemplate)

		r.Post("/alocacao/iniciar", h.IniciarAlocacao)
		r.Get("/alocacoes/{id}", h.GetAlocacao)
		r.Patch("/alocacoes/{id}", h.AplicarAcao)
		r.Get("/equipes/{id}/alocacoes", h.ListAlocacoesEquipe)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("careops"))
	})

	return r
}
