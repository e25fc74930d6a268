package allocation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/LeventeLantos/careops/internal/apperr"
	"github.com/LeventeLantos/careops/internal/model"
	"github.com/LeventeLantos/careops/internal/repo"
)

type IniciarRequest struct {
	EquipeID     string             `json:"equipeId"`
	PacienteID   string             `json:"pacienteId"`
	Modo         model.ModoAlocacao `json:"modo"`
	HorasDiarias int                `json:"horasDiarias"`
	DuracaoDias  int                `json:"duracaoDias"`
	Inicio       *time.Time         `json:"inicio,omitempty"`
	Cuidadores   []model.Cuidador   `json:"cuidadores"`
}

// IniciarResultado carries Alocacoes for IMPOSITIVA and open Slots for ESCOLHA.
type IniciarResultado struct {
	Modo             model.ModoAlocacao `json:"modo"`
	Equipe           model.Equipe       `json:"equipe"`
	Alocacoes        []model.Alocacao   `json:"alocacoes"`
	PendenteFeedback int                `json:"pendenteFeedback"`
	NaoAtribuidos    []model.Slot       `json:"naoAtribuidos,omitempty"`
	Slots            []model.Slot       `json:"slots,omitempty"`
}

type Service struct {
	repo   repo.AllocationRepository
	log    *slog.Logger
	now    func() time.Time
	engine []Option
}

type ServiceOption func(*Service)

func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithEngineOptions forwards options to every imposed run.
func WithEngineOptions(opts ...Option) ServiceOption {
	return func(s *Service) { s.engine = append(s.engine, opts...) }
}

func NewService(r repo.AllocationRepository, opts ...ServiceOption) *Service {
	s := &Service{
		repo: r,
		log:  slog.Default(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Iniciar builds the equipe's slots and either assigns caregivers (IMPOSITIVA,
// persisted) or returns the open slots (ESCOLHA, nothing stored). A missing
// inicio starts the plan at the next UTC midnight.
func (s *Service) Iniciar(ctx context.Context, req IniciarRequest) (IniciarResultado, error) {
	if !req.Modo.Valid() {
		return IniciarResultado{}, apperr.Validation("invalid_modo", "modo must be IMPOSITIVA or ESCOLHA, got %q", req.Modo)
	}
	if req.PacienteID == "" {
		return IniciarResultado{}, apperr.Validation("missing_paciente_id", "pacienteId is required")
	}
	if err := validarCuidadores(req.Cuidadores); err != nil {
		return IniciarResultado{}, err
	}

	inicio := s.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	if req.Inicio != nil {
		inicio = *req.Inicio
	}

	slots, err := GerarSlots(req.EquipeID, inicio, req.DuracaoDias, req.HorasDiarias)
	if err != nil {
		return IniciarResultado{}, err
	}

	equipe := model.Equipe{
		ID:           req.EquipeID,
		PacienteID:   req.PacienteID,
		DuracaoDias:  req.DuracaoDias,
		HorasDiarias: req.HorasDiarias,
		Inicio:       inicio,
		Slots:        slots,
		ModoAlocacao: req.Modo,
		Status:       model.EquipeMontando,
	}

	existing, err := s.repo.ListByEquipe(ctx, equipe.ID)
	if err != nil {
		return IniciarResultado{}, apperr.Internal(err, "list alocacoes for equipe %s", equipe.ID)
	}
	pendentes := marcarExistentes(equipe.Slots, existing, req.Modo)

	if req.Modo == model.ModoEscolha {
		open := InicializarSlotsParaEscolha(equipe)
		s.log.Info("allocation opened for choice", "equipe_id", equipe.ID, "slots", len(open))
		return IniciarResultado{Modo: req.Modo, Equipe: equipe, Slots: open}, nil
	}

	opts := append([]Option{WithClock(s.now)}, s.engine...)
	res := ExecutarAlocacaoImpositiva(equipe, req.Cuidadores, opts...)
	equipe.Slots = res.Slots

	superseded := substituidas(pendentes, res.Alocacoes, s.now().UTC())
	batch := append(append([]model.Alocacao(nil), res.Alocacoes...), superseded...)
	if err := s.repo.SaveAll(ctx, batch); err != nil {
		return IniciarResultado{}, apperr.Internal(err, "save alocacoes for equipe %s", equipe.ID)
	}

	s.log.Info("imposed allocation completed",
		"equipe_id", equipe.ID,
		"slots", len(res.Slots),
		"assigned", len(res.Alocacoes),
		"unassigned", len(res.NaoAtribuidos),
		"superseded", len(superseded),
	)
	return IniciarResultado{
		Modo:             req.Modo,
		Equipe:           equipe,
		Alocacoes:        res.Alocacoes,
		PendenteFeedback: len(res.Alocacoes),
		NaoAtribuidos:    res.NaoAtribuidos,
	}, nil
}

// marcarExistentes marks slots that already have an answered Alocacao as
// CONFIRMADO so no run offers them again. Pending offers keep their slot open
// for an imposed re-run and are returned so they can be superseded; in choice
// mode their slot shows PENDENTE_FEEDBACK.
func marcarExistentes(slots []model.Slot, existing []model.Alocacao, modo model.ModoAlocacao) []model.Alocacao {
	byID := make(map[string]*model.Slot, len(slots))
	for i := range slots {
		byID[slots[i].ID] = &slots[i]
	}

	var pendentes []model.Alocacao
	for _, a := range existing {
		slot, ok := byID[a.SlotID]
		if !ok {
			continue
		}
		switch a.Status {
		case model.AlocacaoCancelado:
		case model.AlocacaoPendenteFeedback:
			pendentes = append(pendentes, a)
			if modo == model.ModoEscolha && slot.Estado != model.SlotConfirmado {
				slot.Estado = model.SlotPendenteFeedback
			}
		default:
			slot.Estado = model.SlotConfirmado
		}
	}
	return pendentes
}

// substituidas cancels pending offers the new run did not reproduce, so each
// slot carries at most one open offer.
func substituidas(pendentes, novas []model.Alocacao, now time.Time) []model.Alocacao {
	kept := make(map[string]struct{}, len(novas))
	for _, a := range novas {
		kept[a.ID] = struct{}{}
	}
	var out []model.Alocacao
	for _, p := range pendentes {
		if _, ok := kept[p.ID]; ok {
			continue
		}
		p.Status = model.AlocacaoCancelado
		p.AtualizadoEm = now
		out = append(out, p)
	}
	return out
}

func (s *Service) Get(ctx context.Context, id string) (model.Alocacao, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Alocacao{}, mapRepoErr(err, id)
	}
	return a, nil
}

func (s *Service) ListByEquipe(ctx context.Context, equipeID string) ([]model.Alocacao, error) {
	out, err := s.repo.ListByEquipe(ctx, equipeID)
	if err != nil {
		return nil, apperr.Internal(err, "list alocacoes for equipe %s", equipeID)
	}
	return out, nil
}

// Aplicar applies acao under the repository's per-caregiver lock.
func (s *Service) Aplicar(ctx context.Context, id string, acao Acao) (model.Alocacao, error) {
	if !acao.Valid() {
		return model.Alocacao{}, apperr.Validation("invalid_action", "unknown action %q", acao)
	}

	a, err := s.repo.Apply(ctx, id, func(cur model.Alocacao, holding []model.Alocacao) (model.Alocacao, error) {
		return AplicarAcao(cur, acao, holding, s.now())
	})
	if err != nil {
		return model.Alocacao{}, mapRepoErr(err, id)
	}

	s.log.Info("alocacao updated", "alocacao_id", a.ID, "cuidador_id", a.CuidadorID, "action", acao, "status", a.Status)
	return a, nil
}

func validarCuidadores(cs []model.Cuidador) error {
	seen := make(map[string]struct{}, len(cs))
	for i, c := range cs {
		if c.ID == "" {
			return apperr.Validation("invalid_cuidador", "cuidadores[%d].id is required", i)
		}
		if _, dup := seen[c.ID]; dup {
			return apperr.Validation("invalid_cuidador", "cuidador %s listed twice", c.ID)
		}
		seen[c.ID] = struct{}{}
		for _, d := range c.Disponibilidade {
			if d.DiaSemana < time.Sunday || d.DiaSemana > time.Saturday {
				return apperr.Validation("invalid_disponibilidade", "cuidador %s: diaSemana must be 0..6", c.ID)
			}
			if !validTurno(d.Turno) {
				return apperr.Validation("invalid_disponibilidade", "cuidador %s: unknown turno %q", c.ID, d.Turno)
			}
		}
	}
	return nil
}

func validTurno(t model.Turno) bool {
	switch t {
	case model.TurnoIntegral, model.TurnoDiurno, model.TurnoNoturno,
		model.TurnoMadrugada, model.TurnoManha, model.TurnoTarde, model.TurnoNoite:
		return true
	}
	return false
}

func mapRepoErr(err error, id string) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return err
	case errors.Is(err, repo.ErrNotFound):
		return apperr.NotFound("alocacao_not_found", "alocacao %s not found", id)
	default:
		return apperr.Internal(err, "alocacao %s", id)
	}
}
