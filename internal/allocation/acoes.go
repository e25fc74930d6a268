package allocation

import (
	"time"

	"github.com/LeventeLantos/careops/internal/apperr"
	"github.com/LeventeLantos/careops/internal/model"
)

type Acao string

const (
	AcaoConfirmar    Acao = "confirmar"
	AcaoConfirmarT24 Acao = "confirmar_t24"
	AcaoConfirmarT2  Acao = "confirmar_t2"
	AcaoConcluir     Acao = "concluir"
	AcaoCancelar     Acao = "cancelar"
)

func (a Acao) Valid() bool {
	switch a {
	case AcaoConfirmar, AcaoConfirmarT24, AcaoConfirmarT2, AcaoConcluir, AcaoCancelar:
		return true
	}
	return false
}

// AplicarAcao returns a with the action applied. holding holds the
// caregiver's other CONFIRMADO/EM_ANDAMENTO allocations; confirming a window
// that overlaps one of them is a conflict.
func AplicarAcao(a model.Alocacao, acao Acao, holding []model.Alocacao, now time.Time) (model.Alocacao, error) {
	if !acao.Valid() {
		return a, apperr.Validation("invalid_action", "unknown action %q", acao)
	}
	if a.Status.Terminal() {
		return a, apperr.Conflict("alocacao_terminal", "alocacao %s is %s", a.ID, a.Status)
	}

	now = now.UTC()
	switch acao {
	case AcaoConfirmar:
		if a.Status != model.AlocacaoPendenteFeedback {
			return a, illegal(a, acao)
		}
		for _, h := range holding {
			if h.Inicio.Before(a.Fim) && a.Inicio.Before(h.Fim) {
				return a, apperr.Conflict("cuidador_overlap",
					"cuidador %s already holds alocacao %s in this window", a.CuidadorID, h.ID)
			}
		}
		a.Status = model.AlocacaoConfirmado
		a.RespondidoEm = &now

	case AcaoConfirmarT24:
		if a.Status != model.AlocacaoConfirmado {
			return a, illegal(a, acao)
		}
		a.ConfirmadoT24 = &now

	case AcaoConfirmarT2:
		if a.Status != model.AlocacaoConfirmado {
			return a, illegal(a, acao)
		}
		a.Status = model.AlocacaoEmAndamento
		a.ConfirmadoT2 = &now

	case AcaoConcluir:
		if !a.Status.Holding() {
			return a, illegal(a, acao)
		}
		a.Status = model.AlocacaoConcluido

	case AcaoCancelar:
		a.Status = model.AlocacaoCancelado
	}

	a.AtualizadoEm = now
	return a, nil
}

func illegal(a model.Alocacao, acao Acao) error {
	return apperr.Conflict("invalid_transition", "cannot %s alocacao %s in status %s", acao, a.ID, a.Status)
}
