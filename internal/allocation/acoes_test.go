package allocation

import (
	"testing"
	"time"

	"github.com/LeventeLantos/careops/internal/apperr"
	"github.com/LeventeLantos/careops/internal/model"
)

func pendente(id string, inicio time.Time) model.Alocacao {
	return model.Alocacao{
		ID:         id,
		CuidadorID: "c_1",
		Inicio:     inicio,
		Fim:        inicio.Add(12 * time.Hour),
		Status:     model.AlocacaoPendenteFeedback,
	}
}

func TestAplicarAcao_FullLifecycle(t *testing.T) {
	t.Parallel()

	now := planStart
	a := pendente("al_1", planStart)

	steps := []struct {
		acao Acao
		want model.AlocacaoStatus
	}{
		{AcaoConfirmar, model.AlocacaoConfirmado},
		{AcaoConfirmarT24, model.AlocacaoConfirmado},
		{AcaoConfirmarT2, model.AlocacaoEmAndamento},
		{AcaoConcluir, model.AlocacaoConcluido},
	}
	for _, st := range steps {
		now = now.Add(time.Hour)
		next, err := AplicarAcao(a, st.acao, nil, now)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", st.acao, err)
		}
		if next.Status != st.want {
			t.Fatalf("%s: expected %s, got %s", st.acao, st.want, next.Status)
		}
		if !next.AtualizadoEm.Equal(now) {
			t.Fatalf("%s: expected atualizadoEm=%v, got %v", st.acao, now, next.AtualizadoEm)
		}
		a = next
	}

	if a.RespondidoEm == nil || a.ConfirmadoT24 == nil || a.ConfirmadoT2 == nil {
		t.Fatalf("expected transition timestamps set, got %+v", a)
	}
	if !a.ConfirmadoT24.Before(*a.ConfirmadoT2) {
		t.Fatalf("expected t24 before t2")
	}
}

func TestAplicarAcao_TerminalRejectsEverything(t *testing.T) {
	t.Parallel()

	for _, status := range []model.AlocacaoStatus{model.AlocacaoConcluido, model.AlocacaoCancelado} {
		a := pendente("al_1", planStart)
		a.Status = status
		for _, acao := range []Acao{AcaoConfirmar, AcaoConfirmarT24, AcaoConfirmarT2, AcaoConcluir, AcaoCancelar} {
			if _, err := AplicarAcao(a, acao, nil, planStart); !apperr.IsConflict(err) {
				t.Fatalf("%s on %s: expected conflict, got %v", acao, status, err)
			}
		}
	}
}

func TestAplicarAcao_CancelFromAnyOpenStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []model.AlocacaoStatus{model.AlocacaoPendenteFeedback, model.AlocacaoConfirmado, model.AlocacaoEmAndamento} {
		a := pendente("al_1", planStart)
		a.Status = status
		next, err := AplicarAcao(a, AcaoCancelar, nil, planStart)
		if err != nil || next.Status != model.AlocacaoCancelado {
			t.Fatalf("cancel from %s: expected CANCELADO, got %s (%v)", status, next.Status, err)
		}
	}
}

func TestAplicarAcao_OutOfOrder(t *testing.T) {
	t.Parallel()

	a := pendente("al_1", planStart)
	for _, acao := range []Acao{AcaoConfirmarT24, AcaoConfirmarT2, AcaoConcluir} {
		_, err := AplicarAcao(a, acao, nil, planStart)
		if !apperr.IsConflict(err) || apperr.CodeOf(err) != "invalid_transition" {
			t.Fatalf("%s on pending: expected invalid_transition, got %v", acao, err)
		}
	}
}

func TestAplicarAcao_ConfirmRejectsOverlap(t *testing.T) {
	t.Parallel()

	held := pendente("al_other", planStart.Add(6*time.Hour))
	held.Status = model.AlocacaoConfirmado

	_, err := AplicarAcao(pendente("al_1", planStart), AcaoConfirmar, []model.Alocacao{held}, planStart)
	if !apperr.IsConflict(err) || apperr.CodeOf(err) != "cuidador_overlap" {
		t.Fatalf("expected cuidador_overlap, got %v", err)
	}

	adjacent := pendente("al_2", planStart.Add(-12*time.Hour))
	adjacent.Status = model.AlocacaoConfirmado
	if _, err := AplicarAcao(pendente("al_1", planStart), AcaoConfirmar, []model.Alocacao{adjacent}, planStart); err != nil {
		t.Fatalf("expected adjacent window to be allowed, got %v", err)
	}
}

func TestAplicarAcao_UnknownAction(t *testing.T) {
	t.Parallel()

	if _, err := AplicarAcao(pendente("al_1", planStart), Acao("aprovar"), nil, planStart); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
