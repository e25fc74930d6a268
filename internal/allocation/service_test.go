package allocation

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/LeventeLantos/careops/internal/apperr"
	"github.com/LeventeLantos/careops/internal/model"
	"github.com/LeventeLantos/careops/internal/repo"
)

func newTestService(r repo.AllocationRepository) *Service {
	return NewService(r, WithServiceClock(func() time.Time { return planStart }))
}

func iniciarReq(modo model.ModoAlocacao, equipeID string, cs ...model.Cuidador) IniciarRequest {
	inicio := planStart
	return IniciarRequest{
		EquipeID:     equipeID,
		PacienteID:   "pac_1",
		Modo:         modo,
		HorasDiarias: 12,
		DuracaoDias:  2,
		Inicio:       &inicio,
		Cuidadores:   cs,
	}
}

func TestIniciar_InvalidModoBeforeSlotGeneration(t *testing.T) {
	t.Parallel()

	req := iniciarReq("MISTA", "eq_1")
	req.HorasDiarias = 7

	_, err := newTestService(repo.NewMemoryAllocationRepo()).Iniciar(context.Background(), req)
	if !apperr.IsValidation(err) || apperr.CodeOf(err) != "invalid_modo" {
		t.Fatalf("expected invalid_modo, got %v", err)
	}
}

func TestIniciar_ImpositivaPersists(t *testing.T) {
	t.Parallel()

	r := repo.NewMemoryAllocationRepo()
	svc := newTestService(r)

	res, err := svc.Iniciar(context.Background(), iniciarReq(model.ModoImpositiva, "eq_1",
		model.Cuidador{ID: "c_1", Score: 4, Disponibilidade: semanaInteira()},
	))
	if err != nil {
		t.Fatalf("Iniciar() error: %v", err)
	}
	if res.Modo != model.ModoImpositiva || res.PendenteFeedback != 4 || len(res.Alocacoes) != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Equipe.Status != model.EquipeMontando || len(res.Equipe.Slots) != 4 {
		t.Fatalf("unexpected equipe %+v", res.Equipe)
	}

	stored, err := svc.ListByEquipe(context.Background(), "eq_1")
	if err != nil {
		t.Fatalf("ListByEquipe() error: %v", err)
	}
	if len(stored) != 4 {
		t.Fatalf("expected 4 stored alocacoes, got %d", len(stored))
	}
}

func TestIniciar_EscolhaReturnsSlotsOnly(t *testing.T) {
	t.Parallel()

	r := repo.NewMemoryAllocationRepo()
	res, err := newTestService(r).Iniciar(context.Background(), iniciarReq(model.ModoEscolha, "eq_1",
		model.Cuidador{ID: "c_1", Score: 4, Disponibilidade: semanaInteira()},
	))
	if err != nil {
		t.Fatalf("Iniciar() error: %v", err)
	}
	if len(res.Slots) != 4 || len(res.Alocacoes) != 0 {
		t.Fatalf("expected 4 open slots and no alocacoes, got %+v", res)
	}

	stored, _ := r.ListByEquipe(context.Background(), "eq_1")
	if len(stored) != 0 {
		t.Fatalf("expected nothing stored, got %d", len(stored))
	}
}

func TestIniciar_DefaultsToNextMidnight(t *testing.T) {
	t.Parallel()

	req := iniciarReq(model.ModoEscolha, "eq_1")
	req.Inicio = nil

	res, err := newTestService(repo.NewMemoryAllocationRepo()).Iniciar(context.Background(), req)
	if err != nil {
		t.Fatalf("Iniciar() error: %v", err)
	}
	want := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	if !res.Equipe.Inicio.Equal(want) {
		t.Fatalf("expected start %v, got %v", want, res.Equipe.Inicio)
	}
}

func TestIniciar_RejectsDuplicateCuidador(t *testing.T) {
	t.Parallel()

	c := model.Cuidador{ID: "c_1", Disponibilidade: semanaInteira()}
	_, err := newTestService(repo.NewMemoryAllocationRepo()).Iniciar(context.Background(), iniciarReq(model.ModoImpositiva, "eq_1", c, c))
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAplicar_OverlapAcrossEquipes(t *testing.T) {
	t.Parallel()

	r := repo.NewMemoryAllocationRepo()
	svc := newTestService(r)
	c := model.Cuidador{ID: "c_1", Score: 4, Disponibilidade: semanaInteira()}

	first, err := svc.Iniciar(context.Background(), iniciarReq(model.ModoImpositiva, "eq_1", c))
	if err != nil {
		t.Fatalf("Iniciar(eq_1) error: %v", err)
	}
	second, err := svc.Iniciar(context.Background(), iniciarReq(model.ModoImpositiva, "eq_2", c))
	if err != nil {
		t.Fatalf("Iniciar(eq_2) error: %v", err)
	}

	ok, err := svc.Aplicar(context.Background(), first.Alocacoes[0].ID, AcaoConfirmar)
	if err != nil {
		t.Fatalf("Aplicar(first) error: %v", err)
	}
	if ok.Status != model.AlocacaoConfirmado {
		t.Fatalf("expected CONFIRMADO, got %s", ok.Status)
	}

	_, err = svc.Aplicar(context.Background(), second.Alocacoes[0].ID, AcaoConfirmar)
	if !apperr.IsConflict(err) || apperr.CodeOf(err) != "cuidador_overlap" {
		t.Fatalf("expected cuidador_overlap, got %v", err)
	}

	got, _ := svc.Get(context.Background(), second.Alocacoes[0].ID)
	if got.Status != model.AlocacaoPendenteFeedback {
		t.Fatalf("expected rejected alocacao unchanged, got %s", got.Status)
	}
}

func TestAplicar_NotFound(t *testing.T) {
	t.Parallel()

	_, err := newTestService(repo.NewMemoryAllocationRepo()).Aplicar(context.Background(), "missing", AcaoCancelar)
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIniciar_RerunKeepsAnsweredAlocacoes(t *testing.T) {
	t.Parallel()

	r := repo.NewMemoryAllocationRepo()
	svc := newTestService(r)
	ctx := context.Background()
	c1 := model.Cuidador{ID: "c_1", Score: 4, Disponibilidade: semanaInteira()}

	first, err := svc.Iniciar(ctx, iniciarReq(model.ModoImpositiva, "eq_1", c1))
	if err != nil {
		t.Fatalf("Iniciar() error: %v", err)
	}
	confirmedID := first.Alocacoes[0].ID
	if _, err := svc.Aplicar(ctx, confirmedID, AcaoConfirmar); err != nil {
		t.Fatalf("Aplicar() error: %v", err)
	}

	again, err := svc.Iniciar(ctx, iniciarReq(model.ModoImpositiva, "eq_1", c1))
	if err != nil {
		t.Fatalf("Iniciar() re-run error: %v", err)
	}
	if again.PendenteFeedback != 3 || len(again.Alocacoes) != 3 {
		t.Fatalf("expected 3 fresh offers, got %+v", again)
	}
	if again.Equipe.Slots[0].Estado != model.SlotConfirmado {
		t.Fatalf("expected first slot CONFIRMADO, got %s", again.Equipe.Slots[0].Estado)
	}

	got, _ := svc.Get(ctx, confirmedID)
	if got.Status != model.AlocacaoConfirmado || got.RespondidoEm == nil {
		t.Fatalf("expected confirmed alocacao kept, got %+v", got)
	}
}

func TestIniciar_RerunDoesNotReofferConfirmedSlot(t *testing.T) {
	t.Parallel()

	r := repo.NewMemoryAllocationRepo()
	svc := newTestService(r)
	ctx := context.Background()
	c1 := model.Cuidador{ID: "c_1", Score: 4, Disponibilidade: semanaInteira()}
	c2 := model.Cuidador{ID: "c_2", Score: 9, Disponibilidade: semanaInteira()}

	first, err := svc.Iniciar(ctx, iniciarReq(model.ModoImpositiva, "eq_1", c1))
	if err != nil {
		t.Fatalf("Iniciar() error: %v", err)
	}
	if _, err := svc.Aplicar(ctx, first.Alocacoes[0].ID, AcaoConfirmar); err != nil {
		t.Fatalf("Aplicar() error: %v", err)
	}

	again, err := svc.Iniciar(ctx, iniciarReq(model.ModoImpositiva, "eq_1", c1, c2))
	if err != nil {
		t.Fatalf("Iniciar() re-run error: %v", err)
	}
	for _, a := range again.Alocacoes {
		if a.SlotID == first.Alocacoes[0].SlotID {
			t.Fatalf("confirmed slot offered again to %s", a.CuidadorID)
		}
		if a.CuidadorID != "c_2" {
			t.Fatalf("expected higher score c_2 on open slots, got %s", a.CuidadorID)
		}
	}

	stored, _ := svc.ListByEquipe(ctx, "eq_1")
	openPerSlot := map[string]int{}
	counts := map[model.AlocacaoStatus]int{}
	for _, a := range stored {
		counts[a.Status]++
		if !a.Status.Terminal() {
			openPerSlot[a.SlotID]++
		}
	}
	if counts[model.AlocacaoConfirmado] != 1 || counts[model.AlocacaoPendenteFeedback] != 3 || counts[model.AlocacaoCancelado] != 3 {
		t.Fatalf("unexpected stored statuses %v", counts)
	}
	for slot, n := range openPerSlot {
		if n != 1 {
			t.Fatalf("slot %s has %d open alocacoes", slot, n)
		}
	}
}

func TestIniciar_EscolhaHidesTakenSlots(t *testing.T) {
	t.Parallel()

	r := repo.NewMemoryAllocationRepo()
	svc := newTestService(r)
	ctx := context.Background()

	first, err := svc.Iniciar(ctx, iniciarReq(model.ModoImpositiva, "eq_1",
		model.Cuidador{ID: "c_1", Score: 4, Disponibilidade: semanaInteira()},
	))
	if err != nil {
		t.Fatalf("Iniciar() error: %v", err)
	}
	if _, err := svc.Aplicar(ctx, first.Alocacoes[0].ID, AcaoConfirmar); err != nil {
		t.Fatalf("Aplicar(confirmar) error: %v", err)
	}
	if _, err := svc.Aplicar(ctx, first.Alocacoes[1].ID, AcaoCancelar); err != nil {
		t.Fatalf("Aplicar(cancelar) error: %v", err)
	}

	choice, err := svc.Iniciar(ctx, iniciarReq(model.ModoEscolha, "eq_1"))
	if err != nil {
		t.Fatalf("Iniciar(ESCOLHA) error: %v", err)
	}
	if len(choice.Slots) != 1 || choice.Slots[0].ID != first.Alocacoes[1].SlotID {
		t.Fatalf("expected only the canceled slot open, got %+v", choice.Slots)
	}
}

func TestIniciar_EmptyImpositivaEncodesAlocacoes(t *testing.T) {
	t.Parallel()

	res, err := newTestService(repo.NewMemoryAllocationRepo()).Iniciar(context.Background(), iniciarReq(model.ModoImpositiva, "eq_1"))
	if err != nil {
		t.Fatalf("Iniciar() error: %v", err)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"alocacoes":[]`) {
		t.Fatalf("expected empty alocacoes array, got %s", raw)
	}
	if len(res.NaoAtribuidos) != 4 {
		t.Fatalf("expected 4 unassigned slots, got %d", len(res.NaoAtribuidos))
	}
}
