package allocation

import (
	"testing"
	"time"

	"github.com/LeventeLantos/careops/internal/apperr"
	"github.com/LeventeLantos/careops/internal/model"
)

// Monday.
var planStart = time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)

func TestGerarSlots_SevenDaysTwelveHours(t *testing.T) {
	t.Parallel()

	slots, err := GerarSlots("eq_1", planStart, 7, 12)
	if err != nil {
		t.Fatalf("GerarSlots() error: %v", err)
	}
	if len(slots) != 14 {
		t.Fatalf("expected 14 slots, got %d", len(slots))
	}
	if !slots[0].Inicio.Equal(planStart) {
		t.Fatalf("expected first slot at %v, got %v", planStart, slots[0].Inicio)
	}
	if end := planStart.Add(7 * 24 * time.Hour); !slots[13].Fim.Equal(end) {
		t.Fatalf("expected last slot to end at %v, got %v", end, slots[13].Fim)
	}

	for i, s := range slots {
		if s.Indice != i || s.Estado != model.SlotLivre || s.EquipeID != "eq_1" {
			t.Fatalf("slot %d: unexpected %+v", i, s)
		}
		if got := s.Fim.Sub(s.Inicio); got != 12*time.Hour {
			t.Fatalf("slot %d: expected 12h, got %v", i, got)
		}
		if i > 0 && !slots[i-1].Fim.Equal(s.Inicio) {
			t.Fatalf("slot %d not contiguous with previous", i)
		}
		want := model.TurnoDiurno
		if i%2 == 1 {
			want = model.TurnoNoturno
		}
		if s.Turno != want {
			t.Fatalf("slot %d: expected %s, got %s", i, want, s.Turno)
		}
	}
	if slots[2].DiaSemana != time.Tuesday {
		t.Fatalf("expected slot 2 on Tuesday, got %s", slots[2].DiaSemana)
	}
}

func TestGerarSlots_Deterministic(t *testing.T) {
	t.Parallel()

	a, _ := GerarSlots("eq_1", planStart, 2, 6)
	b, _ := GerarSlots("eq_1", planStart, 2, 6)
	c, _ := GerarSlots("eq_2", planStart, 2, 6)

	if len(a) != 8 {
		t.Fatalf("expected 8 slots, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("slot %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
		if a[i].ID == c[i].ID {
			t.Fatalf("slot %d: expected ids to differ across equipes", i)
		}
	}
}

func TestGerarSlots_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		equipe string
		dias   int
		horas  int
		code   string
	}{
		{"missing equipe", "", 7, 12, "missing_equipe_id"},
		{"zero days", "eq", 0, 12, "invalid_duracao_dias"},
		{"too many days", "eq", MaxDuracaoDias + 1, 12, "invalid_duracao_dias"},
		{"odd shift", "eq", 7, 8, "invalid_horas_diarias"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := GerarSlots(tc.equipe, planStart, tc.dias, tc.horas)
			if !apperr.IsValidation(err) || apperr.CodeOf(err) != tc.code {
				t.Fatalf("expected validation %s, got %v", tc.code, err)
			}
		})
	}
}

func TestClassificarTurno(t *testing.T) {
	t.Parallel()

	at := func(h int) time.Time { return time.Date(2026, 6, 1, h, 0, 0, 0, time.UTC) }
	cases := []struct {
		hour  int
		horas int
		want  model.Turno
	}{
		{0, 24, model.TurnoIntegral},
		{6, 12, model.TurnoDiurno},
		{17, 12, model.TurnoDiurno},
		{18, 12, model.TurnoNoturno},
		{3, 12, model.TurnoNoturno},
		{0, 6, model.TurnoMadrugada},
		{6, 6, model.TurnoManha},
		{12, 6, model.TurnoTarde},
		{18, 6, model.TurnoNoite},
	}
	for _, tc := range cases {
		if got := ClassificarTurno(at(tc.hour), tc.horas); got != tc.want {
			t.Fatalf("hour %d/%dh: expected %s, got %s", tc.hour, tc.horas, tc.want, got)
		}
	}
}

func TestInicializarSlotsParaEscolha_OnlyOpenSlots(t *testing.T) {
	t.Parallel()

	slots, _ := GerarSlots("eq_1", planStart, 1, 6)
	slots[1].Estado = model.SlotPendenteFeedback
	slots[2].Estado = model.SlotConfirmado
	equipe := model.Equipe{ID: "eq_1", Slots: slots}

	open := InicializarSlotsParaEscolha(equipe)
	if len(open) != 2 || open[0].Indice != 0 || open[1].Indice != 3 {
		t.Fatalf("expected slots 0 and 3 open, got %+v", open)
	}
	if equipe.Slots[1].Estado != model.SlotPendenteFeedback {
		t.Fatalf("expected equipe slots untouched")
	}
}
