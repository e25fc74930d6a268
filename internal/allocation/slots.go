// Package allocation builds care-team shift slots and assigns caregivers to them.
package allocation

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/careops/internal/apperr"
	"github.com/LeventeLantos/careops/internal/model"
)

// MaxDuracaoDias bounds a single plan so slot generation stays small.
const MaxDuracaoDias = 366

var (
	slotNamespace     = uuid.MustParse("3f0c6a52-8c1e-4f5e-9a57-5e1f6d8b2c41")
	alocacaoNamespace = uuid.MustParse("b7d2e4a9-1c3f-4d8e-8f60-2a9c7e5d1b03")
)

// ValidHorasDiarias reports whether h is a supported shift length.
func ValidHorasDiarias(h int) bool {
	return h == 6 || h == 12 || h == 24
}

// GerarSlots partitions duracaoDias days from inicio into contiguous windows
// of horasDiarias hours. The result depends only on its arguments.
func GerarSlots(equipeID string, inicio time.Time, duracaoDias, horasDiarias int) ([]model.Slot, error) {
	if equipeID == "" {
		return nil, apperr.Validation("missing_equipe_id", "equipeId is required")
	}
	if duracaoDias <= 0 || duracaoDias > MaxDuracaoDias {
		return nil, apperr.Validation("invalid_duracao_dias", "duracaoDias must be between 1 and %d", MaxDuracaoDias)
	}
	if !ValidHorasDiarias(horasDiarias) {
		return nil, apperr.Validation("invalid_horas_diarias", "horasDiarias must be 6, 12 or 24, got %d", horasDiarias)
	}

	step := time.Duration(horasDiarias) * time.Hour
	total := duracaoDias * 24 / horasDiarias

	slots := make([]model.Slot, 0, total)
	for i := 0; i < total; i++ {
		start := inicio.Add(time.Duration(i) * step)
		slots = append(slots, model.Slot{
			ID:        SlotID(equipeID, i),
			EquipeID:  equipeID,
			Indice:    i,
			Inicio:    start,
			Fim:       start.Add(step),
			Turno:     ClassificarTurno(start, horasDiarias),
			DiaSemana: start.Weekday(),
			Estado:    model.SlotLivre,
		})
	}
	return slots, nil
}

func SlotID(equipeID string, indice int) string {
	return uuid.NewSHA1(slotNamespace, []byte(fmt.Sprintf("%s|%d", equipeID, indice))).String()
}

func alocacaoID(slotID, cuidadorID string) string {
	return uuid.NewSHA1(alocacaoNamespace, []byte(slotID+"|"+cuidadorID)).String()
}

// ClassificarTurno names the shift by its length and local start hour.
func ClassificarTurno(inicio time.Time, horasDiarias int) model.Turno {
	h := inicio.Hour()
	switch horasDiarias {
	case 24:
		return model.TurnoIntegral
	case 12:
		if h >= 6 && h < 18 {
			return model.TurnoDiurno
		}
		return model.TurnoNoturno
	}
	switch {
	case h < 6:
		return model.TurnoMadrugada
	case h < 12:
		return model.TurnoManha
	case h < 18:
		return model.TurnoTarde
	default:
		return model.TurnoNoite
	}
}

// InicializarSlotsParaEscolha lists the slots still open for manual choice.
// The equipe is not modified.
func InicializarSlotsParaEscolha(equipe model.Equipe) []model.Slot {
	out := make([]model.Slot, 0, len(equipe.Slots))
	for _, s := range equipe.Slots {
		if s.Estado == "" || s.Estado == model.SlotLivre {
			s.Estado = model.SlotLivre
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Indice < out[j].Indice })
	return out
}
