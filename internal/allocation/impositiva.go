package allocation

import (
	"sort"
	"time"

	"github.com/LeventeLantos/careops/internal/model"
)

// Candidato is a caregiver eligible for a slot, with its load in the current run.
type Candidato struct {
	Cuidador   model.Cuidador
	Atribuidos int
}

// Comparator reports whether a should be preferred over b.
type Comparator func(a, b Candidato) bool

// DefaultComparator prefers higher score, then lighter load, then lower id.
func DefaultComparator(a, b Candidato) bool {
	if a.Cuidador.Score != b.Cuidador.Score {
		return a.Cuidador.Score > b.Cuidador.Score
	}
	if a.Atribuidos != b.Atribuidos {
		return a.Atribuidos < b.Atribuidos
	}
	return a.Cuidador.ID < b.Cuidador.ID
}

type Option func(*engine)

func WithComparator(c Comparator) Option {
	return func(e *engine) {
		if c != nil {
			e.better = c
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *engine) { e.now = now }
}

type engine struct {
	better Comparator
	now    func() time.Time
}

func newEngine(opts []Option) engine {
	e := engine{better: DefaultComparator, now: time.Now}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Resultado is the outcome of an imposed run. Slots reflects the assignment
// state after the run; NaoAtribuidos lists slots nobody could take.
type Resultado struct {
	Alocacoes     []model.Alocacao `json:"alocacoes"`
	Slots         []model.Slot     `json:"slots"`
	NaoAtribuidos []model.Slot     `json:"naoAtribuidos"`
}

// ExecutarAlocacaoImpositiva assigns one caregiver per slot. Every produced
// Alocacao is PENDENTE_FEEDBACK: the offer still awaits caregiver confirmation.
func ExecutarAlocacaoImpositiva(equipe model.Equipe, cuidadores []model.Cuidador, opts ...Option) Resultado {
	e := newEngine(opts)
	now := e.now().UTC()

	slots := append([]model.Slot(nil), equipe.Slots...)
	sort.Slice(slots, func(i, j int) bool { return slots[i].Indice < slots[j].Indice })

	assigned := make(map[string][]model.Slot, len(cuidadores))
	res := Resultado{
		Alocacoes:     []model.Alocacao{},
		NaoAtribuidos: []model.Slot{},
	}

	for i := range slots {
		slot := &slots[i]
		if slot.Estado != "" && slot.Estado != model.SlotLivre {
			continue
		}

		var best *Candidato
		for _, c := range cuidadores {
			if !disponivel(c, *slot) || ocupado(c, assigned[c.ID], *slot) {
				continue
			}
			cand := Candidato{Cuidador: c, Atribuidos: len(assigned[c.ID])}
			if best == nil || e.better(cand, *best) {
				best = &cand
			}
		}

		if best == nil {
			slot.Estado = model.SlotLivre
			res.NaoAtribuidos = append(res.NaoAtribuidos, *slot)
			continue
		}

		slot.Estado = model.SlotPendenteFeedback
		assigned[best.Cuidador.ID] = append(assigned[best.Cuidador.ID], *slot)
		res.Alocacoes = append(res.Alocacoes, model.Alocacao{
			ID:           alocacaoID(slot.ID, best.Cuidador.ID),
			EquipeID:     equipe.ID,
			CuidadorID:   best.Cuidador.ID,
			PacienteID:   equipe.PacienteID,
			SlotID:       slot.ID,
			Inicio:       slot.Inicio,
			Fim:          slot.Fim,
			Turno:        slot.Turno,
			Status:       model.AlocacaoPendenteFeedback,
			CriadoEm:     now,
			AtualizadoEm: now,
		})
	}

	res.Slots = slots
	return res
}

func disponivel(c model.Cuidador, slot model.Slot) bool {
	for _, d := range c.Disponibilidade {
		if d.DiaSemana != slot.DiaSemana {
			continue
		}
		if d.Turno == slot.Turno || d.Turno == model.TurnoIntegral {
			return true
		}
	}
	return false
}

func ocupado(c model.Cuidador, taken []model.Slot, slot model.Slot) bool {
	for _, s := range taken {
		if s.Overlaps(slot.Inicio, slot.Fim) {
			return true
		}
	}
	for _, j := range c.Compromissos {
		if slot.Overlaps(j.Inicio, j.Fim) {
			return true
		}
	}
	return false
}
