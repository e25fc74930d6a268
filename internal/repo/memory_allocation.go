package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/LeventeLantos/careops/internal/model"
)

type MemoryAllocationRepo struct {
	mu   sync.Mutex
	rows map[string]model.Alocacao
}

func NewMemoryAllocationRepo() *MemoryAllocationRepo {
	return &MemoryAllocationRepo{rows: make(map[string]model.Alocacao)}
}

var _ AllocationRepository = (*MemoryAllocationRepo)(nil)

// SaveAll inserts new rows and updates existing ones only while they are
// still PENDENTE_FEEDBACK, matching the Postgres upsert.
func (r *MemoryAllocationRepo) SaveAll(ctx context.Context, alocacoes []model.Alocacao) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range alocacoes {
		cur, ok := r.rows[a.ID]
		if !ok {
			r.rows[a.ID] = a
			continue
		}
		if cur.Status != model.AlocacaoPendenteFeedback {
			continue
		}
		cur.CuidadorID = a.CuidadorID
		cur.Status = a.Status
		cur.AtualizadoEm = a.AtualizadoEm
		r.rows[a.ID] = cur
	}
	return nil
}

func (r *MemoryAllocationRepo) Get(ctx context.Context, id string) (model.Alocacao, error) {
	if err := ctx.Err(); err != nil {
		return model.Alocacao{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.rows[id]
	if !ok {
		return model.Alocacao{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryAllocationRepo) ListByEquipe(ctx context.Context, equipeID string) ([]model.Alocacao, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Alocacao
	for _, a := range r.rows {
		if a.EquipeID == equipeID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Inicio.Before(out[j].Inicio) })
	return out, nil
}

func (r *MemoryAllocationRepo) Apply(ctx context.Context, id string, fn TransitionFunc) (model.Alocacao, error) {
	if err := ctx.Err(); err != nil {
		return model.Alocacao{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.rows[id]
	if !ok {
		return model.Alocacao{}, ErrNotFound
	}

	var holding []model.Alocacao
	for _, a := range r.rows {
		if a.ID != id && a.CuidadorID == cur.CuidadorID && a.Status.Holding() {
			holding = append(holding, a)
		}
	}

	next, err := fn(cur, holding)
	if err != nil {
		return model.Alocacao{}, err
	}
	r.rows[id] = next
	return next, nil
}
