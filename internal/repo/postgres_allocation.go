package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/LeventeLantos/careops/internal/model"
)

const alocacaoColumns = `
	id, equipe_id, cuidador_id, paciente_id, slot_id, inicio, fim, turno, status,
	confirmado_t24, confirmado_t2, respondido_em, criado_em, atualizado_em`

type PostgresAllocationRepo struct {
	db *sql.DB
}

func NewPostgresAllocationRepo(db *sql.DB) *PostgresAllocationRepo {
	return &PostgresAllocationRepo{db: db}
}

var _ AllocationRepository = (*PostgresAllocationRepo)(nil)

// SaveAll upserts by id so re-running an allocation for the same slots
// replaces pending offers instead of duplicating them.
func (r *PostgresAllocationRepo) SaveAll(ctx context.Context, alocacoes []model.Alocacao) error {
	if len(alocacoes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range alocacoes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alocacoes (
				id, equipe_id, cuidador_id, paciente_id, slot_id, inicio, fim, turno, status,
				confirmado_t24, confirmado_t2, respondido_em, criado_em, atualizado_em
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO UPDATE
			SET cuidador_id = EXCLUDED.cuidador_id,
			    status = EXCLUDED.status,
			    atualizado_em = EXCLUDED.atualizado_em
			WHERE alocacoes.status = 'PENDENTE_FEEDBACK'
		`,
			a.ID, a.EquipeID, a.CuidadorID, a.PacienteID, a.SlotID,
			a.Inicio.UTC(), a.Fim.UTC(), string(a.Turno), string(a.Status),
			nullTime(a.ConfirmadoT24), nullTime(a.ConfirmadoT2), nullTime(a.RespondidoEm),
			a.CriadoEm.UTC(), a.AtualizadoEm.UTC(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresAllocationRepo) Get(ctx context.Context, id string) (model.Alocacao, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alocacaoColumns+` FROM alocacoes WHERE id = $1`, id)
	return scanAlocacao(row)
}

func (r *PostgresAllocationRepo) ListByEquipe(ctx context.Context, equipeID string) ([]model.Alocacao, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+alocacaoColumns+`
		FROM alocacoes
		WHERE equipe_id = $1
		ORDER BY inicio ASC
	`, equipeID)
	if err != nil {
		return nil, err
	}
	return collectAlocacoes(rows)
}

// Apply locks the row, then takes a transaction-scoped advisory lock on the
// caregiver so concurrent confirmations of the same caregiver serialize.
func (r *PostgresAllocationRepo) Apply(ctx context.Context, id string, fn TransitionFunc) (model.Alocacao, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return model.Alocacao{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanAlocacao(tx.QueryRowContext(ctx, `SELECT `+alocacaoColumns+` FROM alocacoes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Alocacao{}, err
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, cur.CuidadorID); err != nil {
		return model.Alocacao{}, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+alocacaoColumns+`
		FROM alocacoes
		WHERE cuidador_id = $1
		  AND id <> $2
		  AND status IN ('CONFIRMADO', 'EM_ANDAMENTO')
	`, cur.CuidadorID, id)
	if err != nil {
		return model.Alocacao{}, err
	}
	holding, err := collectAlocacoes(rows)
	if err != nil {
		return model.Alocacao{}, err
	}

	next, err := fn(cur, holding)
	if err != nil {
		return model.Alocacao{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE alocacoes
		SET status = $2,
		    confirmado_t24 = $3,
		    confirmado_t2 = $4,
		    respondido_em = $5,
		    atualizado_em = $6
		WHERE id = $1
	`, id, string(next.Status), nullTime(next.ConfirmadoT24), nullTime(next.ConfirmadoT2),
		nullTime(next.RespondidoEm), next.AtualizadoEm.UTC()); err != nil {
		return model.Alocacao{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Alocacao{}, err
	}
	return next, nil
}

func scanAlocacao(s rowScanner) (model.Alocacao, error) {
	var (
		a          model.Alocacao
		turno      string
		status     string
		t24, t2    sql.NullTime
		respondido sql.NullTime
	)
	err := s.Scan(
		&a.ID, &a.EquipeID, &a.CuidadorID, &a.PacienteID, &a.SlotID,
		&a.Inicio, &a.Fim, &turno, &status,
		&t24, &t2, &respondido, &a.CriadoEm, &a.AtualizadoEm,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alocacao{}, ErrNotFound
	}
	if err != nil {
		return model.Alocacao{}, err
	}

	a.Turno = model.Turno(turno)
	a.Status = model.AlocacaoStatus(status)
	a.ConfirmadoT24 = timePtr(t24)
	a.ConfirmadoT2 = timePtr(t2)
	a.RespondidoEm = timePtr(respondido)
	return a, nil
}

func collectAlocacoes(rows *sql.Rows) ([]model.Alocacao, error) {
	defer rows.Close()

	var out []model.Alocacao
	for rows.Next() {
		a, err := scanAlocacao(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
