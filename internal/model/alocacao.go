package model

import "time"

type ModoAlocacao string

const (
	ModoImpositiva ModoAlocacao = "IMPOSITIVA"
	ModoEscolha    ModoAlocacao = "ESCOLHA"
)

func (m ModoAlocacao) Valid() bool {
	return m == ModoImpositiva || m == ModoEscolha
}

type EquipeStatus string

const EquipeMontando EquipeStatus = "MONTANDO"

type Turno string

const (
	TurnoIntegral  Turno = "INTEGRAL"
	TurnoDiurno    Turno = "DIURNO"
	TurnoNoturno   Turno = "NOTURNO"
	TurnoMadrugada Turno = "MADRUGADA"
	TurnoManha     Turno = "MANHA"
	TurnoTarde     Turno = "TARDE"
	TurnoNoite     Turno = "NOITE"
)

// SlotEstado is the assignment state of a slot.
type SlotEstado string

const (
	SlotLivre            SlotEstado = "LIVRE"
	SlotPendenteFeedback SlotEstado = "PENDENTE_FEEDBACK"
	SlotConfirmado       SlotEstado = "CONFIRMADO"
	SlotCancelado        SlotEstado = "CANCELADO"
)

type Slot struct {
	ID        string       `json:"id"`
	EquipeID  string       `json:"equipeId"`
	Indice    int          `json:"indice"`
	Inicio    time.Time    `json:"inicio"`
	Fim       time.Time    `json:"fim"`
	Turno     Turno        `json:"turno"`
	DiaSemana time.Weekday `json:"diaSemana"`
	Estado    SlotEstado   `json:"estado"`
}

func (s Slot) Overlaps(inicio, fim time.Time) bool {
	return s.Inicio.Before(fim) && inicio.Before(s.Fim)
}

type Equipe struct {
	ID           string       `json:"id"`
	PacienteID   string       `json:"pacienteId"`
	DuracaoDias  int          `json:"duracaoDias"`
	HorasDiarias int          `json:"horasDiarias"`
	Inicio       time.Time    `json:"inicio"`
	Slots        []Slot       `json:"slots"`
	ModoAlocacao ModoAlocacao `json:"modoAlocacao"`
	Status       EquipeStatus `json:"status"`
}

type Disponibilidade struct {
	DiaSemana time.Weekday `json:"diaSemana"`
	Turno     Turno        `json:"turno"`
}

// Janela is a busy interval a caregiver already holds elsewhere.
type Janela struct {
	Inicio time.Time `json:"inicio"`
	Fim    time.Time `json:"fim"`
}

type Cuidador struct {
	ID              string            `json:"id"`
	Nome            string            `json:"nome,omitempty"`
	Score           float64           `json:"score"`
	Disponibilidade []Disponibilidade `json:"disponibilidade"`
	Compromissos    []Janela          `json:"compromissos,omitempty"`
}

type AlocacaoStatus string

const (
	AlocacaoPendenteFeedback AlocacaoStatus = "PENDENTE_FEEDBACK"
	AlocacaoConfirmado       AlocacaoStatus = "CONFIRMADO"
	AlocacaoEmAndamento      AlocacaoStatus = "EM_ANDAMENTO"
	AlocacaoConcluido        AlocacaoStatus = "CONCLUIDO"
	AlocacaoCancelado        AlocacaoStatus = "CANCELADO"
)

func (s AlocacaoStatus) Terminal() bool {
	return s == AlocacaoConcluido || s == AlocacaoCancelado
}

// Holding reports whether the caregiver is committed to the slot's window.
func (s AlocacaoStatus) Holding() bool {
	return s == AlocacaoConfirmado || s == AlocacaoEmAndamento
}

type Alocacao struct {
	ID            string         `json:"id"`
	EquipeID      string         `json:"equipeId"`
	CuidadorID    string         `json:"cuidadorId"`
	PacienteID    string         `json:"pacienteId"`
	SlotID        string         `json:"slotId"`
	Inicio        time.Time      `json:"inicio"`
	Fim           time.Time      `json:"fim"`
	Turno         Turno          `json:"turno"`
	Status        AlocacaoStatus `json:"status"`
	ConfirmadoT24 *time.Time     `json:"confirmadoT24,omitempty"`
	ConfirmadoT2  *time.Time     `json:"confirmadoT2,omitempty"`
	RespondidoEm  *time.Time     `json:"respondidoEm,omitempty"`
	CriadoEm      time.Time      `json:"criadoEm"`
	AtualizadoEm  time.Time      `json:"atualizadoEm"`
}
