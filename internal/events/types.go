package events

import (
	"fmt"
	"time"
)

const (
	TypeVisitRequested = "visits.visit.requested.v1"
	TypeVisitStarted   = "visits.visit.started.v1"
	TypeVisitCompleted = "visits.visit.completed.v1"
	TypeVisitCancelled = "visits.visit.cancelled.v1"
)

// VisitAggregate is the aggregate key for a visit's lifecycle stream.
func VisitAggregate(visitID int64) string {
	return fmt.Sprintf("visit:%d", visitID)
}

type VisitRequestedV1 struct {
	VisitID     int64     `json:"visit_id"`
	PacienteID  int64     `json:"paciente_id"`
	MedicoID    *int64    `json:"medico_id,omitempty"`
	FechaVisita string    `json:"fecha_visita"`
	RequestedAt time.Time `json:"requested_at"`
}

func (VisitRequestedV1) EventType() string { return TypeVisitRequested }

type VisitStartedV1 struct {
	VisitID    int64     `json:"visit_id"`
	MedicoID   int64     `json:"medico_id"`
	PacienteID int64     `json:"paciente_id"`
	StartedAt  time.Time `json:"started_at"`
	StartedBy  string    `json:"started_by"`
}

func (VisitStartedV1) EventType() string { return TypeVisitStarted }

type VisitCompletedV1 struct {
	VisitID     int64     `json:"visit_id"`
	MedicoID    int64     `json:"medico_id"`
	PacienteID  int64     `json:"paciente_id"`
	CompletedAt time.Time `json:"completed_at"`
}

func (VisitCompletedV1) EventType() string { return TypeVisitCompleted }

type VisitCancelledV1 struct {
	VisitID       int64     `json:"visit_id"`
	MedicoID      *int64    `json:"medico_id,omitempty"`
	PacienteID    int64     `json:"paciente_id"`
	PreviousState string    `json:"previous_state"`
	CancelledAt   time.Time `json:"cancelled_at"`
	CancelledBy   string    `json:"cancelled_by"`
}

func (VisitCancelledV1) EventType() string { return TypeVisitCancelled }
