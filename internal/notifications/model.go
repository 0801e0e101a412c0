package notifications

import (
	"fmt"
	"time"

	"github.com/wolfman30/homecare-visits/internal/actor"
	"github.com/wolfman30/homecare-visits/internal/apperr"
)

// RecipientKind says whose inbox a notification lands in.
type RecipientKind string

const (
	RecipientDoctor RecipientKind = "doctor"
	RecipientAdmin  RecipientKind = "admin"
)

// Recipient is an inbox owner. DoctorID is zero for the shared admin inbox.
type Recipient struct {
	Kind     RecipientKind `json:"tipo"`
	DoctorID int64         `json:"medico_id,omitempty"`
}

func Admin() Recipient { return Recipient{Kind: RecipientAdmin} }

func Doctor(id int64) Recipient { return Recipient{Kind: RecipientDoctor, DoctorID: id} }

// Topic is the live channel a recipient listens on.
func (r Recipient) Topic() string {
	if r.Kind == RecipientDoctor {
		return fmt.Sprintf("medico:%d", r.DoctorID)
	}
	return "admin"
}

// Readable reports whether a may see this inbox. Admins see every inbox.
func (r Recipient) Readable(a actor.Actor) bool {
	switch a.Role {
	case actor.RoleAdmin:
		return true
	case actor.RoleDoctor:
		return r == Doctor(a.ID)
	}
	return false
}

func (r Recipient) Valid() bool {
	switch r.Kind {
	case RecipientAdmin:
		return r.DoctorID == 0
	case RecipientDoctor:
		return r.DoctorID > 0
	}
	return false
}

// Kind names the live event and the notification type.
type Kind string

const (
	KindVisitRequest  Kind = "solicitudVisita"
	KindDoctorVisit   Kind = "visitaMedico"
	KindStatusChanged Kind = "estadoVisita"
)

// Notification is one persisted inbox entry.
type Notification struct {
	ID             int64     `json:"id"`
	Recipient      Recipient `json:"destinatario"`
	Kind           Kind      `json:"tipo"`
	PacienteID     int64     `json:"paciente_id"`
	PacienteNombre string    `json:"paciente_nombre"`
	VisitaID       *int64    `json:"visita_id"`
	MedicoID       *int64    `json:"medico_id"`
	Message        string    `json:"mensaje"`
	Read           bool      `json:"leida"`
	CreatedAt      time.Time `json:"created_at"`
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	out := *n
	out.VisitaID = cloneID(n.VisitaID)
	out.MedicoID = cloneID(n.MedicoID)
	return &out
}

var ErrNotificationNotFound = apperr.NotFound("notification not found")

// Event is something worth telling an inbox about.
type Event interface {
	notifications(now time.Time) []*Notification
}

// VisitRequested fans out to the assigned doctor, if any, and to the admins.
type VisitRequested struct {
	PatientName string
	PatientID   int64
	DoctorID    *int64
	VisitID     *int64
}

func (e VisitRequested) notifications(now time.Time) []*Notification {
	out := make([]*Notification, 0, 2)
	if e.DoctorID != nil {
		out = append(out, &Notification{
			Recipient:      Doctor(*e.DoctorID),
			Kind:           KindDoctorVisit,
			PacienteID:     e.PatientID,
			PacienteNombre: e.PatientName,
			VisitaID:       cloneID(e.VisitID),
			MedicoID:       cloneID(e.DoctorID),
			Message:        assignedMessage(e.PatientName),
			CreatedAt:      now,
		})
	}
	out = append(out, &Notification{
		Recipient:      Admin(),
		Kind:           KindVisitRequest,
		PacienteID:     e.PatientID,
		PacienteNombre: e.PatientName,
		VisitaID:       cloneID(e.VisitID),
		MedicoID:       cloneID(e.DoctorID),
		Message:        fmt.Sprintf("El paciente %s ha solicitado una visita", e.PatientName),
		CreatedAt:      now,
	})
	return out
}

// VisitAssigned tells a doctor an operator put them on an existing visit.
type VisitAssigned struct {
	PatientName string
	PatientID   int64
	DoctorID    int64
	VisitID     int64
}

func (e VisitAssigned) notifications(now time.Time) []*Notification {
	visitID, doctorID := e.VisitID, e.DoctorID
	return []*Notification{{
		Recipient:      Doctor(e.DoctorID),
		Kind:           KindDoctorVisit,
		PacienteID:     e.PatientID,
		PacienteNombre: e.PatientName,
		VisitaID:       &visitID,
		MedicoID:       &doctorID,
		Message:        assignedMessage(e.PatientName),
		CreatedAt:      now,
	}}
}

// VisitStatusChanged tells the admins a visit moved through its lifecycle.
type VisitStatusChanged struct {
	VisitID     int64
	State       string
	DoctorID    int64
	PatientID   int64
	PatientName string
}

var stateLabels = map[string]string{
	"active":    "iniciada",
	"completed": "finalizada",
	"cancelled": "cancelada",
}

func (e VisitStatusChanged) notifications(now time.Time) []*Notification {
	label, ok := stateLabels[e.State]
	if !ok {
		label = e.State
	}
	visitID := e.VisitID
	n := &Notification{
		Recipient:      Admin(),
		Kind:           KindStatusChanged,
		PacienteID:     e.PatientID,
		PacienteNombre: e.PatientName,
		VisitaID:       &visitID,
		Message:        fmt.Sprintf("La visita %d fue %s", e.VisitID, label),
		CreatedAt:      now,
	}
	if e.DoctorID > 0 {
		doctorID := e.DoctorID
		n.MedicoID = &doctorID
	}
	return []*Notification{n}
}

func assignedMessage(patient string) string {
	return fmt.Sprintf("Tienes una nueva visita asignada del paciente %s", patient)
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
