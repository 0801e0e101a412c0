package visits

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State is the doctor-workflow lifecycle of a visit. It is independent of the
// administrative Enabled flag.
type State string

const (
	StateRequested State = "requested"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateRequested, StateActive, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

const dateLayout = "2006-01-02"

// Date is a civil calendar date, stored as midnight UTC.
type Date struct {
	time.Time
}

// NewDate builds a Date from its parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return NewDate(local.Year(), local.Month(), local.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Visit is a home-care visit request.
type Visit struct {
	ID          int64      `json:"id"`
	FechaVisita Date       `json:"fecha_visita"`
	Descripcion string     `json:"descripcion"`
	Direccion   string     `json:"direccion"`
	Telefono    string     `json:"telefono"`
	State       State      `json:"estado_visita"`
	Enabled     bool       `json:"estado"`
	PacienteID  int64      `json:"paciente_id"`
	MedicoID    *int64     `json:"medico_id"`
	BarrioID    *int64     `json:"barrio_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with a store.
func (v *Visit) Clone() *Visit {
	if v == nil {
		return nil
	}
	out := *v
	out.MedicoID = cloneID(v.MedicoID)
	out.BarrioID = cloneID(v.BarrioID)
	out.StartedAt = cloneTime(v.StartedAt)
	out.CompletedAt = cloneTime(v.CompletedAt)
	out.CancelledAt = cloneTime(v.CancelledAt)
	return &out
}

// AssignedTo reports whether the visit's doctor is doctorID.
func (v *Visit) AssignedTo(doctorID int64) bool {
	return v.MedicoID != nil && *v.MedicoID == doctorID
}

// CreateRequest is the body of POST /visitas.
type CreateRequest struct {
	FechaVisita string `json:"fecha_visita"`
	Descripcion string `json:"descripcion"`
	Direccion   string `json:"direccion"`
	Telefono    string `json:"telefono"`
	PacienteID  int64  `json:"paciente_id"`
	MedicoID    *int64 `json:"medico_id,omitempty"`
	BarrioID    *int64 `json:"barrio_id,omitempty"`
}

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	PatientID   *int64
	DoctorID    *int64
	State       State
	EnabledOnly bool
}

// Matches applies the filter to one visit.
func (f Filter) Matches(v *Visit) bool {
	if f.PatientID != nil && v.PacienteID != *f.PatientID {
		return false
	}
	if f.DoctorID != nil && !v.AssignedTo(*f.DoctorID) {
		return false
	}
	if f.State != "" && v.State != f.State {
		return false
	}
	if f.EnabledOnly && !v.Enabled {
		return false
	}
	return true
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
