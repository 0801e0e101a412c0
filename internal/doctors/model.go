package doctors

import (
	"github.com/wolfman30/homecare-visits/internal/apperr"
)

// Doctor is a directory entry. Estado means on duty; Disponible means free to take a visit.
type Doctor struct {
	ID             int64  `json:"id"`
	Nombre         string `json:"nombre"`
	Disponible     bool   `json:"disponible"`
	Estado         bool   `json:"estado"`
	VisitaActivaID *int64 `json:"visita_activa_id"`
}

// ErrDoctorNotFound is returned for unknown doctor ids.
var ErrDoctorNotFound = apperr.NotFound("doctor not found")

// Clone returns a deep copy.
func (d *Doctor) Clone() *Doctor {
	if d == nil {
		return nil
	}
	out := *d
	if d.VisitaActivaID != nil {
		id := *d.VisitaActivaID
		out.VisitaActivaID = &id
	}
	return &out
}

// Busy reports whether the doctor holds an active visit.
func (d *Doctor) Busy() bool {
	return d.VisitaActivaID != nil
}

// setAvailability enforces that a doctor with an active visit cannot be marked free.
func (d *Doctor) setAvailability(disponible bool) error {
	if disponible && d.Busy() {
		return apperr.Conflict("doctor has active visit %d", *d.VisitaActivaID)
	}
	d.Disponible = disponible
	return nil
}

// setOnDuty refuses to take a doctor off duty in the middle of a visit.
func (d *Doctor) setOnDuty(estado bool) error {
	if !estado && d.Busy() {
		return apperr.Conflict("doctor has active visit %d", *d.VisitaActivaID)
	}
	d.Estado = estado
	if !estado {
		d.Disponible = false
	}
	return nil
}
