package assignment

import (
	"time"

	"github.com/wolfman30/homecare-visits/internal/apperr"
	"github.com/wolfman30/homecare-visits/internal/doctors"
	"github.com/wolfman30/homecare-visits/internal/visits"
)

// ErrDoctorBusy is the conflict returned when the doctor already holds a visit.
var ErrDoctorBusy = apperr.Conflict("doctor already has an active visit")

// Request identifies one lifecycle transition.
type Request struct {
	VisitID int64
	// DoctorID is zero on finish or cancel to mean "the visit's own doctor".
	DoctorID int64
	By       string
	At       time.Time
}

func checkStart(v *visits.Visit, d *doctors.Doctor) error {
	if v.State != visits.StateRequested {
		return apperr.Conflict("visit %d is %s", v.ID, v.State)
	}
	if !v.Enabled {
		return apperr.Conflict("visit %d is disabled", v.ID)
	}
	if v.MedicoID != nil && *v.MedicoID != d.ID {
		return apperr.Conflict("visit %d is assigned to another doctor", v.ID)
	}
	if !d.Estado {
		return apperr.Conflict("doctor %d is not on duty", d.ID)
	}
	if d.Busy() {
		return ErrDoctorBusy
	}
	if !d.Disponible {
		return apperr.Conflict("doctor %d is not accepting visits", d.ID)
	}
	return nil
}

func applyStart(v *visits.Visit, d *doctors.Doctor, at time.Time) {
	doctorID, visitID := d.ID, v.ID
	v.State = visits.StateActive
	v.MedicoID = &doctorID
	v.StartedAt = &at
	v.UpdatedAt = at
	d.VisitaActivaID = &visitID
	d.Disponible = false
}

// finishDoctor resolves which doctor a finish or cancel applies to.
func finishDoctor(v *visits.Visit, requested int64) (int64, error) {
	if v.MedicoID == nil {
		return 0, apperr.Conflict("visit %d is %s", v.ID, v.State)
	}
	if requested != 0 && requested != *v.MedicoID {
		return 0, apperr.Conflict("visit %d is not the active visit of doctor %d", v.ID, requested)
	}
	return *v.MedicoID, nil
}

func checkFinish(v *visits.Visit, d *doctors.Doctor) error {
	if v.State != visits.StateActive {
		return apperr.Conflict("visit %d is %s", v.ID, v.State)
	}
	if d.VisitaActivaID == nil || *d.VisitaActivaID != v.ID {
		return apperr.Conflict("visit %d is not the active visit of doctor %d", v.ID, d.ID)
	}
	return nil
}

func applyFinish(v *visits.Visit, d *doctors.Doctor, at time.Time) {
	v.State = visits.StateCompleted
	v.CompletedAt = &at
	v.UpdatedAt = at
	release(d, v.ID)
}

func checkCancel(v *visits.Visit) error {
	if v.State != visits.StateActive {
		return apperr.Conflict("visit %d is %s", v.ID, v.State)
	}
	return nil
}

func applyCancel(v *visits.Visit, d *doctors.Doctor, at time.Time) {
	v.State = visits.StateCancelled
	v.CancelledAt = &at
	v.UpdatedAt = at
	if d != nil {
		release(d, v.ID)
	}
}

// release clears the marker only when it points at visitID.
func release(d *doctors.Doctor, visitID int64) {
	if d.VisitaActivaID != nil && *d.VisitaActivaID == visitID {
		d.VisitaActivaID = nil
		d.Disponible = true
	}
}
