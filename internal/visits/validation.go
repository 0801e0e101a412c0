package visits

import (
	"encoding/json"
	"strings"

	"github.com/wolfman30/homecare-visits/internal/apperr"
)

// Validate checks the request against today's date and builds a requested visit.
func (r *CreateRequest) Validate(today Date) (*Visit, error) {
	date, err := ParseDate(r.FechaVisita)
	if err != nil {
		return nil, apperr.Validation("fecha_visita: %v", err)
	}
	if date.Before(today) {
		return nil, apperr.Validation("fecha_visita %s is in the past", date)
	}
	if r.PacienteID <= 0 {
		return nil, apperr.Validation("paciente_id is required")
	}
	if err := positiveRef("medico_id", r.MedicoID); err != nil {
		return nil, err
	}
	if err := positiveRef("barrio_id", r.BarrioID); err != nil {
		return nil, err
	}
	fields := map[string]string{
		"descripcion": r.Descripcion,
		"direccion":   r.Direccion,
		"telefono":    r.Telefono,
	}
	for _, name := range []string{"descripcion", "direccion", "telefono"} {
		if strings.TrimSpace(fields[name]) == "" {
			return nil, apperr.Validation("%s is required", name)
		}
	}
	return &Visit{
		FechaVisita: date,
		Descripcion: strings.TrimSpace(r.Descripcion),
		Direccion:   strings.TrimSpace(r.Direccion),
		Telefono:    strings.TrimSpace(r.Telefono),
		State:       StateRequested,
		Enabled:     true,
		PacienteID:  r.PacienteID,
		MedicoID:    cloneID(r.MedicoID),
		BarrioID:    cloneID(r.BarrioID),
	}, nil
}

// NullableID distinguishes an absent JSON field from an explicit null.
type NullableID struct {
	Set   bool
	Value *int64
}

func (n *NullableID) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	n.Value = &id
	return nil
}

// Patch is the body of PUT /visitas/{id}. Only present fields change.
type Patch struct {
	FechaVisita *string    `json:"fecha_visita,omitempty"`
	Descripcion *string    `json:"descripcion,omitempty"`
	Direccion   *string    `json:"direccion,omitempty"`
	Telefono    *string    `json:"telefono,omitempty"`
	MedicoID    NullableID `json:"medico_id"`
	BarrioID    NullableID `json:"barrio_id"`
	Enabled     *bool      `json:"estado,omitempty"`
}

// Apply mutates v in place and returns the names of the fields that changed.
// It never touches State. Terminal visits only accept the estado toggle.
// On error v is left untouched.
func (p Patch) Apply(v *Visit, today Date) ([]string, error) {
	next := v.Clone()
	changed, err := p.apply(next, today)
	if err != nil {
		return nil, err
	}
	if v.State.Terminal() {
		for _, field := range changed {
			if field != "estado" {
				return nil, apperr.Conflict("visit is %s and can no longer be edited", v.State)
			}
		}
	}
	*v = *next
	return changed, nil
}

func (p Patch) apply(v *Visit, today Date) ([]string, error) {
	var changed []string

	if p.FechaVisita != nil {
		date, err := ParseDate(*p.FechaVisita)
		if err != nil {
			return nil, apperr.Validation("fecha_visita: %v", err)
		}
		if !date.Equal(v.FechaVisita) {
			if date.Before(today) {
				return nil, apperr.Validation("fecha_visita %s is in the past", date)
			}
			v.FechaVisita = date
			changed = append(changed, "fecha_visita")
		}
	}
	for _, f := range []struct {
		name string
		src  *string
		dst  *string
	}{
		{"descripcion", p.Descripcion, &v.Descripcion},
		{"direccion", p.Direccion, &v.Direccion},
		{"telefono", p.Telefono, &v.Telefono},
	} {
		if f.src == nil {
			continue
		}
		val := strings.TrimSpace(*f.src)
		if val == "" {
			return nil, apperr.Validation("%s cannot be blank", f.name)
		}
		if val != *f.dst {
			*f.dst = val
			changed = append(changed, f.name)
		}
	}
	if p.MedicoID.Set && !sameID(p.MedicoID.Value, v.MedicoID) {
		if err := positiveRef("medico_id", p.MedicoID.Value); err != nil {
			return nil, err
		}
		if v.State == StateActive {
			return nil, apperr.Conflict("cannot reassign the doctor of an active visit")
		}
		v.MedicoID = cloneID(p.MedicoID.Value)
		changed = append(changed, "medico_id")
	}
	if p.BarrioID.Set && !sameID(p.BarrioID.Value, v.BarrioID) {
		if err := positiveRef("barrio_id", p.BarrioID.Value); err != nil {
			return nil, err
		}
		v.BarrioID = cloneID(p.BarrioID.Value)
		changed = append(changed, "barrio_id")
	}
	if p.Enabled != nil && *p.Enabled != v.Enabled {
		v.Enabled = *p.Enabled
		changed = append(changed, "estado")
	}
	return changed, nil
}

func positiveRef(name string, id *int64) error {
	if id != nil && *id <= 0 {
		return apperr.Validation("%s must be positive", name)
	}
	return nil
}
