package assignment

import (
	"context"

	"github.com/wolfman30/homecare-visits/internal/doctors"
	"github.com/wolfman30/homecare-visits/internal/visits"
)

// Store applies transitions atomically over the visit and its doctor.
type Store interface {
	Start(ctx context.Context, req Request) (*visits.Visit, error)
	Finish(ctx context.Context, req Request) (*visits.Visit, error)
	CancelActive(ctx context.Context, req Request) (*visits.Visit, error)
}

// MemoryStore coordinates the in-memory visit repository and doctor directory.
// The doctor lock is always taken before the visit lock.
type MemoryStore struct {
	visits  *visits.InMemoryRepository
	doctors *doctors.InMemoryDirectory
}

func NewMemoryStore(repo *visits.InMemoryRepository, dir *doctors.InMemoryDirectory) *MemoryStore {
	if repo == nil || dir == nil {
		panic("assignment: visit repository and doctor directory required")
	}
	return &MemoryStore{visits: repo, doctors: dir}
}

func (s *MemoryStore) Start(ctx context.Context, req Request) (*visits.Visit, error) {
	if _, err := s.visits.Get(ctx, req.VisitID); err != nil {
		return nil, err
	}
	var started *visits.Visit
	_, err := s.doctors.Mutate(ctx, req.DoctorID, func(d *doctors.Doctor) error {
		v, err := s.visits.Update(ctx, req.VisitID, func(v *visits.Visit) error {
			if err := checkStart(v, d); err != nil {
				return err
			}
			applyStart(v, d, req.At)
			return nil
		})
		started = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

func (s *MemoryStore) Finish(ctx context.Context, req Request) (*visits.Visit, error) {
	current, err := s.visits.Get(ctx, req.VisitID)
	if err != nil {
		return nil, err
	}
	doctorID, err := finishDoctor(current, req.DoctorID)
	if err != nil {
		return nil, err
	}
	var finished *visits.Visit
	_, err = s.doctors.Mutate(ctx, doctorID, func(d *doctors.Doctor) error {
		v, err := s.visits.Update(ctx, req.VisitID, func(v *visits.Visit) error {
			if err := checkFinish(v, d); err != nil {
				return err
			}
			applyFinish(v, d, req.At)
			return nil
		})
		finished = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return finished, nil
}

func (s *MemoryStore) CancelActive(ctx context.Context, req Request) (*visits.Visit, error) {
	current, err := s.visits.Get(ctx, req.VisitID)
	if err != nil {
		return nil, err
	}
	if err := checkCancel(current); err != nil {
		return nil, err
	}
	if current.MedicoID == nil {
		return s.visits.Update(ctx, req.VisitID, func(v *visits.Visit) error {
			if err := checkCancel(v); err != nil {
				return err
			}
			applyCancel(v, nil, req.At)
			return nil
		})
	}
	var cancelled *visits.Visit
	_, err = s.doctors.Mutate(ctx, *current.MedicoID, func(d *doctors.Doctor) error {
		v, err := s.visits.Update(ctx, req.VisitID, func(v *visits.Visit) error {
			if err := checkCancel(v); err != nil {
				return err
			}
			applyCancel(v, d, req.At)
			return nil
		})
		cancelled = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}
