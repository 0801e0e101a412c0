package visits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/homecare-visits/internal/actor"
	"github.com/wolfman30/homecare-visits/internal/apperr"
	"github.com/wolfman30/homecare-visits/internal/audit"
	"github.com/wolfman30/homecare-visits/internal/observability/metrics"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

var visitsTracer = otel.Tracer("homecare.internal.visits")

// Notifier receives new visit requests and doctor assignments. Implementations
// must be safe for concurrent use.
type Notifier interface {
	VisitRequested(ctx context.Context, visitID, patientID int64, doctorID *int64) error
	VisitAssigned(ctx context.Context, visitID, patientID, doctorID int64) error
}

// ActiveCanceller cancels an active visit and releases its doctor atomically.
type ActiveCanceller interface {
	CancelActive(ctx context.Context, a actor.Actor, visitID int64) (*Visit, error)
}

// Option customizes a Service.
type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithCanceller(c ActiveCanceller) Option { return func(s *Service) { s.canceller = c } }

func WithAuditLog(l audit.Log) Option { return func(s *Service) { s.audit = l } }

func WithMetrics(m *metrics.VisitMetrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides the wall clock and the timezone used to decide "today".
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
		if loc != nil {
			s.loc = loc
		}
	}
}

// Service is the visit registry.
type Service struct {
	repo          Repository
	canceller     ActiveCanceller
	notifier      Notifier
	audit         audit.Log
	metrics       *metrics.VisitMetrics
	logger        *logging.Logger
	now           func() time.Time
	loc           *time.Location
	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

// NewService constructs the registry.
func NewService(repo Repository, logger *logging.Logger, opts ...Option) *Service {
	if repo == nil {
		panic("visits: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		repo:          repo,
		logger:        logger,
		now:           time.Now,
		loc:           time.UTC,
		notifyTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today is the current civil date in the service timezone.
func (s *Service) Today() Date {
	return DateOf(s.now(), s.loc)
}

// Create validates and stores a new request, then notifies asynchronously.
// Patients always request for themselves; only operators pick paciente_id.
func (s *Service) Create(ctx context.Context, a actor.Actor, req CreateRequest) (*Visit, error) {
	ctx, span := visitsTracer.Start(ctx, "visits.create")
	defer span.End()

	if a.Role == actor.RolePatient {
		req.PacienteID = a.ID
	}
	draft, err := req.Validate(s.Today())
	if err != nil {
		s.metrics.ObserveCreated("invalid")
		return nil, err
	}
	created, err := s.repo.Create(ctx, draft)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveCreated("error")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("homecare.visit_id", created.ID))
	s.metrics.ObserveCreated("ok")
	s.record(ctx, a, created.ID, audit.ActionRequested, nil)
	s.logger.Info("visit requested", "visit_id", created.ID, "patient_id", created.PacienteID, "actor", a.String())

	s.notifyRequested(ctx, created)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Visit, error) {
	return s.repo.Get(ctx, id)
}

// Update applies an operator patch. It never changes the lifecycle state.
// A newly assigned doctor is notified asynchronously.
func (s *Service) Update(ctx context.Context, a actor.Actor, id int64, patch Patch) (*Visit, error) {
	today := s.Today()
	var (
		changed []string
		before  *int64
	)
	updated, err := s.repo.Update(ctx, id, func(v *Visit) error {
		before = cloneID(v.MedicoID)
		fields, err := patch.Apply(v, today)
		changed = fields
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.record(ctx, a, id, audit.ActionUpdated, changed)
		s.logger.Info("visit updated", "visit_id", id, "fields", changed, "actor", a.String())
	}
	if doctor := updated.MedicoID; doctor != nil && (before == nil || *before != *doctor) {
		visitID, patientID, doctorID := updated.ID, updated.PacienteID, *doctor
		s.notify(ctx, visitID, func(nctx context.Context) error {
			return s.notifier.VisitAssigned(nctx, visitID, patientID, doctorID)
		})
	}
	return updated, nil
}

// Delete cancels a visit. Requested visits are cancelled here; active visits go
// through the coordinator so the doctor is released in the same transaction.
// Completed and cancelled visits are history and cannot be deleted.
// Patients may only withdraw their own requests, and never an active visit.
func (s *Service) Delete(ctx context.Context, a actor.Actor, id int64) (*Visit, error) {
	if a.Role == actor.RolePatient {
		v, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if v.PacienteID != a.ID {
			return nil, ErrVisitNotFound
		}
	}
	cancelled, err := s.repo.Cancel(ctx, id, s.now().UTC())
	if errors.Is(err, errStillActive) {
		if a.Role == actor.RolePatient {
			return nil, apperr.Conflict("visit %d is in progress and can only be cancelled by an operator", id)
		}
		if s.canceller == nil {
			return nil, apperr.Conflict("visit is active and cannot be cancelled")
		}
		return s.canceller.CancelActive(ctx, a, id)
	}
	if err != nil {
		return nil, err
	}
	s.record(ctx, a, id, audit.ActionCancelled, nil)
	s.logger.Info("visit cancelled", "visit_id", id, "actor", a.String())
	return cancelled, nil
}

func (s *Service) ListAll(ctx context.Context) ([]*Visit, error) {
	return s.repo.List(ctx, Filter{})
}

func (s *Service) ListByPatient(ctx context.Context, patientID int64) ([]*Visit, error) {
	if patientID <= 0 {
		return nil, apperr.Validation("invalid patient id")
	}
	return s.repo.List(ctx, Filter{PatientID: &patientID})
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID int64) ([]*Visit, error) {
	if doctorID <= 0 {
		return nil, apperr.Validation("invalid doctor id")
	}
	return s.repo.List(ctx, Filter{DoctorID: &doctorID})
}

// ListPending returns enabled visits still waiting for a doctor to start them.
func (s *Service) ListPending(ctx context.Context) ([]*Visit, error) {
	return s.repo.List(ctx, Filter{State: StateRequested, EnabledOnly: true})
}

// Wait blocks until in-flight notifications finish. Called on shutdown.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) notifyRequested(ctx context.Context, v *Visit) {
	visitID, patientID, doctorID := v.ID, v.PacienteID, cloneID(v.MedicoID)
	s.notify(ctx, visitID, func(nctx context.Context) error {
		return s.notifier.VisitRequested(nctx, visitID, patientID, doctorID)
	})
}

// notify runs send in the background, detached from the request context.
func (s *Service) notify(ctx context.Context, visitID int64, send func(context.Context) error) {
	if s.notifier == nil {
		return
	}
	bg := context.WithoutCancel(ctx)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		nctx, cancel := context.WithTimeout(bg, s.notifyTimeout)
		defer cancel()
		if err := send(nctx); err != nil {
			s.metrics.ObserveNotification("publish", "error")
			s.logger.Warn("visit notification failed", "visit_id", visitID, "error", err)
		}
	}()
}

func (s *Service) record(ctx context.Context, a actor.Actor, visitID int64, action audit.Action, fields []string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		VisitID:       visitID,
		Action:        action,
		ActorRole:     string(a.Role),
		ActorID:       a.ID,
		ChangedFields: fields,
	})
	if err != nil {
		s.logger.Warn("audit record failed", "visit_id", visitID, "action", action, "error", fmt.Errorf("visits: %w", err))
	}
}
