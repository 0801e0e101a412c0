package assignment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/homecare-visits/internal/actor"
	"github.com/wolfman30/homecare-visits/internal/apperr"
	"github.com/wolfman30/homecare-visits/internal/audit"
	"github.com/wolfman30/homecare-visits/internal/observability/metrics"
	"github.com/wolfman30/homecare-visits/internal/visits"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

var assignmentTracer = otel.Tracer("homecare.internal.assignment")

// ErrInProgress is returned when another transition on the same visit is running.
var ErrInProgress = apperr.Conflict("request already in progress")

// Notifier receives lifecycle changes for the admin inbox.
type Notifier interface {
	VisitStatusChanged(ctx context.Context, visitID int64, state string, doctorID, patientID int64) error
}

type Option func(*Coordinator)

func WithNotifier(n Notifier) Option { return func(c *Coordinator) { c.notifier = n } }

func WithAuditLog(l audit.Log) Option { return func(c *Coordinator) { c.audit = l } }

func WithMetrics(m *metrics.VisitMetrics) Option { return func(c *Coordinator) { c.metrics = m } }

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator owns the visit lifecycle transitions that touch a doctor.
type Coordinator struct {
	store    Store
	notifier Notifier
	audit    audit.Log
	metrics  *metrics.VisitMetrics
	logger   *logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	inflight map[int64]struct{}

	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

func NewCoordinator(store Store, logger *logging.Logger, opts ...Option) *Coordinator {
	if store == nil {
		panic("assignment: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Coordinator{
		store:         store,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		inflight:      make(map[int64]struct{}),
		notifyTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartVisit makes doctorID the visit's doctor and marks the visit active.
// Doctors start visits for themselves; admins must name the doctor.
func (c *Coordinator) StartVisit(ctx context.Context, a actor.Actor, visitID, doctorID int64) (*visits.Visit, error) {
	switch a.Role {
	case actor.RoleDoctor:
		if doctorID == 0 {
			doctorID = a.ID
		}
		if doctorID != a.ID {
			return nil, apperr.Validation("doctors can only start visits for themselves")
		}
	case actor.RoleAdmin:
		if doctorID <= 0 {
			return nil, apperr.Validation("medico_id is required")
		}
	default:
		return nil, apperr.Validation("%s cannot start visits", a.Role)
	}
	return c.transition(ctx, "start", a, Request{VisitID: visitID, DoctorID: doctorID}, c.store.Start)
}

// FinishVisit completes the actor's active visit. Admins finish on behalf of the visit's doctor.
func (c *Coordinator) FinishVisit(ctx context.Context, a actor.Actor, visitID int64) (*visits.Visit, error) {
	var doctorID int64
	switch a.Role {
	case actor.RoleDoctor:
		doctorID = a.ID
	case actor.RoleAdmin:
	default:
		return nil, apperr.Validation("%s cannot finish visits", a.Role)
	}
	return c.transition(ctx, "finish", a, Request{VisitID: visitID, DoctorID: doctorID}, c.store.Finish)
}

// CancelActive cancels an active visit and releases its doctor.
func (c *Coordinator) CancelActive(ctx context.Context, a actor.Actor, visitID int64) (*visits.Visit, error) {
	return c.transition(ctx, "cancel", a, Request{VisitID: visitID}, c.store.CancelActive)
}

// Wait blocks until in-flight notifications finish.
func (c *Coordinator) Wait() {
	c.pending.Wait()
}

func (c *Coordinator) transition(ctx context.Context, name string, a actor.Actor, req Request, apply func(context.Context, Request) (*visits.Visit, error)) (*visits.Visit, error) {
	if req.VisitID <= 0 {
		return nil, apperr.Validation("invalid visit id")
	}
	if !c.acquire(req.VisitID) {
		c.metrics.ObserveTransition(name, "in_progress")
		return nil, ErrInProgress
	}
	defer c.release(req.VisitID)

	ctx, span := assignmentTracer.Start(ctx, "assignment."+name, trace.WithAttributes(
		attribute.Int64("homecare.visit_id", req.VisitID),
		attribute.Int64("homecare.doctor_id", req.DoctorID),
		attribute.String("homecare.actor", a.String()),
	))
	defer span.End()

	req.By = a.String()
	req.At = c.now()
	v, err := apply(ctx, req)
	if err != nil {
		span.RecordError(err)
		c.metrics.ObserveTransition(name, string(apperr.KindOf(err)))
		c.logger.Info("visit transition refused", "transition", name, "visit_id", req.VisitID, "actor", a.String(), "error", err)
		return nil, err
	}
	c.metrics.ObserveTransition(name, "ok")
	c.logger.Info("visit transition", "transition", name, "visit_id", v.ID, "state", v.State, "actor", a.String())
	c.record(ctx, a, v)
	c.notify(ctx, v)
	return v, nil
}

func (c *Coordinator) acquire(visitID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[visitID]; busy {
		return false
	}
	c.inflight[visitID] = struct{}{}
	return true
}

func (c *Coordinator) release(visitID int64) {
	c.mu.Lock()
	delete(c.inflight, visitID)
	c.mu.Unlock()
}

func (c *Coordinator) record(ctx context.Context, a actor.Actor, v *visits.Visit) {
	if c.audit == nil {
		return
	}
	var action audit.Action
	switch v.State {
	case visits.StateActive:
		action = audit.ActionStarted
	case visits.StateCompleted:
		action = audit.ActionCompleted
	default:
		action = audit.ActionCancelled
	}
	if err := c.audit.Record(ctx, audit.Entry{
		VisitID:   v.ID,
		Action:    action,
		ActorRole: string(a.Role),
		ActorID:   a.ID,
	}); err != nil {
		c.logger.Warn("audit record failed", "visit_id", v.ID, "error", fmt.Errorf("assignment: %w", err))
	}
}

func (c *Coordinator) notify(ctx context.Context, v *visits.Visit) {
	if c.notifier == nil {
		return
	}
	var doctorID int64
	if v.MedicoID != nil {
		doctorID = *v.MedicoID
	}
	visitID, state, patientID := v.ID, string(v.State), v.PacienteID
	bg := context.WithoutCancel(ctx)

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		nctx, cancel := context.WithTimeout(bg, c.notifyTimeout)
		defer cancel()
		if err := c.notifier.VisitStatusChanged(nctx, visitID, state, doctorID, patientID); err != nil {
			c.metrics.ObserveNotification("status", "error")
			c.logger.Warn("status notification failed", "visit_id", visitID, "error", err)
		}
	}()
}
