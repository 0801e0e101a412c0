package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/homecare-visits/internal/actor"
	"github.com/wolfman30/homecare-visits/internal/apperr"
	"github.com/wolfman30/homecare-visits/internal/observability/metrics"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

var notificationsTracer = otel.Tracer("homecare.internal.notifications")

// Alerter receives a copy of each new visit request for the admins.
type Alerter interface {
	AlertAdmins(ctx context.Context, subject, body string) error
}

type Option func(*Service)

func WithBroker(b Broker) Option { return func(s *Service) { s.broker = b } }

func WithAlerter(a Alerter) Option { return func(s *Service) { s.alerter = a } }

func WithMetrics(m *metrics.VisitMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is the notification channel: persisted inboxes plus best-effort live push.
type Service struct {
	store    Store
	patients PatientDirectory
	broker   Broker
	alerter  Alerter
	metrics  *metrics.VisitMetrics
	logger   *logging.Logger
	now      func() time.Time
}

func NewService(store Store, patients PatientDirectory, logger *logging.Logger, opts ...Option) *Service {
	if store == nil {
		panic("notifications: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:    store,
		patients: patients,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish persists every notification evt produces, then pushes each one live.
// A persistence failure is returned; push failures are only logged.
func (s *Service) Publish(ctx context.Context, evt Event) ([]*Notification, error) {
	ctx, span := notificationsTracer.Start(ctx, "notifications.publish")
	defer span.End()

	pending := evt.notifications(s.now())
	out := make([]*Notification, 0, len(pending))
	for _, n := range pending {
		stored, err := s.store.Insert(ctx, n)
		if err != nil {
			span.RecordError(err)
			s.metrics.ObserveNotification("inbox", "error")
			return out, err
		}
		s.metrics.ObserveNotification("inbox", "ok")
		out = append(out, stored)
	}
	span.SetAttributes(attribute.Int("homecare.notifications", len(out)))

	for _, n := range out {
		s.push(ctx, n)
		if n.Kind == KindVisitRequest {
			s.alert(ctx, n)
		}
	}
	return out, nil
}

// VisitRequested announces a new visit request to its doctor and the admins.
func (s *Service) VisitRequested(ctx context.Context, visitID, patientID int64, doctorID *int64) error {
	name, err := s.patientName(ctx, patientID)
	if err != nil {
		return err
	}
	var visit *int64
	if visitID > 0 {
		visit = &visitID
	}
	_, err = s.Publish(ctx, VisitRequested{PatientName: name, PatientID: patientID, DoctorID: doctorID, VisitID: visit})
	return err
}

// VisitAssigned tells doctorID about a visit an operator assigned to them.
func (s *Service) VisitAssigned(ctx context.Context, visitID, patientID, doctorID int64) error {
	if doctorID <= 0 {
		return apperr.Validation("medico_id is required")
	}
	name, err := s.patientName(ctx, patientID)
	if err != nil {
		return err
	}
	_, err = s.Publish(ctx, VisitAssigned{PatientName: name, PatientID: patientID, DoctorID: doctorID, VisitID: visitID})
	return err
}

// VisitStatusChanged tells the admins about a lifecycle transition.
func (s *Service) VisitStatusChanged(ctx context.Context, visitID int64, state string, doctorID, patientID int64) error {
	name, err := s.patientName(ctx, patientID)
	if err != nil {
		return err
	}
	_, err = s.Publish(ctx, VisitStatusChanged{
		VisitID:     visitID,
		State:       state,
		DoctorID:    doctorID,
		PatientID:   patientID,
		PatientName: name,
	})
	return err
}

func (s *Service) ListInbox(ctx context.Context, r Recipient) ([]*Notification, error) {
	if !r.Valid() {
		return nil, apperr.Validation("invalid recipient")
	}
	return s.store.List(ctx, r)
}

// MarkRead marks one of a's notifications as read. Notifications in an inbox
// a cannot read are reported as not found.
func (s *Service) MarkRead(ctx context.Context, a actor.Actor, id int64) (*Notification, error) {
	if err := s.owned(ctx, a, id); err != nil {
		return nil, err
	}
	return s.store.MarkRead(ctx, id)
}

func (s *Service) Delete(ctx context.Context, a actor.Actor, id int64) error {
	if err := s.owned(ctx, a, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

func (s *Service) owned(ctx context.Context, a actor.Actor, id int64) error {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !n.Recipient.Readable(a) {
		return ErrNotificationNotFound
	}
	return nil
}

// Cleanup removes read notifications older than olderThan.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, apperr.Validation("retention must be positive")
	}
	return s.store.DeleteReadBefore(ctx, s.now().Add(-olderThan))
}

func (s *Service) push(ctx context.Context, n *Notification) {
	if s.broker == nil {
		return
	}
	evt := LiveEvent{Event: n.Kind, Topic: n.Recipient.Topic(), Timestamp: n.CreatedAt, Notification: n}
	if err := s.broker.Publish(ctx, evt); err != nil {
		s.metrics.ObserveNotification("live", "error")
		s.logger.Warn("live push failed", "notification_id", n.ID, "topic", evt.Topic, "error", err)
		return
	}
	s.metrics.ObserveNotification("live", "ok")
}

func (s *Service) alert(ctx context.Context, n *Notification) {
	if s.alerter == nil || n.Recipient.Kind != RecipientAdmin {
		return
	}
	subject := fmt.Sprintf("Nueva solicitud de visita: %s", n.PacienteNombre)
	if err := s.alerter.AlertAdmins(ctx, subject, n.Message); err != nil {
		s.metrics.ObserveNotification("email", "error")
		s.logger.Warn("admin alert failed", "notification_id", n.ID, "error", err)
		return
	}
	s.metrics.ObserveNotification("email", "ok")
}

// patientName falls back to a placeholder when the patient row is missing.
func (s *Service) patientName(ctx context.Context, patientID int64) (string, error) {
	if patientID <= 0 {
		return "", apperr.Validation("paciente_id is required")
	}
	fallback := fmt.Sprintf("Paciente %d", patientID)
	if s.patients == nil {
		return fallback, nil
	}
	name, err := s.patients.Name(ctx, patientID)
	if errors.Is(err, apperr.ErrNotFound) || (err == nil && name == "") {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}
