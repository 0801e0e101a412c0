package visitclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/homecare-visits/internal/api/router"
	"github.com/wolfman30/homecare-visits/internal/apperr"
	"github.com/wolfman30/homecare-visits/internal/assignment"
	"github.com/wolfman30/homecare-visits/internal/audit"
	"github.com/wolfman30/homecare-visits/internal/doctors"
	httpmiddleware "github.com/wolfman30/homecare-visits/internal/http/middleware"
	"github.com/wolfman30/homecare-visits/internal/notifications"
	"github.com/wolfman30/homecare-visits/internal/visits"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

const testSecret = "visitclient-secret"

type testEnv struct {
	server *httptest.Server
	hub    *notifications.Hub
	notifs *notifications.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.New("error")

	repo := visits.NewInMemoryRepository()
	dir := doctors.NewInMemoryDirectory(
		doctors.Doctor{ID: 7, Nombre: "Ana", Disponible: true, Estado: true},
		doctors.Doctor{ID: 8, Nombre: "Luis", Disponible: true, Estado: true},
	)
	auditLog := audit.NewMemoryLog()
	hub := notifications.NewHub(nil, logger)
	notifs := notifications.NewService(notifications.NewMemoryStore(), notifications.StaticPatients{3: "Ana Torres"}, logger,
		notifications.WithBroker(notifications.NewLocalBroker(hub)))
	coord := assignment.NewCoordinator(assignment.NewMemoryStore(repo, dir), logger,
		assignment.WithNotifier(notifs), assignment.WithAuditLog(auditLog))
	svc := visits.NewService(repo, logger,
		visits.WithNotifier(notifs), visits.WithCanceller(coord), visits.WithAuditLog(auditLog))

	srv := httptest.NewServer(router.New(&router.Config{
		VisitsHandler:        visits.NewHandler(svc, logger),
		AssignmentHandler:    assignment.NewHandler(coord, logger),
		DoctorsHandler:       doctors.NewHandler(dir, logger),
		NotificationsHandler: notifications.NewHandler(notifs, notifications.NewWSHandler(hub, nil, logger), logger),
		AuditHandler:         audit.NewHandler(auditLog, logger),
		JWTSecret:            testSecret,
	}))
	t.Cleanup(func() {
		srv.Close()
		svc.Wait()
		coord.Wait()
	})
	return &testEnv{server: srv, hub: hub, notifs: notifs}
}

func (e *testEnv) client(t *testing.T, role, subject string) *Client {
	t.Helper()
	claims := httpmiddleware.ActorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	c, err := New(Config{BaseURL: e.server.URL, Token: token, Logger: logging.New("error")})
	require.NoError(t, err)
	return c
}

func newVisit(doctorID *int64) visits.CreateRequest {
	return visits.CreateRequest{
		FechaVisita: "2099-05-10",
		Descripcion: "dolor de cabeza",
		Direccion:   "Carrera 7 # 12-30",
		Telefono:    "3109876543",
		MedicoID:    doctorID,
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	c, err := New(Config{BaseURL: "http://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", c.baseURL)
	assert.Equal(t, defaultTimeout, c.timeout)
}

func TestClientLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	patient := env.client(t, "patient", "3")
	doctor := env.client(t, "doctor", "7")
	other := env.client(t, "doctor", "8")
	admin := env.client(t, "admin", "1")

	doctorID := int64(7)
	created, err := patient.Create(ctx, newVisit(&doctorID))
	require.NoError(t, err)
	assert.Equal(t, visits.StateRequested, created.State)
	assert.Equal(t, int64(3), created.PacienteID)

	_, err = patient.Create(ctx, visits.CreateRequest{FechaVisita: "2000-01-01"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	started, err := doctor.StartVisit(ctx, created.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, visits.StateActive, started.State)

	_, err = other.StartVisit(ctx, created.ID, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	list, err := doctor.ListByDoctor(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 1)

	finished, err := doctor.FinishVisit(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, visits.StateCompleted, finished.State)

	history, err := admin.History(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	_, err = admin.Get(ctx, 999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestClientUpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	patient := env.client(t, "patient", "3")
	admin := env.client(t, "admin", "1")

	doctorID := int64(8)
	created, err := patient.Create(ctx, newVisit(&doctorID))
	require.NoError(t, err)

	desc := "fiebre"
	updated, err := admin.Update(ctx, created.ID, UpdateRequest{Descripcion: &desc, ClearMedico: true})
	require.NoError(t, err)
	assert.Equal(t, "fiebre", updated.Descripcion)
	assert.Nil(t, updated.MedicoID)

	cancelled, err := patient.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, visits.StateCancelled, cancelled.State)

	_, err = patient.Delete(ctx, created.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestClientInboxAndDoctors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	patient := env.client(t, "patient", "3")
	doctor := env.client(t, "doctor", "7")
	admin := env.client(t, "admin", "1")

	doctorID := int64(7)
	_, err := patient.Create(ctx, newVisit(&doctorID))
	require.NoError(t, err)

	var inbox []*notifications.Notification
	require.Eventually(t, func() bool {
		inbox, err = doctor.ListInbox(ctx, notifications.Doctor(7))
		return err == nil && len(inbox) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, notifications.KindDoctorVisit, inbox[0].Kind)

	read, err := doctor.MarkRead(ctx, inbox[0].ID)
	require.NoError(t, err)
	assert.True(t, read.Read)

	_, err = doctor.ListInbox(ctx, notifications.Recipient{Kind: notifications.RecipientDoctor})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	var adminInbox []*notifications.Notification
	require.Eventually(t, func() bool {
		adminInbox, err = admin.ListInbox(ctx, notifications.Admin())
		return err == nil && len(adminInbox) == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, admin.DeleteNotification(ctx, adminInbox[0].ID))
	assert.True(t, errors.Is(admin.DeleteNotification(ctx, adminInbox[0].ID), apperr.ErrNotFound))

	docs, err := admin.ListDoctors(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	updated, err := doctor.SetAvailability(ctx, 7, false)
	require.NoError(t, err)
	assert.False(t, updated.Disponible)
}

// flakyServer drops the connection for the first drops requests, then answers ok.
func flakyServer(t *testing.T, drops int32, calls *atomic.Int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= drops {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReadRetriesOnceOnTransportFailure(t *testing.T) {
	var calls atomic.Int32
	srv := flakyServer(t, 1, &calls, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": 4, "estado_visita": "requested"}]`))
	})
	c, err := New(Config{BaseURL: srv.URL, Logger: logging.New("error")})
	require.NoError(t, err)

	list, err := c.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(4), list[0].ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReadGivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	srv := flakyServer(t, 5, &calls, func(w http.ResponseWriter, r *http.Request) {})
	c, err := New(Config{BaseURL: srv.URL, Logger: logging.New("error")})
	require.NoError(t, err)

	_, err = c.ListAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTransport))
	assert.Equal(t, int32(2), calls.Load())
}

func TestMutationsNeverRetry(t *testing.T) {
	var calls atomic.Int32
	srv := flakyServer(t, 1, &calls, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id": 1}`))
	})
	c, err := New(Config{BaseURL: srv.URL, Logger: logging.New("error")})
	require.NoError(t, err)

	_, err = c.StartVisit(context.Background(), 1, 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTransport))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPerRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	c, err := New(Config{BaseURL: srv.URL, Timeout: 30 * time.Millisecond, Logger: logging.New("error")})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTransport))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestErrorBodiesDecodeIntoTaxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/visitas/1/finalizar":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error": "visit is not active", "kind": "conflict"}`))
		default:
			http.Error(w, "not here", http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Logger: logging.New("error")})
	require.NoError(t, err)

	_, err = c.FinishVisit(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, "visit is not active", apperr.Message(err))

	_, err = c.Get(context.Background(), 2)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Equal(t, "not here", apperr.Message(err))
}

func TestInFlightGuard(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(arrived)
			<-release
		}
		_, _ = w.Write([]byte(`{"id": 1, "estado_visita": "active"}`))
	}))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Logger: logging.New("error")})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.StartVisit(context.Background(), 1, 0)
		done <- err
	}()
	<-arrived

	_, err = c.StartVisit(context.Background(), 1, 0)
	assert.ErrorIs(t, err, ErrInFlight)

	// A different visit or a finish is not blocked.
	_, err = c.StartVisit(context.Background(), 2, 0)
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(2), calls.Load())

	_, err = c.StartVisit(context.Background(), 1, 0)
	assert.NoError(t, err, "guard is released after completion")
}

func TestUpdateRequestMarshal(t *testing.T) {
	raw, err := UpdateRequest{}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	doctor := int64(5)
	raw, err = UpdateRequest{MedicoID: &doctor}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"medico_id": 5}`, string(raw))

	raw, err = UpdateRequest{ClearMedico: true}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"medico_id": null}`, string(raw))
}
