// Package visitclient is the actor-side client for the visits API.
package visitclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/homecare-visits/internal/apperr"
	"github.com/wolfman30/homecare-visits/internal/audit"
	"github.com/wolfman30/homecare-visits/internal/doctors"
	"github.com/wolfman30/homecare-visits/internal/notifications"
	"github.com/wolfman30/homecare-visits/internal/visits"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "homecare-visitclient/0.1"
)

// ErrInFlight is returned when the same start or finish is already pending on this client.
var ErrInFlight = apperr.Conflict("request already in flight")

// Config controls how the client behaves.
type Config struct {
	BaseURL string
	// Token is the bearer JWT identifying the actor.
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	UserAgent  string
}

// Client calls the REST surface on behalf of one actor.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *logging.Logger
	userAgent  string

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a configured Client with defaults for everything but BaseURL.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("visitclient: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
		inflight:   make(map[string]struct{}),
	}, nil
}

// UpdateRequest is a partial visit update. Nil fields are left unchanged.
type UpdateRequest struct {
	FechaVisita *string `json:"fecha_visita,omitempty"`
	Descripcion *string `json:"descripcion,omitempty"`
	Direccion   *string `json:"direccion,omitempty"`
	Telefono    *string `json:"telefono,omitempty"`
	Enabled     *bool   `json:"estado,omitempty"`
	MedicoID    *int64  `json:"medico_id,omitempty"`
	BarrioID    *int64  `json:"barrio_id,omitempty"`
	// ClearMedico sends an explicit null medico_id, unassigning the doctor.
	ClearMedico bool `json:"-"`
}

func (u UpdateRequest) MarshalJSON() ([]byte, error) {
	type plain UpdateRequest
	raw, err := json.Marshal(plain(u))
	if err != nil || !u.ClearMedico {
		return raw, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["medico_id"] = nil
	return json.Marshal(fields)
}

// Create requests a new visit.
func (c *Client) Create(ctx context.Context, req visits.CreateRequest) (*visits.Visit, error) {
	var out visits.Visit
	if err := c.mutate(ctx, http.MethodPost, "/visitas", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, id int64) (*visits.Visit, error) {
	var out visits.Visit
	if err := c.read(ctx, "/visitas/"+itoa(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Update(ctx context.Context, id int64, req UpdateRequest) (*visits.Visit, error) {
	var out visits.Visit
	if err := c.mutate(ctx, http.MethodPut, "/visitas/"+itoa(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete cancels a visit. The server routes active visits through the coordinator.
func (c *Client) Delete(ctx context.Context, id int64) (*visits.Visit, error) {
	var out visits.Visit
	if err := c.mutate(ctx, http.MethodDelete, "/visitas/"+itoa(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListAll(ctx context.Context) ([]*visits.Visit, error) {
	return c.listVisits(ctx, "/visitas")
}

func (c *Client) ListPending(ctx context.Context) ([]*visits.Visit, error) {
	return c.listVisits(ctx, "/visitas/pendientes")
}

func (c *Client) ListByDoctor(ctx context.Context, doctorID int64) ([]*visits.Visit, error) {
	return c.listVisits(ctx, "/visitas/medico/"+itoa(doctorID))
}

func (c *Client) ListByPatient(ctx context.Context, patientID int64) ([]*visits.Visit, error) {
	return c.listVisits(ctx, "/visitas/paciente/"+itoa(patientID))
}

func (c *Client) listVisits(ctx context.Context, path string) ([]*visits.Visit, error) {
	var out []*visits.Visit
	if err := c.read(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartVisit starts visitID. doctorID may be zero when the actor is the doctor.
func (c *Client) StartVisit(ctx context.Context, visitID, doctorID int64) (*visits.Visit, error) {
	key := "start:" + itoa(visitID)
	if !c.acquire(key) {
		return nil, ErrInFlight
	}
	defer c.release(key)

	var body any
	if doctorID > 0 {
		body = map[string]int64{"medico_id": doctorID}
	}
	var out visits.Visit
	if err := c.mutate(ctx, http.MethodPost, "/visitas/"+itoa(visitID)+"/iniciar", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FinishVisit(ctx context.Context, visitID int64) (*visits.Visit, error) {
	key := "finish:" + itoa(visitID)
	if !c.acquire(key) {
		return nil, ErrInFlight
	}
	defer c.release(key)

	var out visits.Visit
	if err := c.mutate(ctx, http.MethodPost, "/visitas/"+itoa(visitID)+"/finalizar", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the audit trail of a visit, oldest first.
func (c *Client) History(ctx context.Context, visitID int64) ([]audit.Entry, error) {
	var out []audit.Entry
	if err := c.read(ctx, "/visitas/"+itoa(visitID)+"/historial", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListDoctors(ctx context.Context) ([]*doctors.Doctor, error) {
	var out []*doctors.Doctor
	if err := c.read(ctx, "/medicos", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetAvailability(ctx context.Context, doctorID int64, disponible bool) (*doctors.Doctor, error) {
	var out doctors.Doctor
	body := map[string]bool{"disponible": disponible}
	if err := c.mutate(ctx, http.MethodPatch, "/medicos/"+itoa(doctorID)+"/disponibilidad", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListInbox fetches the persisted notifications of r, newest first.
func (c *Client) ListInbox(ctx context.Context, r notifications.Recipient) ([]*notifications.Notification, error) {
	if !r.Valid() {
		return nil, apperr.Validation("invalid recipient")
	}
	path := "/notificaciones/admin/visitas"
	if r.Kind == notifications.RecipientDoctor {
		path = "/notificaciones/medico/" + itoa(r.DoctorID)
	}
	var out []*notifications.Notification
	if err := c.read(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarkRead(ctx context.Context, id int64) (*notifications.Notification, error) {
	var out notifications.Notification
	if err := c.mutate(ctx, http.MethodPatch, "/notificacion/"+itoa(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteNotification(ctx context.Context, id int64) error {
	return c.mutate(ctx, http.MethodDelete, "/notificaciones/delete/"+itoa(id), nil, nil)
}

// Refresh loads the current snapshot of inbox's recipient into inbox.
func (c *Client) Refresh(ctx context.Context, inbox *Inbox) error {
	list, err := c.ListInbox(ctx, inbox.Recipient())
	if err != nil {
		return err
	}
	inbox.Merge(list)
	return nil
}

func (c *Client) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

func (c *Client) release(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

func (c *Client) read(ctx context.Context, path string, out any) error {
	return c.invoke(ctx, http.MethodGet, path, nil, out, 1)
}

// mutate never retries: a lost response may still have been applied.
func (c *Client) mutate(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("visitclient: marshal body: %w", err)
		}
		payload = raw
	}
	return c.invoke(ctx, method, path, payload, out, 0)
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte, out any, retries int) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		data, status, err := c.roundTrip(ctx, method, path, body)
		if err != nil {
			if ctx.Err() != nil {
				return apperr.Transport(ctx.Err(), "%s %s cancelled", method, path)
			}
			lastErr = apperr.Transport(err, "%s %s failed", method, path)
			if attempt < retries {
				c.logger.Warn("visitclient retrying", "method", method, "path", path, "attempt", attempt+1, "error", err)
			}
			continue
		}
		if status >= 200 && status < 300 {
			if out == nil || status == http.StatusNoContent || len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("visitclient: decode %s %s: %w", method, path, err)
			}
			return nil
		}
		apiErr := decodeAPIError(status, data)
		if attempt < retries && errors.Is(apiErr, apperr.ErrTransport) {
			lastErr = apiErr
			c.logger.Warn("visitclient retrying", "method", method, "path", path, "attempt", attempt+1, "status", status)
			continue
		}
		return apiErr
	}
	return lastErr
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("visitclient: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}

func decodeAPIError(status int, data []byte) error {
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		body.Error = strings.TrimSpace(string(data))
	}
	return apperr.FromStatus(status, body.Kind, body.Error)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
