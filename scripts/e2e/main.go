// Package main runs end-to-end scenarios of the visit lifecycle against a running API.
//
// Scenarios:
//   - happy-path: request, start, finish, inbox and audit trail
//   - concurrent-start: several doctors race for one visit, exactly one wins
//   - double-finish: a completed visit cannot be finished again
//   - cancel-active: deleting an active visit releases the doctor
//
// The server must run with SEED_DOCTORS (memory mode) or have the doctors in E2E_DOCTOR_IDS.
//
// Usage:
//
//	JWT_SECRET=... API_BASE_URL=... go run ./scripts/e2e              # runs all
//	JWT_SECRET=... API_BASE_URL=... go run ./scripts/e2e happy-path   # runs one
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/homecare-visits/internal/apperr"
	httpmiddleware "github.com/wolfman30/homecare-visits/internal/http/middleware"
	"github.com/wolfman30/homecare-visits/internal/notifications"
	"github.com/wolfman30/homecare-visits/internal/visitclient"
	"github.com/wolfman30/homecare-visits/internal/visits"
)

var (
	apiBase   string
	jwtSecret string
	doctorIDs []int64
	patientID int64
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
		return
	}
	fmt.Printf("    FAIL: %s\n", name)
	t.failed++
}

func (t *T) fatalf(format string, args ...any) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
	panic(errAbort)
}

var errAbort = errors.New("scenario aborted")

func signToken(role string, id int64) string {
	claims := httpmiddleware.ActorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	if err != nil {
		panic(err)
	}
	return signed
}

func clientFor(t *T, role string, id int64) *visitclient.Client {
	c, err := visitclient.New(visitclient.Config{BaseURL: apiBase, Token: signToken(role, id)})
	if err != nil {
		t.fatalf("client: %v", err)
	}
	return c
}

func request(t *T, doctorID *int64) *visits.Visit {
	v, err := clientFor(t, "patient", patientID).Create(context.Background(), visits.CreateRequest{
		FechaVisita: time.Now().AddDate(0, 0, 1).Format("2006-01-02"),
		Descripcion: "e2e " + t.name,
		Direccion:   "Calle 1 # 2-3",
		Telefono:    "3000000000",
		MedicoID:    doctorID,
	})
	if err != nil {
		t.fatalf("create visit: %v", err)
	}
	return v
}

func scenarioHappyPath(t *T) {
	ctx := context.Background()
	doctorID := doctorIDs[0]
	doctor := clientFor(t, "doctor", doctorID)
	admin := clientFor(t, "admin", 1)

	v := request(t, &doctorID)
	t.check("visit requested", v.State == visits.StateRequested)

	deadline := time.Now().Add(5 * time.Second)
	found := false
	for time.Now().Before(deadline) && !found {
		inbox, err := doctor.ListInbox(ctx, notifications.Doctor(doctorID))
		if err == nil {
			for _, n := range inbox {
				if n.VisitaID != nil && *n.VisitaID == v.ID {
					found = true
				}
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.check("doctor notified", found)

	started, err := doctor.StartVisit(ctx, v.ID, 0)
	t.check("visit started", err == nil && started.State == visits.StateActive)
	finished, err := doctor.FinishVisit(ctx, v.ID)
	t.check("visit finished", err == nil && finished.State == visits.StateCompleted)

	history, err := admin.History(ctx, v.ID)
	t.check("audit trail has three entries", err == nil && len(history) == 3)
}

func scenarioConcurrentStart(t *T) {
	if len(doctorIDs) < 2 {
		fmt.Println("    SKIP: needs at least two doctors")
		return
	}
	v := request(t, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for _, id := range doctorIDs {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := clientFor(t, "doctor", id).StartVisit(context.Background(), v.ID, 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			}
		}(id)
	}
	wg.Wait()
	t.check("exactly one doctor wins", wins == 1)
	t.check("the rest see a conflict", conflicts == len(doctorIDs)-1)

	cleanup, err := clientFor(t, "admin", 1).Delete(context.Background(), v.ID)
	t.check("active visit cancelled", err == nil && cleanup.State == visits.StateCancelled)
}

func scenarioDoubleFinish(t *T) {
	ctx := context.Background()
	doctorID := doctorIDs[0]
	doctor := clientFor(t, "doctor", doctorID)
	v := request(t, &doctorID)

	if _, err := doctor.StartVisit(ctx, v.ID, 0); err != nil {
		t.fatalf("start: %v", err)
	}
	_, err := doctor.FinishVisit(ctx, v.ID)
	t.check("first finish succeeds", err == nil)
	_, err = doctor.FinishVisit(ctx, v.ID)
	t.check("second finish conflicts", errors.Is(err, apperr.ErrConflict))
}

func scenarioCancelActive(t *T) {
	ctx := context.Background()
	doctorID := doctorIDs[0]
	doctor := clientFor(t, "doctor", doctorID)
	v := request(t, &doctorID)

	if _, err := doctor.StartVisit(ctx, v.ID, 0); err != nil {
		t.fatalf("start: %v", err)
	}
	_, err := clientFor(t, "patient", patientID).Delete(ctx, v.ID)
	t.check("patient cannot cancel an active visit", errors.Is(err, apperr.ErrConflict))
	cancelled, err := clientFor(t, "admin", 1).Delete(ctx, v.ID)
	t.check("operator cancels the active visit", err == nil && cancelled.State == visits.StateCancelled)

	next := request(t, &doctorID)
	started, err := doctor.StartVisit(ctx, next.ID, 0)
	t.check("doctor free for the next visit", err == nil && started.State == visits.StateActive)
	_, _ = doctor.FinishVisit(ctx, next.ID)
}

func parseIDs(raw string) []int64 {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil && id > 0 {
			out = append(out, id)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func run(s scenario) (t *T) {
	t = &T{name: s.Name}
	fmt.Printf("=== %s\n", s.Name)
	defer func() {
		if r := recover(); r != nil && r != errAbort {
			panic(r)
		}
	}()
	s.Fn(t)
	return t
}

func main() {
	apiBase = envOr("API_BASE_URL", "http://localhost:8080")
	jwtSecret = os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		fmt.Println("JWT_SECRET is required")
		os.Exit(2)
	}
	doctorIDs = parseIDs(envOr("E2E_DOCTOR_IDS", "1,2"))
	if len(doctorIDs) == 0 {
		fmt.Println("E2E_DOCTOR_IDS has no valid ids")
		os.Exit(2)
	}
	patientID = parseIDs(envOr("E2E_PATIENT_ID", "1"))[0]

	scenarios := []scenario{
		{"happy-path", scenarioHappyPath},
		{"concurrent-start", scenarioConcurrentStart},
		{"double-finish", scenarioDoubleFinish},
		{"cancel-active", scenarioCancelActive},
	}
	if len(os.Args) > 1 {
		var picked []scenario
		for _, s := range scenarios {
			if s.Name == os.Args[1] {
				picked = append(picked, s)
			}
		}
		if len(picked) == 0 {
			fmt.Printf("unknown scenario %q\n", os.Args[1])
			os.Exit(2)
		}
		scenarios = picked
	}

	passed, failed := 0, 0
	for _, s := range scenarios {
		t := run(s)
		passed += t.passed
		failed += t.failed
	}
	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
