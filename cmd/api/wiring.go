package main

import (
	"context"
	"database/sql"
	"net/http"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/homecare-visits/internal/assignment"
	"github.com/wolfman30/homecare-visits/internal/audit"
	appconfig "github.com/wolfman30/homecare-visits/internal/config"
	"github.com/wolfman30/homecare-visits/internal/doctors"
	"github.com/wolfman30/homecare-visits/internal/notifications"
	"github.com/wolfman30/homecare-visits/internal/observability/metrics"
	"github.com/wolfman30/homecare-visits/internal/visits"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

// stores groups the persistence backends. pool and sqlDB are nil in memory mode.
type stores struct {
	visits        visits.Repository
	doctors       doctors.Directory
	assignment    assignment.Store
	notifications notifications.Store
	patients      notifications.PatientDirectory
	audit         audit.Log

	pool  *pgxpool.Pool
	sqlDB *sql.DB
}

func (s *stores) Close() {
	if s.sqlDB != nil {
		_ = s.sqlDB.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func setupVisitMetrics() (http.Handler, *metrics.VisitMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewVisitMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres not reachable", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// buildStores picks Postgres when a pool is available and memory otherwise.
func buildStores(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *stores {
	if !cfg.UseMemoryStore {
		if pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger); pool != nil {
			sqlDB := stdlib.OpenDBFromPool(pool)
			logger.Info("using postgres stores")
			return &stores{
				visits:        visits.NewPostgresRepository(pool),
				doctors:       doctors.NewPostgresDirectory(pool),
				assignment:    assignment.NewPostgresStore(pool),
				notifications: notifications.NewPostgresStore(pool),
				patients:      notifications.NewPostgresPatients(pool),
				audit:         audit.NewSQLLog(sqlDB),
				pool:          pool,
				sqlDB:         sqlDB,
			}
		}
		if cfg.DatabaseURL != "" {
			logger.Warn("falling back to in-memory stores")
		}
	}

	repo := visits.NewInMemoryRepository()
	dir := doctors.NewInMemoryDirectory(seedDoctors(cfg.SeedDoctors)...)
	logger.Info("using in-memory stores", "doctors", len(cfg.SeedDoctors))
	return &stores{
		visits:        repo,
		doctors:       dir,
		assignment:    assignment.NewMemoryStore(repo, dir),
		notifications: notifications.NewMemoryStore(),
		patients:      notifications.StaticPatients{},
		audit:         audit.NewMemoryLog(),
	}
}

func seedDoctors(names []string) []doctors.Doctor {
	out := make([]doctors.Doctor, 0, len(names))
	for i, name := range names {
		out = append(out, doctors.Doctor{ID: int64(i + 1), Nombre: name, Disponible: true, Estado: true})
	}
	return out
}

// originChecker mirrors the CORS allow-list for websocket upgrades.
// An empty list accepts every origin.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	hosts := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return nil
		}
		hosts[strings.TrimRight(strings.ToLower(origin), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return hosts[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}
