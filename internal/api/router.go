package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/api/handlers"
	mw "github.com/Harshitk-cp/reconledger/internal/api/middleware"
	"github.com/Harshitk-cp/reconledger/internal/buildconfig"
	"github.com/Harshitk-cp/reconledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the engine components the API reads from. Verifier and
// MetaCognition are optional; their endpoints answer 503 without them.
type Deps struct {
	Orchestrator  *service.Orchestrator
	Verifier      *service.ReactiveVerifier
	MetaCognition *service.MetaCognition

	// Registry backs /metrics. Nil serves the default Prometheus registry.
	Registry *prometheus.Registry
	// Ping reports backing-store health for /health.
	Ping func(ctx context.Context) error

	APIToken       string
	RateLimitRPS   float64
	RateLimitBurst int
}

// App holds the router and request counters.
type App struct {
	Router       *chi.Mux
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewApp builds the router. ctx bounds background work such as rate-limiter
// cleanup.
func NewApp(ctx context.Context, deps Deps, logger *zap.Logger) *App {
	r := chi.NewRouter()
	app := &App{Router: r, startTime: time.Now()}

	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		reg, gatherer = deps.Registry, deps.Registry
	}
	if deps.RateLimitRPS <= 0 {
		deps.RateLimitRPS = 100
	}
	if deps.RateLimitBurst <= 0 {
		deps.RateLimitBurst = 20
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount, reg)

	// Order matters: request ID first so every log line carries it.
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst))

	world := handlers.NewWorldHandler(deps.Orchestrator)
	hints := handlers.NewHintHandler(deps.MetaCognition)
	verify := handlers.NewVerifyHandler(deps.Orchestrator.Ledger(), deps.Verifier, logger)
	deltas := handlers.NewDeltaHandler(deps.Orchestrator.Bus(), logger)

	r.Get("/health", healthHandler(deps.Ping))
	r.Get("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/debug/runtime", app.runtimeHandler())

	r.Get("/state", world.State)
	r.Get("/stats", world.Stats)
	r.Get("/model", world.Model)
	r.Get("/claims", world.Claims)
	r.Get("/claims/{id}", world.Claim)
	r.Get("/hints", hints.List)
	r.Get("/deltas", deltas.Stream)

	r.Group(func(r chi.Router) {
		r.Use(mw.BearerToken(deps.APIToken))
		r.Post("/verify", verify.Verify)
	})

	return app
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "build": buildconfig.VersionInfo()})
	}
}

func (app *App) runtimeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}
