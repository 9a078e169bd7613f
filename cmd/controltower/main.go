package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fedex-dca/control-tower/internal/adapters/billing"
	"github.com/fedex-dca/control-tower/internal/allocation"
	"github.com/fedex-dca/control-tower/internal/audit"
	"github.com/fedex-dca/control-tower/internal/auth"
	caseapi "github.com/fedex-dca/control-tower/internal/case/api"
	caseinfra "github.com/fedex-dca/control-tower/internal/case/infrastructure"
	caseservice "github.com/fedex-dca/control-tower/internal/case/service"
	"github.com/fedex-dca/control-tower/internal/dca"
	"github.com/fedex-dca/control-tower/internal/region"
	"github.com/fedex-dca/control-tower/internal/scoring"
	"github.com/fedex-dca/control-tower/internal/shared/config"
	"github.com/fedex-dca/control-tower/internal/shared/database"
	"github.com/fedex-dca/control-tower/internal/shared/events"
	"github.com/fedex-dca/control-tower/internal/shared/logging"
	"github.com/fedex-dca/control-tower/internal/shared/metrics"
	secmiddleware "github.com/fedex-dca/control-tower/internal/shared/middleware"
	"github.com/fedex-dca/control-tower/internal/sla"
	"github.com/fedex-dca/control-tower/internal/user"
)

// App holds the long-lived infrastructure handles for health reporting and
// shutdown ordering.
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    *events.Bus
	Feed   *billing.Feed
}

func main() {
	ctx := context.Background()
	log := logging.WithComponent("main")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.SetLevel(os.Getenv("LOG_LEVEL"))

	app := &App{Config: cfg}

	// The governance core is nothing without its database: every case,
	// account, and audit entry lives there. Fail fast if it is unreachable.
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	app.DB = db
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	// The event stream is optional: emission is fire-and-forget and every
	// decision is also persisted, so the tower runs without it.
	emitter := events.NewEmitter(nil, "control-tower")
	bus, err := events.NewBus(ctx, cfg.EventStore)
	if err != nil {
		log.WithError(err).Warn("event store unavailable, running without event streaming")
	} else {
		app.Bus = bus
		defer bus.Close()
		emitter = events.NewEmitter(bus, "control-tower")
	}

	// Audit chain. Initialize loads the chain tip so new entries continue
	// the existing hash chain instead of starting a fresh one.
	auditRepo := audit.NewRepository(db)
	if err := auditRepo.Initialize(ctx); err != nil {
		log.WithError(err).Fatal("audit chain initialization failed")
	}
	auditLogger := audit.NewLogger(auditRepo)

	// Repositories.
	regionRepo := region.NewRepository(db)
	dcaRepo := dca.NewRepository(db)
	userRepo := user.NewRepository(db)
	slaRepo := sla.NewRepository(db)
	caseRepo := caseinfra.NewPostgresRepository(db)
	timelineRepo := caseinfra.NewPostgresTimelineRepository(db)

	// Engines and services.
	slaEngine := sla.NewEngine(regionRepo)
	scoreService := scoring.NewService(scoring.NewClient(cfg.Scoring))
	allocEngine := allocation.NewEngine(dcaRepo, dcaRepo, caseRepo, auditLogger, emitter)
	pipeline := caseservice.NewPipeline(
		caseRepo, timelineRepo, regionRepo, scoreService,
		slaRepo, slaEngine, slaRepo, allocEngine,
		auditLogger, emitter,
	)
	transitioner := caseservice.NewTransitioner(caseRepo, timelineRepo, slaRepo, auditLogger, emitter)
	userService := user.NewService(userRepo, regionRepo, auditLogger)

	resolver := auth.NewResolver(cfg.Auth, userRepo)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)

	// Health checks and metrics (unauthenticated).
	r.Get("/healthz", healthHandler(app))
	r.Get("/readyz", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(resolver.Middleware)

		r.Mount("/cases", caseapi.NewHandler(pipeline, transitioner, caseRepo, timelineRepo, auditLogger, cfg.RateLimit).Routes())
		r.Mount("/dcas", dca.NewHandler(dcaRepo, auditLogger).Routes())
		r.Mount("/users", user.NewHandler(userRepo, userService).Routes())
		r.Mount("/audit", audit.NewHandler(auditRepo, auditLogger).Routes())
	})

	// Legacy billing feed: polls the billing warehouse and submits overdue
	// invoices through the same pipeline external services use.
	feed := billing.NewFeed(cfg.Billing, pipeline)
	if err := feed.Start(ctx); err != nil {
		log.WithError(err).Warn("billing feed failed to start")
	} else {
		app.Feed = feed
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if app.Feed != nil {
			if err := app.Feed.Stop(shutdownCtx); err != nil {
				log.WithError(err).Warn("billing feed shutdown error")
			}
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("server shutdown error")
		}
		close(done)
	}()

	log.WithField("env", cfg.Server.Env).
		WithField("port", cfg.Server.Port).
		WithField("billing_feed", cfg.Billing.Enabled).
		Info("control tower listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server error")
	}

	<-done
	log.Info("server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "DCA Control Tower",
		"version": "1.0.0",
		"docs":    "/api/v1",
	})
}

// healthHandler reports liveness: the process is up.
func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

// readyHandler reports readiness: the database must answer; the event stream
// and billing feed are reported but do not fail readiness.
func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok"}
		status := http.StatusOK

		if err := app.DB.Health(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}

		if app.Bus != nil {
			checks["event_store"] = "ok"
			if err := app.Bus.Health(); err != nil {
				checks["event_store"] = err.Error()
			}
		} else {
			checks["event_store"] = "disabled"
		}

		if app.Feed != nil && app.Config.Billing.Enabled {
			checks["billing_feed"] = "ok"
			if err := app.Feed.Health(ctx); err != nil {
				checks["billing_feed"] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(checks)
	}
}
