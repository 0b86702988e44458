package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/authz"
	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/CosmoTheDev/ctrlscan-api/internal/database"
	"github.com/CosmoTheDev/ctrlscan-api/internal/endpoint"
	"github.com/CosmoTheDev/ctrlscan-api/internal/engine"
	"github.com/CosmoTheDev/ctrlscan-api/internal/findings"
	"github.com/CosmoTheDev/ctrlscan-api/internal/ingest"
	"github.com/CosmoTheDev/ctrlscan-api/internal/notify"
	"github.com/CosmoTheDev/ctrlscan-api/internal/store"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tracker"
)

// Gateway is the HTTP API daemon. It owns:
//   - the validators and the scan ingestion orchestrator
//   - the tracker and notification side effects
//   - a REST + SSE HTTP server
type Gateway struct {
	cfg         *config.Config
	db          database.DB
	store       *store.Store
	auth        *authz.Checker
	ingest      *ingest.Orchestrator
	findings    *findings.Service
	endpoints   *endpoint.Service
	tracker     *tracker.Service
	notifier    *notify.Dispatcher
	broadcaster *Broadcaster
	startedAt   time.Time
}

// New wires every service over db. Call Start() to begin serving.
func New(cfg *config.Config, db database.DB) (*Gateway, error) {
	st := store.New(db)
	checker, err := authz.NewChecker(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("loading auth tokens: %w", err)
	}
	trk, err := tracker.NewService(st, cfg.Trackers)
	if err != nil {
		return nil, fmt.Errorf("configuring trackers: %w", err)
	}
	registry, err := ingest.LoadRegistry(cfg.Import.ScanTypesFile)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		cfg:         cfg,
		db:          db,
		store:       st,
		auth:        checker,
		tracker:     trk,
		notifier:    notify.NewDispatcher(cfg.Notify),
		broadcaster: newBroadcaster(),
		startedAt:   time.Now(),
	}
	eng := engine.New(st, trk, gw.onScanImported)
	gw.ingest = ingest.NewOrchestrator(eng, st, registry, cfg.Import)
	gw.findings = findings.NewService(st, st, trk)
	gw.endpoints = endpoint.NewService(st)
	return gw, nil
}

// Handler returns the routed HTTP handler with its middleware.
func (gw *Gateway) Handler() http.Handler {
	return buildHandler(gw)
}

// Start serves the API until ctx is cancelled.
func (gw *Gateway) Start(ctx context.Context) error {
	host := gw.cfg.Server.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := gw.cfg.Server.Port
	if port == 0 {
		port = config.DefaultPort
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	if gw.auth.Open() {
		slog.Warn("gateway: no API tokens configured, every request runs as an anonymous owner")
	}
	if !gw.notifier.IsAnyConfigured() {
		slog.Debug("gateway: no notification channels configured")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           buildHandler(gw),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Shut down HTTP server when ctx is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway: listening", "addr", "http://"+addr, "database", gw.db.Driver())
	gw.broadcaster.send(SSEEvent{
		Type:    "gateway.started",
		Payload: map[string]string{"addr": "http://" + addr},
	})

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
