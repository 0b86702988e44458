package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/CosmoTheDev/ctrlscan-api/internal/database"
	"github.com/CosmoTheDev/ctrlscan-api/internal/gateway"
	"github.com/spf13/cobra"
)

var (
	servePort   int
	serveHost   string
	serveLogDir string
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"gateway"},
	Short:   "Start the ctrlscan-api HTTP server",
	Long: `Starts the ctrlscan-api server: a long-running daemon exposing the
REST API (default: http://127.0.0.1:6090) and a Server-Sent Events stream
of finished imports.

Authentication uses the tokens listed under auth.tokens in the config file
("Authorization: Token <token>"). With no tokens configured every request
runs as an anonymous owner.

Quick API reference:
  GET  /health                                 liveness check
  GET  /api/v2/products                        list products
  POST /api/v2/engagements                     create an engagement
  GET  /api/v2/findings                        list findings (?test=&engagement=&active=&severity=)
  POST /api/v2/findings                        create a finding
  PATCH /api/v2/findings/{id}                  partially update a finding
  POST /api/v2/findings/{id}/tags              append tags
  GET  /api/v2/findings/{id}/request_response  captured HTTP pairs
  POST /api/v2/endpoints                       create an endpoint
  POST /api/v2/import-scan                     import a report (multipart)
  POST /api/v2/reimport-scan                   reimport a report (multipart)
  POST /api/v2/import-languages                import a cloc --json report
  GET  /events                                 SSE stream of live events`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0,
		"HTTP port to listen on (default 6090, overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"interface to bind (default 127.0.0.1, overrides config)")
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "logs",
		"directory to write server logs for later inspection")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logFilePath, closeLog, err := setupServerFileLogger(serveLogDir)
	if err != nil {
		return fmt.Errorf("initialising server logger: %w", err)
	}
	defer closeLog()

	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = config.DefaultPort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	gw, err := gateway.New(cfg, db)
	if err != nil {
		return err
	}

	fmt.Printf("ctrlscan-api starting\n")
	fmt.Printf("  Database   : %s\n", db.Driver())
	fmt.Printf("  API        : http://%s:%d/api/v2\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Events     : http://%s:%d/events\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Logs       : %s\n\n", logFilePath)
	fmt.Println("Press Ctrl+C to stop gracefully.")
	fmt.Println()

	slog.Info("server logger initialised", "file", logFilePath)
	return gw.Start(ctx)
}

// openDatabase connects and brings the schema up to date.
func openDatabase(ctx context.Context, cfg *config.Config) (database.DB, error) {
	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func setupServerFileLogger(logDir string) (string, func(), error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating log dir %s: %w", logDir, err)
	}

	ts := time.Now().UTC().Format("20060102-150405")
	runLogPath := filepath.Join(logDir, fmt.Sprintf("server-%s.log", ts))
	runFile, err := os.OpenFile(runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("opening run log file: %w", err)
	}

	latestPath := filepath.Join(logDir, "server.log")
	latestFile, err := os.OpenFile(latestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = runFile.Close()
		return "", nil, fmt.Errorf("opening latest log file: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, runFile, latestFile), &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	slog.SetDefault(slog.New(handler))
	slog.SetLogLoggerLevel(level)

	cleanup := func() {
		_ = latestFile.Close()
		_ = runFile.Close()
	}
	return runLogPath, cleanup, nil
}
