// Command stationd runs the treasury and governance request engine
// behind a JSON-RPC 2.0 HTTP server.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stationd/config"
	"stationd/native/station"
	"stationd/native/station/collab"
	"stationd/native/station/migrate"
	"stationd/observability/logging"
	"stationd/observability/metrics"
	"stationd/rpc"
	"stationd/storage"

	"golang.org/x/time/rate"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config/stationd.yaml", "path to stationd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(cfg.Env)
	var sink *logging.FileSink
	if cfg.Log.FilePath != "" {
		sink = &logging.FileSink{
			Path:       cfg.Log.FilePath,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}
	}
	logger := logging.Setup("stationd", env, sink)

	db, err := openStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer db.Close()

	repos := station.NewRepositories(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.EnsureVersion(ctx, db, repos); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	bc := collab.NewInMemoryBlockchainAdapter()
	cm := collab.NewInMemoryCanisterManager()

	eng := station.NewEngine(repos, collab.SystemClock{}, collab.RandomIDSource{})
	eng.Metrics = metrics.Get()
	eng.Emitter = logging.NewEventEmitter(logger)
	station.RegisterAll(eng, bc, cm)

	auth := rpc.AuthConfig{HMACSecret: []byte(cfg.Auth.HMACSecret), Issuer: cfg.Auth.Issuer}
	server := rpc.NewServer(eng, auth, bc, cm, rate.Limit(cfg.Auth.RateLimit), cfg.Auth.RateBurst)
	server.Logger = logger

	go server.Run(ctx, cfg.TickInterval)

	httpServer := &http.Server{Addr: cfg.ListenAddress, Handler: server}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("stationd listening", "address", cfg.ListenAddress)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forced shutdown", "error", err.Error())
			_ = httpServer.Close()
		}
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func openStorage(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "sqlite":
		return storage.OpenSQLStore(storage.DialectSQLite, cfg.DSN)
	case "postgres":
		return storage.OpenSQLStore(storage.DialectPostgres, cfg.DSN)
	default:
		return nil, os.ErrInvalid
	}
}
