package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/futarchybot/gomarket/internal/controlplane/server"
	"github.com/futarchybot/gomarket/internal/events"
	"github.com/futarchybot/gomarket/internal/journal"
	"github.com/futarchybot/gomarket/pkg/config"
	"github.com/futarchybot/gomarket/pkg/logger"
	"github.com/futarchybot/gomarket/pkg/persistence"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("GOMARKET_CONFIG"), "YAML config file path")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}

	j, err := journal.Open(cfg.Storage.JournalPath)
	if err != nil {
		log.Fatalf("open journal failed: %v", err)
	}
	defer j.Close()

	store, err := persistence.Open(cfg.Storage.SnapshotDir)
	if err != nil {
		log.Fatalf("open snapshot store failed: %v", err)
	}
	defer store.Close()

	bus := events.NewBus()
	srv, err := server.New(cfg.Engine, bus, j, store)
	if err != nil {
		log.Fatalf("init server failed: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Logger.Infof("marketd listening on %s", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Errorf("http server error: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	fmt.Println("marketd stopped")
}
