// Command fanout runs the real-time broadcast service that accepts
// committed change events from the engine's producer and pushes them to
// subscribed WebSocket clients (spec §4.7).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elementstore/core/internal/bus/fanout"
	"github.com/elementstore/core/pkg/config"
	"github.com/elementstore/core/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fanout: load config:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)

	hub := fanout.NewHub(log)
	server := fanout.NewServer(hub, log)

	httpServer := &http.Server{
		Addr:         cfg.Fanout.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
	}

	go func() {
		log.WithField("addr", cfg.Fanout.Addr()).Info("fanout: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("fanout: serve failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("fanout: shutting down")
	_ = httpServer.Shutdown(shutdownCtx)
}
