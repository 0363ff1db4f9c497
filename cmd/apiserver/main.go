// Command apiserver runs the schema-driven object store's HTTP API: class
// metadata, object CRUD, query/find, and schema bootstrap (spec §6).
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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elementstore/core/internal/bus"
	"github.com/elementstore/core/internal/cache"
	"github.com/elementstore/core/internal/engine"
	"github.com/elementstore/core/internal/httpapi"
	"github.com/elementstore/core/internal/metrics"
	"github.com/elementstore/core/internal/record"
	"github.com/elementstore/core/internal/relation"
	"github.com/elementstore/core/internal/schema"
	"github.com/elementstore/core/internal/storage"
	"github.com/elementstore/core/internal/storage/docdb"
	"github.com/elementstore/core/internal/storage/file"
	"github.com/elementstore/core/internal/storage/httpdocdb"
	"github.com/elementstore/core/internal/validate"
	"github.com/elementstore/core/pkg/config"
	"github.com/elementstore/core/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "apiserver: load config:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)

	backend, closeBackend, err := openBackend(cfg.Storage)
	if err != nil {
		log.WithField("error", err).Fatal("apiserver: open storage backend")
	}
	defer closeBackend()

	registry := schema.New(backend)
	ctx := context.Background()
	if err := registry.Bootstrap(ctx); err != nil {
		log.WithField("error", err).Fatal("apiserver: bootstrap schema")
	}

	objectCache, err := cache.New(cache.Config{
		Capacity: cfg.Cache.LRUSize,
		RedisURL: cfg.Cache.RedisAddr,
	})
	if err != nil {
		log.WithField("error", err).Warn("apiserver: cache tier unavailable, continuing without it")
		objectCache = nil
	}

	producer := bus.NewProducer(cfg.Bus.FanoutURL, log)
	builder := validate.NewBuilder(nil, uniqueChecker(backend), relationChecker(backend, registry), registry.GetClass)
	eng := engine.New(backend, registry, builder, producer)
	eng.AutoCreateClass = cfg.Engine.AutoCreateClass
	resolver := relation.NewResolver(backend, registry)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	server := httpapi.NewServer(eng, registry, resolver, m, objectCache, log)
	router := server.Router()
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr()).Info("apiserver: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("apiserver: serve failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("apiserver: shutting down")
	_ = httpServer.Shutdown(shutdownCtx)
}

func openBackend(cfg config.StorageConfig) (storage.Backend, func(), error) {
	switch cfg.Type {
	case "docdb":
		b, err := docdb.Open(context.Background(), cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil
	case "httpdocdb":
		timeout := time.Duration(cfg.Timeout) * time.Second
		b := httpdocdb.New(httpdocdb.Config{BaseURL: cfg.BaseURL, Timeout: timeout})
		return b, func() {}, nil
	default:
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "data"
		}
		b, err := file.New(dataDir)
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	}
}

// uniqueChecker runs a Query for any existing record matching prop.Key ==
// value, excluding the record under update, to back @prop.data_type =
// "unique" validation (spec §4.4).
func uniqueChecker(backend storage.Backend) validate.UniqueChecker {
	return func(ctx context.Context, classID string, prop schema.PropMeta, value any, excludeID *record.ID) (bool, error) {
		matches, err := backend.Query(ctx, classID, []storage.Filter{{Field: prop.Key, Value: value}}, storage.QueryOptions{Limit: 2})
		if err != nil {
			return false, err
		}
		for _, m := range matches {
			idStr, _ := m["id"].(string)
			if excludeID != nil && idStr == excludeID.String() {
				continue
			}
			return true, nil
		}
		return false, nil
	}
}

// relationChecker tries each declared target class (plus, when not strict,
// every registered subclass of those targets) for a record matching id,
// backing @prop.data_type = "relation" existence checking (spec §4.3 step 5).
func relationChecker(backend storage.Backend, registry *schema.Registry) validate.RelationChecker {
	return func(ctx context.Context, targetClassIDs []string, strict bool, id any) (bool, error) {
		candidates := append([]string{}, targetClassIDs...)
		if !strict {
			for _, t := range targetClassIDs {
				subs, err := registry.Descendants(ctx, t)
				if err != nil {
					return false, err
				}
				candidates = append(candidates, subs...)
			}
		}
		idStr := fmt.Sprint(id)
		for _, classID := range candidates {
			raw, err := backend.Get(ctx, classID, &idStr)
			if err != nil {
				return false, err
			}
			if raw != nil {
				return true, nil
			}
		}
		return false, nil
	}
}
