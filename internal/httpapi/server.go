// Package httpapi exposes the REST surface over the engine: class
// metadata, object store/query/find, and schema bootstrap/export/reset
// (spec §6 route table).
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/elementstore/core/internal/cache"
	"github.com/elementstore/core/internal/engine"
	"github.com/elementstore/core/internal/metrics"
	"github.com/elementstore/core/internal/relation"
	"github.com/elementstore/core/internal/schema"
	"github.com/elementstore/core/pkg/logger"
)

// Server wires the engine and its collaborators to a gin.Engine.
type Server struct {
	Engine   *engine.Engine
	Registry *schema.Registry
	Resolver *relation.Resolver
	Metrics  *metrics.Metrics
	Cache    *cache.Cache // optional; nil disables the read-through cache tier
	Log      *logger.Logger
}

// NewServer returns a Server ready to build its router.
func NewServer(eng *engine.Engine, registry *schema.Registry, resolver *relation.Resolver, m *metrics.Metrics, c *cache.Cache, log *logger.Logger) *Server {
	return &Server{Engine: eng, Registry: registry, Resolver: resolver, Metrics: m, Cache: c, Log: log}
}

// Router builds the gin.Engine serving every route in spec §6.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.metricsMiddleware(), s.securityContext())

	r.GET("/health", s.handleHealth)
	r.GET("/class/:id", s.handleGetClass)
	r.POST("/store/:class", s.handleStoreCreate)
	r.PUT("/store/:class/:id", s.handleStoreUpdate)
	r.DELETE("/store/:class/:id", s.handleStoreDelete)
	r.GET("/store/:class/:id", s.handleStoreGet)
	r.GET("/query/:class", s.handleQuery)
	r.GET("/find/:class/:prop/:target", s.handleFind)
	r.POST("/genesis", s.handleGenesis)
	r.GET("/export/:class", s.handleExport)
	r.POST("/reset", s.handleReset)

	return r
}
