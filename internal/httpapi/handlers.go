package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	svcerrors "github.com/elementstore/core/infrastructure/errors"
	"github.com/elementstore/core/internal/storage"
	"github.com/elementstore/core/pkg/version"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
}

func (s *Server) handleGetClass(c *gin.Context) {
	class, err := s.Registry.GetClass(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if class == nil {
		writeError(c, svcerrors.NotFound("unknown class"))
		return
	}
	c.JSON(http.StatusOK, class)
}

func (s *Server) handleStoreCreate(c *gin.Context) {
	var input map[string]any
	if err := c.ShouldBindJSON(&input); err != nil {
		writeError(c, svcerrors.InvalidParams("malformed request body"))
		return
	}
	sec := securityFromGin(c)
	stored, err := s.Engine.SetObject(c.Request.Context(), sec, c.Param("class"), nil, input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleStoreUpdate(c *gin.Context) {
	var input map[string]any
	if err := c.ShouldBindJSON(&input); err != nil {
		writeError(c, svcerrors.InvalidParams("malformed request body"))
		return
	}
	id := c.Param("id")
	classID := c.Param("class")
	sec := securityFromGin(c)
	stored, err := s.Engine.SetObject(c.Request.Context(), sec, classID, &id, input)
	if err != nil {
		writeError(c, err)
		return
	}
	if s.Cache != nil {
		s.Cache.Invalidate(c.Request.Context(), classID, id)
	}
	c.JSON(http.StatusOK, stored)
}

func (s *Server) handleStoreDelete(c *gin.Context) {
	classID, id := c.Param("class"), c.Param("id")
	sec := securityFromGin(c)
	if err := s.Engine.DeleteObject(c.Request.Context(), sec, classID, id); err != nil {
		writeError(c, err)
		return
	}
	if s.Cache != nil {
		s.Cache.Invalidate(c.Request.Context(), classID, id)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStoreGet(c *gin.Context) {
	classID, id := c.Param("class"), c.Param("id")
	ctx := c.Request.Context()

	var rec map[string]any
	if s.Cache != nil {
		if cached, ok := s.Cache.Get(ctx, classID, id); ok {
			rec = cached
		}
	}

	if rec == nil {
		raw, err := s.Engine.Backend.Get(ctx, classID, &id)
		if err != nil {
			writeError(c, svcerrors.StorageError("get", classID, id, err))
			return
		}
		if raw == nil {
			writeError(c, svcerrors.NotFound("object not found"))
			return
		}
		rec, _ = raw.(map[string]any)
		if s.Cache != nil {
			s.Cache.Set(ctx, classID, id, rec)
		}
	}

	if c.Query("resolve") == "true" {
		resolved, err := s.Resolver.Resolve(c.Request.Context(), classID, rec)
		if err != nil {
			writeError(c, err)
			return
		}
		rec = resolved
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleQuery(c *gin.Context) {
	classID := c.Param("class")
	var filters []storage.Filter
	for key, values := range c.Request.URL.Query() {
		switch key {
		case "sort", "sort_dir", "limit", "offset", "resolve":
			continue
		default:
			if len(values) > 0 {
				filters = append(filters, storage.Filter{Field: key, Value: values[0]})
			}
		}
	}

	opts := storage.QueryOptions{
		Sort:    c.Query("sort"),
		SortDir: c.Query("sort_dir"),
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		opts.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil {
		opts.Offset = offset
	}

	recs, err := s.Engine.Backend.Query(c.Request.Context(), classID, filters, opts)
	if err != nil {
		writeError(c, svcerrors.StorageError("query", classID, nil, err))
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) handleFind(c *gin.Context) {
	classID, prop, target := c.Param("class"), c.Param("prop"), c.Param("target")
	recs, err := s.Resolver.FindReferencing(c.Request.Context(), classID, prop, target)
	if err != nil {
		writeError(c, svcerrors.StorageError("find", classID, nil, err))
		return
	}
	c.JSON(http.StatusOK, recs)
}

// handleGenesis seeds the system classes if they are not already present
// (spec §3 "Reflective bootstrap").
func (s *Server) handleGenesis(c *gin.Context) {
	if err := s.Registry.Bootstrap(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "bootstrapped"})
}

// handleExport dumps every record of a class as-is, used to snapshot a
// class's full extent (schema or data) for backup/migration tooling.
func (s *Server) handleExport(c *gin.Context) {
	classID := c.Param("class")
	raw, err := s.Engine.Backend.Get(c.Request.Context(), classID, nil)
	if err != nil {
		writeError(c, svcerrors.StorageError("export", classID, nil, err))
		return
	}
	c.JSON(http.StatusOK, raw)
}

// handleReset invalidates the in-process schema cache, forcing every
// subsequent class lookup to reconstruct from the storage backend. It does
// not erase stored data: a destructive wipe is outside the engine's API
// surface and is left to the storage backend's own tooling.
func (s *Server) handleReset(c *gin.Context) {
	s.Registry.InvalidateAll()
	c.JSON(http.StatusOK, gin.H{"status": "cache reset"})
}
