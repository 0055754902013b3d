// Package httpapi is the read-only embeddable HTTP observability surface
// (SPEC_FULL.md [DOMAIN]: "A read-only embeddable HTTP status/metrics
// page"). Every mutating operation (start/stop/restart/reload) goes through
// internal/rpcserver's Unix-socket control channel per spec.md §4.D — this
// package exposes nothing that changes supervision state, so it does not
// need the Non-goal-excluded authentication layer. Grounded on the
// teacher's internal/server/router.go for the gin construction shape and
// util.go's isSafeName path-traversal guard, trimmed to GET-only endpoints.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arrowcrest/supervice/internal/metrics"
	"github.com/arrowcrest/supervice/internal/orchestrator"
)

// Router builds the read-only HTTP surface over an Orchestrator.
type Router struct {
	orch     *orchestrator.Orchestrator
	basePath string
}

// NewRouter constructs a Router. basePath may be empty or start with '/';
// no trailing slash (e.g. "/api" results in "/api/status").
func NewRouter(orch *orchestrator.Orchestrator, basePath string) *Router {
	return &Router{orch: orch, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler exposing /status, /status/:name,
// /healthz, and /metrics, mountable in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/status/:name", r.handleStatusOne)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.orch.Snapshots())
}

func (r *Router) handleStatusOne(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, gin.H{"error": "invalid name"})
		return
	}
	inst, ok := r.orch.Instance(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, gin.H{"error": "no such process: " + name})
		return
	}
	writeJSON(c, http.StatusOK, inst.Snapshot())
}

// handleHealthz is a liveness probe for the supervisor process itself, not
// for any supervised instance: it answers as soon as the HTTP server can
// serve a request.
func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// isSafeName guards path-parameter process names against traversal when an
// implementation later uses the name to build a filesystem path (e.g. a log
// file lookup), mirroring the teacher's util.go.
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") || strings.ContainsAny(s, "/\\") {
		return false
	}
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '.' || ch == '_' || ch == '-' || ch == ':':
		default:
			return false
		}
	}
	return true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}
