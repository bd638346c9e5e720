// Package adminhttp exposes read-only queue status and pause/resume
// control over HTTP, alongside liveness/readiness endpoints (spec
// §4.7.4 — an operational surface outside the core engine, grounded on
// the teacher's gin routers). Prometheus metrics are served separately,
// by internal/metrics' own server.
package adminhttp

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/bigsmoke/pg_cmdqd/internal/health"
)

// NewRouter builds the admin HTTP surface. The pause/resume mutation
// routes always require a valid bearer JWT signed with jwtSecret
// (spec §8): there is no unconfigured-secret fallback that opens them.
func NewRouter(logger *slog.Logger, sup Supervisor, checker *health.Checker, jwtSecret []byte) *gin.Engine {
	h := &handlers{sup: sup, checker: checker}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(security())
	r.Use(sloggin.New(logger))
	r.Use(observeMetrics())

	r.GET("/healthz", h.liveness)
	r.GET("/readyz", h.readiness)

	r.GET("/queues", h.listQueues)
	r.GET("/queues/:identity", h.getQueue)

	control := r.Group("/queues")
	control.Use(auth(jwtSecret))
	control.POST("/:identity/pause", h.pauseQueue)
	control.POST("/:identity/resume", h.resumeQueue)

	return r
}
