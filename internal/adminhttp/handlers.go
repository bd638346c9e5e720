package adminhttp

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bigsmoke/pg_cmdqd/internal/health"
	"github.com/bigsmoke/pg_cmdqd/internal/runner"
)

// Supervisor is the subset of *supervisor.Supervisor the admin surface
// needs, kept narrow so this package doesn't import supervisor's
// runner-lifecycle internals.
type Supervisor interface {
	Statuses() []runner.RunnerStatus
	Status(identity string) (runner.RunnerStatus, bool)
	Pause(identity string) bool
	Resume(identity string) bool
	Ready() bool
}

type handlers struct {
	sup     Supervisor
	checker *health.Checker
}

// liveness reports whether the database answers a ping over the health
// checker's own short-lived connection, not over the runners' (a
// runner's connection loss triggers its own reconnect loop and is not
// process-fatal).
func (h *handlers) liveness(c *gin.Context) {
	result := h.checker.Readiness(c.Request.Context())
	status := http.StatusOK
	if result.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// readiness reports whether the supervisor has completed at least one
// registry read, mirroring --emit-sigusr1-when-ready over HTTP.
func (h *handlers) readiness(c *gin.Context) {
	if !h.sup.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *handlers) listQueues(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queues": h.sup.Statuses()})
}

func (h *handlers) getQueue(c *gin.Context) {
	status, ok := h.sup.Status(c.Param("identity"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *handlers) pauseQueue(c *gin.Context) {
	if !h.sup.Pause(c.Param("identity")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) resumeQueue(c *gin.Context) {
	if !h.sup.Resume(c.Param("identity")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}
	c.Status(http.StatusNoContent)
}
