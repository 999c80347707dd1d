package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// ComponentCheck reports the health of a single dependency.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "not_configured"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// healthStatus is the /health response body.
type healthStatus struct {
	Status string                    `json:"status"` // "healthy", "degraded"
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

var startTime = time.Now()

// SetHealthDeps wires the dependency probes of the health endpoint. Either
// dependency can be nil and reports "not_configured".
func (h *Handlers) SetHealthDeps(db *sql.DB, rdb *redis.Client) {
	h.healthDB = db
	h.healthRedis = rdb
}

// HealthCheck reports service and dependency health. The warehouse is the
// only critical dependency; Redis being down only degrades.
//
//	GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]ComponentCheck{
		"database": checkDB(ctx, h.healthDB),
		"redis":    checkRedis(ctx, h.healthRedis),
	}

	status := http.StatusOK
	overall := "healthy"
	if checks["redis"].Status == "down" {
		overall = "degraded"
	}
	if checks["database"].Status == "down" {
		overall = "degraded"
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, healthStatus{
		Status: overall,
		Uptime: time.Since(startTime).Round(time.Second).String(),
		Checks: checks,
	})
}

func checkDB(ctx context.Context, db *sql.DB) ComponentCheck {
	if db == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return ComponentCheck{Status: "down", Message: err.Error()}
	}
	return ComponentCheck{Status: "up", Latency: time.Since(start).Round(time.Millisecond).String()}
}

func checkRedis(ctx context.Context, rdb *redis.Client) ComponentCheck {
	if rdb == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	start := time.Now()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return ComponentCheck{Status: "down", Message: err.Error()}
	}
	return ComponentCheck{Status: "up", Latency: time.Since(start).Round(time.Millisecond).String()}
}
