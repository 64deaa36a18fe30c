package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stellarion/api/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db      *sql.DB
	redis   redis.UniversalClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and rdb may be nil when the
// service runs without them.
func NewHealthHandler(db *sql.DB, rdb redis.UniversalClient, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		redis:   rdb,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that all configured dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var dbErr, redisErr error
	var g errgroup.Group
	g.Go(func() error {
		dbErr = h.checkDatabase(ctx)
		return nil
	})
	g.Go(func() error {
		redisErr = h.checkRedis(ctx)
		return nil
	})
	_ = g.Wait()

	checks := map[string]string{
		"database": h.describe("database", h.db != nil, dbErr),
		"redis":    h.describe("redis", h.redis != nil, redisErr),
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if dbErr != nil || redisErr != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) describe(name string, configured bool, err error) string {
	switch {
	case !configured:
		return "not_configured"
	case err != nil:
		h.logger.Warn(name+" health check failed", zap.Error(err))
		return "unhealthy"
	default:
		return "healthy"
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}

// checkRedis checks the profile cache connection
func (h *HealthHandler) checkRedis(ctx context.Context) error {
	if h.redis == nil {
		return nil
	}
	return h.redis.Ping(ctx).Err()
}
