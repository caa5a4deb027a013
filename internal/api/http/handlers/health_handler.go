package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/observability"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency readiness depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the probes and the counters.
type HealthHandler struct {
	serviceName  string
	version      string
	dependencies map[string]Pinger
	metrics      *observability.Metrics
}

// NewHealthHandler probes dependencies by name on every readiness check.
func NewHealthHandler(serviceName, version string, dependencies map[string]Pinger, metrics *observability.Metrics) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, dependencies: dependencies, metrics: metrics}
}

func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return respond(c, fiber.StatusOK, fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready pings every dependency in parallel. Any failure turns the answer
// into a 503 listing each dependency's state.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		states = make(map[string]any, len(h.dependencies))
		failed []string
		g      errgroup.Group
	)
	for name, dep := range h.dependencies {
		name, dep := name, dep
		g.Go(func() error {
			state := "ok"
			if err := dep.Ping(ctx); err != nil {
				state = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			states[name] = state
			if state != "ok" {
				failed = append(failed, name)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		return respond(c, fiber.StatusOK, fiber.Map{"status": "ready", "dependencies": states})
	}
	sort.Strings(failed)
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"status": fiber.StatusServiceUnavailable,
		"error": dto.ErrorBody{
			Code:    apperrors.CodeDependencyUnavailable,
			Message: "unavailable: " + strings.Join(failed, ", "),
			Details: states,
		},
	})
}

// Metrics exposes the in-memory counters.
func (h *HealthHandler) Metrics(c *fiber.Ctx) error {
	return respond(c, fiber.StatusOK, h.metrics.Snapshot())
}

