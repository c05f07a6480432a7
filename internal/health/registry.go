package health

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// StatusOK is the only status value under which a model is dispatched to.
const StatusOK = "OK"

type Status struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s Status) OK() bool {
	return s.Value == StatusOK
}

// Registry is the process-wide circuit breaker over backend models. It is
// the single source of truth consulted before any dispatch. Models absent
// from the registry are treated as available (fail-open), so a never-probed
// model is not blocked. MarkFailed opens the circuit immediately; only a
// clean probe round applied through ApplyProbeResults closes it again.
type Registry struct {
	mu       sync.RWMutex
	statuses map[string]Status
	report   string
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		statuses: make(map[string]Status),
		logger:   logger.With(zap.String("component", "health_registry")),
	}
}

func (r *Registry) IsAvailable(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.statuses[model]
	if !ok {
		return true
	}
	return status.OK()
}

func (r *Registry) AreAllAvailable(models ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, model := range models {
		status, ok := r.statuses[model]
		if ok && !status.OK() {
			r.logger.Warn("Required model is down",
				zap.String("model", model),
				zap.String("status", status.Value),
			)
			return false
		}
	}
	return true
}

// MarkFailed opens the circuit for a model after a live runtime failure.
// It is idempotent and last-write-wins. A model is never recovered here;
// recovery only happens via ApplyProbeResults.
func (r *Registry) MarkFailed(model, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.statuses[model]
	r.statuses[model] = Status{Value: "FAILED: " + reason, UpdatedAt: time.Now().UTC()}
	if !ok || prev.OK() {
		r.logger.Warn("Circuit breaker opened for model",
			zap.String("model", model),
			zap.String("reason", reason),
		)
	}
}

// ApplyProbeResults replaces the registry contents with a fresh probe
// round. This is the only path that can bring a failed model back.
func (r *Registry) ApplyProbeResults(results map[string]string) {
	now := time.Now().UTC()
	statuses := make(map[string]Status, len(results))
	for model, value := range results {
		statuses[model] = Status{Value: value, UpdatedAt: now}
	}

	r.mu.Lock()
	r.statuses = statuses
	r.mu.Unlock()
}

// Snapshot returns a copy of the current statuses.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Status, len(r.statuses))
	for model, status := range r.statuses {
		out[model] = status
	}
	return out
}

// Report returns the last human-readable probe report.
func (r *Registry) Report() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.report
}

func (r *Registry) SetReport(report string) {
	r.mu.Lock()
	r.report = report
	r.mu.Unlock()
}
