package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gevsen/Mini-Arima/internal/config"
	"github.com/gevsen/Mini-Arima/internal/db"
	"github.com/gevsen/Mini-Arima/internal/provider"
)

// System-state keys under which probe results survive restarts.
const (
	StateKeyModelStatus = "model_status"
	StateKeyLastReport  = "last_report"
)

// Backend is the minimal provider surface the prober needs.
type Backend interface {
	Complete(ctx context.Context, model string, messages []provider.Message, temperature float64, maxTokens int, timeout time.Duration) (string, error)
	GenerateImage(ctx context.Context, model, prompt, size string, timeout time.Duration) (string, error)
}

// SnapshotStore persists probe snapshots across process restarts.
type SnapshotStore interface {
	GetSystemState(ctx context.Context, key string) (*db.SystemState, error)
	SetSystemState(ctx context.Context, key, value string) error
}

// RoundRecorder receives the outcome of each completed probe round.
type RoundRecorder interface {
	RecordProbeRound(statuses map[string]string)
}

// Prober refreshes the Registry by issuing one minimal liveness call per
// distinct backend model.
type Prober struct {
	backend     Backend
	store       SnapshotStore
	registry    *Registry
	logger      *zap.Logger
	recorder    RoundRecorder
	textModels  []string
	imageModels []string
	cfg         config.ProbeConfig
	loc         *time.Location
}

func NewProber(backend Backend, store SnapshotStore, registry *Registry, recorder RoundRecorder, cfg *config.Config, logger *zap.Logger) *Prober {
	return &Prober{
		backend:     backend,
		store:       store,
		registry:    registry,
		recorder:    recorder,
		logger:      logger.With(zap.String("component", "prober")),
		textModels:  cfg.AllTextModels(),
		imageModels: cfg.Models.ImageModels,
		cfg:         cfg.Probe,
		loc:         cfg.QuotaLocation(),
	}
}

type probeResult struct {
	model  string
	status string
}

// ProbeAll probes every model in parallel, applies the results to the
// Registry atomically and persists the snapshot plus a readable report.
func (p *Prober) ProbeAll(ctx context.Context) (map[string]string, error) {
	p.logger.Info("Running model health check",
		zap.Int("text_models", len(p.textModels)),
		zap.Int("image_models", len(p.imageModels)),
	)

	results := make(chan probeResult, len(p.textModels)+len(p.imageModels))
	var wg sync.WaitGroup

	for _, model := range p.textModels {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			results <- probeResult{model: model, status: p.probeTextModel(ctx, model)}
		}(model)
	}
	for _, model := range p.imageModels {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			results <- probeResult{model: model, status: p.probeImageModel(ctx, model)}
		}(model)
	}

	wg.Wait()
	close(results)

	statuses := make(map[string]string, cap(results))
	for r := range results {
		statuses[r.model] = r.status
	}

	report := p.buildReport(statuses)
	p.registry.ApplyProbeResults(statuses)
	p.registry.SetReport(report)
	if p.recorder != nil {
		p.recorder.RecordProbeRound(statuses)
	}

	if err := p.persist(ctx, statuses, report); err != nil {
		// The registry already carries the fresh round; losing the
		// snapshot only costs a probe on the next restart.
		p.logger.Error("Failed to persist probe snapshot", zap.Error(err))
	}

	p.logger.Info("Model health check finished", zap.Int("models", len(statuses)))
	return statuses, nil
}

func (p *Prober) probeTextModel(ctx context.Context, model string) string {
	messages := []provider.Message{{Role: "user", Content: "Test"}}
	_, err := p.backend.Complete(ctx, model, messages, 0.7, 10, p.cfg.TextTimeout)
	return statusFromError(model, err, p.logger)
}

func (p *Prober) probeImageModel(ctx context.Context, model string) string {
	_, err := p.backend.GenerateImage(ctx, model, "Test", "512x512", p.cfg.ImageTimeout)
	return statusFromError(model, err, p.logger)
}

func statusFromError(model string, err error, logger *zap.Logger) string {
	if err == nil {
		return StatusOK
	}

	if pe, ok := provider.AsError(err); ok {
		switch pe.Kind {
		case provider.KindTimeout:
			logger.Warn("Model probe timed out", zap.String("model", model))
			return "Timeout"
		case provider.KindAPI:
			logger.Warn("Model probe failed",
				zap.String("model", model),
				zap.Int("status_code", pe.StatusCode),
			)
			return fmt.Sprintf("API Error %d", pe.StatusCode)
		case provider.KindEmpty:
			// An empty completion still proves the model answered.
			return StatusOK
		}
	}

	logger.Error("Model probe failed with unexpected error",
		zap.String("model", model),
		zap.Error(err),
	)
	return "Error: " + truncate(err.Error(), 80)
}

func (p *Prober) buildReport(statuses map[string]string) string {
	working := []string{}
	failed := []string{}
	for model, status := range statuses {
		if status == StatusOK {
			working = append(working, model)
		} else {
			failed = append(failed, fmt.Sprintf("  - %s: %s", model, status))
		}
	}
	sort.Strings(working)
	sort.Strings(failed)

	var b strings.Builder
	fmt.Fprintf(&b, "Model status report — %s\n", time.Now().In(p.loc).Format("02.01.2006 15:04:05 MST"))
	if len(working) > 0 {
		fmt.Fprintf(&b, "\nWorking models (%d):\n", len(working))
		for _, m := range working {
			fmt.Fprintf(&b, "  - %s\n", m)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "\nFailed models (%d):\n", len(failed))
		for _, line := range failed {
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

func (p *Prober) persist(ctx context.Context, statuses map[string]string, report string) error {
	raw, err := json.Marshal(statuses)
	if err != nil {
		return fmt.Errorf("failed to marshal probe snapshot: %w", err)
	}
	if err := p.store.SetSystemState(ctx, StateKeyModelStatus, string(raw)); err != nil {
		return fmt.Errorf("failed to save model status: %w", err)
	}
	if err := p.store.SetSystemState(ctx, StateKeyLastReport, report); err != nil {
		return fmt.Errorf("failed to save last report: %w", err)
	}
	return nil
}

// StartupReconcile adopts the persisted snapshot when it is younger than
// the freshness threshold, avoiding a redundant probe storm on every
// restart. A stale or unreadable snapshot triggers a full round instead.
func (p *Prober) StartupReconcile(ctx context.Context) error {
	status, err := p.store.GetSystemState(ctx, StateKeyModelStatus)
	if err != nil {
		p.logger.Warn("Could not read persisted model status", zap.Error(err))
	}
	report, reportErr := p.store.GetSystemState(ctx, StateKeyLastReport)
	if reportErr != nil {
		p.logger.Warn("Could not read persisted report", zap.Error(reportErr))
	}

	if status != nil && report != nil && time.Since(status.UpdatedAt) < p.cfg.Freshness {
		statuses := map[string]string{}
		if err := json.Unmarshal([]byte(status.Value), &statuses); err != nil {
			p.logger.Warn("Could not parse persisted model status, running full check", zap.Error(err))
		} else {
			p.registry.ApplyProbeResults(statuses)
			p.registry.SetReport(report.Value)
			p.logger.Info("Loaded recent model status from store, skipping initial full check",
				zap.Time("snapshot_at", status.UpdatedAt),
			)
			return nil
		}
	}

	p.logger.Info("No fresh model status in store, running full health check")
	_, err = p.ProbeAll(ctx)
	return err
}

// Run probes all models on a fixed interval until ctx is cancelled. A
// failed round is logged and retried on the next tick.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping prober")
			return
		case <-ticker.C:
			if _, err := p.ProbeAll(ctx); err != nil {
				p.logger.Error("Scheduled model health check failed", zap.Error(err))
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
