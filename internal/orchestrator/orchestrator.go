package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gevsen/Mini-Arima/internal/config"
	"github.com/gevsen/Mini-Arima/internal/db"
	"github.com/gevsen/Mini-Arima/internal/health"
	"github.com/gevsen/Mini-Arima/internal/metrics"
	"github.com/gevsen/Mini-Arima/internal/profile"
	"github.com/gevsen/Mini-Arima/internal/provider"
	"github.com/gevsen/Mini-Arima/internal/quota"
)

const (
	indicatorInterval = 1500 * time.Millisecond
	imageSize         = "1024x1024"
)

// Backend is the single synchronous call shape the orchestrator consumes.
type Backend interface {
	Complete(ctx context.Context, model string, messages []provider.Message, temperature float64, maxTokens int, timeout time.Duration) (string, error)
	GenerateImage(ctx context.Context, model, prompt, size string, timeout time.Duration) (string, error)
}

type Reply struct {
	Text        string        `json:"text"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Duration    time.Duration `json:"duration"`
}

type ImageReply struct {
	URL      string        `json:"url"`
	Model    string        `json:"model"`
	Duration time.Duration `json:"duration"`
}

type ParticipantResult struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Failed   bool   `json:"failed"`
}

// EnsembleResult is transient, it exists only for the duration of one
// orchestration call.
type EnsembleResult struct {
	Participants []ParticipantResult `json:"participants"`
	Text         string              `json:"text"`
	Arbiter      string              `json:"arbiter"`
	Duration     time.Duration       `json:"duration"`
}

type Orchestrator struct {
	backend  Backend
	registry *health.Registry
	ledger   *quota.Ledger
	profiles *profile.Service
	metrics  *metrics.Collector
	cfg      *config.Config
	logger   *zap.Logger
}

func New(backend Backend, registry *health.Registry, ledger *quota.Ledger, profiles *profile.Service, collector *metrics.Collector, cfg *config.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		backend:  backend,
		registry: registry,
		ledger:   ledger,
		profiles: profiles,
		metrics:  collector,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
}

// Ask runs one single-model request through the full admission pipeline:
// profile, quota, availability, dispatch, then usage recording on success.
// heartbeat may be nil; when set it receives indicator frames until the
// call resolves.
func (o *Orchestrator) Ask(ctx context.Context, userID int64, model string, history []provider.Message, heartbeat func(string)) (*Reply, error) {
	user, err := o.admit(ctx, userID, db.ModeNormal)
	if err != nil {
		return nil, err
	}

	if !o.registry.IsAvailable(model) {
		return nil, &UnavailableError{Models: []string{model}}
	}

	messages := o.buildMessages(user, history)
	temperature := o.temperatureFor(user)

	indicator := StartIndicator(ctx, indicatorInterval, heartbeat)
	defer indicator.Stop()

	start := time.Now()
	text, err := o.backend.Complete(ctx, model, messages, temperature, 0, o.cfg.Provider.RequestTimeout)
	duration := time.Since(start)

	if err != nil {
		o.handleLiveFailure(model, err)
		o.metrics.RecordRequest(model, string(db.ModeNormal), "error", duration)
		return nil, fmt.Errorf("model %s request failed: %w", model, err)
	}

	o.metrics.RecordRequest(model, string(db.ModeNormal), "ok", duration)
	o.recordUsage(ctx, userID, model, db.ModeNormal)
	if err := o.profiles.SetLastUsedModel(ctx, userID, model); err != nil {
		o.logger.Warn("Failed to save last used model", zap.Error(err), zap.Int64("user_id", userID))
	}

	return &Reply{Text: text, Model: model, Temperature: temperature, Duration: duration}, nil
}

// GenerateImage runs one image request through the same admission
// pipeline. Image requests draw from the normal daily budget.
func (o *Orchestrator) GenerateImage(ctx context.Context, userID int64, model, prompt string, heartbeat func(string)) (*ImageReply, error) {
	_, err := o.admit(ctx, userID, db.ModeNormal)
	if err != nil {
		return nil, err
	}

	if !o.registry.IsAvailable(model) {
		return nil, &UnavailableError{Models: []string{model}}
	}

	indicator := StartIndicator(ctx, indicatorInterval, heartbeat)
	defer indicator.Stop()

	start := time.Now()
	url, err := o.backend.GenerateImage(ctx, model, prompt, imageSize, o.cfg.Provider.RequestTimeout)
	duration := time.Since(start)

	if err != nil {
		o.handleLiveFailure(model, err)
		o.metrics.RecordRequest(model, string(db.ModeNormal), "error", duration)
		return nil, fmt.Errorf("model %s request failed: %w", model, err)
	}

	o.metrics.RecordRequest(model, string(db.ModeNormal), "ok", duration)
	o.recordUsage(ctx, userID, model, db.ModeNormal)
	if err := o.profiles.SetLastUsedImageModel(ctx, userID, model); err != nil {
		o.logger.Warn("Failed to save last used image model", zap.Error(err), zap.Int64("user_id", userID))
	}

	return &ImageReply{URL: url, Model: model, Duration: duration}, nil
}

// RunEnsemble fans the prompt out to every participant concurrently,
// tolerates partial failure, and routes the aggregate to the arbiter.
// Availability is all-or-nothing: a silently shrunk ensemble would
// misrepresent what the tier promises. Usage recording against the
// ensemble quota is the caller's responsibility.
func (o *Orchestrator) RunEnsemble(ctx context.Context, userID int64, prompt string, heartbeat func(string)) (*EnsembleResult, error) {
	user, err := o.admit(ctx, userID, db.ModeEnsemble)
	if err != nil {
		return nil, err
	}

	participants := o.cfg.Ensemble.Participants
	arbiter := o.cfg.Ensemble.Arbiter

	var down []string
	for _, model := range append(append([]string{}, participants...), arbiter) {
		if !o.registry.IsAvailable(model) {
			down = append(down, model)
		}
	}
	if len(down) > 0 {
		return nil, &UnavailableError{Models: down}
	}

	o.logger.Info("Starting ensemble round",
		zap.Int64("user_id", userID),
		zap.Int("participants", len(participants)),
		zap.String("arbiter", arbiter),
	)

	indicator := StartIndicator(ctx, indicatorInterval, heartbeat)
	defer indicator.Stop()

	start := time.Now()
	messages := o.buildMessages(user, []provider.Message{{Role: "user", Content: prompt}})
	temperature := o.temperatureFor(user)

	results := make([]ParticipantResult, len(participants))
	var wg sync.WaitGroup
	for i, model := range participants {
		wg.Add(1)
		go func(i int, model string) {
			defer wg.Done()
			text, err := o.backend.Complete(ctx, model, messages, temperature, 0, o.cfg.Provider.RequestTimeout)
			if err != nil {
				o.logger.Warn("Ensemble participant failed",
					zap.String("model", model),
					zap.Error(err),
				)
				o.handleLiveFailure(model, err)
				results[i] = ParticipantResult{
					Model:    model,
					Response: fmt.Sprintf("ERROR: the model could not process the request (%s).", failureReason(err)),
					Failed:   true,
				}
				return
			}
			results[i] = ParticipantResult{Model: model, Response: text}
		}(i, model)
	}
	wg.Wait()

	successful := 0
	for _, r := range results {
		if !r.Failed {
			successful++
		}
	}
	if successful == 0 {
		o.logger.Error("Ensemble round failed, no participant produced a response", zap.Int64("user_id", userID))
		return nil, ErrEnsembleAllFailed
	}

	synthesis := buildSynthesisPrompt(prompt, results)
	text, err := o.backend.Complete(ctx, arbiter, []provider.Message{{Role: "user", Content: synthesis}}, temperature, 0, o.cfg.Provider.RequestTimeout)
	if err != nil {
		o.handleLiveFailure(arbiter, err)
		return nil, &ArbiterError{Model: arbiter, Err: err}
	}

	duration := time.Since(start)
	o.metrics.RecordEnsemble(duration, successful)
	o.logger.Info("Ensemble round finished",
		zap.Int64("user_id", userID),
		zap.Int("successful", successful),
		zap.Duration("duration", duration),
	)

	return &EnsembleResult{
		Participants: results,
		Text:         text,
		Arbiter:      arbiter,
		Duration:     duration,
	}, nil
}

// admit runs the shared pre-flight: blocked flag, then quota. The profile
// may be nil for users the store has never seen.
func (o *Orchestrator) admit(ctx context.Context, userID int64, mode db.RequestMode) (*db.User, error) {
	user, err := o.profiles.Cache().Get(ctx, userID)
	if err != nil && !errors.Is(err, db.ErrUserNotFound) {
		return nil, err
	}
	if user != nil && user.Blocked {
		return nil, ErrBlocked
	}

	if err := o.ledger.Admit(ctx, userID, mode); err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			o.metrics.RecordQuotaRejection(string(mode))
		}
		return nil, err
	}
	return user, nil
}

func (o *Orchestrator) recordUsage(ctx context.Context, userID int64, model string, mode db.RequestMode) {
	if err := o.ledger.RecordUsage(ctx, userID, model, mode); err != nil {
		o.logger.Error("Failed to record usage",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.String("model", model),
		)
	}
}

// handleLiveFailure is the fast-degradation path: any provider error or
// timeout on a live call opens the circuit immediately, independent of
// the periodic prober.
func (o *Orchestrator) handleLiveFailure(model string, err error) {
	if _, ok := provider.AsError(err); ok {
		o.registry.MarkFailed(model, failureReason(err))
	}
}

func failureReason(err error) string {
	pe, ok := provider.AsError(err)
	if !ok {
		return "error"
	}
	switch pe.Kind {
	case provider.KindTimeout:
		return "Timeout"
	case provider.KindAPI:
		return fmt.Sprintf("API Error %d", pe.StatusCode)
	case provider.KindEmpty:
		return "Empty response"
	default:
		return "Connection error"
	}
}

func (o *Orchestrator) buildMessages(user *db.User, history []provider.Message) []provider.Message {
	messages := []provider.Message{{Role: "system", Content: o.cfg.Models.SystemPrompt}}
	if user != nil && user.Instruction != nil && *user.Instruction != "" {
		messages = append(messages, provider.Message{
			Role:    "system",
			Content: "Additional instruction from the user: " + *user.Instruction,
		})
	}
	return append(messages, history...)
}

func (o *Orchestrator) temperatureFor(user *db.User) float64 {
	if user != nil && user.Temperature != nil {
		return *user.Temperature
	}
	return o.cfg.Models.DefaultTemperature
}

// buildSynthesisPrompt assembles the arbiter meta-prompt: fixed role
// instructions, the original request, then every labeled participant
// response including error placeholders, so the arbiter can reason about
// disagreement and failure.
func buildSynthesisPrompt(prompt string, results []ParticipantResult) string {
	var b strings.Builder
	b.WriteString("You are the chief AI arbiter. Your task is to analyze the responses of several models and produce the single best final answer.\n")
	b.WriteString("Act strictly step by step:\n")
	b.WriteString("\nSTEP 1: Determine the correct answer.\n")
	b.WriteString("Study the original user request and every provided response carefully. Work out the single accurate answer.\n")
	b.WriteString("\nSTEP 2: Write the final answer.\n")
	b.WriteString("Write an exhaustive, precise and well-formatted answer for the user. Use the best ideas and facts from the participant responses, but state them in your own words. Do not mention the other models in this part.\n")
	b.WriteString("\nSTEP 3: Analyze the sources.\n")
	b.WriteString("After the final answer put a `---` separator. Then briefly and objectively analyze the participant responses: who was right, who was wrong and why. Your analysis must be fully consistent with the final answer you gave in STEP 2.\n")
	b.WriteString("\n---\n")
	b.WriteString("ORIGINAL USER REQUEST:\n" + prompt + "\n")
	b.WriteString("---\n")
	b.WriteString("\nPARTICIPANT MODEL RESPONSES FOR ANALYSIS:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "\nResponse from model (%s):\n%s\n---", r.Model, r.Response)
	}
	b.WriteString("\nYOUR FINAL RESULT (perform STEP 2 and STEP 3):")
	return b.String()
}
