package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/gevsen/Mini-Arima/internal/config"
	"github.com/gevsen/Mini-Arima/internal/db"
	"github.com/gevsen/Mini-Arima/internal/profile"
)

// Unlimited is the resolved daily limit for administrative identities.
const Unlimited = math.MaxInt32

// UsageStore is the slice of the persistence contract the ledger needs.
// AppendRequest must be an append-only increment; the ledger never does a
// read-modify-write it could lose under reordering.
type UsageStore interface {
	CountRequestsToday(ctx context.Context, userID int64, day string, mode db.RequestMode) (int, error)
	AppendRequest(ctx context.Context, userID int64, model, day string, mode db.RequestMode) error
}

type Limits struct {
	Daily    int `json:"daily"`
	Ensemble int `json:"ensemble"`
}

// ExceededError is a user-recoverable admission rejection. OfferBonus
// signals the presentation layer that this tier-0 user may still earn the
// reward bonus; the hand-off is a hint, nothing is enforced here.
type ExceededError struct {
	Mode       db.RequestMode
	Limit      int
	OfferBonus bool
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("daily %s request limit reached (%d)", e.Mode, e.Limit)
}

// Ledger enforces daily per-tier, per-mode request budgets. Admission is
// check-then-act: usage is recorded only after the backend call succeeds,
// so failed calls never consume quota. Two concurrent requests from one
// user can both pass the check before either records; quota is a soft
// guarantee.
type Ledger struct {
	store    UsageStore
	profiles *profile.Service
	cfg      *config.Config
	loc      *time.Location
	logger   *zap.Logger
}

func NewLedger(store UsageStore, profiles *profile.Service, cfg *config.Config, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:    store,
		profiles: profiles,
		cfg:      cfg,
		loc:      cfg.QuotaLocation(),
		logger:   logger.With(zap.String("component", "quota_ledger")),
	}
}

// Today is the current calendar day in the fixed quota timezone. The day
// is part of the counter key, so rollover needs no reset job.
func (l *Ledger) Today() string {
	return time.Now().In(l.loc).Format("2006-01-02")
}

func (l *Ledger) CountToday(ctx context.Context, userID int64, mode db.RequestMode) (int, error) {
	return l.store.CountRequestsToday(ctx, userID, l.Today(), mode)
}

// RecordUsage appends one accepted-and-completed request to the ledger.
func (l *Ledger) RecordUsage(ctx context.Context, userID int64, model string, mode db.RequestMode) error {
	if err := l.store.AppendRequest(ctx, userID, model, l.Today(), mode); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Tier resolves the effective subscription tier. An expired paid tier is
// read as tier 0, and the first reader to observe the staleness triggers
// the downgrade write-back (lazy expiry, no background sweep).
func (l *Ledger) Tier(ctx context.Context, userID int64) (int, error) {
	if l.cfg.IsAdmin(userID) {
		return 3, nil
	}

	user, err := l.profiles.Cache().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return 0, nil
		}
		return 0, err
	}

	if user.Tier > 0 && user.SubscriptionEnd != nil && user.SubscriptionEnd.Before(time.Now().UTC()) {
		l.logger.Info("Subscription expired, downgrading to tier 0",
			zap.Int64("user_id", userID),
			zap.Int("tier", user.Tier),
		)
		if err := l.profiles.SetTier(ctx, userID, 0, 0); err != nil {
			l.logger.Error("Failed to persist tier downgrade", zap.Error(err), zap.Int64("user_id", userID))
		}
		return 0, nil
	}

	return user.Tier, nil
}

// LimitsFor resolves the daily budgets for a user. Resolution order:
// administrative override, lazy expired-tier downgrade, tier-0 bonus
// override, static tier table.
func (l *Ledger) LimitsFor(ctx context.Context, userID int64) (Limits, error) {
	if l.cfg.IsAdmin(userID) {
		return Limits{Daily: Unlimited, Ensemble: Unlimited}, nil
	}

	tier, err := l.Tier(ctx, userID)
	if err != nil {
		return Limits{}, err
	}

	if tier == 0 {
		user, err := l.profiles.Cache().Get(ctx, userID)
		if err == nil && user.BonusGranted {
			return Limits{Daily: l.cfg.Quota.BonusDaily, Ensemble: 0}, nil
		}
	}

	t, ok := l.cfg.Quota.Limits[tier]
	if !ok {
		return Limits{}, nil
	}
	return Limits{Daily: t.Daily, Ensemble: t.Ensemble}, nil
}

// Admit runs the admission check for one request. It never records usage;
// the caller does that after the backend call succeeds.
func (l *Ledger) Admit(ctx context.Context, userID int64, mode db.RequestMode) error {
	limits, err := l.LimitsFor(ctx, userID)
	if err != nil {
		return err
	}

	limit := limits.Daily
	if mode == db.ModeEnsemble {
		limit = limits.Ensemble
	}

	count, err := l.CountToday(ctx, userID, mode)
	if err != nil {
		return err
	}
	if count < limit {
		return nil
	}

	offerBonus := false
	if tier, terr := l.Tier(ctx, userID); terr == nil && tier == 0 {
		if user, uerr := l.profiles.Cache().Get(ctx, userID); uerr == nil {
			offerBonus = !user.BonusGranted
		} else if errors.Is(uerr, db.ErrUserNotFound) {
			offerBonus = true
		}
	}

	l.logger.Info("Request rejected by quota",
		zap.Int64("user_id", userID),
		zap.String("mode", string(mode)),
		zap.Int("count", count),
		zap.Int("limit", limit),
	)
	return &ExceededError{Mode: mode, Limit: limit, OfferBonus: offerBonus}
}
