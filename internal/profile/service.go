package profile

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Service owns every write path that touches a profile. Each write
// invalidates the cache entry so no reader observes a value older than
// the store.
type Service struct {
	store  Store
	cache  *Cache
	logger *zap.Logger
}

func NewService(store Store, cache *Cache, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		logger: logger.With(zap.String("component", "profile_service")),
	}
}

func (s *Service) Cache() *Cache {
	return s.cache
}

func (s *Service) Register(ctx context.Context, userID int64, username string) error {
	if err := s.store.UpsertUser(ctx, userID, username); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}

// SetTier updates the subscription. Tier 0 expires immediately; paid tiers
// run for the given number of days.
func (s *Service) SetTier(ctx context.Context, userID int64, tier, days int) error {
	end := time.Now().UTC()
	if tier > 0 {
		end = end.AddDate(0, 0, days)
	}
	if err := s.store.SetTier(ctx, userID, tier, end); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	s.logger.Info("Subscription updated",
		zap.Int64("user_id", userID),
		zap.Int("tier", tier),
		zap.Time("end", end),
	)
	return nil
}

func (s *Service) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	if err := s.store.SetBlocked(ctx, userID, blocked); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	s.logger.Info("User block flag updated", zap.Int64("user_id", userID), zap.Bool("blocked", blocked))
	return nil
}

func (s *Service) SetVerified(ctx context.Context, userID int64, verified bool) error {
	if err := s.store.SetVerified(ctx, userID, verified); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}

func (s *Service) GrantBonus(ctx context.Context, userID int64) error {
	if err := s.store.SetBonusGranted(ctx, userID, true); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	s.logger.Info("Reward bonus granted", zap.Int64("user_id", userID))
	return nil
}

func (s *Service) RevokeBonus(ctx context.Context, userID int64) error {
	if err := s.store.SetBonusGranted(ctx, userID, false); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}

func (s *Service) SetInstruction(ctx context.Context, userID int64, instruction *string) error {
	if err := s.store.SetInstruction(ctx, userID, instruction); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}

func (s *Service) SetTemperature(ctx context.Context, userID int64, temperature *float64) error {
	if err := s.store.SetTemperature(ctx, userID, temperature); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}

func (s *Service) SetLastUsedModel(ctx context.Context, userID int64, model string) error {
	if err := s.store.SetLastUsedModel(ctx, userID, model); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}

func (s *Service) SetLastUsedImageModel(ctx context.Context, userID int64, model string) error {
	if err := s.store.SetLastUsedImageModel(ctx, userID, model); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}
