package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gevsen/Mini-Arima/internal/config"
	"github.com/gevsen/Mini-Arima/internal/db"
)

// Service produces the aggregate numbers behind the administrative
// reporting surface.
type Service struct {
	repo   *db.Repository
	loc    *time.Location
	logger *zap.Logger
}

func NewService(repo *db.Repository, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		loc:    cfg.QuotaLocation(),
		logger: logger.With(zap.String("component", "stats")),
	}
}

type Overview struct {
	TotalUsers    int           `json:"total_users"`
	ByTier        []db.TierStat `json:"by_tier"`
	RequestsToday int           `json:"requests_today"`
}

func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	total, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	byTier, err := s.repo.SubscriptionStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription stats: %w", err)
	}

	today := time.Now().In(s.loc).Format("2006-01-02")
	requests, err := s.repo.CountRequestsOnDay(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}

	return &Overview{
		TotalUsers:    total,
		ByTier:        byTier,
		RequestsToday: requests,
	}, nil
}

func (s *Service) Users(ctx context.Context, page, pageSize int) ([]*db.User, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.repo.GetUsersPaginated(ctx, pageSize, (page-1)*pageSize)
}
