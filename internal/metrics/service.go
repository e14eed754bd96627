package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/commission/internal/domain"
)

// Service answers aggregate queries over stored deals.
type Service struct {
	repo domain.Repository
}

// NewService creates a metrics service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// RecentDealCount returns how many deals assigned to userID were created
// at or after since.
func (s *Service) RecentDealCount(ctx context.Context, userID string, since time.Time) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("userID is required")
	}

	deals, err := s.repo.ListDeals(ctx, domain.DealFilter{UserID: userID, Since: since.UTC()})
	if err != nil {
		return 0, fmt.Errorf("failed to list deals: %w", err)
	}
	return int64(len(deals)), nil
}

// Summary aggregates the deals of userID, or every deal when userID is empty.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	deals, err := s.repo.ListDeals(ctx, domain.DealFilter{UserID: userID})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list deals: %w", err)
	}
	return Summarize(deals), nil
}
