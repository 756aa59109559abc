package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"healthtrack/backend/internal/domain"
)

const (
	defaultTopProducts = 10
	overviewCacheTTL   = 60 * time.Second
)

// ReportOverview is the only cached report; the KPI header is requested on
// every reporting-page load while the underlying data changes slowly.
func (s *Service) ReportOverview(ctx context.Context, startDate, endDate string) (*domain.ReportOverview, error) {
	rng := dateRange(startDate, endDate)
	key := fmt.Sprintf("report:overview:%s:%s", deref(rng.StartDate), deref(rng.EndDate))

	if payload, ok, err := s.reports.Get(ctx, key); err == nil && ok {
		var ov domain.ReportOverview
		if json.Unmarshal(payload, &ov) == nil {
			return &ov, nil
		}
	} else if err != nil {
		s.log.WithError(err).Warn("report cache read failed")
	}

	ov, err := s.repo.ReportOverview(ctx, rng)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(ov); err == nil {
		if err := s.reports.Set(ctx, key, payload, overviewCacheTTL); err != nil {
			s.log.WithError(err).Warn("report cache write failed")
		}
	}
	return ov, nil
}

func (s *Service) ReportSalesTrend(ctx context.Context, startDate, endDate string) ([]domain.SalesTrendPoint, error) {
	return s.repo.ReportSalesTrend(ctx, dateRange(startDate, endDate))
}

func (s *Service) ReportTopProducts(ctx context.Context, startDate, endDate string, top int) ([]domain.TopProduct, error) {
	if top <= 0 {
		top = defaultTopProducts
	}
	return s.repo.ReportTopProducts(ctx, dateRange(startDate, endDate), top)
}

func (s *Service) ReportRefundSummary(ctx context.Context, startDate, endDate string) ([]domain.RefundSummaryRow, error) {
	return s.repo.ReportRefundSummary(ctx, dateRange(startDate, endDate))
}

func (s *Service) ReportInventoryMovement(ctx context.Context, startDate, endDate string) ([]domain.InventoryMovement, error) {
	return s.repo.ReportInventoryMovement(ctx, dateRange(startDate, endDate))
}

func (s *Service) GetDashboardSummary(ctx context.Context) (*domain.DashboardSummary, error) {
	return s.repo.GetDashboardSummary(ctx)
}

func (s *Service) GetTopProducts(ctx context.Context, limit, days int) ([]domain.TopProduct, error) {
	if limit <= 0 {
		limit = 5
	}
	if days <= 0 {
		days = 30
	}
	return s.repo.GetTopProducts(ctx, limit, days)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
