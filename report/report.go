// Package report builds the daily sales summary from cart activity.
package report

import (
	"context"
	"time"

	"stockcart-backend/cart"
	"stockcart-backend/notify"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ItemSource groups the cart items created in [start, end) by product.
type ItemSource interface {
	ItemsAddedBetween(ctx context.Context, start, end time.Time) ([]cart.ProductTally, error)
}

type Service struct {
	items    ItemSource
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewService(items ItemSource, notifier notify.Notifier, logger *zap.Logger) *Service {
	return &Service{items: items, notifier: notifier, logger: logger}
}

// DailySales summarizes the cart items added on day's UTC calendar date.
func (s *Service) DailySales(ctx context.Context, day time.Time) (notify.DailyReport, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	tallies, err := s.items.ItemsAddedBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return notify.DailyReport{}, err
	}

	report := notify.DailyReport{
		Date:     start.Format("2006-01-02"),
		Products: make([]notify.ReportLine, 0, len(tallies)),
	}
	for _, t := range tallies {
		report.TotalItemsAdded += t.Quantity
		report.Products = append(report.Products, notify.ReportLine{
			ProductID:   t.ProductID,
			ProductName: t.ProductName,
			Quantity:    t.Quantity,
			TotalValue:  t.Price.Mul(decimal.NewFromInt(int64(t.Quantity))),
		})
	}
	report.UniqueProducts = len(report.Products)
	return report, nil
}

// SendDailySales builds the report for day and queues it for delivery.
func (s *Service) SendDailySales(ctx context.Context, day time.Time) (notify.DailyReport, error) {
	report, err := s.DailySales(ctx, day)
	if err != nil {
		return report, err
	}

	s.notifier.Notify(notify.DailySales(report))
	s.logger.Info("Daily sales report queued",
		zap.String("date", report.Date),
		zap.Int("total_items_added", report.TotalItemsAdded),
		zap.Int("unique_products", report.UniqueProducts),
	)
	return report, nil
}
