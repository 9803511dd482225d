package jobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stockcart-backend/notify"
	"stockcart-backend/reservation"
)

const (
	CheckLowStockJob    = "check-low-stock"
	ExpireCartsJob      = "expire-carts"
	DailySalesReportJob = "daily-sales-report"
)

type LowStockScanner interface {
	Scan(ctx context.Context) (int, error)
}

type CartExpirer interface {
	ExpireCarts(ctx context.Context, maxAge time.Duration) (reservation.ExpiryResult, error)
}

type SalesReporter interface {
	SendDailySales(ctx context.Context, day time.Time) (notify.DailyReport, error)
}

func CheckLowStock(scanner LowStockScanner, schedule string) Job {
	return Job{
		Name:     CheckLowStockJob,
		Schedule: schedule,
		Run: func(ctx context.Context) (any, error) {
			n, err := scanner.Scan(ctx)
			return map[string]int{"products_alerted": n}, err
		},
	}
}

func ExpireCarts(expirer CartExpirer, maxAge time.Duration, schedule string) Job {
	return Job{
		Name:     ExpireCartsJob,
		Schedule: schedule,
		Run: func(ctx context.Context) (any, error) {
			return expirer.ExpireCarts(ctx, maxAge)
		},
	}
}

func DailySalesReport(reporter SalesReporter, schedule string) Job {
	return Job{
		Name:     DailySalesReportJob,
		Schedule: schedule,
		Run: func(ctx context.Context) (any, error) {
			report, err := reporter.SendDailySales(ctx, time.Now().UTC())
			return map[string]any{
				"date":              report.Date,
				"total_items_added": report.TotalItemsAdded,
				"unique_products":   report.UniqueProducts,
			}, err
		},
	}
}

// DailyAt converts a "HH:MM" time of day into a cron schedule.
func DailyAt(at string) (string, error) {
	hh, mm, ok := strings.Cut(at, ":")
	if !ok {
		return "", fmt.Errorf("invalid time of day %q, want HH:MM", at)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", at)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", at)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
