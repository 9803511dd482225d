// Package notify delivers low-stock and report alerts to operators. Alerts are
// queued and delivered in the background; callers never wait on delivery.
package notify

import (
	"fmt"
	"strings"
	"time"

	"stockcart-backend/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindLowStock      Kind = "low_stock"
	KindLowStockBatch Kind = "low_stock_batch"
	KindDailyReport   Kind = "daily_report"
)

type ProductStock struct {
	ProductID     uuid.UUID       `json:"product_id"`
	Name          string          `json:"name"`
	StockQuantity int             `json:"stock_quantity"`
	Price         decimal.Decimal `json:"price"`
}

func StockOf(p models.Product) ProductStock {
	return ProductStock{
		ProductID:     p.ID,
		Name:          p.Name,
		StockQuantity: p.StockQuantity,
		Price:         p.Price,
	}
}

type ReportLine struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

type DailyReport struct {
	Date            string       `json:"date"`
	TotalItemsAdded int          `json:"total_items_added"`
	UniqueProducts  int          `json:"unique_products"`
	Products        []ReportLine `json:"products"`
}

// Alert is one notification. Kind selects which payload field is set.
type Alert struct {
	Kind     Kind           `json:"kind"`
	Product  *ProductStock  `json:"product,omitempty"`
	Products []ProductStock `json:"products,omitempty"`
	Report   *DailyReport   `json:"report,omitempty"`
	RaisedAt time.Time      `json:"raised_at"`
}

func LowStock(p ProductStock) Alert {
	return Alert{Kind: KindLowStock, Product: &p, RaisedAt: time.Now().UTC()}
}

func LowStockBatch(products []ProductStock) Alert {
	return Alert{Kind: KindLowStockBatch, Products: products, RaisedAt: time.Now().UTC()}
}

func DailySales(r DailyReport) Alert {
	return Alert{Kind: KindDailyReport, Report: &r, RaisedAt: time.Now().UTC()}
}

func (a Alert) Subject() string {
	switch a.Kind {
	case KindLowStock:
		return "Low Stock Alert"
	case KindLowStockBatch:
		return fmt.Sprintf("Low Stock Alert - %d Product(s)", len(a.Products))
	case KindDailyReport:
		if a.Report != nil {
			return "Daily Sales Report - " + a.Report.Date
		}
	}
	return string(a.Kind)
}

// Body renders the alert as plain text.
func (a Alert) Body() string {
	var b strings.Builder
	switch a.Kind {
	case KindLowStock:
		if a.Product == nil {
			break
		}
		fmt.Fprintf(&b, "Product '%s' is running low on stock.\n", a.Product.Name)
		fmt.Fprintf(&b, "Current stock: %d\n", a.Product.StockQuantity)
		fmt.Fprintf(&b, "Price: $%s\n", a.Product.Price.StringFixed(2))
		b.WriteString("Please restock this product soon.\n")

	case KindLowStockBatch:
		fmt.Fprintf(&b, "The following %d product(s) are running low on stock:\n", len(a.Products))
		for _, p := range a.Products {
			fmt.Fprintf(&b, "- %s: %d units (Price: $%s)\n", p.Name, p.StockQuantity, p.Price.StringFixed(2))
		}
		b.WriteString("Please restock these products soon.\n")

	case KindDailyReport:
		if a.Report == nil {
			break
		}
		r := a.Report
		b.WriteString("Daily Sales Report\n")
		fmt.Fprintf(&b, "Date: %s\n", r.Date)
		fmt.Fprintf(&b, "Total Items Added: %d\n", r.TotalItemsAdded)
		fmt.Fprintf(&b, "Unique Products: %d\n", r.UniqueProducts)
		if len(r.Products) > 0 {
			b.WriteString("Products:\n")
			for _, line := range r.Products {
				fmt.Fprintf(&b, "- %s: %d items (Total: $%s)\n", line.ProductName, line.Quantity, line.TotalValue.StringFixed(2))
			}
		}
	}
	return b.String()
}
