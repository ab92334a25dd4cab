// Package dashboard computes the admin analytics view and stores each
// admin's widget preferences.
package dashboard

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/model"
)

const (
	// LowStockThreshold marks a variant as low on stock.
	LowStockThreshold = 5
	// RecentOrderCount is the size of the recent orders table.
	RecentOrderCount = 5
	// RevenueMonths is the length of the monthly revenue series.
	RevenueMonths = 6
	// TopSellerCount is the number of products in the top sellers chart.
	TopSellerCount = 3
)

// Stats is the computed dashboard.
type Stats struct {
	Revenue        decimal.Decimal  `json:"revenue"`
	ActiveOrders   int              `json:"active_orders"`
	Users          int              `json:"users"`
	LowStock       int              `json:"low_stock"`
	LowStockItems  []LowStockItem   `json:"low_stock_items"`
	RecentOrders   []OrderSummary   `json:"recent_orders"`
	MonthlyRevenue []MonthlyRevenue `json:"monthly_revenue"`
	TopSellers     []TopSeller      `json:"top_sellers"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

type LowStockItem struct {
	ProductID model.ID `json:"product_id"`
	Name      string   `json:"name"`
	Variant   string   `json:"variant"`
	Stock     int      `json:"stock"`
}

type OrderSummary struct {
	ID        model.ID        `json:"id"`
	Customer  string          `json:"customer"`
	Status    string          `json:"status"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

type MonthlyRevenue struct {
	Month   string          `json:"month"` // 2006-01
	Label   string          `json:"label"` // Jan
	Revenue decimal.Decimal `json:"revenue"`
}

type TopSeller struct {
	ProductID model.ID `json:"product_id"`
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
}

// Compute derives the dashboard from all orders, all products and the user
// count. Only orders with a completed payment count as revenue.
func Compute(orders []model.Order, products []model.Product, users int, now time.Time) Stats {
	s := Stats{
		Revenue:        decimal.Zero,
		Users:          users,
		LowStockItems:  []LowStockItem{},
		RecentOrders:   []OrderSummary{},
		MonthlyRevenue: monthlyRevenue(orders, now),
		TopSellers:     topSellers(orders),
		GeneratedAt:    now,
	}

	for _, o := range orders {
		if o.PaymentStatus == model.PaymentCompleted {
			s.Revenue = s.Revenue.Add(o.Total)
		}
		if o.Status == model.OrderPending || o.Status == model.OrderProcessing {
			s.ActiveOrders++
		}
	}

	for _, p := range products {
		low := false
		for _, v := range p.Variants {
			if v.Stock != nil && *v.Stock <= LowStockThreshold {
				low = true
				s.LowStockItems = append(s.LowStockItems, LowStockItem{
					ProductID: p.ID,
					Name:      p.Name,
					Variant:   v.Label,
					Stock:     *v.Stock,
				})
			}
		}
		if low {
			s.LowStock++
		}
	}

	recent := make([]model.Order, len(orders))
	copy(recent, orders)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].CreatedAt.After(recent[j].CreatedAt) })
	if len(recent) > RecentOrderCount {
		recent = recent[:RecentOrderCount]
	}
	for _, o := range recent {
		customer := o.ShippingAddress.Name
		if customer == "" {
			customer = "Guest"
		}
		s.RecentOrders = append(s.RecentOrders, OrderSummary{
			ID:        o.ID,
			Customer:  customer,
			Status:    o.Status,
			Total:     o.Total,
			CreatedAt: o.CreatedAt,
		})
	}
	return s
}

// monthlyRevenue sums completed revenue for the current month and the
// RevenueMonths-1 before it, oldest first.
func monthlyRevenue(orders []model.Order, now time.Time) []MonthlyRevenue {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	series := make([]MonthlyRevenue, RevenueMonths)
	index := make(map[string]int, RevenueMonths)
	for i := range series {
		m := first.AddDate(0, i-(RevenueMonths-1), 0)
		key := m.Format("2006-01")
		series[i] = MonthlyRevenue{Month: key, Label: m.Format("Jan"), Revenue: decimal.Zero}
		index[key] = i
	}
	for _, o := range orders {
		if o.PaymentStatus != model.PaymentCompleted || o.CreatedAt.IsZero() {
			continue
		}
		if i, ok := index[o.CreatedAt.In(now.Location()).Format("2006-01")]; ok {
			series[i].Revenue = series[i].Revenue.Add(o.Total)
		}
	}
	return series
}

// topSellers ranks products by quantity ordered across non-cancelled orders.
func topSellers(orders []model.Order) []TopSeller {
	byID := make(map[model.ID]*TopSeller)
	var ranked []*TopSeller
	for _, o := range orders {
		if o.Status == model.OrderCancelled {
			continue
		}
		for _, it := range o.Items {
			t, ok := byID[it.ProductID]
			if !ok {
				t = &TopSeller{ProductID: it.ProductID, Name: it.Name}
				byID[it.ProductID] = t
				ranked = append(ranked, t)
			}
			t.Quantity += it.Quantity
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Quantity > ranked[j].Quantity })
	if len(ranked) > TopSellerCount {
		ranked = ranked[:TopSellerCount]
	}
	out := make([]TopSeller, len(ranked))
	for i, t := range ranked {
		out[i] = *t
	}
	return out
}
