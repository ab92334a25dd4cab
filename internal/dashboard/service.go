package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront/internal/durable"
	"storefront/internal/model"
)

// Widgets toggles the dashboard cards.
type Widgets struct {
	Revenue      bool `json:"revenue"`
	Orders       bool `json:"orders"`
	Users        bool `json:"users"`
	Stock        bool `json:"stock"`
	RevenueChart bool `json:"revenueChart"`
	TopSellers   bool `json:"topSellers"`
	RecentOrders bool `json:"recentOrders"`
}

// Preferences are one admin's dashboard settings.
type Preferences struct {
	// RefreshIntervalMS is the polling period; 0 relies on realtime updates only.
	RefreshIntervalMS int     `json:"refresh_interval_ms"`
	Widgets           Widgets `json:"widgets"`
}

// RefreshIntervals are the accepted polling periods in milliseconds.
var RefreshIntervals = []int{0, 60000, 120000, 300000}

// DefaultPreferences shows every widget and polls every two minutes.
func DefaultPreferences() Preferences {
	return Preferences{
		RefreshIntervalMS: 120000,
		Widgets: Widgets{
			Revenue: true, Orders: true, Users: true, Stock: true,
			RevenueChart: true, TopSellers: true, RecentOrders: true,
		},
	}
}

func (p Preferences) Validate() error {
	for _, ms := range RefreshIntervals {
		if p.RefreshIntervalMS == ms {
			return nil
		}
	}
	return model.NewValidationError("refresh_interval_ms", fmt.Sprintf("must be one of %v", RefreshIntervals))
}

// Source is the admin view of the store.
type Source interface {
	ListAllOrders(ctx context.Context) ([]model.Order, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	CountUsers(ctx context.Context) (int, error)
}

// Service serves dashboard stats and preferences.
type Service struct {
	source Source
	prefs  durable.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(source Source, prefs durable.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, prefs: prefs, logger: logger, now: time.Now}
}

// Stats fetches orders, products and the user count concurrently and
// computes the dashboard.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var (
		orders   []model.Order
		products []model.Product
		users    int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orders, err = s.source.ListAllOrders(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		products, err = s.source.ListProducts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		users, err = s.source.CountUsers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("dashboard fetch failed", "error", err)
		return Stats{}, err
	}
	return Compute(orders, products, users, s.now()), nil
}

// Preferences returns the saved settings of an admin, or the defaults.
func (s *Service) Preferences(ctx context.Context, userID string) (Preferences, error) {
	p := DefaultPreferences()
	found, err := durable.GetJSON(ctx, s.prefs, durable.DashboardKey(userID), &p)
	if err != nil {
		return Preferences{}, err
	}
	if !found || p.Validate() != nil {
		if found {
			s.logger.Warn("discarding invalid dashboard preferences", "user", userID, "refresh_interval_ms", p.RefreshIntervalMS)
		}
		return DefaultPreferences(), nil
	}
	return p, nil
}

// SavePreferences validates and stores an admin's settings. They never expire.
func (s *Service) SavePreferences(ctx context.Context, userID string, p Preferences) (Preferences, error) {
	if err := p.Validate(); err != nil {
		return Preferences{}, err
	}
	if err := durable.SetJSON(ctx, s.prefs, durable.DashboardKey(userID), p, 0); err != nil {
		return Preferences{}, fmt.Errorf("save dashboard preferences: %w", err)
	}
	return p, nil
}
