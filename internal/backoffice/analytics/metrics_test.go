package analytics

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
)

type fixture struct {
	store   *store.Store
	user    *store.User
	product *store.Product
	price   *store.Price
}

func newFixture(t *testing.T, unitAmount int64) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	f := &fixture{store: s}
	f.user = &store.User{Email: "learner@example.org", Name: "Learner, Jane"}
	require.NoError(t, s.CreateUser(ctx, f.user))
	f.product = &store.Product{Name: "Professional Development Subscription", Active: true}
	require.NoError(t, s.CreateProduct(ctx, f.product))
	f.price = &store.Price{ProductID: f.product.ID, UnitAmount: unitAmount, Interval: "month"}
	require.NoError(t, s.CreatePrice(ctx, f.price))
	return f
}

func (f *fixture) addSubscription(t *testing.T, created time.Time, cancelled *time.Time, qty int64) *store.Subscription {
	t.Helper()
	sub := &store.Subscription{
		UserID:      f.user.ID,
		ProductID:   f.product.ID,
		PriceID:     f.price.ID,
		Quantity:    qty,
		CreatedAt:   created,
		CancelledAt: cancelled,
	}
	require.NoError(t, f.store.CreateSubscription(context.Background(), sub))
	return sub
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMonthlyRevenueSingleSubscription(t *testing.T) {
	f := newFixture(t, 4999)
	f.addSubscription(t, date(2026, 1, 1), nil, 1)

	svc := NewService(f.store)
	start, end := date(2026, 1, 1), date(2026, 3, 31)
	m, err := svc.GetSubscriptionMetrics(context.Background(), &start, &end)
	require.NoError(t, err)

	require.Len(t, m.MonthlyRevenue, 3)
	assert.Equal(t, []MonthlyRevenue{
		{Month: "Jan 2026", Revenue: 4999},
		{Month: "Feb 2026", Revenue: 4999},
		{Month: "Mar 2026", Revenue: 4999},
	}, m.MonthlyRevenue)

	assert.Equal(t, 1, m.TotalActiveSubscriptions)
	assert.Equal(t, 0, m.TotalCancelledSubscriptions)
	// 89 days is 2.92 months, rounded up to 3.
	assert.Equal(t, int64(3*4999), m.TotalRevenue)
	assert.Equal(t, float64(3*4999), m.AverageRevenuePerUser)
	assert.Zero(t, m.ChurnRate)
	assert.Zero(t, m.CustomerLifetimeValue)

	require.Len(t, m.SubscriptionsByProduct, 1)
	assert.Equal(t, ProductSubscriptions{
		ProductID:         f.product.ID,
		ProductName:       "Professional Development Subscription",
		SubscriptionCount: 1,
		Revenue:           4999,
	}, m.SubscriptionsByProduct[0])
}

func TestChurnAndLifetimeValue(t *testing.T) {
	f := newFixture(t, 1000)
	cancelledAt := date(2026, 2, 10)
	f.addSubscription(t, date(2026, 1, 5), nil, 1)
	f.addSubscription(t, date(2026, 1, 6), nil, 2)
	f.addSubscription(t, date(2026, 1, 7), &cancelledAt, 1)

	svc := NewService(f.store)
	start, end := date(2026, 1, 1), date(2026, 3, 1)
	m, err := svc.GetSubscriptionMetrics(context.Background(), &start, &end)
	require.NoError(t, err)

	assert.Equal(t, 2, m.TotalActiveSubscriptions)
	assert.Equal(t, 1, m.TotalCancelledSubscriptions)
	assert.InDelta(t, 33.3333, m.ChurnRate, 0.001)
	assert.InDelta(t, m.AverageRevenuePerUser/(m.ChurnRate/100), m.CustomerLifetimeValue, 1e-9)

	// Cancelled subscription still earns revenue for February, not March.
	require.Len(t, m.MonthlyRevenue, 3)
	assert.Equal(t, int64(1000+2000+1000), m.MonthlyRevenue[1].Revenue)
	assert.Equal(t, int64(1000+2000), m.MonthlyRevenue[2].Revenue)

	// Product breakdown counts only currently active subscriptions.
	require.Len(t, m.SubscriptionsByProduct, 1)
	assert.Equal(t, 2, m.SubscriptionsByProduct[0].SubscriptionCount)
	assert.Equal(t, int64(3000), m.SubscriptionsByProduct[0].Revenue)
}

func TestInvertedWindowReturnsZeroedMetrics(t *testing.T) {
	f := newFixture(t, 4999)
	f.addSubscription(t, date(2026, 1, 1), nil, 1)

	svc := NewService(f.store)
	start, end := date(2026, 6, 1), date(2026, 1, 1)
	m, err := svc.GetSubscriptionMetrics(context.Background(), &start, &end)
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Zero(t, m.TotalActiveSubscriptions)
	assert.Zero(t, m.TotalCancelledSubscriptions)
	assert.Zero(t, m.TotalRevenue)
	assert.Zero(t, m.ChurnRate)
	assert.Zero(t, m.CustomerLifetimeValue)
	assert.NotNil(t, m.MonthlyRevenue)
	assert.Empty(t, m.MonthlyRevenue)
	assert.NotNil(t, m.SubscriptionsByProduct)
}

func TestDefaultWindowIsTrailingTwelveMonths(t *testing.T) {
	svc := NewService(nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) }

	start, end := svc.Window(nil, nil)
	assert.Equal(t, time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC), start)

	explicitEnd := date(2024, 2, 29)
	start, _ = svc.Window(nil, &explicitEnd)
	assert.Equal(t, date(2023, 2, 28), start)
}

func TestChurnRateBounds(t *testing.T) {
	tests := []struct {
		active, cancelled int
		want              float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 4, 100},
		{2, 1, 100.0 / 3},
		{1, 1, 50},
	}
	for _, tt := range tests {
		got := ChurnRate(tt.active, tt.cancelled)
		assert.InDelta(t, tt.want, got, 1e-9)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 100.0)
	}
	assert.Zero(t, CustomerLifetimeValue(1234, 0))
	assert.InDelta(t, 2000, CustomerLifetimeValue(500, 25), 1e-9)
}

func TestSubscriptionMonths(t *testing.T) {
	assert.Equal(t, int64(1), subscriptionMonths(date(2026, 1, 1), date(2026, 1, 1)))
	assert.Equal(t, int64(1), subscriptionMonths(date(2026, 1, 1), date(2026, 1, 31)))
	assert.Equal(t, int64(2), subscriptionMonths(date(2026, 1, 1), date(2026, 2, 1)))
	// Order does not matter.
	assert.Equal(t, int64(2), subscriptionMonths(date(2026, 2, 1), date(2026, 1, 1)))
}

type failingSource struct {
	err error
}

func (f *failingSource) ListSubscriptionsCreatedBetween(context.Context, time.Time, time.Time) ([]*store.SubscriptionDetail, error) {
	return nil, nil
}

func (f *failingSource) ListSubscriptionsOverlapping(context.Context, time.Time, time.Time) ([]*store.SubscriptionDetail, error) {
	return nil, f.err
}

func (f *failingSource) ListActiveSubscriptions(context.Context) ([]*store.SubscriptionDetail, error) {
	return nil, nil
}

func (f *failingSource) ListProducts(context.Context) ([]*store.Product, error) { return nil, nil }

func (f *failingSource) CountUsers(context.Context) (int, error) { return 0, nil }

func TestQueryFailurePropagates(t *testing.T) {
	boom := errors.New("database is locked")
	svc := NewService(&failingSource{err: boom})
	start, end := date(2026, 1, 1), date(2026, 2, 1)

	_, err := svc.GetSubscriptionMetrics(context.Background(), &start, &end)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
