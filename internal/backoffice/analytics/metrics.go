package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWindowMonths = 12
	daysPerMonth        = 30.44
	monthLabelLayout    = "Jan 2006"

	// maxMonthlyQueries bounds concurrent per-month lookups against the store.
	maxMonthlyQueries = 4
)

// Source is the read-only data access the aggregator needs.
type Source interface {
	ListSubscriptionsCreatedBetween(ctx context.Context, start, end time.Time) ([]*store.SubscriptionDetail, error)
	ListSubscriptionsOverlapping(ctx context.Context, from, to time.Time) ([]*store.SubscriptionDetail, error)
	ListActiveSubscriptions(ctx context.Context) ([]*store.SubscriptionDetail, error)
	ListProducts(ctx context.Context) ([]*store.Product, error)
	CountUsers(ctx context.Context) (int, error)
}

// SubscriptionMetrics summarises subscription health over a window. Money
// values are in minor currency units.
type SubscriptionMetrics struct {
	TotalActiveSubscriptions    int                    `json:"totalActiveSubscriptions"`
	TotalCancelledSubscriptions int                    `json:"totalCancelledSubscriptions"`
	TotalRevenue                int64                  `json:"totalRevenue"`
	MonthlyRevenue              []MonthlyRevenue       `json:"monthlyRevenue"`
	SubscriptionsByProduct      []ProductSubscriptions `json:"subscriptionsByProduct"`
	ChurnRate                   float64                `json:"churnRate"`
	AverageRevenuePerUser       float64                `json:"averageRevenuePerUser"`
	CustomerLifetimeValue       float64                `json:"customerLifetimeValue"`
	WindowStart                 time.Time              `json:"windowStart"`
	WindowEnd                   time.Time              `json:"windowEnd"`
}

// MonthlyRevenue is the recurring revenue of subscriptions live in one month.
type MonthlyRevenue struct {
	Month   string `json:"month"`
	Revenue int64  `json:"revenue"`
}

// ProductSubscriptions is the active subscription count and recurring
// revenue of one product.
type ProductSubscriptions struct {
	ProductID         string `json:"productId"`
	ProductName       string `json:"productName"`
	SubscriptionCount int    `json:"subscriptionCount"`
	Revenue           int64  `json:"revenue"`
}

// Service computes subscription metrics and reports.
type Service struct {
	src Source
	now func() time.Time
}

// NewService creates an analytics service reading from src.
func NewService(src Source) *Service {
	return &Service{src: src, now: time.Now}
}

// Window resolves optional bounds: end defaults to now and start to twelve
// months before end.
func (s *Service) Window(start, end *time.Time) (time.Time, time.Time) {
	e := s.now().UTC()
	if end != nil {
		e = end.UTC()
	}
	st := addMonthsClamped(e, -defaultWindowMonths)
	if start != nil {
		st = start.UTC()
	}
	return st, e
}

// GetSubscriptionMetrics aggregates subscriptions created in the window.
// A window whose start is after its end yields zeroed metrics.
func (s *Service) GetSubscriptionMetrics(ctx context.Context, start, end *time.Time) (*SubscriptionMetrics, error) {
	from, to := s.Window(start, end)
	m := &SubscriptionMetrics{
		MonthlyRevenue:         []MonthlyRevenue{},
		SubscriptionsByProduct: []ProductSubscriptions{},
		WindowStart:            from,
		WindowEnd:              to,
	}
	if from.After(to) {
		log.Debug().Time("start", from).Time("end", to).Msg("Analytics window is inverted; returning empty metrics")
		return m, nil
	}

	subs, err := s.src.ListSubscriptionsCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	for _, sub := range subs {
		if sub.Active() {
			m.TotalActiveSubscriptions++
		} else {
			m.TotalCancelledSubscriptions++
		}
		until := to
		if sub.CancelledAt != nil {
			until = *sub.CancelledAt
		}
		m.TotalRevenue += recurringAmount(sub) * subscriptionMonths(sub.CreatedAt, until)
	}

	if m.MonthlyRevenue, err = s.monthlyRevenue(ctx, from, to); err != nil {
		return nil, err
	}
	if m.SubscriptionsByProduct, err = s.subscriptionsByProduct(ctx); err != nil {
		return nil, err
	}

	users, err := s.src.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	m.ChurnRate = ChurnRate(m.TotalActiveSubscriptions, m.TotalCancelledSubscriptions)
	if users > 0 {
		m.AverageRevenuePerUser = float64(m.TotalRevenue) / float64(users)
	}
	m.CustomerLifetimeValue = CustomerLifetimeValue(m.AverageRevenuePerUser, m.ChurnRate)
	return m, nil
}

// monthlyRevenue walks calendar months from the month containing from until
// to, summing the recurring amount of every subscription live in each month.
func (s *Service) monthlyRevenue(ctx context.Context, from, to time.Time) ([]MonthlyRevenue, error) {
	var months []time.Time
	for m := startOfMonth(from); !m.After(to); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}

	out := make([]MonthlyRevenue, len(months))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxMonthlyQueries)
	for i, monthStart := range months {
		g.Go(func() error {
			monthEnd := monthStart.AddDate(0, 1, 0).Add(-time.Millisecond)
			subs, err := s.src.ListSubscriptionsOverlapping(gctx, monthStart, monthEnd)
			if err != nil {
				return fmt.Errorf("load subscriptions for %s: %w", monthStart.Format(monthLabelLayout), err)
			}
			var revenue int64
			for _, sub := range subs {
				revenue += recurringAmount(sub)
			}
			out[i] = MonthlyRevenue{Month: monthStart.Format(monthLabelLayout), Revenue: revenue}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) subscriptionsByProduct(ctx context.Context) ([]ProductSubscriptions, error) {
	products, err := s.src.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	active, err := s.src.ListActiveSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active subscriptions: %w", err)
	}

	byProduct := make(map[string]*ProductSubscriptions, len(products))
	out := make([]ProductSubscriptions, len(products))
	for i, p := range products {
		out[i] = ProductSubscriptions{ProductID: p.ID, ProductName: p.Name}
		byProduct[p.ID] = &out[i]
	}
	for _, sub := range active {
		ps, ok := byProduct[sub.ProductID]
		if !ok {
			continue
		}
		ps.SubscriptionCount++
		ps.Revenue += recurringAmount(sub)
	}
	return out, nil
}

// ChurnRate is the cancelled share of all observed subscriptions as a
// percentage; zero when nothing was observed.
func ChurnRate(active, cancelled int) float64 {
	total := active + cancelled
	if total <= 0 {
		return 0
	}
	return float64(cancelled) / float64(total) * 100
}

// CustomerLifetimeValue is ARPU divided by the churn fraction; zero when
// churn is zero.
func CustomerLifetimeValue(arpu, churnRate float64) float64 {
	if churnRate <= 0 {
		return 0
	}
	return arpu / (churnRate / 100)
}

func recurringAmount(sub *store.SubscriptionDetail) int64 {
	return sub.Price.UnitAmount * sub.EffectiveQuantity()
}

// subscriptionMonths counts elapsed 30.44-day months, rounded up, minimum one.
func subscriptionMonths(from, to time.Time) int64 {
	days := math.Abs(float64(to.Sub(from).Milliseconds())) / float64(24*time.Hour/time.Millisecond)
	months := int64(math.Ceil(days / daysPerMonth))
	if months < 1 {
		return 1
	}
	return months
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// addMonthsClamped shifts t by n months, clamping the day to the target
// month's length (31 Mar minus one month is 28 or 29 Feb).
func addMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).AddDate(0, n, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := min(t.Day(), lastDay)
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
