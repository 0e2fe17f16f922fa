// Package analytics folds sale records into report figures. Everything here
// works on data already fetched from the store and is safe for concurrent use.
package analytics

import (
	"github.com/shopspring/decimal"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
)

const moneyPlaces = 2

type bucket struct {
	total decimal.Decimal
	count int
}

// Aggregate computes the KPI, the gap-free daily series and the
// registered/unregistered split for the sales inside w. Sums are kept exact
// and rounded once when the summary is built.
func Aggregate(sales []domain.SaleRecord, w Window) domain.SalesSummary {
	loc := w.Start.Location()
	days := w.Days()
	buckets := make(map[string]*bucket, len(days))
	for _, day := range days {
		buckets[day] = &bucket{}
	}

	var (
		kpiTotal   = decimal.Zero
		kpiCount   int
		registered = bucket{total: decimal.Zero}
		walkIn     = bucket{total: decimal.Zero}
		lastWalkIn *domain.SaleRecord
	)

	for i := range sales {
		sale := &sales[i]
		if !w.Contains(sale.CreatedAt) {
			continue
		}

		kpiTotal = kpiTotal.Add(sale.Total)
		kpiCount++

		if b, ok := buckets[DayKey(sale.CreatedAt, loc)]; ok {
			b.total = b.total.Add(sale.Total)
			b.count++
		}

		if sale.CustomerID != nil && *sale.CustomerID != "" {
			registered.total = registered.total.Add(sale.Total)
			registered.count++
			continue
		}
		walkIn.total = walkIn.total.Add(sale.Total)
		walkIn.count++
		if lastWalkIn == nil || sale.CreatedAt.After(lastWalkIn.CreatedAt) {
			lastWalkIn = sale
		}
	}

	daily := make([]domain.DailyBucket, 0, len(days))
	for _, day := range days {
		b := buckets[day]
		daily = append(daily, domain.DailyBucket{
			Day:   day,
			Total: b.total.Round(moneyPlaces),
			Count: b.count,
		})
	}

	summary := domain.SalesSummary{
		KPI:   domain.KPI{Total: kpiTotal.Round(moneyPlaces), Count: kpiCount},
		Daily: daily,
		Split: domain.CustomerSplit{
			Registered: domain.RegisteredSplit{
				Count: registered.count,
				Total: registered.total.Round(moneyPlaces),
			},
			Unregistered: domain.UnregisteredSplit{
				Count: walkIn.count,
				Total: walkIn.total.Round(moneyPlaces),
			},
		},
	}
	if lastWalkIn != nil {
		at := lastWalkIn.CreatedAt
		summary.Split.Unregistered.LastPurchaseAt = &at
	}
	return summary
}
