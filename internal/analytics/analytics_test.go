package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
)

var mexicoCity = time.FixedZone("CST", -6*3600)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strPtr(s string) *string {
	return &s
}

func TestTrailingDaysWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, mexicoCity)
	w := TrailingDays(now, 7)

	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, mexicoCity), w.Start)
	assert.Equal(t, time.Date(2024, 3, 10, 23, 59, 59, 999999999, mexicoCity), w.End)
	assert.Equal(t, []string{
		"2024-03-04", "2024-03-05", "2024-03-06", "2024-03-07",
		"2024-03-08", "2024-03-09", "2024-03-10",
	}, w.Days())
	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.End.Add(time.Nanosecond)))
	assert.False(t, w.Contains(w.Start.Add(-time.Nanosecond)))

	today := w.LastDay()
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, mexicoCity), today.Start)
	assert.Equal(t, []string{"2024-03-10"}, today.Days())
}

func TestDayWindowSwapsReversedBounds(t *testing.T) {
	a := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 29, 8, 0, 0, 0, time.UTC)

	w := DayWindow(a, b)

	assert.Equal(t, "2024-01-29", w.FromDay())
	assert.Equal(t, "2024-01-31", w.ToDay())
	assert.Len(t, w.Days(), 3)
}

func TestClampDaysKeepsMostRecentDays(t *testing.T) {
	w := DayWindow(time.Date(1900, 1, 1, 0, 0, 0, 0, mexicoCity), time.Date(2024, 3, 10, 9, 0, 0, 0, mexicoCity))

	clamped := w.ClampDays(366)
	assert.Equal(t, "2023-03-11", clamped.FromDay())
	assert.Equal(t, "2024-03-10", clamped.ToDay())
	assert.Len(t, clamped.Days(), 366)

	short := TrailingDays(time.Date(2024, 3, 10, 9, 0, 0, 0, mexicoCity), 7)
	assert.Equal(t, short, short.ClampDays(366))
}

func TestParseDay(t *testing.T) {
	got, ok := ParseDay("2024-02-29", mexicoCity)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, mexicoCity), got)

	got, ok = ParseDay("2024-02-29T03:00:00Z", mexicoCity)
	require.True(t, ok)
	assert.Equal(t, "2024-02-28", got.Format(isoDay))

	_, ok = ParseDay("yesterday", mexicoCity)
	assert.False(t, ok)
	_, ok = ParseDay("", mexicoCity)
	assert.False(t, ok)
}

func TestAggregateEmptyWindowIsSeeded(t *testing.T) {
	w := TrailingDays(time.Date(2024, 3, 10, 9, 0, 0, 0, mexicoCity), 7)

	summary := Aggregate(nil, w)

	require.Len(t, summary.Daily, 7)
	for _, b := range summary.Daily {
		assert.True(t, b.Total.IsZero(), b.Day)
		assert.Zero(t, b.Count, b.Day)
	}
	assert.True(t, summary.KPI.Total.IsZero())
	assert.Zero(t, summary.KPI.Count)
	assert.Nil(t, summary.Split.Unregistered.LastPurchaseAt)
}

func TestAggregateRegisteredSplit(t *testing.T) {
	day1 := time.Date(2024, 5, 2, 10, 0, 0, 0, mexicoCity)
	w := DayWindow(day1, day1)

	summary := Aggregate([]domain.SaleRecord{
		{ID: "1", Total: dec("10"), CreatedAt: day1},
		{ID: "2", Total: dec("20"), CreatedAt: day1.Add(time.Hour), CustomerID: strPtr("c1")},
	}, w)

	assert.True(t, dec("30").Equal(summary.KPI.Total))
	assert.Equal(t, 2, summary.KPI.Count)
	assert.Equal(t, 1, summary.Split.Registered.Count)
	assert.True(t, dec("20").Equal(summary.Split.Registered.Total))
	assert.Equal(t, 1, summary.Split.Unregistered.Count)
	assert.True(t, dec("10").Equal(summary.Split.Unregistered.Total))
	require.NotNil(t, summary.Split.Unregistered.LastPurchaseAt)
	assert.Equal(t, day1, *summary.Split.Unregistered.LastPurchaseAt)
	require.Len(t, summary.Daily, 1)
	assert.Equal(t, "2024-05-02", summary.Daily[0].Day)
	assert.Equal(t, 2, summary.Daily[0].Count)
}

func TestAggregateIgnoresSalesOutsideWindow(t *testing.T) {
	now := time.Date(2024, 5, 7, 18, 0, 0, 0, mexicoCity)
	w := TrailingDays(now, 3)

	summary := Aggregate([]domain.SaleRecord{
		{Total: dec("5"), CreatedAt: w.Start.Add(-time.Nanosecond)},
		{Total: dec("7.25"), CreatedAt: w.Start},
		{Total: dec("1.75"), CreatedAt: w.End},
		{Total: dec("9"), CreatedAt: w.End.Add(time.Millisecond)},
	}, w)

	assert.Equal(t, 2, summary.KPI.Count)
	assert.Equal(t, "9", summary.KPI.Total.String())
	assert.Equal(t, "2024-05-05", summary.Daily[0].Day)
	assert.Equal(t, 1, summary.Daily[0].Count)
	assert.Equal(t, 0, summary.Daily[1].Count)
	assert.Equal(t, 1, summary.Daily[2].Count)
}

func TestAggregateBucketsByLocalDay(t *testing.T) {
	now := time.Date(2024, 5, 7, 12, 0, 0, 0, mexicoCity)
	w := TrailingDays(now, 2)

	// 2024-05-07T02:00Z is still May 6th in UTC-6.
	late := time.Date(2024, 5, 7, 2, 0, 0, 0, time.UTC)
	summary := Aggregate([]domain.SaleRecord{{Total: dec("3"), CreatedAt: late}}, w)

	assert.Equal(t, "2024-05-06", summary.Daily[0].Day)
	assert.Equal(t, 1, summary.Daily[0].Count)
	assert.Equal(t, 0, summary.Daily[1].Count)
}

func TestAggregateRoundsOnlyAtOutput(t *testing.T) {
	day := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	w := DayWindow(day, day)

	sales := make([]domain.SaleRecord, 0, 3)
	for i := 0; i < 3; i++ {
		sales = append(sales, domain.SaleRecord{Total: dec("0.004"), CreatedAt: day})
	}
	summary := Aggregate(sales, w)

	// 0.004 * 3 = 0.012 -> 0.01; rounding each add first would give 0.
	assert.Equal(t, "0.01", summary.KPI.Total.String())
	assert.Equal(t, "0.01", summary.Daily[0].Total.String())
	assert.Equal(t, "0.01", summary.Split.Unregistered.Total.String())
}

func TestAggregateLastPurchaseIsLatestWalkIn(t *testing.T) {
	day := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	w := DayWindow(day, day)

	summary := Aggregate([]domain.SaleRecord{
		{Total: dec("1"), CreatedAt: day.Add(3 * time.Hour)},
		{Total: dec("1"), CreatedAt: day.Add(5 * time.Hour), CustomerID: strPtr("c1")},
		{Total: dec("1"), CreatedAt: day.Add(1 * time.Hour)},
		{Total: dec("1"), CreatedAt: day.Add(2 * time.Hour), CustomerID: strPtr("")},
	}, w)

	assert.Equal(t, 3, summary.Split.Unregistered.Count)
	require.NotNil(t, summary.Split.Unregistered.LastPurchaseAt)
	assert.Equal(t, day.Add(3*time.Hour), *summary.Split.Unregistered.LastPurchaseAt)
}

func TestRankTopProductsStableTies(t *testing.T) {
	got := RankTopProducts([]domain.SaleLine{
		{ProductID: "A", ProductName: "Apple", Quantity: 3},
		{ProductID: "B", ProductName: "Bread", Quantity: 3},
		{ProductID: "A", ProductName: "Renamed", Quantity: 0},
	}, 0)

	require.Len(t, got, 2)
	assert.Equal(t, domain.TopProductEntry{ProductID: "A", Name: "Apple", Quantity: 3}, got[0])
	assert.Equal(t, domain.TopProductEntry{ProductID: "B", Name: "Bread", Quantity: 3}, got[1])
}

func TestRankTopProductsOrdersAndTruncates(t *testing.T) {
	lines := []domain.SaleLine{
		{ProductID: "p1", ProductName: "One", Quantity: 1},
		{ProductID: "p2", ProductName: "Two", Quantity: 2},
		{ProductID: "p3", Quantity: 9},
		{ProductID: "p4", ProductName: "Four", Quantity: 4},
		{ProductID: "p5", ProductName: "Five", Quantity: 5},
		{ProductID: "p6", ProductName: "Six", Quantity: 6},
		{ProductID: "p1", ProductName: "One", Quantity: 6},
	}

	got := RankTopProducts(lines, 0)

	require.Len(t, got, DefaultTopProducts)
	ids := make([]string, 0, len(got))
	for _, entry := range got {
		ids = append(ids, entry.ProductID)
	}
	assert.Equal(t, []string{"p3", "p1", "p6", "p5", "p4"}, ids)
	assert.Equal(t, "Product", got[0].Name)
	assert.Equal(t, 7, got[1].Quantity)

	assert.Len(t, RankTopProducts(lines, 2), 2)
	assert.Empty(t, RankTopProducts(nil, 5))
}
