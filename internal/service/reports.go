package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/analytics"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
)

const (
	dashboardDays       = 7
	dashboardLineDays   = 30
	dashboardRecent     = 6
	reportDefaultDays   = 14
	reportMaxDays       = 366
	reportRecent        = 10
	reportTopCustomers  = 5
	partialReportNotice = "some sections could not be loaded"
)

// Section names reported in Errors and in the failure counter.
const (
	SectionSales        = "sales"
	SectionLowStock     = "low_stock"
	SectionRecent       = "recent"
	SectionTopProducts  = "top_products"
	SectionTopCustomers = "top_customers"
)

type sectionRecorder struct {
	svc    *Service
	report string
	errs   []domain.SectionError
}

func (r *sectionRecorder) fail(ctx context.Context, section string, err error) {
	r.svc.logger.ErrorContext(ctx, "report section failed",
		slog.String("report", r.report), slog.String("section", section), slog.Any("err", err))
	r.svc.metrics.ObserveSectionFailure(r.report, section)
	r.errs = append(r.errs, domain.SectionError{Section: section, Message: "failed to load " + section})
}

func (r *sectionRecorder) result() (*string, []domain.SectionError) {
	if len(r.errs) == 0 {
		return nil, []domain.SectionError{}
	}
	msg := partialReportNotice
	return &msg, r.errs
}

// BuildDashboard reads the dashboard sections concurrently. A failing section
// is replaced by its zero value and reported in Errors; the others still
// render.
func (s *Service) BuildDashboard(ctx context.Context, now time.Time) domain.DashboardReport {
	now = now.In(s.loc)
	week := analytics.TrailingDays(now, dashboardDays)
	month := analytics.TrailingDays(now, dashboardLineDays)

	var (
		g                                  errgroup.Group
		weekSales, recent                  []domain.SaleRecord
		lines                              []domain.SaleLine
		lowStock                           int
		salesErr, lowErr, recentErr, lnErr error
	)
	g.Go(func() error {
		weekSales, salesErr = s.repo.ListSales(ctx, domain.SalesQuery{From: &week.Start, To: &week.End})
		return nil
	})
	g.Go(func() error {
		lowStock, lowErr = s.repo.CountLowStock(ctx)
		return nil
	})
	g.Go(func() error {
		recent, recentErr = s.repo.ListSales(ctx, domain.SalesQuery{Desc: true, Limit: dashboardRecent})
		return nil
	})
	g.Go(func() error {
		lines, lnErr = s.repo.ListSaleLines(ctx, month.Start, month.End)
		return nil
	})
	_ = g.Wait()

	sections := sectionRecorder{svc: s, report: "dashboard"}
	report := domain.DashboardReport{
		Daily:       []domain.DailyBucket{},
		Recent:      []domain.SaleRecord{},
		TopProducts: []domain.TopProductEntry{},
	}

	if salesErr != nil {
		sections.fail(ctx, SectionSales, salesErr)
	} else {
		report.Daily = analytics.Aggregate(weekSales, week).Daily
		today := analytics.Aggregate(weekSales, week.LastDay()).KPI
		report.KPIs.TodayRevenue = today.Total
		report.KPIs.TodayCount = today.Count
	}

	if lowErr != nil {
		sections.fail(ctx, SectionLowStock, lowErr)
	} else {
		report.KPIs.LowStockCount = lowStock
	}

	if recentErr != nil {
		sections.fail(ctx, SectionRecent, recentErr)
	} else if recent != nil {
		report.Recent = recent
	}

	if lnErr != nil {
		sections.fail(ctx, SectionTopProducts, lnErr)
	} else {
		report.TopProducts = analytics.RankTopProducts(lines, analytics.DefaultTopProducts)
	}

	report.Error, report.Errors = sections.result()
	return report
}

// BuildReport covers [fromRaw, toRaw] as whole local days. Missing or
// unparsable bounds fall back to the trailing 14 days ending today, and a
// range longer than 366 days keeps only its most recent 366.
func (s *Service) BuildReport(ctx context.Context, fromRaw string, toRaw string, now time.Time) domain.FullReport {
	now = now.In(s.loc)
	from, ok := analytics.ParseDay(fromRaw, s.loc)
	if !ok {
		from = now.AddDate(0, 0, -(reportDefaultDays - 1))
	}
	to, ok := analytics.ParseDay(toRaw, s.loc)
	if !ok {
		to = now
	}
	window := analytics.DayWindow(from, to)
	if clamped := window.ClampDays(reportMaxDays); !clamped.Start.Equal(window.Start) {
		s.logger.WarnContext(ctx, "report range clamped",
			slog.String("from", window.FromDay()),
			slog.String("clamped_from", clamped.FromDay()),
			slog.String("to", window.ToDay()),
		)
		window = clamped
	}

	var (
		g                        errgroup.Group
		sales                    []domain.SaleRecord
		customers                []domain.CustomerStat
		lowStock                 int
		salesErr, lowErr, topErr error
	)
	g.Go(func() error {
		sales, salesErr = s.repo.ListSales(ctx, domain.SalesQuery{From: &window.Start, To: &window.End, Desc: true})
		return nil
	})
	g.Go(func() error {
		lowStock, lowErr = s.repo.CountLowStock(ctx)
		return nil
	})
	g.Go(func() error {
		customers, topErr = s.repo.ListCustomerStats(ctx, domain.CustomerStatsQuery{
			OrderBy: domain.CustomerOrderTotalSpent,
			Limit:   reportTopCustomers,
		})
		return nil
	})
	_ = g.Wait()

	sections := sectionRecorder{svc: s, report: "report"}
	report := domain.FullReport{
		From:         window.FromDay(),
		To:           window.ToDay(),
		Daily:        []domain.DailyBucket{},
		Recent:       []domain.SaleRecord{},
		TopCustomers: []domain.CustomerStat{},
	}

	if salesErr != nil {
		sections.fail(ctx, SectionSales, salesErr)
	} else {
		summary := analytics.Aggregate(sales, window)
		report.KPI = summary.KPI
		report.Daily = summary.Daily
		report.Registered = summary.Split.Registered
		report.Unregistered = summary.Split.Unregistered
		if len(sales) > reportRecent {
			sales = sales[:reportRecent]
		}
		if sales != nil {
			report.Recent = sales
		}
	}

	if lowErr != nil {
		sections.fail(ctx, SectionLowStock, lowErr)
	} else {
		report.LowStockCount = lowStock
	}

	if topErr != nil {
		sections.fail(ctx, SectionTopCustomers, topErr)
	} else if customers != nil {
		report.TopCustomers = customers
	}

	report.Error, report.Errors = sections.result()
	return report
}
