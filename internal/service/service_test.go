package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/cache"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/checkout"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/logging"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/observability"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/store"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/store/memory"
)

var errBoom = errors.New("connection reset")

// flakyRepo fails the reads named in its fields and delegates the rest.
type flakyRepo struct {
	*memory.Store
	failFind      bool
	failSales     bool
	failLowStock  bool
	failLines     bool
	failCustomers bool
	failItems     bool
}

func (r *flakyRepo) FindProduct(ctx context.Context, column string, value string) (*domain.CatalogItem, error) {
	if r.failFind {
		return nil, errBoom
	}
	return r.Store.FindProduct(ctx, column, value)
}

func (r *flakyRepo) ListSales(ctx context.Context, q domain.SalesQuery) ([]domain.SaleRecord, error) {
	if r.failSales {
		return nil, errBoom
	}
	return r.Store.ListSales(ctx, q)
}

func (r *flakyRepo) CountLowStock(ctx context.Context) (int, error) {
	if r.failLowStock {
		return 0, errBoom
	}
	return r.Store.CountLowStock(ctx)
}

func (r *flakyRepo) ListSaleLines(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error) {
	if r.failLines {
		return nil, errBoom
	}
	return r.Store.ListSaleLines(ctx, from, to)
}

func (r *flakyRepo) ListCustomerStats(ctx context.Context, q domain.CustomerStatsQuery) ([]domain.CustomerStat, error) {
	if r.failCustomers {
		return nil, errBoom
	}
	return r.Store.ListCustomerStats(ctx, q)
}

func (r *flakyRepo) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if r.failCustomers {
		return nil, errBoom
	}
	return r.Store.GetCustomer(ctx, id)
}

func (r *flakyRepo) ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	if r.failItems {
		return nil, errBoom
	}
	return r.Store.ListSaleItems(ctx, saleID)
}

var storeZone = time.FixedZone("CST", -6*60*60)

func newTestService(t *testing.T, repo store.Repository, idem cache.IdempotencyStore) *Service {
	t.Helper()
	return New(repo, idem, Options{
		Logger:        logging.Discard(),
		Metrics:       observability.NewMetrics(),
		Location:      storeZone,
		PublicBaseURL: "https://pos.example.com/",
	})
}

func sellAt(t *testing.T, repo *memory.Store, at time.Time, customer string, productID string, qty int) string {
	t.Helper()
	repo.SetClock(func() time.Time { return at })
	checkoutReq := domain.ValidatedCheckout{
		Items:       []domain.CartLine{{ProductID: productID, Quantity: qty}},
		Adjustments: domain.CheckoutAdjustments{PaidCash: decimal.NewFromInt(10000)},
	}
	if customer != "" {
		checkoutReq.CustomerID = &customer
	}
	id, err := repo.CommitSale(context.Background(), checkoutReq)
	require.NoError(t, err)
	return id
}

func TestScanResolvesEachKind(t *testing.T) {
	svc := newTestService(t, memory.NewSeeded(), nil)
	ctx := context.Background()

	tests := []struct {
		raw  string
		mode string
		want string
		qty  int
	}{
		{raw: "7501055300075", want: "p-leche", qty: 1},
		{raw: `{"barcode":"7501055300075","qty":2}`, mode: "add", want: "p-leche", qty: 2},
		{raw: "pos://product/p-leche?qty=3", want: "p-leche", qty: 3},
		{raw: `{"sku":"LAC-001"}`, want: "p-leche", qty: 1},
	}
	for _, tt := range tests {
		got, err := svc.Scan(ctx, tt.raw, tt.mode)
		require.NoError(t, err, tt.raw)
		assert.True(t, got.OK)
		assert.Equal(t, tt.want, got.Product.ID, tt.raw)
		assert.Equal(t, tt.qty, got.Quantity, tt.raw)
	}
}

func TestScanModeAndErrors(t *testing.T) {
	repo := &flakyRepo{Store: memory.NewSeeded()}
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	got, err := svc.Scan(ctx, "7501055300075", "")
	require.NoError(t, err)
	assert.Equal(t, domain.ScanModePrice, got.Mode)

	_, err = svc.Scan(ctx, "7501055300075", "weigh")
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = svc.Scan(ctx, "   ", "add")
	assert.ErrorIs(t, err, ErrEmptyCode)

	_, err = svc.Scan(ctx, "0000000", "add")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, errors.Is(err, ErrLookupFailed))

	repo.failFind = true
	_, err = svc.Scan(ctx, "7501055300075", "add")
	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, errors.Is(err, store.ErrNotFound))
}

func TestCheckoutCommitsValidatedCart(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	id, err := svc.Checkout(ctx, checkout.Form{
		Items:    `[{"product_id":"p-pan","quantity":2}]`,
		PaidCash: "100",
	}, "")
	require.NoError(t, err)

	sale, err := repo.GetSale(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "90", sale.Total.String())
	assert.Equal(t, "10", sale.Change.String())
}

func TestCheckoutValidationAndCommitErrors(t *testing.T) {
	svc := newTestService(t, memory.NewSeeded(), nil)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, checkout.Form{Items: "[]"}, "")
	assert.ErrorIs(t, err, checkout.ErrMalformedInput)

	_, err = svc.Checkout(ctx, checkout.Form{Items: `[{"product_id":"p-pan","quantity":1}]`, Discount: "-1"}, "")
	assert.ErrorIs(t, err, checkout.ErrInvalidValue)

	_, err = svc.Checkout(ctx, checkout.Form{Items: `[{"product_id":"p-pan","quantity":1}]`, PaidCash: "1"}, "")
	assert.ErrorIs(t, err, ErrCommitFailed)
	assert.ErrorIs(t, err, store.ErrCommitRejected)
	assert.Contains(t, err.Error(), "insufficient payment")
}

func TestCheckoutIdempotencyKeyReturnsSameSale(t *testing.T) {
	mr := miniredis.RunT(t)
	idem := cache.NewRedisIdempotencyStore(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = idem.Close() })

	repo := memory.NewSeeded()
	svc := newTestService(t, repo, idem)
	ctx := context.Background()
	form := checkout.Form{Items: `[{"product_id":"p-refresco","quantity":1}]`, PaidCash: "20"}

	first, err := svc.Checkout(ctx, form, "form-123")
	require.NoError(t, err)
	second, err := svc.Checkout(ctx, form, "form-123")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	sales, err := repo.ListSales(ctx, domain.SalesQuery{})
	require.NoError(t, err)
	assert.Len(t, sales, 1)

	// A rejected commit frees the key for a corrected resubmission.
	_, err = svc.Checkout(ctx, checkout.Form{Items: form.Items, PaidCash: "1"}, "form-456")
	require.ErrorIs(t, err, ErrCommitFailed)
	third, err := svc.Checkout(ctx, form, "form-456")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestCheckoutFallsBackWhenIdempotencyStoreIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	idem := cache.NewRedisIdempotencyStore(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = idem.Close() })
	mr.Close()

	svc := newTestService(t, memory.NewSeeded(), idem)
	id, err := svc.Checkout(context.Background(), checkout.Form{
		Items:    `[{"product_id":"p-refresco","quantity":1}]`,
		PaidCard: "19",
	}, "form-789")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestBuildDashboard(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, nil)
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, storeZone)

	sellAt(t, repo, now.Add(-2*time.Hour), "c-ana", "p-pan", 2)
	sellAt(t, repo, now.AddDate(0, 0, -3), "", "p-refresco", 1)
	sellAt(t, repo, now.AddDate(0, 0, -20), "", "p-refresco", 5)
	sellAt(t, repo, now.AddDate(0, 0, -40), "", "p-cafe", 1)

	report := svc.BuildDashboard(context.Background(), now)

	assert.Nil(t, report.Error)
	assert.Empty(t, report.Errors)
	assert.Equal(t, "90", report.KPIs.TodayRevenue.String())
	assert.Equal(t, 1, report.KPIs.TodayCount)
	assert.Equal(t, 2, report.KPIs.LowStockCount)
	require.Len(t, report.Daily, 7)
	assert.Equal(t, "2024-05-04", report.Daily[0].Day)
	assert.Equal(t, "2024-05-10", report.Daily[6].Day)
	assert.Equal(t, "19", report.Daily[3].Total.String())
	assert.Len(t, report.Recent, 4)
	require.Len(t, report.TopProducts, 2)
	assert.Equal(t, "p-refresco", report.TopProducts[0].ProductID)
	assert.Equal(t, 6, report.TopProducts[0].Quantity)
}

func TestBuildDashboardDegradesPerSection(t *testing.T) {
	repo := &flakyRepo{Store: memory.NewSeeded(), failLowStock: true, failLines: true}
	svc := newTestService(t, repo, nil)
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, storeZone)
	sellAt(t, repo.Store, now, "", "p-pan", 1)

	report := svc.BuildDashboard(context.Background(), now)

	require.NotNil(t, report.Error)
	require.Len(t, report.Errors, 2)
	sections := []string{report.Errors[0].Section, report.Errors[1].Section}
	assert.ElementsMatch(t, []string{SectionLowStock, SectionTopProducts}, sections)
	assert.Equal(t, 0, report.KPIs.LowStockCount)
	assert.NotNil(t, report.TopProducts)
	assert.Empty(t, report.TopProducts)
	assert.Equal(t, "45", report.KPIs.TodayRevenue.String())
	assert.Len(t, report.Daily, 7)
}

func TestBuildDashboardSalesFailure(t *testing.T) {
	repo := &flakyRepo{Store: memory.NewSeeded(), failSales: true}
	svc := newTestService(t, repo, nil)
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, storeZone)
	sellAt(t, repo.Store, now, "", "p-refresco", 2)

	report := svc.BuildDashboard(context.Background(), now)

	require.NotNil(t, report.Error)
	require.Len(t, report.Errors, 2)
	sections := []string{report.Errors[0].Section, report.Errors[1].Section}
	assert.ElementsMatch(t, []string{SectionSales, SectionRecent}, sections)
	assert.NotNil(t, report.Daily)
	assert.Empty(t, report.Daily)
	assert.NotNil(t, report.Recent)
	assert.Empty(t, report.Recent)
	assert.True(t, report.KPIs.TodayRevenue.IsZero())
	assert.Equal(t, 0, report.KPIs.TodayCount)
	assert.Equal(t, 2, report.KPIs.LowStockCount)
	require.Len(t, report.TopProducts, 1)
	assert.Equal(t, "p-refresco", report.TopProducts[0].ProductID)
}

func TestBuildReportDefaultsAndParsesRange(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, nil)
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, storeZone)

	sellAt(t, repo, now.AddDate(0, 0, -1), "c-ana", "p-pan", 1)
	sellAt(t, repo, now.AddDate(0, 0, -2), "", "p-refresco", 2)
	sellAt(t, repo, now.AddDate(0, 0, -30), "", "p-cafe", 1)

	defaulted := svc.BuildReport(context.Background(), "", "not-a-date", now)
	assert.Equal(t, "2024-04-27", defaulted.From)
	assert.Equal(t, "2024-05-10", defaulted.To)
	assert.Len(t, defaulted.Daily, 14)
	assert.Equal(t, 2, defaulted.KPI.Count)
	assert.Equal(t, "83", defaulted.KPI.Total.String())
	assert.Equal(t, 1, defaulted.Registered.Count)
	assert.Equal(t, "38", defaulted.Unregistered.Total.String())
	require.NotNil(t, defaulted.Unregistered.LastPurchaseAt)
	assert.Equal(t, 2, defaulted.LowStockCount)
	require.NotEmpty(t, defaulted.TopCustomers)
	assert.Equal(t, "c-ana", defaulted.TopCustomers[0].ID)
	require.Len(t, defaulted.Recent, 2)
	assert.True(t, defaulted.Recent[0].CreatedAt.After(defaulted.Recent[1].CreatedAt))

	ranged := svc.BuildReport(context.Background(), "2024-05-08", "2024-05-08", now)
	assert.Equal(t, "2024-05-08", ranged.From)
	assert.Len(t, ranged.Daily, 1)
	assert.Equal(t, 1, ranged.KPI.Count)
}

func TestBuildReportClampsLongRanges(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newTestService(t, repo, nil)
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, storeZone)
	sellAt(t, repo, now.AddDate(0, 0, -1), "", "p-pan", 1)
	sellAt(t, repo, now.AddDate(-2, 0, 0), "", "p-cafe", 1)

	report := svc.BuildReport(context.Background(), "1900-01-01", "2024-05-10", now)

	assert.Nil(t, report.Error)
	assert.Equal(t, "2023-05-11", report.From)
	assert.Equal(t, "2024-05-10", report.To)
	assert.Len(t, report.Daily, 366)
	assert.Equal(t, 1, report.KPI.Count)

	reversed := svc.BuildReport(context.Background(), "2024-05-10", "0001-01-01", now)
	assert.Equal(t, "2023-05-11", reversed.From)
	assert.Len(t, reversed.Daily, 366)
}

func TestBuildReportSalesSurviveSideFailures(t *testing.T) {
	repo := &flakyRepo{Store: memory.NewSeeded(), failCustomers: true, failLowStock: true}
	svc := newTestService(t, repo, nil)
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, storeZone)
	sellAt(t, repo.Store, now, "", "p-pan", 1)

	report := svc.BuildReport(context.Background(), "", "", now)
	require.NotNil(t, report.Error)
	assert.Len(t, report.Errors, 2)
	assert.Equal(t, 1, report.KPI.Count)
	assert.NotNil(t, report.TopCustomers)

	repo.failCustomers, repo.failLowStock, repo.failSales = false, false, true
	report = svc.BuildReport(context.Background(), "", "", now)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, SectionSales, report.Errors[0].Section)
	assert.Equal(t, 2, report.LowStockCount)
	assert.NotNil(t, report.Daily)
	assert.NotNil(t, report.Recent)
}

func TestSearchCustomers(t *testing.T) {
	repo := &flakyRepo{Store: memory.NewSeeded()}
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	found := svc.SearchCustomers(ctx, "  ana ")
	assert.Nil(t, found.Error)
	assert.Equal(t, "ana", found.Query)
	require.Len(t, found.Customers, 1)
	assert.Equal(t, "c-ana", found.Customers[0].ID)

	all := svc.SearchCustomers(ctx, "")
	assert.Len(t, all.Customers, 2)

	repo.failCustomers = true
	failed := svc.SearchCustomers(ctx, "ana")
	require.NotNil(t, failed.Error)
	assert.NotNil(t, failed.Customers)
	assert.Empty(t, failed.Customers)
}

func TestTicket(t *testing.T) {
	repo := &flakyRepo{Store: memory.NewSeeded()}
	svc := newTestService(t, repo, nil)
	ctx := context.Background()
	id := sellAt(t, repo.Store, time.Now(), "c-luis", "p-leche", 2)

	ticket, err := svc.Ticket(ctx, id)
	require.NoError(t, err)
	require.Len(t, ticket.Items, 1)
	assert.Equal(t, "LAC-001", ticket.Items[0].SKU)
	require.NotNil(t, ticket.Customer)
	assert.Equal(t, "Luis Pérez", ticket.Customer.FullName)
	assert.Equal(t, "https://pos.example.com/ticket/"+id, ticket.TicketURL)

	repo.failCustomers = true
	ticket, err = svc.Ticket(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, ticket.Customer)

	repo.failItems = true
	_, err = svc.Ticket(ctx, id)
	assert.ErrorIs(t, err, errBoom)

	_, err = svc.Ticket(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProductAdminRequiresAdmin(t *testing.T) {
	svc := newTestService(t, memory.NewSeeded(), nil)
	price := decimal.RequireFromString("15.50")
	req := domain.ProductUpsert{Barcode: "7500000000001", Name: "Tortillas", Price: &price}

	_, err := svc.UpsertProduct(context.Background(), req)
	assert.ErrorIs(t, err, ErrAdminRequired)

	admin := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
	saved, err := svc.UpsertProduct(admin, req)
	require.NoError(t, err)
	assert.Equal(t, "Tortillas", saved.Name)

	got, err := svc.GetProductByBarcode(context.Background(), "7500000000001")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)

	_, err = svc.UpsertProduct(admin, domain.ProductUpsert{Barcode: "1", Name: "  "})
	assert.ErrorIs(t, err, store.ErrInvalidProduct)

	negative := decimal.NewFromInt(-1)
	_, err = svc.UpsertProduct(admin, domain.ProductUpsert{Barcode: "1", Name: "x", Price: &negative})
	assert.ErrorIs(t, err, store.ErrInvalidProduct)

	require.NoError(t, svc.DeleteProduct(admin, "7500000000001"))
	assert.ErrorIs(t, svc.DeleteProduct(admin, "7500000000001"), store.ErrNotFound)
}
