package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/cache"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/checkout"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/observability"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/scan"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/store"
)

var (
	ErrEmptyCode     = errors.New("scan code is required")
	ErrInvalidMode   = errors.New("scan mode must be price or add")
	ErrLookupFailed  = errors.New("catalog lookup failed")
	ErrCommitFailed  = errors.New("sale could not be committed")
	ErrAdminRequired = errors.New("admin role required")
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	customerSearchLimit   = 50
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	Location       *time.Location
	PublicBaseURL  string
	IdempotencyTTL time.Duration
}

type Service struct {
	repo     store.Repository
	idem     cache.IdempotencyStore
	idemTTL  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	loc      *time.Location
	baseURL  string
	validate *validator.Validate
}

func New(repo store.Repository, idem cache.IdempotencyStore, opts Options) *Service {
	if idem == nil {
		idem = cache.NoopIdempotencyStore{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaultIdempotencyTTL
	}

	return &Service{
		repo:     repo,
		idem:     idem,
		idemTTL:  opts.IdempotencyTTL,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		loc:      opts.Location,
		baseURL:  strings.TrimRight(opts.PublicBaseURL, "/"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// FindCatalogItem fetches the single product the intent points at.
func (s *Service) FindCatalogItem(ctx context.Context, intent domain.ScanIntent) (domain.CatalogItem, error) {
	column := store.ColumnBarcode
	switch intent.Kind {
	case domain.ScanByID:
		column = store.ColumnID
	case domain.ScanBySKU:
		column = store.ColumnSKU
	}

	item, err := s.repo.FindProduct(ctx, column, intent.Value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CatalogItem{}, err
		}
		return domain.CatalogItem{}, fmt.Errorf("%w: %s=%q: %w", ErrLookupFailed, column, intent.Value, err)
	}
	return *item, nil
}

func (s *Service) Scan(ctx context.Context, raw string, mode string) (domain.ScanResult, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = domain.ScanModePrice
	}
	if mode != domain.ScanModePrice && mode != domain.ScanModeAdd {
		return domain.ScanResult{}, ErrInvalidMode
	}
	if strings.TrimSpace(raw) == "" {
		return domain.ScanResult{}, ErrEmptyCode
	}

	intent := scan.Resolve(raw)
	product, err := s.FindCatalogItem(ctx, intent)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.metrics.ObserveScan(string(intent.Kind), "not_found")
		return domain.ScanResult{}, err
	case err != nil:
		s.metrics.ObserveScan(string(intent.Kind), "error")
		return domain.ScanResult{}, err
	}
	s.metrics.ObserveScan(string(intent.Kind), "found")

	return domain.ScanResult{
		OK:       true,
		Mode:     mode,
		Intent:   intent,
		Product:  product,
		Quantity: intent.EffectiveQuantity(),
	}, nil
}

// Checkout validates the submitted form and hands it to the sale commit
// procedure. A non-empty idempotencyKey that already produced a sale returns
// that sale id instead of committing again.
func (s *Service) Checkout(ctx context.Context, form checkout.Form, idempotencyKey string) (string, error) {
	validated, err := checkout.Validate(form)
	if err != nil {
		s.metrics.ObserveCheckout("invalid")
		return "", err
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	reserved := false
	if idempotencyKey != "" {
		saleID, ok, err := s.idem.Reserve(ctx, idempotencyKey, s.idemTTL)
		switch {
		case errors.Is(err, cache.ErrInFlight):
			s.metrics.ObserveCheckout("in_flight")
			return "", err
		case err != nil:
			s.logger.WarnContext(ctx, "idempotency store unavailable, committing without it",
				slog.String("key", idempotencyKey), slog.Any("err", err))
		case !ok && saleID != "":
			s.metrics.ObserveCheckout("duplicate")
			return saleID, nil
		default:
			reserved = ok
		}
	}

	saleID, err := s.repo.CommitSale(ctx, validated)
	if err != nil {
		if reserved {
			if relErr := s.idem.Release(ctx, idempotencyKey); relErr != nil {
				s.logger.WarnContext(ctx, "failed to release idempotency key",
					slog.String("key", idempotencyKey), slog.Any("err", relErr))
			}
		}
		s.metrics.ObserveCheckout("rejected")
		return "", fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	if reserved {
		if err := s.idem.Complete(ctx, idempotencyKey, saleID, s.idemTTL); err != nil {
			s.logger.WarnContext(ctx, "failed to bind idempotency key",
				slog.String("key", idempotencyKey), slog.String("sale_id", saleID), slog.Any("err", err))
		}
	}

	s.metrics.ObserveCheckout("committed")
	s.logger.InfoContext(ctx, "sale committed",
		slog.String("sale_id", saleID), slog.Int("lines", len(validated.Items)))
	return saleID, nil
}

// Ticket assembles the receipt for a committed sale. A customer that cannot
// be read is left out rather than failing the receipt.
func (s *Service) Ticket(ctx context.Context, saleID string) (domain.Ticket, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Ticket{}, store.ErrNotFound
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Ticket{}, err
	}

	items, err := s.repo.ListSaleItems(ctx, saleID)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("load sale items: %w", err)
	}
	if items == nil {
		items = []domain.SaleItem{}
	}

	ticket := domain.Ticket{
		Sale:      *sale,
		Items:     items,
		TicketURL: s.TicketURL(saleID),
	}
	if sale.CustomerID != nil && *sale.CustomerID != "" {
		customer, err := s.repo.GetCustomer(ctx, *sale.CustomerID)
		if err != nil {
			s.logger.WarnContext(ctx, "ticket customer unavailable",
				slog.String("sale_id", saleID), slog.Any("err", err))
		} else {
			ticket.Customer = customer
		}
	}
	return ticket, nil
}

func (s *Service) TicketURL(saleID string) string {
	return s.baseURL + "/ticket/" + url.PathEscape(saleID)
}

// SearchCustomers never fails: a store error is reported inside the result
// so the page still renders.
func (s *Service) SearchCustomers(ctx context.Context, q string) domain.CustomerSearchResult {
	q = strings.TrimSpace(q)
	query := domain.CustomerStatsQuery{
		OrderBy: domain.CustomerOrderLastPurchase,
		Limit:   customerSearchLimit,
	}
	if q != "" {
		query.Name = q
		query.OrderBy = domain.CustomerOrderTotalSpent
	}

	result := domain.CustomerSearchResult{Query: q, Customers: []domain.CustomerStat{}}
	customers, err := s.repo.ListCustomerStats(ctx, query)
	if err != nil {
		s.logger.ErrorContext(ctx, "customer search failed", slog.String("q", q), slog.Any("err", err))
		msg := "customers could not be loaded"
		result.Error = &msg
		return result
	}
	if customers != nil {
		result.Customers = customers
	}
	return result
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.CatalogItem, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProductByBarcode(ctx context.Context, barcode string) (domain.CatalogItem, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.CatalogItem{}, store.ErrNotFound
	}
	return s.FindCatalogItem(ctx, domain.ScanIntent{Kind: domain.ScanByBarcode, Value: barcode})
}

func (s *Service) UpsertProduct(ctx context.Context, req domain.ProductUpsert) (domain.CatalogItem, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CatalogItem{}, err
	}

	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return domain.CatalogItem{}, fmt.Errorf("%w: %v", store.ErrInvalidProduct, err)
	}
	if req.Price != nil && req.Price.IsNegative() {
		return domain.CatalogItem{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidProduct)
	}

	saved, err := s.repo.UpsertProductByBarcode(ctx, req)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	s.logger.InfoContext(ctx, "product saved", slog.String("barcode", saved.Barcode), slog.String("id", saved.ID))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, barcode string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return store.ErrNotFound
	}
	if err := s.repo.DeleteProductByBarcode(ctx, barcode); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "product deleted", slog.String("barcode", barcode))
	return nil
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrAdminRequired
	}
	return nil
}
