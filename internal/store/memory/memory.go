package memory

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/store"
)

const defaultMinStock = 5

var hundred = decimal.NewFromInt(100)

type product struct {
	item     domain.CatalogItem
	minStock int
}

type sale struct {
	detail domain.SaleDetail
	items  []domain.SaleItem
}

// Store is the in-memory repository used for local development and tests.
// CommitSale mirrors what the create_sale_v2 procedure does in PostgreSQL.
type Store struct {
	mu              sync.RWMutex
	now             func() time.Time
	products        map[string]*product
	productOrder    []string
	customers       map[string]domain.Customer
	sales           []*sale
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		now:             time.Now,
		products:        make(map[string]*product),
		customers:       make(map[string]domain.Customer),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// dev defaults are used with a warning when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store: using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a demo catalog, two customers and the dev
// user accounts.
func NewSeeded() *Store {
	s := New()
	for _, p := range []struct {
		id, sku, barcode, name, price string
		stock                         int
	}{
		{"p-leche", "LAC-001", "7501055300075", "Leche entera 1L", "28.50", 40},
		{"p-pan", "PAN-001", "7501030411111", "Pan de caja", "45.00", 25},
		{"p-huevo", "HUE-012", "7501000222333", "Huevo 12 pzas", "52.90", 18},
		{"p-cafe", "CAF-250", "7501059235017", "Café molido 250g", "89.00", 12},
		{"p-azucar", "AZU-001", "7501000333444", "Azúcar 1kg", "32.00", 30},
		{"p-refresco", "REF-600", "7501055361408", "Refresco 600ml", "19.00", 60},
		{"p-galletas", "GAL-001", "7501000911111", "Galletas surtidas", "24.50", 4},
		{"p-jabon", "JAB-001", "7501035911111", "Jabón de tocador", "16.00", 3},
	} {
		price := decimal.RequireFromString(p.price)
		s.putProduct(&product{
			item: domain.CatalogItem{
				ID:      p.id,
				Name:    p.name,
				Price:   &price,
				SKU:     p.sku,
				Barcode: p.barcode,
				Stock:   p.stock,
				Active:  true,
			},
			minStock: defaultMinStock,
		})
	}
	s.customers["c-ana"] = domain.Customer{ID: "c-ana", FullName: "Ana López"}
	s.customers["c-luis"] = domain.Customer{ID: "c-luis", FullName: "Luis Pérez"}
	s.usersByUsername = seedUsers()
	return s
}

// SetClock replaces the time source used to stamp committed sales.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddCustomer registers a customer that sales can reference.
func (s *Store) AddCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

func (s *Store) putProduct(p *product) {
	p.item.IsLowStock = p.item.Stock <= p.minStock
	if _, exists := s.products[p.item.ID]; !exists {
		s.productOrder = append(s.productOrder, p.item.ID)
	}
	s.products[p.item.ID] = p
}

func (s *Store) FindProduct(_ context.Context, column string, value string) (*domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.productOrder {
		p := s.products[id]
		var field string
		switch column {
		case store.ColumnID:
			field = p.item.ID
		case store.ColumnSKU:
			field = p.item.SKU
		case store.ColumnBarcode:
			field = p.item.Barcode
		default:
			return nil, fmt.Errorf("memory: unknown lookup column %q", column)
		}
		if field == value {
			item := cloneItem(p.item)
			return &item, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListProducts(_ context.Context) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.CatalogItem, 0, len(s.productOrder))
	for _, id := range s.productOrder {
		items = append(items, cloneItem(s.products[id].item))
	}
	slices.SortFunc(items, func(a, b domain.CatalogItem) int {
		return strings.Compare(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) UpsertProductByBarcode(_ context.Context, in domain.ProductUpsert) (*domain.CatalogItem, error) {
	barcode := strings.TrimSpace(in.Barcode)
	name := strings.TrimSpace(in.Name)
	if barcode == "" || name == "" {
		return nil, store.ErrInvalidProduct
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.productOrder {
		p := s.products[id]
		if p.item.Barcode != barcode {
			continue
		}
		p.item.Name = name
		if in.Price != nil {
			price := *in.Price
			p.item.Price = &price
		}
		item := cloneItem(p.item)
		return &item, nil
	}

	p := &product{
		item: domain.CatalogItem{
			ID:      uuid.NewString(),
			Name:    name,
			Barcode: barcode,
			Active:  true,
		},
		minStock: defaultMinStock,
	}
	if in.Price != nil {
		price := *in.Price
		p.item.Price = &price
	}
	s.putProduct(p)
	item := cloneItem(p.item)
	return &item, nil
}

func (s *Store) DeleteProductByBarcode(_ context.Context, barcode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range s.productOrder {
		if s.products[id].item.Barcode != barcode {
			continue
		}
		if s.hasSalesLocked(id) {
			return fmt.Errorf("%w: product has sales", store.ErrInvalidProduct)
		}
		delete(s.products, id)
		s.productOrder = slices.Delete(s.productOrder, i, i+1)
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) hasSalesLocked(productID string) bool {
	for _, sl := range s.sales {
		for _, item := range sl.items {
			if item.ProductID == productID {
				return true
			}
		}
	}
	return false
}

func (s *Store) CountLowStock(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.products {
		if p.item.IsLowStock {
			count++
		}
	}
	return count, nil
}

func (s *Store) CommitSale(_ context.Context, checkout domain.ValidatedCheckout) (string, error) {
	if len(checkout.Items) == 0 {
		return "", fmt.Errorf("%w: empty cart", store.ErrCommitRejected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if checkout.CustomerID != nil {
		if _, ok := s.customers[*checkout.CustomerID]; !ok {
			return "", fmt.Errorf("%w: customer %s does not exist", store.ErrCommitRejected, *checkout.CustomerID)
		}
	}

	// Validate everything before touching stock so a rejected sale leaves no trace.
	needed := make(map[string]int, len(checkout.Items))
	items := make([]domain.SaleItem, 0, len(checkout.Items))
	subtotal := decimal.Zero
	for _, line := range checkout.Items {
		p, ok := s.products[line.ProductID]
		if !ok || !p.item.Active {
			return "", fmt.Errorf("%w: product %s not available", store.ErrCommitRejected, line.ProductID)
		}
		if p.item.Price == nil {
			return "", fmt.Errorf("%w: product %s has no price", store.ErrCommitRejected, p.item.Name)
		}
		needed[line.ProductID] += line.Quantity
		if needed[line.ProductID] > p.item.Stock {
			return "", fmt.Errorf("%w: insufficient stock for %s", store.ErrCommitRejected, p.item.Name)
		}
		lineTotal := p.item.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		items = append(items, domain.SaleItem{
			ProductID: p.item.ID,
			Name:      p.item.Name,
			SKU:       p.item.SKU,
			Barcode:   p.item.Barcode,
			Quantity:  line.Quantity,
			UnitPrice: *p.item.Price,
			Subtotal:  lineTotal,
		})
	}

	adj := checkout.Adjustments
	base := decimal.Max(subtotal.Sub(adj.Discount), decimal.Zero)
	taxAmount := base.Mul(adj.TaxRate).Div(hundred).Round(2)
	totalDue := base.Add(taxAmount).Round(2)
	paid := adj.PaidCash.Add(adj.PaidCard)
	if paid.LessThan(totalDue) {
		return "", fmt.Errorf("%w: insufficient payment (due %s, paid %s)", store.ErrCommitRejected, totalDue.StringFixed(2), paid.StringFixed(2))
	}

	for id, qty := range needed {
		p := s.products[id]
		p.item.Stock -= qty
		p.item.IsLowStock = p.item.Stock <= p.minStock
	}

	detail := domain.SaleDetail{
		SaleRecord: domain.SaleRecord{
			ID:         uuid.NewString(),
			CreatedAt:  s.now(),
			CustomerID: cloneString(checkout.CustomerID),
			Total:      totalDue,
			Paid:       paid,
			Change:     paid.Sub(totalDue),
		},
		Subtotal:      subtotal,
		Discount:      adj.Discount,
		TaxRate:       adj.TaxRate,
		TaxAmount:     taxAmount,
		TotalDue:      totalDue,
		PaidCash:      adj.PaidCash,
		PaidCard:      adj.PaidCard,
		PaymentMethod: paymentMethod(adj.PaidCash, adj.PaidCard),
	}
	s.sales = append(s.sales, &sale{detail: detail, items: items})
	return detail.ID, nil
}

func paymentMethod(cash decimal.Decimal, card decimal.Decimal) string {
	switch {
	case cash.IsPositive() && card.IsPositive():
		return "mixed"
	case card.IsPositive():
		return "card"
	default:
		return "cash"
	}
}

func (s *Store) ListSales(_ context.Context, query domain.SalesQuery) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.SaleRecord, 0, len(s.sales))
	for _, sl := range s.sales {
		if !inRange(sl.detail.CreatedAt, query.From, query.To) {
			continue
		}
		rec := sl.detail.SaleRecord
		rec.CustomerID = cloneString(rec.CustomerID)
		records = append(records, rec)
	}
	slices.SortStableFunc(records, func(a, b domain.SaleRecord) int {
		if query.Desc {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if query.Limit > 0 && len(records) > query.Limit {
		records = records[:query.Limit]
	}
	return records, nil
}

func (s *Store) ListSaleLines(_ context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.SaleLine, 0, len(s.sales)*2)
	for _, sl := range s.sales {
		if !inRange(sl.detail.CreatedAt, &from, &to) {
			continue
		}
		for _, item := range sl.items {
			name := ""
			if p, ok := s.products[item.ProductID]; ok {
				name = p.item.Name
			}
			lines = append(lines, domain.SaleLine{
				ProductID:     item.ProductID,
				ProductName:   name,
				Quantity:      item.Quantity,
				SaleCreatedAt: sl.detail.CreatedAt,
			})
		}
	}
	return lines, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sl := range s.sales {
		if sl.detail.ID == id {
			detail := sl.detail
			detail.CustomerID = cloneString(detail.CustomerID)
			return &detail, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListSaleItems(_ context.Context, saleID string) ([]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sl := range s.sales {
		if sl.detail.ID == saleID {
			return slices.Clone(sl.items), nil
		}
	}
	return []domain.SaleItem{}, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

// ListCustomerStats computes what the v_customer_stats view exposes.
func (s *Store) ListCustomerStats(_ context.Context, query domain.CustomerStatsQuery) ([]domain.CustomerStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[string]*domain.CustomerStat, len(s.customers))
	for id, c := range s.customers {
		byID[id] = &domain.CustomerStat{ID: c.ID, FullName: c.FullName, TotalSpent: decimal.Zero}
	}
	for _, sl := range s.sales {
		if sl.detail.CustomerID == nil {
			continue
		}
		stat, ok := byID[*sl.detail.CustomerID]
		if !ok {
			continue
		}
		stat.SalesCount++
		stat.TotalSpent = stat.TotalSpent.Add(sl.detail.Total)
		if stat.LastPurchaseAt == nil || sl.detail.CreatedAt.After(*stat.LastPurchaseAt) {
			at := sl.detail.CreatedAt
			stat.LastPurchaseAt = &at
		}
	}

	needle := strings.ToLower(strings.TrimSpace(query.Name))
	stats := make([]domain.CustomerStat, 0, len(byID))
	for _, stat := range byID {
		if needle != "" && !strings.Contains(strings.ToLower(stat.FullName), needle) {
			continue
		}
		stats = append(stats, *stat)
	}

	slices.SortFunc(stats, func(a, b domain.CustomerStat) int {
		var c int
		switch query.OrderBy {
		case domain.CustomerOrderLastPurchase:
			c = compareTimeDescNullsLast(a.LastPurchaseAt, b.LastPurchaseAt)
		default:
			c = b.TotalSpent.Cmp(a.TotalSpent)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if query.Limit > 0 && len(stats) > query.Limit {
		stats = stats[:query.Limit]
	}
	return stats, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: %s already exists", store.ErrInvalidUser, username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func inRange(t time.Time, from *time.Time, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func compareTimeDescNullsLast(a *time.Time, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return b.Compare(*a)
	}
}

func cloneItem(item domain.CatalogItem) domain.CatalogItem {
	if item.Price != nil {
		price := *item.Price
		item.Price = &price
	}
	return item
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
