package store

import (
	"context"
	"errors"
	"time"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidProduct = errors.New("invalid product")
	ErrCommitRejected = errors.New("sale rejected")
	ErrInvalidUser    = errors.New("invalid user")
)

// Catalog lookup columns.
const (
	ColumnID      = "id"
	ColumnSKU     = "sku"
	ColumnBarcode = "barcode"
)

type CatalogReader interface {
	FindProduct(ctx context.Context, column string, value string) (*domain.CatalogItem, error)
	ListProducts(ctx context.Context) ([]domain.CatalogItem, error)
}

type CatalogWriter interface {
	UpsertProductByBarcode(ctx context.Context, product domain.ProductUpsert) (*domain.CatalogItem, error)
	DeleteProductByBarcode(ctx context.Context, barcode string) error
}

type SalesReader interface {
	ListSales(ctx context.Context, query domain.SalesQuery) ([]domain.SaleRecord, error)
	ListSaleLines(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error)
	CountLowStock(ctx context.Context) (int, error)
	GetSale(ctx context.Context, id string) (*domain.SaleDetail, error)
	ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error)
}

type CustomerReader interface {
	ListCustomerStats(ctx context.Context, query domain.CustomerStatsQuery) ([]domain.CustomerStat, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
}

// SaleCommitter finalizes a sale atomically: prices lines, decrements stock
// and stores the sale with its items. It returns the new sale id.
type SaleCommitter interface {
	CommitSale(ctx context.Context, checkout domain.ValidatedCheckout) (string, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	CatalogReader
	CatalogWriter
	SalesReader
	CustomerReader
	SaleCommitter
	UserStore
}
