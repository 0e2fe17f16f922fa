package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ScanKind string

const (
	ScanByID      ScanKind = "id"
	ScanBySKU     ScanKind = "sku"
	ScanByBarcode ScanKind = "barcode"
)

const (
	ScanModePrice = "price"
	ScanModeAdd   = "add"
)

// ScanIntent is the resolved meaning of a scanned string. Quantity is zero
// when the scan carried no usable quantity hint.
type ScanIntent struct {
	Kind     ScanKind `json:"kind"`
	Value    string   `json:"value"`
	Quantity int      `json:"qty,omitempty"`
}

func (i ScanIntent) EffectiveQuantity() int {
	if i.Quantity < 1 {
		return 1
	}
	return i.Quantity
}

type CatalogItem struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Price      *decimal.Decimal `json:"price"`
	SKU        string           `json:"sku"`
	Barcode    string           `json:"barcode"`
	Stock      int              `json:"stock"`
	Active     bool             `json:"is_active"`
	IsLowStock bool             `json:"is_low_stock"`
}

type ScanResult struct {
	OK       bool        `json:"ok"`
	Mode     string      `json:"mode"`
	Intent   ScanIntent  `json:"intent"`
	Product  CatalogItem `json:"product"`
	Quantity int         `json:"qty"`
}

type ProductUpsert struct {
	Barcode string           `json:"barcode" validate:"required,max=64"`
	Name    string           `json:"name" validate:"required,max=200"`
	Price   *decimal.Decimal `json:"price,omitempty"`
}

type CartLine struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type CheckoutAdjustments struct {
	Discount decimal.Decimal `json:"discount"`
	TaxRate  decimal.Decimal `json:"tax_rate"`
	PaidCash decimal.Decimal `json:"paid_cash"`
	PaidCard decimal.Decimal `json:"paid_card"`
}

// ValidatedCheckout is forwarded as-is to the sale commit procedure.
type ValidatedCheckout struct {
	CustomerID  *string             `json:"customer_id"`
	Items       []CartLine          `json:"items"`
	Adjustments CheckoutAdjustments `json:"adjustments"`
}

type SaleRecord struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	CustomerID *string         `json:"customer_id"`
	Total      decimal.Decimal `json:"total"`
	Paid       decimal.Decimal `json:"paid"`
	Change     decimal.Decimal `json:"change"`
}

// SaleDetail is the full sale row used by receipts.
type SaleDetail struct {
	SaleRecord
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalDue      decimal.Decimal `json:"total_due"`
	PaidCash      decimal.Decimal `json:"paid_cash"`
	PaidCard      decimal.Decimal `json:"paid_card"`
	PaymentMethod string          `json:"payment_method"`
}

type SaleItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Barcode   string          `json:"barcode"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// SaleLine is a sale item joined with its parent sale's timestamp and the
// product display name.
type SaleLine struct {
	ProductID     string    `json:"product_id"`
	ProductName   string    `json:"product_name"`
	Quantity      int       `json:"quantity"`
	SaleCreatedAt time.Time `json:"sale_created_at"`
}

type SalesQuery struct {
	From  *time.Time
	To    *time.Time
	Desc  bool
	Limit int
}

type Customer struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

type CustomerStat struct {
	ID             string          `json:"id"`
	FullName       string          `json:"full_name"`
	SalesCount     int             `json:"sales_count"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	LastPurchaseAt *time.Time      `json:"last_purchase_at"`
}

const (
	CustomerOrderTotalSpent   = "total_spent"
	CustomerOrderLastPurchase = "last_purchase_at"
)

type CustomerStatsQuery struct {
	Name    string
	OrderBy string
	Limit   int
}

type CustomerSearchResult struct {
	Error     *string        `json:"error"`
	Query     string         `json:"q"`
	Customers []CustomerStat `json:"customers"`
}

type Ticket struct {
	Sale      SaleDetail `json:"sale"`
	Items     []SaleItem `json:"items"`
	Customer  *Customer  `json:"customer"`
	TicketURL string     `json:"ticket_url"`
}

type KPI struct {
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

type DailyBucket struct {
	Day   string          `json:"day"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

type RegisteredSplit struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type UnregisteredSplit struct {
	Count          int             `json:"count"`
	Total          decimal.Decimal `json:"total"`
	LastPurchaseAt *time.Time      `json:"last_purchase_at"`
}

type CustomerSplit struct {
	Registered   RegisteredSplit   `json:"registered"`
	Unregistered UnregisteredSplit `json:"unregistered"`
}

type SalesSummary struct {
	KPI   KPI           `json:"kpi"`
	Daily []DailyBucket `json:"daily"`
	Split CustomerSplit `json:"split"`
}

type TopProductEntry struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"qty"`
}

type SectionError struct {
	Section string `json:"section"`
	Message string `json:"message"`
}

type DashboardKPIs struct {
	TodayRevenue  decimal.Decimal `json:"today_revenue"`
	TodayCount    int             `json:"today_count"`
	LowStockCount int             `json:"low_stock_count"`
}

type DashboardReport struct {
	Error       *string           `json:"error"`
	Errors      []SectionError    `json:"errors"`
	KPIs        DashboardKPIs     `json:"kpis"`
	Daily       []DailyBucket     `json:"daily7"`
	Recent      []SaleRecord      `json:"recent"`
	TopProducts []TopProductEntry `json:"top_products"`
}

type FullReport struct {
	Error         *string           `json:"error"`
	Errors        []SectionError    `json:"errors"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	KPI           KPI               `json:"kpi"`
	Daily         []DailyBucket     `json:"daily"`
	Recent        []SaleRecord      `json:"recent"`
	LowStockCount int               `json:"low_count"`
	TopCustomers  []CustomerStat    `json:"top_customers"`
	Registered    RegisteredSplit   `json:"registered"`
	Unregistered  UnregisteredSplit `json:"unregistered"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
