package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables, view and create_sale_v2 procedure when
// they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

const productColumns = `id::text, name, price, COALESCE(sku, ''), COALESCE(barcode, ''), stock, is_active, is_low_stock`

func scanProduct(row interface{ Scan(...any) error }) (*domain.CatalogItem, error) {
	var (
		item  domain.CatalogItem
		price decimal.NullDecimal
	)
	if err := row.Scan(&item.ID, &item.Name, &price, &item.SKU, &item.Barcode, &item.Stock, &item.Active, &item.IsLowStock); err != nil {
		return nil, err
	}
	if price.Valid {
		item.Price = &price.Decimal
	}
	return &item, nil
}

func (s *Store) FindProduct(ctx context.Context, column string, value string) (*domain.CatalogItem, error) {
	var where string
	switch column {
	case store.ColumnID:
		where = "id = $1"
	case store.ColumnSKU:
		where = "sku = $1"
	case store.ColumnBarcode:
		where = "barcode = $1"
	default:
		return nil, fmt.Errorf("postgres: unknown lookup column %q", column)
	}

	item, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE `+where+`
		LIMIT 1
	`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.CatalogItem, 0, 128)
	for rows.Next() {
		item, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// UpsertProductByBarcode inserts or renames the product with the given
// barcode. The stored price only changes when a price is supplied.
func (s *Store) UpsertProductByBarcode(ctx context.Context, in domain.ProductUpsert) (*domain.CatalogItem, error) {
	barcode := strings.TrimSpace(in.Barcode)
	name := strings.TrimSpace(in.Name)
	if barcode == "" || name == "" {
		return nil, store.ErrInvalidProduct
	}

	var price any
	if in.Price != nil {
		price = *in.Price
	}

	item, err := scanProduct(s.db.QueryRowContext(ctx, `
		INSERT INTO products (barcode, name, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (barcode) DO UPDATE
		SET name = EXCLUDED.name,
			price = COALESCE($3, products.price)
		RETURNING `+productColumns+`
	`, barcode, name, price))
	if err != nil {
		if isCheckViolation(err) {
			return nil, store.ErrInvalidProduct
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) DeleteProductByBarcode(ctx context.Context, barcode string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE barcode = $1`, barcode)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: product has sales", store.ErrInvalidProduct)
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountLowStock(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM products
		WHERE is_low_stock = true
	`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CommitSale hands the validated cart to create_sale_v2, which prices the
// lines, decrements stock and writes the sale in one transaction.
func (s *Store) CommitSale(ctx context.Context, checkout domain.ValidatedCheckout) (string, error) {
	items, err := json.Marshal(checkout.Items)
	if err != nil {
		return "", err
	}

	var customerID any
	if checkout.CustomerID != nil {
		customerID = *checkout.CustomerID
	}

	adj := checkout.Adjustments
	var saleID string
	err = s.db.QueryRowContext(ctx, `
		SELECT create_sale_v2($1, $2::jsonb, $3, $4, $5, $6)::text
	`, customerID, string(items), adj.Discount, adj.TaxRate, adj.PaidCash, adj.PaidCard).Scan(&saleID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && isProcedureRejection(pgErr) {
			return "", fmt.Errorf("%w: %s", store.ErrCommitRejected, pgErr.Message)
		}
		return "", err
	}
	return saleID, nil
}

const saleColumns = `id::text, created_at, customer_id::text, total, paid, change`

func scanSale(row interface{ Scan(...any) error }) (domain.SaleRecord, error) {
	var (
		rec        domain.SaleRecord
		customerID sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &customerID, &rec.Total, &rec.Paid, &rec.Change); err != nil {
		return rec, err
	}
	if customerID.Valid {
		rec.CustomerID = &customerID.String
	}
	return rec, nil
}

func (s *Store) ListSales(ctx context.Context, query domain.SalesQuery) ([]domain.SaleRecord, error) {
	var (
		where []string
		args  []any
	)
	if query.From != nil {
		args = append(args, *query.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if query.To != nil {
		args = append(args, *query.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	sqlText := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		sqlText += ` WHERE ` + strings.Join(where, " AND ")
	}
	if query.Desc {
		sqlText += ` ORDER BY created_at DESC, id DESC`
	} else {
		sqlText += ` ORDER BY created_at ASC, id ASC`
	}
	if query.Limit > 0 {
		args = append(args, query.Limit)
		sqlText += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.SaleRecord, 0, 64)
	for rows.Next() {
		rec, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListSaleLines(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT si.product_id::text, COALESCE(p.name, ''), si.quantity, sa.created_at
		FROM sale_items si
		JOIN sales sa ON sa.id = si.sale_id
		LEFT JOIN products p ON p.id = si.product_id
		WHERE sa.created_at >= $1
			AND sa.created_at <= $2
		ORDER BY sa.created_at ASC, si.id ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 256)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.ProductName, &line.Quantity, &line.SaleCreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleDetail, error) {
	var (
		detail     domain.SaleDetail
		customerID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id::text, created_at, customer_id::text, subtotal, discount, tax_rate, tax_amount,
			total_due, paid_cash, paid_card, payment_method, total, paid, change
		FROM sales
		WHERE id = $1
	`, id).Scan(
		&detail.ID, &detail.CreatedAt, &customerID, &detail.Subtotal, &detail.Discount, &detail.TaxRate, &detail.TaxAmount,
		&detail.TotalDue, &detail.PaidCash, &detail.PaidCard, &detail.PaymentMethod, &detail.Total, &detail.Paid, &detail.Change,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		detail.CustomerID = &customerID.String
	}
	return &detail, nil
}

func (s *Store) ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT si.product_id::text, COALESCE(p.name, ''), COALESCE(p.sku, ''), COALESCE(p.barcode, ''),
			si.quantity, si.unit_price, si.subtotal
		FROM sale_items si
		LEFT JOIN products p ON p.id = si.product_id
		WHERE si.sale_id = $1
		ORDER BY si.id ASC
	`, saleID)
	if err != nil {
		if isInvalidText(err) {
			return []domain.SaleItem{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 16)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.SKU, &item.Barcode, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id::text, COALESCE(full_name, '')
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.FullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomerStats(ctx context.Context, query domain.CustomerStatsQuery) ([]domain.CustomerStat, error) {
	var (
		args    []any
		sqlText = `
		SELECT id::text, COALESCE(full_name, ''), sales_count, total_spent, last_purchase_at
		FROM v_customer_stats`
	)
	if name := strings.TrimSpace(query.Name); name != "" {
		args = append(args, "%"+escapeLike(name)+"%")
		sqlText += ` WHERE full_name ILIKE $1`
	}
	switch query.OrderBy {
	case domain.CustomerOrderLastPurchase:
		sqlText += ` ORDER BY last_purchase_at DESC NULLS LAST, id`
	default:
		sqlText += ` ORDER BY total_spent DESC, id`
	}
	if query.Limit > 0 {
		args = append(args, query.Limit)
		sqlText += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]domain.CustomerStat, 0, 50)
	for rows.Next() {
		var (
			stat domain.CustomerStat
			last sql.NullTime
		)
		if err := rows.Scan(&stat.ID, &stat.FullName, &stat.SalesCount, &stat.TotalSpent, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			stat.LastPurchaseAt = &last.Time
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s already exists", store.ErrInvalidUser, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func isCheckViolation(err error) bool {
	code := pgCode(err)
	return code == "23514" || code == "23502"
}

// isInvalidText matches malformed uuid/bigint keys, which can never exist.
func isInvalidText(err error) bool {
	return pgCode(err) == "22P02"
}

// isProcedureRejection separates business rejections raised by
// create_sale_v2 from infrastructure failures.
func isProcedureRejection(pgErr *pgconn.PgError) bool {
	switch {
	case pgErr.Code == "P0001":
		return true
	case strings.HasPrefix(pgErr.Code, "23"), pgErr.Code == "22P02", pgErr.Code == "22003":
		return true
	}
	return false
}
