// Package checkout validates a submitted cart before it is handed to the
// sale commit procedure. It never prices, totals or deduplicates lines.
package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
)

var (
	ErrMalformedInput = errors.New("malformed input")
	ErrInvalidValue   = errors.New("invalid value")
)

// Amount bounds follow the numeric(12,2) and numeric(6,3) columns the sale
// is stored in.
const (
	moneyPlaces     = 2
	ratePlaces      = 3
	maxAmountLength = 32
)

var (
	moneyLimit = decimal.New(1, 10)
	rateLimit  = decimal.New(1, 3)
)

// ValidationError carries the message shown next to the checkout form.
type ValidationError struct {
	Kind    error
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// Form holds the raw checkout fields as submitted.
type Form struct {
	Items      string `json:"items"`
	Discount   string `json:"discount"`
	TaxRate    string `json:"tax_rate"`
	PaidCash   string `json:"paid_cash"`
	PaidCard   string `json:"paid_card"`
	CustomerID string `json:"customer_id,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Validate(form Form) (domain.ValidatedCheckout, error) {
	items, err := decodeCart(form.Items)
	if err != nil {
		return domain.ValidatedCheckout{}, err
	}

	adjustments, err := parseAdjustments(form)
	if err != nil {
		return domain.ValidatedCheckout{}, err
	}

	out := domain.ValidatedCheckout{Items: items, Adjustments: adjustments}
	if id := strings.TrimSpace(form.CustomerID); id != "" {
		out.CustomerID = &id
	}
	return out, nil
}

func decodeCart(raw string) ([]domain.CartLine, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "[]"
	}

	var items []domain.CartLine
	if err := json.Unmarshal([]byte(raw), &items); err != nil || items == nil {
		return nil, malformed("invalid items")
	}
	if len(items) == 0 {
		return nil, malformed("empty cart")
	}

	for i := range items {
		items[i].ProductID = strings.TrimSpace(items[i].ProductID)
		if err := validate.Struct(items[i]); err != nil {
			return nil, malformed(lineMessage(i, err))
		}
	}
	return items, nil
}

func lineMessage(index int, err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		switch fieldErrs[0].Field() {
		case "ProductID":
			return fmt.Sprintf("item %d: product_id is required", index+1)
		case "Quantity":
			return fmt.Sprintf("item %d: quantity must be greater than 0", index+1)
		}
	}
	return fmt.Sprintf("item %d is invalid", index+1)
}

func parseAdjustments(form Form) (domain.CheckoutAdjustments, error) {
	var adj domain.CheckoutAdjustments
	fields := []struct {
		name   string
		raw    string
		places int32
		limit  decimal.Decimal
		dest   *decimal.Decimal
	}{
		{name: "discount", raw: form.Discount, places: moneyPlaces, limit: moneyLimit, dest: &adj.Discount},
		{name: "tax_rate", raw: form.TaxRate, places: ratePlaces, limit: rateLimit, dest: &adj.TaxRate},
		{name: "paid_cash", raw: form.PaidCash, places: moneyPlaces, limit: moneyLimit, dest: &adj.PaidCash},
		{name: "paid_card", raw: form.PaidCard, places: moneyPlaces, limit: moneyLimit, dest: &adj.PaidCard},
	}

	negative := false
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if len(raw) > maxAmountLength || hasExponent(raw) {
			return domain.CheckoutAdjustments{}, outOfRange(f.name)
		}
		value, err := parseAmount(raw)
		if err != nil {
			return domain.CheckoutAdjustments{}, malformed(fmt.Sprintf("%s must be a number", f.name))
		}
		if !value.Equal(value.Truncate(f.places)) {
			return domain.CheckoutAdjustments{}, &ValidationError{
				Kind:    ErrInvalidValue,
				Message: fmt.Sprintf("%s allows at most %d decimals", f.name, f.places),
			}
		}
		if value.Abs().GreaterThanOrEqual(f.limit) {
			return domain.CheckoutAdjustments{}, outOfRange(f.name)
		}
		if value.IsNegative() {
			negative = true
		}
		*f.dest = value
	}
	if negative {
		return domain.CheckoutAdjustments{}, &ValidationError{Kind: ErrInvalidValue, Message: "negative values are not allowed"}
	}
	return adj, nil
}

// parseAmount treats a blank field as zero. Exponent notation is rejected
// by the caller before the string gets here.
func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// hasExponent reports whether raw is a number written in exponent notation.
func hasExponent(raw string) bool {
	i := strings.IndexAny(raw, "eE")
	if i <= 0 {
		return false
	}
	_, err := decimal.NewFromString(raw[:i])
	return err == nil
}

func outOfRange(name string) error {
	return &ValidationError{Kind: ErrInvalidValue, Message: fmt.Sprintf("%s is out of range", name)}
}

func malformed(msg string) error {
	return &ValidationError{Kind: ErrMalformedInput, Message: msg}
}
