// Package scan turns raw scanner input into a catalog lookup intent.
//
// Scanners in the store emit three kinds of payloads: JSON objects printed on
// inventory labels, pos:// links encoded in QR codes, and plain barcodes.
// Resolve tries them in that order and never fails.
package scan

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
)

// Scheme is the URI scheme printed in product QR codes.
const Scheme = "pos"

type attempt func(code string) (domain.ScanIntent, bool)

// attempts run in order; the first match wins.
var attempts = []attempt{
	fromObject,
	fromURI,
	fromBarcode,
}

func Resolve(raw string) domain.ScanIntent {
	code := strings.TrimSpace(raw)
	for _, try := range attempts {
		if intent, ok := try(code); ok {
			return intent
		}
	}
	// unreachable: fromBarcode always matches.
	return domain.ScanIntent{Kind: domain.ScanByBarcode, Value: code}
}

func fromObject(code string) (domain.ScanIntent, bool) {
	if !strings.HasPrefix(code, "{") {
		return domain.ScanIntent{}, false
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(code)))
	decoder.UseNumber()
	var obj map[string]any
	if err := decoder.Decode(&obj); err != nil || obj == nil {
		return domain.ScanIntent{}, false
	}
	if _, err := decoder.Token(); err != io.EOF {
		return domain.ScanIntent{}, false
	}

	qty := objectQuantity(obj["qty"])
	for _, key := range []struct {
		field string
		kind  domain.ScanKind
	}{
		{"id", domain.ScanByID},
		{"barcode", domain.ScanByBarcode},
		{"sku", domain.ScanBySKU},
	} {
		if value, ok := scalarString(obj[key.field]); ok {
			return domain.ScanIntent{Kind: key.kind, Value: value, Quantity: qty}, true
		}
	}
	return domain.ScanIntent{}, false
}

// scalarString reports the value of a present JSON field. Empty strings, zero
// and false count as absent.
func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, val != ""
	case json.Number:
		f, err := val.Float64()
		if err != nil || f == 0 {
			return "", false
		}
		return val.String(), true
	case bool:
		return "true", val
	default:
		return "", false
	}
}

func objectQuantity(v any) int {
	var raw string
	switch val := v.(type) {
	case json.Number:
		raw = val.String()
	case string:
		raw = val
	default:
		return 0
	}
	f, ok := parseNumber(raw)
	if !ok || f <= 0 {
		return 0
	}
	return clampQuantity(math.Floor(f))
}

func fromURI(code string) (domain.ScanIntent, bool) {
	u, err := url.Parse(code)
	if err != nil || !strings.EqualFold(u.Scheme, Scheme) {
		return domain.ScanIntent{}, false
	}

	query := u.Query()
	if u.Opaque != "" {
		// pos:product/abc?qty=2
		if opaque, err := url.Parse("//" + u.Opaque); err == nil {
			u.Host, u.Path = opaque.Host, opaque.Path
		}
	}

	qty := 0
	if raw := query.Get("qty"); raw != "" {
		if f, ok := parseNumber(raw); ok {
			qty = clampQuantity(math.Max(1, math.Floor(f)))
		}
	}

	segments := pathSegments(u.Host, u.Path)
	if len(segments) >= 2 && segments[0] == "product" {
		return domain.ScanIntent{Kind: domain.ScanByID, Value: segments[1], Quantity: qty}, true
	}
	if barcode := query.Get("barcode"); barcode != "" {
		return domain.ScanIntent{Kind: domain.ScanByBarcode, Value: barcode, Quantity: qty}, true
	}
	if sku := query.Get("sku"); sku != "" {
		return domain.ScanIntent{Kind: domain.ScanBySKU, Value: sku, Quantity: qty}, true
	}
	return domain.ScanIntent{}, false
}

// pathSegments treats the authority as the first path segment, so
// pos://product/abc and pos:/product/abc resolve the same way.
func pathSegments(host string, path string) []string {
	parts := make([]string, 0, 4)
	for _, part := range strings.Split(host+"/"+path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func fromBarcode(code string) (domain.ScanIntent, bool) {
	return domain.ScanIntent{Kind: domain.ScanByBarcode, Value: code}, true
}

func parseNumber(raw string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clampQuantity(f float64) int {
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < 1 {
		return 0
	}
	return int(f)
}
