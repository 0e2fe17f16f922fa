package analytics

import (
	"slices"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
)

const (
	DefaultTopProducts = 5
	fallbackName       = "Product"
)

// RankTopProducts sums quantities per product and returns the best sellers.
// The first name seen for a product is kept, and products with equal
// quantities stay in the order they were first seen.
func RankTopProducts(lines []domain.SaleLine, limit int) []domain.TopProductEntry {
	if limit <= 0 {
		limit = DefaultTopProducts
	}

	index := make(map[string]int, len(lines))
	ranked := make([]domain.TopProductEntry, 0, len(lines))
	for _, line := range lines {
		pos, ok := index[line.ProductID]
		if !ok {
			name := line.ProductName
			if name == "" {
				name = fallbackName
			}
			index[line.ProductID] = len(ranked)
			ranked = append(ranked, domain.TopProductEntry{ProductID: line.ProductID, Name: name})
			pos = len(ranked) - 1
		}
		ranked[pos].Quantity += line.Quantity
	}

	slices.SortStableFunc(ranked, func(a, b domain.TopProductEntry) int {
		return b.Quantity - a.Quantity
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
