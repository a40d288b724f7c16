package canonical

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Price categories. Downstream views match on these literals.
const (
	PriceEconomique = "economique"
	PriceMoyen      = "moyen"
	PricePremium    = "premium"
)

// Product is the canonical product record. PriceCategory is derived by the
// stream processor and never taken from the source.
type Product struct {
	ID            int64           `json:"id"`
	Title         string          `json:"title" validate:"required"`
	Price         decimal.Decimal `json:"price" validate:"gte=0"`
	Category      string          `json:"category"`
	RatingValue   decimal.Decimal `json:"rating_value" validate:"gte=0,lte=5"`
	RatingCount   int64           `json:"rating_count" validate:"gte=0"`
	PriceCategory string          `json:"price_category,omitempty" validate:"omitempty,oneof=economique moyen premium"`
	Source        string          `json:"source" validate:"required"`
}

// Prices travel as JSON numbers on the wire, matching the channel contract.
func init() { decimal.MarshalJSONWithoutQuotes = true }

// Key returns the persisted primary key.
func (p Product) Key() string { return strconv.FormatInt(p.ID, 10) }
