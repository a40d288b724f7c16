// Package enrich derives the fields that sources never supply. Every
// function here is pure: same input, same output, no clock or locale.
package enrich

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"entitysync/internal/canonical"
	perrors "entitysync/internal/errors"
)

var (
	moyenFloor   = decimal.NewFromInt(50)
	premiumFloor = decimal.NewFromInt(100)
)

// PriceCategory buckets a price: below 50 economique, below 100 moyen,
// otherwise premium.
func PriceCategory(price decimal.Decimal) string {
	switch {
	case price.LessThan(moyenFloor):
		return canonical.PriceEconomique
	case price.LessThan(premiumFloor):
		return canonical.PriceMoyen
	default:
		return canonical.PricePremium
	}
}

// DayOfWeek returns the English weekday name of t's UTC instant.
func DayOfWeek(t time.Time) string { return t.UTC().Weekday().String() }

// Month returns the English Gregorian month name of t's UTC instant.
func Month(t time.Time) string { return t.UTC().Month().String() }

// Product returns p with its price category set.
func Product(p canonical.Product) canonical.Product {
	p.PriceCategory = PriceCategory(p.Price)
	return p
}

// ExplodeCart turns one cart into one item per line. Items inherit the
// cart's id, user, date and source, in line order.
func ExplodeCart(c canonical.Cart) ([]canonical.CartItem, error) {
	if err := canonical.Validate(c); err != nil {
		return nil, perrors.Wrap(perrors.CodeMalformedRecord, err, fmt.Sprintf("cart %d", c.ID))
	}
	day, month := DayOfWeek(c.Date), Month(c.Date)
	items := make([]canonical.CartItem, 0, len(c.Products))
	for _, line := range c.Products {
		items = append(items, canonical.CartItem{
			CartID:    c.ID,
			ProductID: line.ProductID,
			UserID:    c.UserID,
			Quantity:  line.Quantity,
			Date:      c.Date,
			DayOfWeek: day,
			Month:     month,
			Source:    c.Source,
		})
	}
	return items, nil
}
