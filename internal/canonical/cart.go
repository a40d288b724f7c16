package canonical

import (
	"fmt"
	"strconv"
	"time"
)

// CartLine is one element of a cart's products array.
type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity" validate:"gt=0"`
}

// Cart is the normalized but unexploded cart carried on the carts channel.
type Cart struct {
	ID       int64      `json:"cart_id"`
	UserID   int64      `json:"user_id"`
	Date     time.Time  `json:"date" validate:"required"`
	Products []CartLine `json:"products" validate:"required,min=1,dive"`
	Source   string     `json:"source" validate:"required"`
}

// Key is the cart id; every version of a cart shares a partition.
func (c Cart) Key() string { return strconv.FormatInt(c.ID, 10) }

// CartItem is one exploded cart line, identified by (cart_id, product_id).
type CartItem struct {
	CartID    int64     `json:"cart_id"`
	ProductID int64     `json:"product_id"`
	UserID    int64     `json:"user_id"`
	Quantity  int64     `json:"quantity" validate:"gt=0"`
	Date      time.Time `json:"date" validate:"required"`
	DayOfWeek string    `json:"day_of_week" validate:"required"`
	Month     string    `json:"month" validate:"required"`
	Source    string    `json:"source" validate:"required"`
}

// Key returns the composite key "cart_id:product_id".
func (c CartItem) Key() string { return fmt.Sprintf("%d:%d", c.CartID, c.ProductID) }
