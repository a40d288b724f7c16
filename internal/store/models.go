package store

import (
	"time"

	"github.com/shopspring/decimal"

	"entitysync/internal/canonical"
)

type ProductRow struct {
	ID            int64           `gorm:"column:id;primaryKey;autoIncrement:false"`
	Title         string          `gorm:"column:title;not null"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Category      string          `gorm:"column:category"`
	RatingValue   decimal.Decimal `gorm:"column:rating_value;type:numeric(3,2)"`
	RatingCount   int64           `gorm:"column:rating_count"`
	PriceCategory string          `gorm:"column:price_category;not null"`
	Source        string          `gorm:"column:source;not null"`
}

func (ProductRow) TableName() string { return "products" }

var productColumns = []string{"title", "price", "category", "rating_value", "rating_count", "price_category", "source"}

func productRow(p canonical.Product) ProductRow {
	return ProductRow{
		ID:            p.ID,
		Title:         p.Title,
		Price:         p.Price,
		Category:      p.Category,
		RatingValue:   p.RatingValue,
		RatingCount:   p.RatingCount,
		PriceCategory: p.PriceCategory,
		Source:        p.Source,
	}
}

type CartItemRow struct {
	CartID    int64     `gorm:"column:cart_id;primaryKey;autoIncrement:false"`
	ProductID int64     `gorm:"column:product_id;primaryKey;autoIncrement:false"`
	UserID    int64     `gorm:"column:user_id;not null;index"`
	Quantity  int64     `gorm:"column:quantity;not null;check:quantity > 0"`
	Date      time.Time `gorm:"column:date;not null"`
	DayOfWeek string    `gorm:"column:day_of_week;not null"`
	Month     string    `gorm:"column:month;not null"`
	Source    string    `gorm:"column:source;not null"`
}

func (CartItemRow) TableName() string { return "cart_items" }

var cartItemColumns = []string{"user_id", "quantity", "date", "day_of_week", "month", "source"}

func cartItemRow(i canonical.CartItem) CartItemRow {
	return CartItemRow{
		CartID:    i.CartID,
		ProductID: i.ProductID,
		UserID:    i.UserID,
		Quantity:  i.Quantity,
		Date:      i.Date.UTC(),
		DayOfWeek: i.DayOfWeek,
		Month:     i.Month,
		Source:    i.Source,
	}
}

type UserRow struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Email          string `gorm:"column:email;not null;uniqueIndex"`
	Username       string `gorm:"column:username"`
	FirstName      string `gorm:"column:first_name"`
	LastName       string `gorm:"column:last_name"`
	Phone          string `gorm:"column:phone"`
	AddressStreet  string `gorm:"column:address_street"`
	AddressCity    string `gorm:"column:address_city"`
	AddressZipcode string `gorm:"column:address_zipcode"`
	Source         string `gorm:"column:source;not null"`
}

func (UserRow) TableName() string { return "users" }

var userColumns = []string{"email", "username", "first_name", "last_name", "phone", "address_street", "address_city", "address_zipcode", "source"}

func userRow(u canonical.User) UserRow {
	return UserRow{
		ID:             u.ID,
		Email:          u.Email,
		Username:       u.Username,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Phone:          u.Phone,
		AddressStreet:  u.AddressStreet,
		AddressCity:    u.AddressCity,
		AddressZipcode: u.AddressZipcode,
		Source:         u.Source,
	}
}
