package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitysync/internal/canonical"
	perrors "entitysync/internal/errors"
)

func TestFakeStoreProduct(t *testing.T) {
	raw := []byte(`{"id":1,"title":"Backpack","price":109.95,"category":"men's clothing","rating":{"rate":3.9,"count":120}}`)

	p, err := Default().Product("fakestore", raw)
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, "Backpack", p.Title)
	assert.True(t, decimal.RequireFromString("109.95").Equal(p.Price))
	assert.Equal(t, "men's clothing", p.Category)
	assert.True(t, decimal.RequireFromString("3.9").Equal(p.RatingValue))
	assert.Equal(t, int64(120), p.RatingCount)
	assert.Equal(t, "fakestore", p.Source)
}

func TestDummyJSONProductHasScalarRating(t *testing.T) {
	raw := []byte(`{"id":7,"title":"Mascara","price":9.99,"category":"beauty","rating":4.94}`)

	p, err := Default().Product("dummyjson", raw)
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("4.94").Equal(p.RatingValue))
	assert.Equal(t, int64(0), p.RatingCount)
	assert.Equal(t, "dummyjson", p.Source)
}

func TestProductWithoutRatingDefaultsToZero(t *testing.T) {
	p, err := Default().Product("fakestore", []byte(`{"id":2,"title":"Mug","price":5}`))
	require.NoError(t, err)

	assert.True(t, p.RatingValue.IsZero())
	assert.Equal(t, int64(0), p.RatingCount)
	assert.Equal(t, "", p.Category)
}

func TestMalformedProducts(t *testing.T) {
	cases := map[string]string{
		"missing price":     `{"id":3,"title":"Hat"}`,
		"string price":      `{"id":3,"title":"Hat","price":"cheap"}`,
		"missing id":        `{"title":"Hat","price":1}`,
		"fractional id":     `{"id":3.5,"title":"Hat","price":1}`,
		"id past int64":     `{"id":9223372036854775808,"title":"Hat","price":1}`,
		"id below int64":    `{"id":-9223372036854775809,"title":"Hat","price":1}`,
		"empty title":       `{"id":3,"title":"  ","price":1}`,
		"rating above five": `{"id":3,"title":"Hat","price":1,"rating":{"rate":5.1,"count":1}}`,
		"negative count":    `{"id":3,"title":"Hat","price":1,"rating":{"rate":1,"count":-1}}`,
		"rating not object": `{"id":3,"title":"Hat","price":1,"rating":"great"}`,
		"not json":          `{"id":3,`,
		"array payload":     `[1,2]`,
		"trailing data":     `{"id":3,"title":"Hat","price":1}{}`,
	}
	n := Default()
	for name, raw := range cases {
		_, err := n.Product("fakestore", []byte(raw))
		require.Error(t, err, name)
		assert.True(t, perrors.IsCode(err, perrors.CodeMalformedRecord), "%s: %v", name, err)
	}
}

func TestFakeStoreCart(t *testing.T) {
	raw := []byte(`{"id":1,"userId":1,"date":"2020-03-02T00:00:00.000Z","products":[{"productId":1,"quantity":4},{"productId":2,"quantity":1}]}`)

	c, err := Default().Cart("fakestore", raw)
	require.NoError(t, err)

	assert.Equal(t, int64(1), c.ID)
	assert.Equal(t, int64(1), c.UserID)
	assert.Equal(t, time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC), c.Date)
	assert.Equal(t, []canonical.CartLine{{ProductID: 1, Quantity: 4}, {ProductID: 2, Quantity: 1}}, c.Products)
}

func TestCartRejectsNonPositiveQuantity(t *testing.T) {
	raw := []byte(`{"id":1,"userId":1,"date":"2020-03-02","products":[{"productId":1,"quantity":0}]}`)

	_, err := Default().Cart("fakestore", raw)
	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.CodeMalformedRecord))
	assert.Contains(t, err.Error(), "products[0].quantity must be greater than 0")
}

func TestCartRejectsEmptyProducts(t *testing.T) {
	raw := []byte(`{"id":1,"userId":1,"date":"2020-03-02","products":[]}`)

	_, err := Default().Cart("fakestore", raw)
	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.CodeMalformedRecord))
	assert.Contains(t, err.Error(), "products needs at least 1 entries")
}

func TestCartRejectsBadDate(t *testing.T) {
	raw := []byte(`{"id":1,"userId":1,"date":"yesterday","products":[]}`)

	_, err := Default().Cart("fakestore", raw)
	assert.True(t, perrors.IsCode(err, perrors.CodeMalformedRecord))
}

func TestDummyJSONHasNoCartMapping(t *testing.T) {
	_, err := Default().Normalize("dummyjson", []byte(`{"id":1}`), canonical.KindCart)
	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.CodeMalformedRecord))
}

func TestFakeStoreUserFlattensNestedObjects(t *testing.T) {
	raw := []byte(`{"id":1,"email":"john@gmail.com","username":"johnd",
		"name":{"firstname":"john","lastname":"doe"},
		"address":{"city":"kilcoole","street":"new road","number":7682,"zipcode":"12926-3874"},
		"phone":"1-570-236-7033"}`)

	u, err := Default().User("fakestore", raw)
	require.NoError(t, err)

	assert.Equal(t, canonical.User{
		ID:             1,
		Email:          "john@gmail.com",
		Username:       "johnd",
		FirstName:      "john",
		LastName:       "doe",
		Phone:          "1-570-236-7033",
		AddressStreet:  "new road",
		AddressCity:    "kilcoole",
		AddressZipcode: "12926-3874",
		Source:         "fakestore",
	}, u)
}

func TestUserWithoutAddressUsesEmptyStrings(t *testing.T) {
	u, err := Default().User("dummyjson", []byte(`{"id":9,"email":"a@b.c","firstName":"Ann"}`))
	require.NoError(t, err)

	assert.Equal(t, "Ann", u.FirstName)
	assert.Equal(t, "", u.AddressStreet)
	assert.Equal(t, "", u.AddressCity)
	assert.Equal(t, "", u.AddressZipcode)
}

func TestUnknownSourceIsMalformed(t *testing.T) {
	_, err := Default().Normalize("acme", []byte(`{"id":1}`), canonical.KindProduct)
	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.CodeMalformedRecord))
	assert.Contains(t, err.Error(), "acme")
}

func TestRegisterNewSource(t *testing.T) {
	n := Default()
	n.Register("Shop", SourceMappings{Product: &ProductMapping{
		ID: "sku", Title: "name", Price: "pricing.amount",
	}})

	out, err := n.Normalize("shop", []byte(`{"sku":44,"name":"Lamp","pricing":{"amount":"12.50"}}`), canonical.KindProduct)
	require.Error(t, err, "string amounts are not numbers")

	out, err = n.Normalize("shop", []byte(`{"sku":44,"name":"Lamp","pricing":{"amount":12.50}}`), canonical.KindProduct)
	require.NoError(t, err)
	p := out.(canonical.Product)
	assert.Equal(t, int64(44), p.ID)
	assert.Equal(t, "shop", p.Source)
}

func TestSourceIsStampedFromArgument(t *testing.T) {
	p, err := Default().Product("fakestore", []byte(`{"id":1,"title":"x","price":1,"source":"spoofed"}`))
	require.NoError(t, err)
	assert.Equal(t, "fakestore", p.Source)
}
