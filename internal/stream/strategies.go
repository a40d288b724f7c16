package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"entitysync/internal/canonical"
	"entitysync/internal/enrich"
	perrors "entitysync/internal/errors"
)

// ProductStrategy derives the price category.
type ProductStrategy struct{}

func (ProductStrategy) Kind() canonical.Kind { return canonical.KindProduct }

func (ProductStrategy) Decode(payload []byte) (canonical.Product, error) {
	var p canonical.Product
	err := decode(payload, &p, "id", "title", "price", "source")
	return p, err
}

func (ProductStrategy) Enrich(p canonical.Product) ([]canonical.Product, error) {
	return []canonical.Product{enrich.Product(p)}, nil
}

func (ProductStrategy) Key(p canonical.Product) string { return p.Key() }

// CartStrategy explodes a cart into one item per line.
type CartStrategy struct{}

func (CartStrategy) Kind() canonical.Kind { return canonical.KindCart }

func (CartStrategy) Decode(payload []byte) (canonical.Cart, error) {
	var c canonical.Cart
	err := decode(payload, &c, "cart_id", "user_id", "date", "products", "source")
	return c, err
}

func (CartStrategy) Enrich(c canonical.Cart) ([]canonical.CartItem, error) {
	return enrich.ExplodeCart(c)
}

func (CartStrategy) Key(i canonical.CartItem) string { return i.Key() }

// UserStrategy passes users through.
type UserStrategy struct{}

func (UserStrategy) Kind() canonical.Kind { return canonical.KindUser }

func (UserStrategy) Decode(payload []byte) (canonical.User, error) {
	var u canonical.User
	err := decode(payload, &u, "id", "email", "source")
	return u, err
}

func (UserStrategy) Enrich(u canonical.User) ([]canonical.User, error) {
	return []canonical.User{u}, nil
}

func (UserStrategy) Key(u canonical.User) string { return u.Key() }

// decode unmarshals a canonical payload. Required keys must be present and
// non-null, which a zero value after unmarshalling cannot tell apart; the
// remaining field rules live on the canonical types.
func decode(payload []byte, dst any, required ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return perrors.Wrap(perrors.CodeMalformedRecord, err, "payload is not a JSON object")
	}
	for _, name := range required {
		raw, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return perrors.New(perrors.CodeMalformedRecord, fmt.Sprintf("required field %q is missing", name))
		}
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return perrors.Wrap(perrors.CodeMalformedRecord, err, "payload does not match the canonical schema")
	}
	if err := canonical.Validate(dst); err != nil {
		return perrors.Wrap(perrors.CodeMalformedRecord, err, "payload breaks a field rule")
	}
	return nil
}
