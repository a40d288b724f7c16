package canonical

import (
	"fmt"
	"strings"
)

// Kind identifies an entity type. Its string value doubles as the default
// channel name for that type.
type Kind string

const (
	KindProduct Kind = "products"
	KindCart    Kind = "carts"
	KindUser    Kind = "users"
)

// Kinds lists every entity kind in worker start order.
var Kinds = []Kind{KindProduct, KindCart, KindUser}

func (k Kind) String() string { return string(k) }

// ParseKind accepts the plural channel form as well as the singular noun.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "products", "product":
		return KindProduct, nil
	case "carts", "cart":
		return KindCart, nil
	case "users", "user":
		return KindUser, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", value)
}
