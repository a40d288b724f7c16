// Package normalize maps source-specific payloads onto canonical records.
// The mapping is data: supporting a new source means registering a
// SourceMappings value, not writing code.
package normalize

import (
	"fmt"
	"strings"
	"sync"

	"entitysync/internal/canonical"
	perrors "entitysync/internal/errors"
)

// Normalizer is safe for concurrent use.
type Normalizer struct {
	mu      sync.RWMutex
	sources map[string]SourceMappings
}

// New builds a normalizer over the given sources.
func New(sources map[string]SourceMappings) *Normalizer {
	n := &Normalizer{sources: make(map[string]SourceMappings, len(sources))}
	for name, m := range sources {
		n.sources[strings.ToLower(name)] = m
	}
	return n
}

// Default knows the builtin sources.
func Default() *Normalizer { return New(Builtin()) }

// Register adds or replaces a source.
func (n *Normalizer) Register(source string, m SourceMappings) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sources[strings.ToLower(source)] = m
}

// Sources lists registered source tags.
func (n *Normalizer) Sources() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.sources))
	for name := range n.sources {
		out = append(out, name)
	}
	return out
}

func (n *Normalizer) mappings(source string) (SourceMappings, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	m, ok := n.sources[strings.ToLower(source)]
	return m, ok
}

// Normalize converts raw into the canonical record for kind: a
// canonical.Product, canonical.Cart (unexploded) or canonical.User.
func (n *Normalizer) Normalize(source string, raw []byte, kind canonical.Kind) (any, error) {
	switch kind {
	case canonical.KindProduct:
		return n.Product(source, raw)
	case canonical.KindCart:
		return n.Cart(source, raw)
	case canonical.KindUser:
		return n.User(source, raw)
	}
	return nil, malformed(source, kind, fmt.Errorf("unsupported entity kind %q", kind))
}

func (n *Normalizer) Product(source string, raw []byte) (canonical.Product, error) {
	kind := canonical.KindProduct
	m, err := n.lookupMapping(source, kind, func(s SourceMappings) bool { return s.Product != nil })
	if err != nil {
		return canonical.Product{}, err
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return canonical.Product{}, malformed(source, kind, err)
	}
	pm := m.Product

	var p canonical.Product
	if p.ID, err = doc.requiredInt64(pm.ID); err != nil {
		return canonical.Product{}, malformed(source, kind, err)
	}
	if p.Title, err = doc.requiredString(pm.Title); err != nil {
		return canonical.Product{}, malformed(source, kind, err)
	}
	if p.Price, err = doc.requiredDecimal(pm.Price); err != nil {
		return canonical.Product{}, malformed(source, kind, err)
	}
	if p.Category, err = doc.optionalString(pm.Category); err != nil {
		return canonical.Product{}, malformed(source, kind, err)
	}
	// An absent rating defaults to zero value and zero count.
	if p.RatingValue, err = doc.optionalDecimal(pm.RatingValue); err != nil {
		return canonical.Product{}, malformed(source, kind, err)
	}
	if p.RatingCount, err = doc.optionalInt64(pm.RatingCount); err != nil {
		return canonical.Product{}, malformed(source, kind, err)
	}
	p.Source = source
	if err := canonical.Validate(p); err != nil {
		return canonical.Product{}, malformed(source, kind, err)
	}
	return p, nil
}

func (n *Normalizer) Cart(source string, raw []byte) (canonical.Cart, error) {
	kind := canonical.KindCart
	m, err := n.lookupMapping(source, kind, func(s SourceMappings) bool { return s.Cart != nil })
	if err != nil {
		return canonical.Cart{}, err
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return canonical.Cart{}, malformed(source, kind, err)
	}
	cm := m.Cart

	var c canonical.Cart
	if c.ID, err = doc.requiredInt64(cm.ID); err != nil {
		return canonical.Cart{}, malformed(source, kind, err)
	}
	if c.UserID, err = doc.requiredInt64(cm.UserID); err != nil {
		return canonical.Cart{}, malformed(source, kind, err)
	}
	if c.Date, err = doc.requiredTime(cm.Date); err != nil {
		return canonical.Cart{}, malformed(source, kind, err)
	}
	lines, err := doc.objects(cm.Products)
	if err != nil {
		return canonical.Cart{}, malformed(source, kind, err)
	}
	c.Products = make([]canonical.CartLine, 0, len(lines))
	for i, line := range lines {
		var cl canonical.CartLine
		if cl.ProductID, err = line.requiredInt64(cm.LineProductID); err != nil {
			return canonical.Cart{}, malformed(source, kind, fmt.Errorf("line %d: %w", i, err))
		}
		if cl.Quantity, err = line.requiredInt64(cm.LineQuantity); err != nil {
			return canonical.Cart{}, malformed(source, kind, fmt.Errorf("line %d: %w", i, err))
		}
		c.Products = append(c.Products, cl)
	}
	c.Source = source
	if err := canonical.Validate(c); err != nil {
		return canonical.Cart{}, malformed(source, kind, err)
	}
	return c, nil
}

func (n *Normalizer) User(source string, raw []byte) (canonical.User, error) {
	kind := canonical.KindUser
	m, err := n.lookupMapping(source, kind, func(s SourceMappings) bool { return s.User != nil })
	if err != nil {
		return canonical.User{}, err
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return canonical.User{}, malformed(source, kind, err)
	}
	um := m.User

	var u canonical.User
	if u.ID, err = doc.requiredInt64(um.ID); err != nil {
		return canonical.User{}, malformed(source, kind, err)
	}
	if u.Email, err = doc.requiredString(um.Email); err != nil {
		return canonical.User{}, malformed(source, kind, err)
	}
	// Everything else is optional and defaults to "" rather than null.
	optional := []struct {
		dst  *string
		path Path
	}{
		{&u.Username, um.Username},
		{&u.FirstName, um.FirstName},
		{&u.LastName, um.LastName},
		{&u.Phone, um.Phone},
		{&u.AddressStreet, um.Street},
		{&u.AddressCity, um.City},
		{&u.AddressZipcode, um.Zipcode},
	}
	for _, f := range optional {
		if *f.dst, err = doc.optionalString(f.path); err != nil {
			return canonical.User{}, malformed(source, kind, err)
		}
	}
	u.Source = source
	if err := canonical.Validate(u); err != nil {
		return canonical.User{}, malformed(source, kind, err)
	}
	return u, nil
}

func (n *Normalizer) lookupMapping(source string, kind canonical.Kind, has func(SourceMappings) bool) (SourceMappings, error) {
	m, ok := n.mappings(source)
	if !ok {
		return SourceMappings{}, malformed(source, kind, fmt.Errorf("unknown source"))
	}
	if !has(m) {
		return SourceMappings{}, malformed(source, kind, fmt.Errorf("source has no %s mapping", kind))
	}
	return m, nil
}

func malformed(source string, kind canonical.Kind, err error) error {
	return perrors.Wrap(perrors.CodeMalformedRecord, err, fmt.Sprintf("%s record from %q", kind, source))
}
