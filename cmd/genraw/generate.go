package main

import (
	"fmt"
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"entitysync/internal/canonical"
	"entitysync/internal/normalize"
)

type genOptions struct {
	Source        string
	Kind          canonical.Kind
	Count         int
	MalformedRate float64
	DuplicateRate float64
	Seed          uint64
}

// generator produces raw upstream payloads in a source's own shape.
type generator struct {
	f    *gofakeit.Faker
	opts genOptions
	emit []map[string]any
}

func newGenerator(opts genOptions) *generator {
	return &generator{f: gofakeit.New(opts.Seed), opts: opts}
}

func (g *generator) run() ([]map[string]any, error) {
	build, err := g.builder()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, g.opts.Count)
	for i := 0; i < g.opts.Count; i++ {
		if len(out) > 0 && g.f.Float64() < g.opts.DuplicateRate {
			// Same id, fresh content: a later version of an earlier record.
			prev := out[g.f.Number(0, len(out)-1)]
			rec := build(idOf(prev))
			out = append(out, rec)
			continue
		}
		rec := build(int64(i + 1))
		if g.f.Float64() < g.opts.MalformedRate {
			g.corrupt(rec)
		}
		out = append(out, rec)
	}
	return out, nil
}

func idOf(rec map[string]any) int64 {
	id, _ := rec["id"].(int64)
	return id
}

func (g *generator) builder() (func(id int64) map[string]any, error) {
	switch {
	case g.opts.Source == normalize.SourceFakeStore && g.opts.Kind == canonical.KindProduct:
		return g.fakeStoreProduct, nil
	case g.opts.Source == normalize.SourceFakeStore && g.opts.Kind == canonical.KindCart:
		return g.fakeStoreCart, nil
	case g.opts.Source == normalize.SourceFakeStore && g.opts.Kind == canonical.KindUser:
		return g.fakeStoreUser, nil
	case g.opts.Source == normalize.SourceDummyJSON && g.opts.Kind == canonical.KindProduct:
		return g.dummyJSONProduct, nil
	case g.opts.Source == normalize.SourceDummyJSON && g.opts.Kind == canonical.KindUser:
		return g.dummyJSONUser, nil
	}
	return nil, fmt.Errorf("no generator for %s %s", g.opts.Source, g.opts.Kind)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func (g *generator) fakeStoreProduct(id int64) map[string]any {
	f := g.f
	return map[string]any{
		"id":          id,
		"title":       f.ProductName(),
		"price":       round(f.Price(1, 250), 2),
		"description": f.Sentence(8),
		"category":    f.ProductCategory(),
		"image":       f.URL(),
		"rating": map[string]any{
			"rate":  round(f.Float64Range(0, 5), 1),
			"count": f.Number(0, 700),
		},
	}
}

func (g *generator) fakeStoreCart(id int64) map[string]any {
	f := g.f
	lines := make([]map[string]any, f.Number(1, 4))
	for i := range lines {
		lines[i] = map[string]any{"productId": f.Number(1, 20), "quantity": f.Number(1, 6)}
	}
	date := f.DateRange(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC))
	return map[string]any{
		"id":       id,
		"userId":   f.Number(1, 10),
		"date":     date.UTC().Format("2006-01-02T15:04:05.000Z"),
		"products": lines,
		"__v":      0,
	}
}

func (g *generator) fakeStoreUser(id int64) map[string]any {
	f := g.f
	return map[string]any{
		"id":       id,
		"email":    f.Email(),
		"username": f.Username(),
		"password": f.Password(true, true, true, false, false, 12),
		"name":     map[string]any{"firstname": f.FirstName(), "lastname": f.LastName()},
		"address": map[string]any{
			"city":        f.City(),
			"street":      f.Street(),
			"number":      f.Number(1, 9999),
			"zipcode":     f.Zip(),
			"geolocation": map[string]any{"lat": fmt.Sprint(f.Latitude()), "long": fmt.Sprint(f.Longitude())},
		},
		"phone": f.Phone(),
	}
}

func (g *generator) dummyJSONProduct(id int64) map[string]any {
	f := g.f
	return map[string]any{
		"id":          id,
		"title":       f.ProductName(),
		"description": f.Sentence(10),
		"price":       round(f.Price(1, 250), 2),
		"rating":      round(f.Float64Range(0, 5), 2),
		"category":    f.ProductCategory(),
		"stock":       f.Number(0, 200),
	}
}

func (g *generator) dummyJSONUser(id int64) map[string]any {
	f := g.f
	return map[string]any{
		"id":        id,
		"firstName": f.FirstName(),
		"lastName":  f.LastName(),
		"email":     f.Email(),
		"username":  f.Username(),
		"phone":     f.Phone(),
		"address": map[string]any{
			"address":    f.Street(),
			"city":       f.City(),
			"postalCode": f.Zip(),
		},
	}
}

// corrupt breaks a record the way upstream APIs actually do: a required
// field goes missing or a value has the wrong shape.
func (g *generator) corrupt(rec map[string]any) {
	switch g.opts.Kind {
	case canonical.KindProduct:
		if g.f.Bool() {
			delete(rec, "price")
		} else {
			rec["price"] = "N/A"
		}
	case canonical.KindCart:
		if g.f.Bool() {
			delete(rec, "date")
		} else if lines, ok := rec["products"].([]map[string]any); ok && len(lines) > 0 {
			lines[0]["quantity"] = 0
		}
	case canonical.KindUser:
		delete(rec, "email")
	}
}
