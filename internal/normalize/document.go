package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Path is a dotted field path into a raw record, e.g. "rating.rate".
// The empty path means the source does not supply the field.
type Path string

// document is one decoded raw record.
type document map[string]any

func decodeDocument(raw []byte) (document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode: trailing data after record")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record is %s, not an object", jsonType(v))
	}
	return document(obj), nil
}

// shapeError reports a field present with the wrong JSON type.
type shapeError struct {
	path   Path
	reason string
}

func (e *shapeError) Error() string { return fmt.Sprintf("field %q: %s", e.path, e.reason) }

// lookup walks path. A missing or null field is reported as absent; an
// intermediate that exists but is not an object is a shape error.
func (d document) lookup(path Path) (any, bool, error) {
	if path == "" {
		return nil, false, nil
	}
	var cur any = map[string]any(d)
	segments := strings.Split(string(path), ".")
	for i, seg := range segments {
		obj, ok := cur.(map[string]any)
		if !ok {
			parent := Path(strings.Join(segments[:i], "."))
			return nil, false, &shapeError{path: parent, reason: fmt.Sprintf("expected object, got %s", jsonType(cur))}
		}
		next, ok := obj[seg]
		if !ok || next == nil {
			return nil, false, nil
		}
		cur = next
	}
	return cur, true, nil
}

func (d document) required(path Path) (any, error) {
	v, ok, err := d.lookup(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &shapeError{path: path, reason: "required field is missing"}
	}
	return v, nil
}

func toInt64(path Path, v any) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, &shapeError{path: path, reason: fmt.Sprintf("expected integer, got %s", jsonType(v))}
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil || !d.IsInteger() {
		return 0, &shapeError{path: path, reason: fmt.Sprintf("expected integer, got %s", n)}
	}
	// 1e3 and 5.0 are integers; anything past int64 is not a usable key.
	if !d.BigInt().IsInt64() {
		return 0, &shapeError{path: path, reason: fmt.Sprintf("integer %s out of range", n)}
	}
	return d.IntPart(), nil
}

func toDecimal(path Path, v any) (decimal.Decimal, error) {
	n, ok := v.(json.Number)
	if !ok {
		return decimal.Zero, &shapeError{path: path, reason: fmt.Sprintf("expected number, got %s", jsonType(v))}
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, &shapeError{path: path, reason: fmt.Sprintf("bad number %s", n)}
	}
	return d, nil
}

// toString accepts strings and numbers; zip codes and phones arrive as both.
func toString(path Path, v any) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case json.Number:
		return t.String(), nil
	}
	return "", &shapeError{path: path, reason: fmt.Sprintf("expected string, got %s", jsonType(v))}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func toTime(path Path, v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, &shapeError{path: path, reason: fmt.Sprintf("expected timestamp string, got %s", jsonType(v))}
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &shapeError{path: path, reason: fmt.Sprintf("unparseable timestamp %q", s)}
}

func (d document) requiredInt64(path Path) (int64, error) {
	v, err := d.required(path)
	if err != nil {
		return 0, err
	}
	return toInt64(path, v)
}

func (d document) optionalInt64(path Path) (int64, error) {
	v, ok, err := d.lookup(path)
	if err != nil || !ok {
		return 0, err
	}
	return toInt64(path, v)
}

func (d document) requiredDecimal(path Path) (decimal.Decimal, error) {
	v, err := d.required(path)
	if err != nil {
		return decimal.Zero, err
	}
	return toDecimal(path, v)
}

func (d document) optionalDecimal(path Path) (decimal.Decimal, error) {
	v, ok, err := d.lookup(path)
	if err != nil || !ok {
		return decimal.Zero, err
	}
	return toDecimal(path, v)
}

func (d document) requiredString(path Path) (string, error) {
	v, err := d.required(path)
	if err != nil {
		return "", err
	}
	s, err := toString(path, v)
	if err == nil && s == "" {
		return "", &shapeError{path: path, reason: "required field is empty"}
	}
	return s, err
}

func (d document) optionalString(path Path) (string, error) {
	v, ok, err := d.lookup(path)
	if err != nil || !ok {
		return "", err
	}
	return toString(path, v)
}

func (d document) requiredTime(path Path) (time.Time, error) {
	v, err := d.required(path)
	if err != nil {
		return time.Time{}, err
	}
	return toTime(path, v)
}

func (d document) objects(path Path) ([]document, error) {
	v, err := d.required(path)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, &shapeError{path: path, reason: fmt.Sprintf("expected array, got %s", jsonType(v))}
	}
	out := make([]document, 0, len(arr))
	for i, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			return nil, &shapeError{path: Path(fmt.Sprintf("%s[%d]", path, i)), reason: fmt.Sprintf("expected object, got %s", jsonType(el))}
		}
		out = append(out, document(obj))
	}
	return out, nil
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}
