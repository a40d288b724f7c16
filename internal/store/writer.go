// Package store persists canonical records into the destination tables with
// key-based idempotent upserts.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm/clause"

	"entitysync/internal/canonical"
	perrors "entitysync/internal/errors"
	"entitysync/internal/stream"
)

// Writer issues one multi-row upsert per call. The whole batch lands or
// none of it does.
type Writer struct {
	client *Client
}

func NewWriter(c *Client) *Writer { return &Writer{client: c} }

// Upsert writes rows of kind, which must be []canonical.Product,
// []canonical.CartItem or []canonical.User, and returns rows affected.
func (w *Writer) Upsert(ctx context.Context, kind canonical.Kind, rows any) (int64, error) {
	switch kind {
	case canonical.KindProduct:
		if typed, ok := rows.([]canonical.Product); ok {
			return ProductSink{w}.Upsert(ctx, typed)
		}
	case canonical.KindCart:
		if typed, ok := rows.([]canonical.CartItem); ok {
			return CartItemSink{w}.Upsert(ctx, typed)
		}
	case canonical.KindUser:
		if typed, ok := rows.([]canonical.User); ok {
			return UserSink{w}.Upsert(ctx, typed)
		}
	}
	return 0, perrors.Newf(perrors.CodeInternal, "cannot upsert %T as %s", rows, kind)
}

// upsert collapses rows by key (last wins) so one statement never touches
// the same row twice, then writes INSERT ... ON CONFLICT (keys) DO UPDATE.
func upsert[R any](ctx context.Context, w *Writer, table string, rows []R, key func(R) string, keys, columns []string) (int64, error) {
	rows = stream.Dedup(rows, key)
	if len(rows) == 0 {
		return 0, nil
	}
	conflict := make([]clause.Column, len(keys))
	for i, k := range keys {
		conflict[i] = clause.Column{Name: k}
	}
	res := w.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{Columns: conflict, DoUpdates: clause.AssignmentColumns(columns)}).
		Create(&rows)
	if res.Error != nil {
		return 0, classify(res.Error, fmt.Sprintf("upsert %d rows into %s", len(rows), table))
	}
	return res.RowsAffected, nil
}

// ProductSink satisfies stream.Sink[canonical.Product].
type ProductSink struct{ w *Writer }

func NewProductSink(w *Writer) ProductSink { return ProductSink{w} }

func (s ProductSink) Upsert(ctx context.Context, products []canonical.Product) (int64, error) {
	rows := make([]ProductRow, len(products))
	for i, p := range products {
		rows[i] = productRow(p)
	}
	return upsert(ctx, s.w, "products", rows, func(r ProductRow) string { return fmt.Sprint(r.ID) },
		[]string{"id"}, productColumns)
}

// CartItemSink satisfies stream.Sink[canonical.CartItem].
type CartItemSink struct{ w *Writer }

func NewCartItemSink(w *Writer) CartItemSink { return CartItemSink{w} }

func (s CartItemSink) Upsert(ctx context.Context, items []canonical.CartItem) (int64, error) {
	rows := make([]CartItemRow, len(items))
	for i, it := range items {
		rows[i] = cartItemRow(it)
	}
	return upsert(ctx, s.w, "cart_items", rows, func(r CartItemRow) string { return fmt.Sprintf("%d:%d", r.CartID, r.ProductID) },
		[]string{"cart_id", "product_id"}, cartItemColumns)
}

// UserSink satisfies stream.Sink[canonical.User].
type UserSink struct{ w *Writer }

func NewUserSink(w *Writer) UserSink { return UserSink{w} }

func (s UserSink) Upsert(ctx context.Context, users []canonical.User) (int64, error) {
	rows := make([]UserRow, len(users))
	for i, u := range users {
		rows[i] = userRow(u)
	}
	return upsert(ctx, s.w, "users", rows, func(r UserRow) string { return fmt.Sprint(r.ID) },
		[]string{"id"}, userColumns)
}

var (
	_ stream.Sink[canonical.Product]  = ProductSink{}
	_ stream.Sink[canonical.CartItem] = CartItemSink{}
	_ stream.Sink[canonical.User]     = UserSink{}
)

// classify maps integrity failures (SQLSTATE class 23) to
// CONSTRAINT_VIOLATION and everything else to a retryable WRITE_ERROR.
func classify(err error, msg string) error {
	if isConstraintViolation(err) {
		return perrors.Wrap(perrors.CodeConstraintViolation, err, msg)
	}
	return perrors.Wrap(perrors.CodeWrite, err, msg)
}

func isConstraintViolation(err error) bool {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return strings.HasPrefix(pgxErr.Code, "23")
	}
	// sqlite reports integrity failures as "<KIND> constraint failed".
	return strings.Contains(strings.ToLower(err.Error()), "constraint failed")
}
