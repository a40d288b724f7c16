package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitysync/internal/canonical"
	"entitysync/internal/deadletter"
	perrors "entitysync/internal/errors"
	"entitysync/internal/retry"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, Interval: time.Second, Sleep: func(context.Context, time.Duration) error { return nil }}
}

func product(id int64, title, price string) canonical.Product {
	return canonical.Product{ID: id, Title: title, Price: decimal.RequireFromString(price), Source: "fakestore"}
}

type productRun struct {
	source *fakeSource
	sink   *fakeSink[canonical.Product]
	dl     *deadletter.InMemoryStore
	proc   *Processor[canonical.Product, canonical.Product]
}

func newProductRun(cancel context.CancelFunc, steps ...fetchStep) *productRun {
	r := &productRun{
		source: &fakeSource{steps: steps, onDrained: cancel},
		sink:   newFakeSink(ProductStrategy{}.Key),
		dl:     deadletter.NewInMemoryStore(),
	}
	r.proc = New[canonical.Product, canonical.Product](ProductStrategy{}, r.source, r.sink, Options{
		WritePolicy: fastPolicy(3),
		DeadLetters: r.dl,
	})
	return r
}

func TestProcessorSkipsMalformedRecordAndWritesTheRest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	batch := messages(t,
		product(1, "a", "10"),
		product(2, "b", "60"),
		`{"id":3,"title":"c","source":"fakestore"}`,
		product(4, "d", "100"),
		product(5, "e", "5"),
	)
	r := newProductRun(cancel, fetchStep{msgs: batch})

	require.NoError(t, r.proc.Run(ctx))

	rows := r.sink.snapshot()
	assert.Len(t, rows, 4)
	assert.NotContains(t, rows, "3")
	assert.Equal(t, canonical.PriceMoyen, rows["2"].PriceCategory)
	assert.Equal(t, canonical.PricePremium, rows["4"].PriceCategory)
	assert.Equal(t, 1, r.dl.Len())
	require.Len(t, r.source.committed, 1)
	assert.Len(t, r.source.committed[0], 5, "skipped records are committed with the batch")
	assert.Equal(t, StateStopped, r.proc.State())
	assert.True(t, r.source.closed)
}

func TestProcessorLastDuplicateInBatchWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newProductRun(cancel, fetchStep{msgs: messages(t,
		product(1, "old", "10"),
		product(2, "other", "20"),
		product(1, "new", "12"),
	)})

	require.NoError(t, r.proc.Run(ctx))

	require.Len(t, r.sink.lastBatch, 2)
	assert.Equal(t, "new", r.sink.snapshot()["1"].Title)
	assert.Equal(t, 1, r.sink.calls)
}

func TestProcessorRetriesTransientWriteFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newProductRun(cancel, fetchStep{msgs: messages(t, product(1, "a", "10"))})
	r.sink.failures = 2

	require.NoError(t, r.proc.Run(ctx))

	assert.Equal(t, 3, r.sink.calls)
	assert.Len(t, r.sink.snapshot(), 1)
	assert.Len(t, r.source.committed, 1)
}

func TestProcessorRedeliveryIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	batch := messages(t, product(1, "a", "10"), product(2, "b", "20"))
	r := newProductRun(cancel, fetchStep{msgs: batch}, fetchStep{msgs: batch})

	require.NoError(t, r.proc.Run(ctx))

	assert.Equal(t, 2, r.sink.calls)
	rows := r.sink.snapshot()
	assert.Len(t, rows, 2)
	assert.Equal(t, "b", rows["2"].Title)
}

func TestProcessorWriteExhaustionIsFatal(t *testing.T) {
	r := newProductRun(nil, fetchStep{msgs: messages(t, product(7, "a", "10"), product(8, "b", "10"))})
	r.sink.failures = 100

	err := r.proc.Run(context.Background())

	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.CodeWrite))
	var exhausted *retry.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
	typed := perrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, "products", typed.Kind)
	assert.NotEmpty(t, typed.BatchID)
	assert.Equal(t, []string{"7", "8"}, typed.Keys)
	assert.Equal(t, 3, r.sink.calls)
	assert.Empty(t, r.source.committed, "a failed batch is never committed")
	assert.Equal(t, 2, r.dl.Len())
	assert.Equal(t, StateStopped, r.proc.State())
}

func TestFatalBatchDeadLettersEachMessageOnce(t *testing.T) {
	r := newProductRun(nil, fetchStep{msgs: messages(t,
		product(7, "a", "10"),
		`{"id":8,"title":"b","source":"fakestore"}`,
	)})
	r.sink.failures = 100

	require.Error(t, r.proc.Run(context.Background()))

	reasons := map[int64]string{}
	require.NoError(t, r.dl.Range("products", func(e deadletter.Entry) error {
		var rec struct {
			ID int64 `json:"id"`
		}
		require.NoError(t, json.Unmarshal(e.Payload, &rec))
		_, seen := reasons[rec.ID]
		assert.False(t, seen, "record %d dead-lettered twice", rec.ID)
		reasons[rec.ID] = e.Reason
		return nil
	}))
	assert.Equal(t, map[int64]string{
		7: deadletter.ReasonFatalBatch,
		8: deadletter.ReasonMalformed,
	}, reasons)
}

func TestProcessorConstraintViolationIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := &fakeSource{steps: []fetchStep{{msgs: messages(t, canonical.User{ID: 1, Email: "a@b.c", Source: "fakestore"})}}, onDrained: cancel}
	sink := newFakeSink(UserStrategy{}.Key)
	sink.violation = true
	proc := New[canonical.User, canonical.User](UserStrategy{}, source, sink, Options{WritePolicy: fastPolicy(5)})

	err := proc.Run(ctx)

	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.CodeConstraintViolation))
	assert.Contains(t, err.Error(), "kind=users")
	assert.Contains(t, err.Error(), "keys=1")
	assert.Equal(t, 1, sink.calls)
	assert.Empty(t, source.committed)
}

func TestProcessorFinishesInFlightBatchOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newProductRun(nil,
		fetchStep{msgs: messages(t, product(1, "a", "10"))},
		fetchStep{msgs: messages(t, product(2, "never", "10"))},
	)
	r.sink.onUpsert = func(context.Context) { cancel() }

	require.NoError(t, r.proc.Run(ctx))

	assert.Equal(t, 1, r.sink.calls, "no new batch is fetched after cancellation")
	assert.Contains(t, r.sink.snapshot(), "1")
	assert.Len(t, r.source.committed, 1)
	assert.Equal(t, StateStopped, r.proc.State())
}

func TestProcessorWritesPartialBatchFetchedBeforeCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newProductRun(nil, fetchStep{
		msgs:   messages(t, product(1, "a", "10"), product(2, "b", "10")),
		err:    context.Canceled,
		before: cancel,
	})

	require.NoError(t, r.proc.Run(ctx))

	assert.Equal(t, 1, r.sink.calls)
	assert.Len(t, r.sink.snapshot(), 2)
	assert.Len(t, r.source.committed, 1)
}

func TestProcessorDoesNothingWhenAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newProductRun(nil, fetchStep{msgs: messages(t, product(1, "a", "10"))})

	require.NoError(t, r.proc.Run(ctx))

	assert.Equal(t, 0, r.sink.calls)
	assert.True(t, r.source.closed)
}

func TestProcessorReconnectsAfterFetchFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newProductRun(cancel,
		fetchStep{err: errors.New("broker went away")},
		fetchStep{msgs: messages(t, product(1, "a", "10"))},
	)

	require.NoError(t, r.proc.Run(ctx))

	assert.Equal(t, 1, r.source.reconnects)
	assert.Len(t, r.sink.snapshot(), 1)
}

func TestProcessorReconnectExhaustionIsFatal(t *testing.T) {
	r := newProductRun(nil, fetchStep{err: errors.New("broker went away")})
	r.source.reconnectErr = &retry.ExhaustedError{Op: "reconnect", Attempts: 10, Last: errors.New("dial tcp: refused")}

	err := r.proc.Run(context.Background())

	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.CodeConnection))
	assert.Contains(t, err.Error(), "kind=products")
}

func TestCartProcessorExplodesLines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	date := time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC)
	cart := canonical.Cart{ID: 1, UserID: 3, Date: date, Source: "fakestore", Products: []canonical.CartLine{
		{ProductID: 10, Quantity: 2},
		{ProductID: 11, Quantity: 1},
		{ProductID: 10, Quantity: 5},
	}}
	source := &fakeSource{steps: []fetchStep{{msgs: messages(t, cart)}}, onDrained: cancel}
	sink := newFakeSink(CartStrategy{}.Key)
	proc := New[canonical.Cart, canonical.CartItem](CartStrategy{}, source, sink, Options{WritePolicy: fastPolicy(1)})

	require.NoError(t, proc.Run(ctx))

	rows := sink.snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, int64(5), rows["1:10"].Quantity)
	assert.Equal(t, "Monday", rows["1:11"].DayOfWeek)
	assert.Equal(t, "March", rows["1:11"].Month)
	assert.Equal(t, int64(3), rows["1:11"].UserID)
}

func TestWorkersFailIndependently(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failing := newProductRun(nil, fetchStep{msgs: messages(t, product(1, "a", "10"))})
	failing.sink.violation = true

	userSource := &fakeSource{}
	userSink := newFakeSink(UserStrategy{}.Key)
	users := New[canonical.User, canonical.User](UserStrategy{}, userSource, userSink, Options{WritePolicy: fastPolicy(1)})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = failing.proc.Run(ctx) }()
	go func() { defer wg.Done(); errs[1] = users.Run(ctx) }()

	require.Eventually(t, func() bool { return failing.proc.State() == StateStopped }, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, StateStopped, users.State(), "sibling keeps running")
	cancel()
	wg.Wait()

	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestStrategiesRejectInvalidPayloads(t *testing.T) {
	cases := map[string]func() error{
		"product price": func() error { _, err := ProductStrategy{}.Decode([]byte(`{"id":1,"title":"a","source":"s"}`)); return err },
		"cart date":     func() error { _, err := CartStrategy{}.Decode([]byte(`{"cart_id":1,"user_id":1,"products":[],"source":"s"}`)); return err },
		"user email":    func() error { _, err := UserStrategy{}.Decode([]byte(`{"id":1,"email":null,"source":"s"}`)); return err },
		"not an object": func() error { _, err := UserStrategy{}.Decode([]byte(`[1]`)); return err },
		"rating above 5": func() error {
			_, err := ProductStrategy{}.Decode([]byte(`{"id":1,"title":"a","price":1,"rating_value":6,"source":"s"}`))
			return err
		},
		"zero quantity": func() error {
			_, err := CartStrategy{}.Decode([]byte(`{"cart_id":1,"user_id":1,"date":"2020-03-02T00:00:00Z","products":[{"product_id":1,"quantity":0}],"source":"s"}`))
			return err
		},
		"empty cart": func() error {
			_, err := CartStrategy{}.Decode([]byte(`{"cart_id":1,"user_id":1,"date":"2020-03-02T00:00:00Z","products":[],"source":"s"}`))
			return err
		},
	}
	for name, fn := range cases {
		err := fn()
		assert.True(t, perrors.IsCode(err, perrors.CodeMalformedRecord), fmt.Sprintf("%s: %v", name, err))
	}
}
