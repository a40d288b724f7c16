package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"entitysync/internal/deadletter"
	perrors "entitysync/internal/errors"
	"entitysync/internal/logger"
	"entitysync/internal/metrics"
	"entitysync/internal/retry"
)

const defaultWriteTimeout = 30 * time.Second

type Options struct {
	// Channel is recorded on dead-letter entries so they can be replayed.
	Channel string
	// WriteTimeout bounds each upsert attempt.
	WriteTimeout time.Duration
	WritePolicy  retry.Policy

	DeadLetters deadletter.Store
	Metrics     *metrics.Registry
	Logger      *logger.Logger
}

// Processor is one worker. It shares nothing with the workers of other
// kinds, so a fatal failure here leaves them running.
type Processor[In, Out any] struct {
	strategy Strategy[In, Out]
	source   Source
	sink     Sink[Out]
	opts     Options

	mu    sync.RWMutex
	state State
}

func New[In, Out any](strategy Strategy[In, Out], source Source, sink Sink[Out], opts Options) *Processor[In, Out] {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Channel == "" {
		opts.Channel = strategy.Kind().String()
	}
	return &Processor[In, Out]{strategy: strategy, source: source, sink: sink, opts: opts, state: StateIdle}
}

func (p *Processor[In, Out]) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Processor[In, Out]) setState(next State) {
	p.mu.Lock()
	prev := p.state
	p.state = next
	p.mu.Unlock()
	if prev != next {
		p.opts.Metrics.SetState(p.kind(), string(prev), string(next))
	}
}

func (p *Processor[In, Out]) kind() string { return p.strategy.Kind().String() }

// Run consumes until ctx is cancelled or a fatal error occurs. Cancellation
// only interrupts fetching: a batch already fetched is written and committed
// before Run returns nil. Fatal errors carry the kind, batch id and keys.
func (p *Processor[In, Out]) Run(ctx context.Context) error {
	log := p.opts.Logger
	ctx = log.WithField(ctx, "entity_kind", p.kind())
	defer func() {
		p.setState(StateStopped)
		if cerr := p.source.Close(); cerr != nil {
			log.Warn(log.WithField(ctx, "error", cerr.Error()), "closing source")
		}
	}()
	log.Info(ctx, "processor started")

	for {
		if ctx.Err() != nil {
			log.Info(ctx, "processor stopped")
			return nil
		}
		p.setState(StateFetching)
		msgs, ferr := p.source.FetchBatch(ctx)
		switch {
		case ferr == nil:
		case ctx.Err() != nil:
			// Shutdown during fetch; finish what was already read.
			if len(msgs) > 0 {
				if err := p.processBatch(context.WithoutCancel(ctx), msgs); err != nil {
					return err
				}
			}
			log.Info(ctx, "processor stopped")
			return nil
		default:
			log.Warn(log.WithField(ctx, "error", ferr.Error()), "fetch failed, reconnecting")
			if rerr := p.source.Reconnect(ctx); rerr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return perrors.Wrap(perrors.CodeConnection, rerr, "channel unreachable").
					WithBatch(p.kind(), "", nil)
			}
			continue
		}

		if len(msgs) == 0 {
			p.setState(StateIdle)
			continue
		}
		// The batch is in flight; cancellation must not abort it.
		if err := p.processBatch(context.WithoutCancel(ctx), msgs); err != nil {
			return err
		}
		p.setState(StateIdle)
	}
}

func (p *Processor[In, Out]) processBatch(ctx context.Context, msgs []Message) error {
	log, m, kind := p.opts.Logger, p.opts.Metrics, p.kind()
	start := time.Now()
	batchID := uuid.NewString()
	ctx = log.WithFields(ctx, map[string]any{"batch_id": batchID, "batch_size": len(msgs)})
	m.Add(metrics.CounterBatches, kind, 1)
	m.Add(metrics.CounterConsumed, kind, len(msgs))

	p.setState(StateEnriching)
	var records []Out
	// decoded excludes skipped messages, which are already dead-lettered.
	decoded := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		out, err := p.enrich(msg)
		if err != nil {
			p.skip(ctx, batchID, msg, err)
			continue
		}
		decoded = append(decoded, msg)
		records = append(records, out...)
	}
	skipped := len(msgs) - len(decoded)

	p.setState(StateDeduping)
	rows := Dedup(records, p.strategy.Key)
	m.Add(metrics.CounterDuplicates, kind, len(records)-len(rows))

	p.setState(StateWriting)
	if len(rows) > 0 {
		if err := p.write(ctx, batchID, rows); err != nil {
			m.Add(metrics.CounterFatal, kind, 1)
			p.deadLetterBatch(ctx, batchID, decoded, err)
			log.Error(ctx, "batch failed", err)
			return err
		}
	}

	if err := p.source.Commit(ctx, msgs); err != nil {
		m.Add(metrics.CounterFatal, kind, 1)
		werr := perrors.Wrap(perrors.CodeConnection, err, "commit offsets").WithBatch(kind, batchID, p.keys(rows))
		log.Error(ctx, "commit failed", werr)
		return werr
	}
	m.ObserveBatch(kind, time.Since(start))
	log.Info(log.WithFields(ctx, map[string]any{"rows": len(rows), "skipped": skipped}), "batch committed")
	return nil
}

func (p *Processor[In, Out]) enrich(msg Message) ([]Out, error) {
	in, err := p.strategy.Decode(msg.Value)
	if err != nil {
		return nil, err
	}
	out, err := p.strategy.Enrich(in)
	if err != nil {
		if perrors.As(err) == nil {
			err = perrors.Wrap(perrors.CodeMalformedRecord, err, "enrich")
		}
		return nil, err
	}
	return out, nil
}

// skip drops one malformed record from the batch without failing it.
func (p *Processor[In, Out]) skip(ctx context.Context, batchID string, msg Message, cause error) {
	log := p.opts.Logger
	p.opts.Metrics.Add(metrics.CounterSkipped, p.kind(), 1)
	log.Warn(log.WithFields(ctx, map[string]any{
		"error":     cause.Error(),
		"key":       string(msg.Key),
		"partition": msg.Partition,
		"offset":    msg.Offset,
	}), "skipping malformed record")
	if p.opts.DeadLetters == nil {
		return
	}
	e := deadletter.NewEntry(p.kind(), p.opts.Channel, deadletter.ReasonMalformed, cause, string(msg.Key), msg.Value)
	e.BatchID = batchID
	if err := p.opts.DeadLetters.Put(e); err != nil {
		log.Error(ctx, "dead-letter write failed", err)
	}
}

// write upserts rows, retrying transient failures. Constraint violations
// are never retried.
func (p *Processor[In, Out]) write(ctx context.Context, batchID string, rows []Out) error {
	log, kind := p.opts.Logger, p.kind()
	err := p.opts.WritePolicy.Do(ctx, "upsert "+kind, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			p.opts.Metrics.Add(metrics.CounterWriteRetries, kind, 1)
		}
		wctx, cancel := context.WithTimeout(ctx, p.opts.WriteTimeout)
		defer cancel()
		n, err := p.sink.Upsert(wctx, rows)
		if err == nil {
			p.opts.Metrics.Add(metrics.CounterUpserted, kind, int(n))
			return nil
		}
		if perrors.IsCode(err, perrors.CodeConstraintViolation) {
			return retry.Permanent(err)
		}
		log.Warn(log.WithFields(ctx, map[string]any{"attempt": attempt, "error": err.Error()}), "upsert failed")
		return err
	})
	if err == nil {
		return nil
	}
	code := perrors.CodeWrite
	msg := "write retries exhausted"
	var exhausted *retry.ExhaustedError
	switch {
	case perrors.IsCode(err, perrors.CodeConstraintViolation):
		code, msg = perrors.CodeConstraintViolation, "constraint violation"
	case !errors.As(err, &exhausted):
		msg = "write failed"
	}
	return perrors.Wrap(code, err, msg).WithBatch(kind, batchID, p.keys(rows))
}

// deadLetterBatch records the messages of a fatally failed batch so they
// can be replayed once the cause is fixed.
func (p *Processor[In, Out]) deadLetterBatch(ctx context.Context, batchID string, msgs []Message, cause error) {
	if p.opts.DeadLetters == nil {
		return
	}
	for _, msg := range msgs {
		e := deadletter.NewEntry(p.kind(), p.opts.Channel, deadletter.ReasonFatalBatch, cause, string(msg.Key), msg.Value)
		e.BatchID = batchID
		if err := p.opts.DeadLetters.Put(e); err != nil {
			p.opts.Logger.Error(ctx, fmt.Sprintf("dead-letter write failed for offset %d", msg.Offset), err)
			return
		}
	}
}

func (p *Processor[In, Out]) keys(rows []Out) []string {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = p.strategy.Key(r)
	}
	return keys
}
