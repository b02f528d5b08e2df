package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/place-lookup-service/internal/domain"
	"github.com/couchcryptid/place-lookup-service/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// UpdateExtractor reads the next raw query update from the source.
type UpdateExtractor interface {
	Extract(ctx context.Context) (domain.RawUpdate, error)
}

// Dispatcher applies a query update to its session.
type Dispatcher interface {
	Dispatch(ctx context.Context, u domain.QueryUpdate) error
}

// ResultSource hands out lookup results as sessions resolve them.
type ResultSource interface {
	Next(ctx context.Context) (domain.LookupResult, error)
	Drain(max int) []domain.LookupResult
}

// ResultLoader writes lookup results to the destination.
type ResultLoader interface {
	LoadBatch(ctx context.Context, results []domain.LookupResult) error
}

// Pipeline moves query updates into the session manager and lookup results
// back out.
type Pipeline struct {
	extractor  UpdateExtractor
	dispatcher Dispatcher
	results    ResultSource
	loader     ResultLoader
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
	batchSize  int
}

// New creates a Pipeline with the given stages and observability.
func New(e UpdateExtractor, d Dispatcher, src ResultSource, l ResultLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Pipeline{
		extractor:  e,
		dispatcher: d,
		results:    src,
		loader:     l,
		logger:     logger,
		metrics:    metrics,
		batchSize:  batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has dispatched at least one
// update.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not dispatched any updates yet")
	}
	return nil
}

// Run executes the intake and output loops until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.runIntake(ctx) })
	g.Go(func() error { return p.runOutput(ctx) })
	err := g.Wait()

	p.logger.Info("pipeline stopping", "reason", context.Cause(ctx))
	return err
}

func (p *Pipeline) runIntake(ctx context.Context) error {
	backoff := initialBackoff
	for ctx.Err() == nil {
		if !p.processUpdate(ctx, &backoff) {
			return nil
		}
	}
	return nil
}

// processUpdate runs one extract-dispatch-commit cycle. Returns false if the
// pipeline should stop.
func (p *Pipeline) processUpdate(ctx context.Context, backoff *time.Duration) bool {
	raw, err := p.extractor.Extract(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract update failed", "error", err)
		return backoffOrStop(ctx, backoff)
	}
	*backoff = initialBackoff
	p.metrics.UpdatesConsumed.Inc()

	update, err := domain.ParseQueryUpdate(raw.Value)
	if err != nil {
		p.logger.Warn("invalid query update, skipping message",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.DispatchErrors.Inc()
		p.commitOffset(ctx, raw)
		return true
	}

	// Retry the same update until it is dispatched; it is committed only then.
	for {
		err := p.dispatcher.Dispatch(ctx, update)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("dispatch failed", "error", err, "session_id", update.SessionID)
		p.metrics.DispatchErrors.Inc()
		if !backoffOrStop(ctx, backoff) {
			return false
		}
	}
	*backoff = initialBackoff

	p.ready.Store(true)
	p.commitOffset(ctx, raw)
	return true
}

func (p *Pipeline) runOutput(ctx context.Context) error {
	backoff := initialBackoff
	for {
		first, err := p.results.Next(ctx)
		if err != nil {
			return nil
		}
		batch := append([]domain.LookupResult{first}, p.results.Drain(p.batchSize-1)...)

		for {
			err := p.loader.LoadBatch(ctx, batch)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("load batch failed", "error", err, "batch_size", len(batch))
			if !backoffOrStop(ctx, &backoff) {
				return nil
			}
		}
		backoff = initialBackoff
		p.metrics.ResultsProduced.Add(float64(len(batch)))
	}
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawUpdate) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the pipeline should stop.
func backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
