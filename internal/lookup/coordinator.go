// Package lookup coordinates debounced, cancellable, cached place lookups for
// a stream of query updates.
//
// A Coordinator lives on a schedule.Loop. Decode and Cancel must be called
// from that loop (DecodeAsync and CancelAsync marshal from elsewhere), and
// every callback it makes runs on that loop. Only the latest callback passed
// to Decode is ever invoked; superseded callbacks are dropped silently.
package lookup

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/place-lookup-service/internal/cache"
	"github.com/couchcryptid/place-lookup-service/internal/domain"
	"github.com/couchcryptid/place-lookup-service/internal/observability"
	"github.com/couchcryptid/place-lookup-service/internal/schedule"
)

// Defaults for the coordinator tunables.
const (
	DefaultMinRequestDelay = time.Second
	DefaultMinQueryLength  = 2
)

// ResultHandler receives the places for a query, or nil when there are none.
// It is never handed an empty non-nil slice.
type ResultHandler func(places []domain.GeocodePlace)

// State is the coordinator's position in its request lifecycle.
type State int

const (
	Idle State = iota
	Debouncing
	BackendInFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case BackendInFlight:
		return "backend_in_flight"
	default:
		return "unknown"
	}
}

// Coordinator debounces query updates, answers repeated queries from its
// cache, and keeps at most one backend lookup in flight.
type Coordinator struct {
	loop     *schedule.Loop
	searcher domain.Searcher
	cache    *cache.Results
	logger   *slog.Logger
	metrics  *observability.Metrics

	minRequestDelay time.Duration
	minQueryLength  int

	handler  ResultHandler
	pending  *schedule.Handle
	inflight context.CancelFunc
	// generation changes whenever the active request path is torn down, so a
	// late completion can tell it has been superseded.
	generation uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMinRequestDelay sets the quiet period before a backend lookup is issued.
func WithMinRequestDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.minRequestDelay = d }
}

// WithMinQueryLength sets the shortest normalized query worth looking up.
func WithMinQueryLength(n int) Option {
	return func(c *Coordinator) { c.minQueryLength = n }
}

// WithCacheSize bounds the result cache.
func WithCacheSize(n int) Option {
	return func(c *Coordinator) { c.cache = cache.NewResults(n) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics records coordinator activity on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New creates a Coordinator that schedules on loop and resolves queries with searcher.
func New(loop *schedule.Loop, searcher domain.Searcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		loop:            loop,
		searcher:        searcher,
		minRequestDelay: DefaultMinRequestDelay,
		minQueryLength:  DefaultMinQueryLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = cache.NewResults(cache.DefaultMaxEntries)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.metrics == nil {
		c.metrics = observability.NewMetricsForTesting()
	}
	return c
}

// MinRequestDelay returns the debounce interval.
func (c *Coordinator) MinRequestDelay() time.Duration { return c.minRequestDelay }

// SetMinRequestDelay changes the debounce interval for lookups scheduled from now on.
func (c *Coordinator) SetMinRequestDelay(d time.Duration) { c.minRequestDelay = d }

// MinQueryLength returns the minimum normalized query length.
func (c *Coordinator) MinQueryLength() int { return c.minQueryLength }

// SetMinQueryLength changes the minimum normalized query length.
func (c *Coordinator) SetMinQueryLength(n int) { c.minQueryLength = n }

// State reports whether a lookup is being debounced or is in flight.
func (c *Coordinator) State() State {
	switch {
	case c.inflight != nil:
		return BackendInFlight
	case c.pending.Pending():
		return Debouncing
	default:
		return Idle
	}
}

// Decode registers onResult as the current callback and answers query.
//
// Queries shorter than the minimum length are answered with nil at once, and
// cached queries with their cached places; both happen synchronously. Any
// other query is looked up once no newer Decode has arrived for the debounce
// interval. Every Decode tears down the previous pending or in-flight lookup.
func (c *Coordinator) Decode(query string, onResult ResultHandler) {
	c.handler = onResult
	q := domain.NormalizeQuery(query)

	// Short queries supersede pending work too, so a slow answer for an older,
	// longer query can never reach the new callback.
	c.Cancel()

	if domain.QueryLength(q) < c.minQueryLength {
		c.metrics.ShortQueries.Inc()
		c.complete(nil)
		return
	}

	if places, ok := c.cache.Get(q); ok {
		c.metrics.LookupCache.WithLabelValues("hit").Inc()
		c.complete(places)
		return
	}
	c.metrics.LookupCache.WithLabelValues("miss").Inc()

	gen := c.generation
	c.pending = c.loop.After(c.minRequestDelay, func() {
		c.start(q, gen)
	})
}

// Cancel tears down the pending debounce timer and asks any in-flight backend
// call to stop. The cache and the registered callback are left alone.
func (c *Coordinator) Cancel() {
	if c.pending.Pending() || c.inflight != nil {
		c.metrics.Superseded.Inc()
	}
	c.pending.Cancel()
	c.pending = nil
	if c.inflight != nil {
		c.inflight()
		c.inflight = nil
	}
	c.generation++
}

// DecodeAsync posts a Decode onto the coordinator's loop. It returns false if
// the loop has stopped.
func (c *Coordinator) DecodeAsync(query string, onResult ResultHandler) bool {
	return c.loop.Post(func() { c.Decode(query, onResult) })
}

// CancelAsync posts a Cancel onto the coordinator's loop.
func (c *Coordinator) CancelAsync() bool {
	return c.loop.Post(c.Cancel)
}

// start runs on the loop when the debounce timer fires.
func (c *Coordinator) start(query string, gen uint64) {
	c.pending = nil
	if gen != c.generation {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.inflight = cancel
	begin := c.loop.Clock().Now()

	c.logger.Debug("starting lookup", "query", query)
	go func() {
		places, err := c.searcher.Search(ctx, query)
		if !c.loop.Post(func() { c.finish(query, gen, begin, places, err) }) {
			cancel()
		}
	}()
}

// finish runs on the loop when the backend call returns.
func (c *Coordinator) finish(query string, gen uint64, begin time.Time, places []domain.GeocodePlace, err error) {
	if gen != c.generation {
		c.metrics.LookupRequests.WithLabelValues(observability.OutcomeStale).Inc()
		c.logger.Debug("discarding superseded lookup", "query", query)
		return
	}
	c.inflight()
	c.inflight = nil
	c.metrics.BackendDuration.Observe(c.loop.Clock().Since(begin).Seconds())

	if err != nil {
		if !domain.IsNotFound(err) {
			// The caller gets no answer for this query; a newer Decode supersedes it.
			c.metrics.LookupRequests.WithLabelValues(observability.OutcomeError).Inc()
			c.logger.Warn("lookup failed", "query", query, "error", err)
			return
		}
		c.metrics.LookupRequests.WithLabelValues(observability.OutcomeNotFound).Inc()
		places = nil
	} else if len(places) == 0 {
		c.metrics.LookupRequests.WithLabelValues(observability.OutcomeEmpty).Inc()
	} else {
		c.metrics.LookupRequests.WithLabelValues(observability.OutcomeSuccess).Inc()
	}

	c.cache.Put(query, places)
	c.complete(places)
}

func (c *Coordinator) complete(places []domain.GeocodePlace) {
	if c.handler == nil {
		return
	}
	if len(places) == 0 {
		c.handler(nil)
		return
	}
	c.handler(places)
}
