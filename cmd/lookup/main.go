// Command lookup is an interactive place search. Each line read from stdin is
// treated as the latest text of a search box; answers are printed as they
// resolve, so typing quickly produces a single lookup.
//
// Usage:
//
//	MAPBOX_TOKEN=... go run ./cmd/lookup -delay 500ms -min-length 3
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/place-lookup-service/internal/adapter/mapbox"
	"github.com/couchcryptid/place-lookup-service/internal/domain"
	"github.com/couchcryptid/place-lookup-service/internal/lookup"
	"github.com/couchcryptid/place-lookup-service/internal/observability"
	"github.com/couchcryptid/place-lookup-service/internal/schedule"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/jonboulle/clockwork"
)

type options struct {
	delay     time.Duration
	minLength int
	limit     int
	timeout   time.Duration
	verbose   bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "lookup:", err)
		os.Exit(2)
	}

	token := sharedcfg.EnvOrDefault("MAPBOX_TOKEN", "")
	if token == "" {
		fmt.Fprintln(os.Stderr, "lookup: MAPBOX_TOKEN is required")
		os.Exit(1)
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	client := mapbox.NewClient(token, opts.limit, opts.timeout, observability.NewMetricsForTesting(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout, client, clockwork.NewRealClock(), logger); err != nil {
		fmt.Fprintln(os.Stderr, "lookup:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.DurationVar(&opts.delay, "delay", lookup.DefaultMinRequestDelay, "quiet period before a query is sent")
	fs.IntVar(&opts.minLength, "min-length", lookup.DefaultMinQueryLength, "shortest query worth looking up")
	fs.IntVar(&opts.limit, "limit", 5, "maximum places per answer (1-10)")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Second, "mapbox request timeout")
	fs.BoolVar(&opts.verbose, "v", false, "log debug output to stderr")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.limit < 1 || opts.limit > 10 {
		return options{}, fmt.Errorf("-limit must be between 1 and 10, got %d", opts.limit)
	}
	if opts.delay < 0 {
		return options{}, fmt.Errorf("-delay must not be negative, got %s", opts.delay)
	}
	return opts, nil
}

// run feeds every input line to one coordinator and prints answers as they
// resolve. Once input is exhausted it waits for the last query to settle.
func run(ctx context.Context, opts options, in io.Reader, out io.Writer, searcher domain.Searcher, clock clockwork.Clock, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := schedule.NewLoop(clock)
	coord := lookup.New(loop, searcher,
		lookup.WithMinRequestDelay(opts.delay),
		lookup.WithMinQueryLength(opts.minLength),
		lookup.WithLogger(logger),
	)

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	err := feed(ctx, in, out, loop, coord)
	cancel()
	if loopErr := <-loopDone; err == nil {
		err = loopErr
	}
	return err
}

func feed(ctx context.Context, in io.Reader, out io.Writer, loop *schedule.Loop, coord *lookup.Coordinator) error {
	printer := func(query string) lookup.ResultHandler {
		return func(places []domain.GeocodePlace) {
			printPlaces(out, query, places)
		}
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if !coord.DecodeAsync(line, printer(domain.NormalizeQuery(line))) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	// Input closed: let the last query resolve, then exit.
	if err := waitIdle(ctx, loop, coord); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// waitIdle polls the coordinator from its loop until nothing is pending.
func waitIdle(ctx context.Context, loop *schedule.Loop, coord *lookup.Coordinator) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		var state lookup.State
		if err := loop.Do(ctx, func() { state = coord.State() }); err != nil {
			return err
		}
		if state == lookup.Idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printPlaces(w io.Writer, query string, places []domain.GeocodePlace) {
	if places == nil {
		fmt.Fprintf(w, "%q: no places\n", query)
		return
	}
	fmt.Fprintf(w, "%q: %d places\n", query, len(places))
	enc := json.NewEncoder(w)
	enc.SetIndent("  ", "  ")
	for _, p := range places {
		fmt.Fprint(w, "  ")
		_ = enc.Encode(p)
	}
}
