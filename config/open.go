package config

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"go.uber.org/multierr"

	"github.com/langgraph-go/stategraph/checkpoint"
	"github.com/langgraph-go/stategraph/graph"
	"github.com/langgraph-go/stategraph/store"
	"github.com/langgraph-go/stategraph/telemetry"
)

// Logger returns a stdr logger writing to w at the configured verbosity.
func (s *Settings) Logger(w io.Writer) logr.Logger {
	if w == nil {
		w = os.Stderr
	}
	stdr.SetVerbosity(s.LogVerbosity)
	return stdr.New(log.New(w, "", log.LstdFlags))
}

// CompileOptions validates the settings, opens the configured backends and
// telemetry, and returns the matching compile options. The returned function
// releases everything that was opened.
func (s *Settings) CompileOptions(ctx context.Context, logger logr.Logger) ([]graph.CompileOption, func(context.Context) error, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid settings: %w", err)
	}
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	var closers []func(context.Context) error
	release := func(ctx context.Context) error {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, closers[i](ctx))
		}
		return errs
	}
	fail := func(err error) ([]graph.CompileOption, func(context.Context) error, error) {
		return nil, nil, multierr.Append(err, release(ctx))
	}

	opts := []graph.CompileOption{
		graph.WithRecursionLimit(s.RecursionLimit),
		graph.WithMaxConcurrency(s.MaxConcurrency),
		graph.WithLogger(logger),
	}

	saver, closeSaver, err := openCheckpointer(ctx, s.Checkpointer)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeSaver)
	opts = append(opts, graph.WithCheckpointer(saver))

	st, closeStore, err := openStore(ctx, s.Store)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeStore)
	opts = append(opts, graph.WithStore(st))

	if t := s.Telemetry; t.Enabled {
		cfg := telemetry.DefaultConfig()
		cfg.ServiceName = t.ServiceName
		cfg.Exporter = t.Exporter
		cfg.Insecure = t.Insecure
		cfg.Logger = logger
		if t.Endpoint != "" {
			cfg.Endpoint = t.Endpoint
		}
		tel, shutdown, err := telemetry.Init(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, shutdown)
		opts = append(opts, graph.WithTelemetry(tel))
	}

	logger.V(1).Info("settings applied",
		"checkpointer", s.Checkpointer.Backend,
		"store", s.Store.Backend,
		"telemetry", s.Telemetry.Enabled,
		"recursion_limit", s.RecursionLimit,
	)
	return opts, release, nil
}

func noClose(context.Context) error { return nil }

func openCheckpointer(ctx context.Context, b *Backend) (checkpoint.Checkpointer, func(context.Context) error, error) {
	switch b.Backend {
	case BackendSqlite:
		saver, err := checkpoint.NewSqliteSaver(b.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite checkpointer: %w", err)
		}
		return saver, func(context.Context) error { return saver.Close() }, nil
	case BackendPostgres:
		saver, err := checkpoint.NewPostgresSaver(ctx, b.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres checkpointer: %w", err)
		}
		return saver, func(context.Context) error { return saver.Close() }, nil
	}
	return checkpoint.NewMemorySaver(), noClose, nil
}

func openStore(ctx context.Context, b *Backend) (store.Store, func(context.Context) error, error) {
	switch b.Backend {
	case BackendSqlite:
		st, err := store.NewSqliteStore(b.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, func(context.Context) error { return st.Close() }, nil
	case BackendPostgres:
		st, err := store.NewPostgresStore(ctx, b.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, func(context.Context) error { return st.Close() }, nil
	}
	return store.NewInMemoryStore(), noClose, nil
}
