package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vk/amqpgrid/internal/ctxlog"
	"github.com/vk/amqpgrid/internal/scenario"
)

// App encapsulates the application's dependencies, configuration and
// lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *Config
	sc     *scenario.Scenario
}

// NewApp loads the scenario named by the config and returns a fully
// initialized App with its own isolated logger.
func NewApp(outW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	sc, err := scenario.Load(ctx, cfg.ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("loading scenario: %w", err)
	}
	logger.Debug("scenario loaded", "path", cfg.ScenarioPath)

	return &App{
		outW:   outW,
		logger: logger,
		cfg:    cfg,
		sc:     sc,
	}, nil
}

// Scenario returns the loaded scenario. This is primarily for testing.
func (a *App) Scenario() *scenario.Scenario {
	return a.sc
}

// Report is the outcome of one run, per step.
type Report struct {
	Published map[string]int64
	Consumed  map[string]int64
	Elapsed   time.Duration
}

func (r *Report) write(w io.Writer) {
	fmt.Fprintf(w, "run finished in %s\n", r.Elapsed.Round(time.Millisecond))
	for name, n := range r.Published {
		fmt.Fprintf(w, "  published %-20s %d\n", name, n)
	}
	for name, n := range r.Consumed {
		fmt.Fprintf(w, "  consumed  %-20s %d\n", name, n)
	}
}
