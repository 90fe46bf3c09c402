package engine

import (
	"log/slog"
	"time"

	"github.com/Strob0t/EvalForge/engine/stream"
)

// Defaults for the scheduler's concurrency caps and shutdown behavior.
const (
	DefaultMaxConcurrency       = 10
	DefaultMaxMetricConcurrency = 5
	DefaultShutdownGrace        = 30 * time.Second
)

// Options configures an Evaluator.
type Options struct {
	// MaxConcurrency caps items evaluated in parallel.
	MaxConcurrency int
	// MaxMetricConcurrency caps metric computations across all items.
	MaxMetricConcurrency int
	// ItemTimeout is the per-item hard deadline; zero means none.
	ItemTimeout time.Duration
	// ShutdownGrace bounds how long cancellation waits for in-flight items.
	ShutdownGrace time.Duration
	// CheckpointPath enables the append-only CSV checkpoint and resume.
	CheckpointPath string
	// Platform, when set, streams run events to the platform server.
	Platform *stream.Client
	// ExternalRunID is an optional engine-side run identifier.
	ExternalRunID string
	// DatasetName labels the dataset on the run. When empty, a dataset
	// exposing Name() string is asked, falling back to "inline".
	DatasetName string
	// Model is recorded on the run and passed to hook-aware tasks.
	Model string
	// RunMetadata and RunConfig are recorded on the run as-is.
	RunMetadata map[string]any
	RunConfig   map[string]any
	// Observers receive lifecycle callbacks alongside the progress tracker.
	Observers []Observer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithMaxConcurrency caps items evaluated in parallel.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) { o.MaxConcurrency = n }
}

// WithMaxMetricConcurrency caps metric computations across all items.
func WithMaxMetricConcurrency(n int) Option {
	return func(o *Options) { o.MaxMetricConcurrency = n }
}

// WithItemTimeout sets the per-item hard deadline.
func WithItemTimeout(d time.Duration) Option {
	return func(o *Options) { o.ItemTimeout = d }
}

// WithShutdownGrace bounds the cancellation grace period.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *Options) { o.ShutdownGrace = d }
}

// WithCheckpoint enables the CSV checkpoint at path.
func WithCheckpoint(path string) Option {
	return func(o *Options) { o.CheckpointPath = path }
}

// WithPlatform streams run events to the platform through client.
func WithPlatform(client *stream.Client) Option {
	return func(o *Options) { o.Platform = client }
}

// WithExternalRunID records an engine-side run identifier.
func WithExternalRunID(id string) Option {
	return func(o *Options) { o.ExternalRunID = id }
}

// WithDatasetName labels the dataset on the run.
func WithDatasetName(name string) Option {
	return func(o *Options) { o.DatasetName = name }
}

// WithModel records the model name on the run and task hooks.
func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

// WithRunMetadata records free-form run metadata.
func WithRunMetadata(md map[string]any) Option {
	return func(o *Options) { o.RunMetadata = md }
}

// WithRunConfig records free-form run configuration.
func WithRunConfig(cfg map[string]any) Option {
	return func(o *Options) { o.RunConfig = cfg }
}

// WithObserver registers an additional lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observers = append(o.Observers, obs) }
}

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

func buildOptions(opts []Option) Options {
	o := Options{
		MaxConcurrency:       DefaultMaxConcurrency,
		MaxMetricConcurrency: DefaultMaxMetricConcurrency,
		ShutdownGrace:        DefaultShutdownGrace,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = 1
	}
	if o.MaxMetricConcurrency < 1 {
		o.MaxMetricConcurrency = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
