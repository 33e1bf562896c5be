package types

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
	log "github.com/sirupsen/logrus"
)

func NewOptions() *Options {
	opts := &Options{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

type Options struct {
	Ctx context.Context
	/**
	 * default: 16
	 * the engine runs at most this many pipeline executions in the background.
	 */
	MaxConcurrentRuns int `default:"16"`
	/**
	 * default: 256
	 * finished runs kept in memory, older ones are only read back from the store.
	 */
	RetainedRuns int `default:"256"`
	/**
	 * default: false, only set it to true when developing.
	 * pipelines are rebuilt on every call instead of once per process.
	 */
	DevMode bool `default:"false"`
	/**
	 * uploaded audio is staged under TempDir/<sessionId>/
	 */
	TempDir string `default:"/tmp/stemflow/sessions"`
	/**
	 * synthesized MIDI files are written under MidiDir/<sessionId>/
	 */
	MidiDir string `default:"/tmp/stemflow/midi"`
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`

	// If more than one store is configured, PostgresConfig takes precedence, then BadgerConfig.
	PostgresConfig *PostgresConfig
	BadgerConfig   *BadgerConfig

	AnalysisConfig *ServiceConfig
	StemsConfig    *StemsConfig
	NotesConfig    *ServiceConfig
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
}

type BadgerConfig struct {
	Path     string
	InMemory bool
}

type ServiceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration `default:"60s"`
}

type StemsConfig struct {
	ServiceConfig
	JobType      string        `default:"stems-separation"`
	PollInterval time.Duration `default:"5s"`
	// if GCSBucket is set the input file is staged in GCS instead of the service upload slot.
	GCSBucket          string
	GCSCredentialsFile string
}

type Option func(*Options)

func WithContext(ctx context.Context) Option {
	return func(opts *Options) {
		opts.Ctx = ctx
	}
}

func SetMaxConcurrentRuns(concurrency int) Option {
	return func(opts *Options) {
		opts.MaxConcurrentRuns = concurrency
	}
}

func SetRetainedRuns(n int) Option {
	return func(opts *Options) {
		opts.RetainedRuns = n
	}
}

func EnableDevMode() Option {
	return func(opts *Options) {
		opts.DevMode = true
	}
}

func EnableMemStore() Option {
	return func(opts *Options) {
		opts.MemStore = true
	}
}

func WithTempDir(dir string) Option {
	return func(opts *Options) {
		opts.TempDir = dir
	}
}

func WithMidiDir(dir string) Option {
	return func(opts *Options) {
		opts.MidiDir = dir
	}
}

// WithPostgresConfig configures the engine to use PostgreSQL store
func WithPostgresConfig(config *PostgresConfig) Option {
	return func(opts *Options) {
		opts.PostgresConfig = config
	}
}

func WithBadgerConfig(config *BadgerConfig) Option {
	return func(opts *Options) {
		opts.BadgerConfig = config
	}
}

func WithAnalysisConfig(config *ServiceConfig) Option {
	return func(opts *Options) {
		defaults.SetDefaults(config)
		opts.AnalysisConfig = config
	}
}

func WithStemsConfig(config *StemsConfig) Option {
	return func(opts *Options) {
		defaults.SetDefaults(config)
		opts.StemsConfig = config
	}
}

func WithNotesConfig(config *ServiceConfig) Option {
	return func(opts *Options) {
		defaults.SetDefaults(config)
		opts.NotesConfig = config
	}
}

// PipelineOptions configure a single pipeline instance.
type PipelineOptions struct {
	Logger  *log.Entry
	Metrics bool `default:"true"`
}

type PipelineOption func(*PipelineOptions)

func NewPipelineOptions() *PipelineOptions {
	opts := &PipelineOptions{}
	defaults.SetDefaults(opts)
	return opts
}

func WithLogger(entry *log.Entry) PipelineOption {
	return func(opts *PipelineOptions) {
		opts.Logger = entry
	}
}

func DisableMetrics() PipelineOption {
	return func(opts *PipelineOptions) {
		opts.Metrics = false
	}
}
