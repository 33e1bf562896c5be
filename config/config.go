package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/warriorguo/stemflow/types"
)

const (
	BackendMem      = "mem"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

var validate = validator.New()

// Config is the stemflowd configuration file.
type Config struct {
	Server   ServerConfig `yaml:"server"`
	Engine   EngineConfig `yaml:"engine"`
	Store    StoreConfig  `yaml:"store"`
	Log      LogConfig    `yaml:"log"`
	Analysis *Service     `yaml:"analysis"`
	Stems    *Stems       `yaml:"stems"`
	Notes    *Service     `yaml:"notes"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr" default:":8080" validate:"required"`
	MaxUploadMB int64  `yaml:"max_upload_mb" default:"100" validate:"gt=0"`
}

type EngineConfig struct {
	MaxConcurrentRuns int    `yaml:"max_concurrent_runs" default:"16" validate:"gt=0"`
	RetainedRuns      int    `yaml:"retained_runs" default:"256" validate:"gt=0"`
	TempDir           string `yaml:"temp_dir" default:"/tmp/stemflow/sessions" validate:"required"`
	MidiDir           string `yaml:"midi_dir" default:"/tmp/stemflow/midi" validate:"required"`
	DevMode           bool   `yaml:"dev_mode"`
}

type StoreConfig struct {
	Backend  string         `yaml:"backend" default:"mem" validate:"oneof=mem badger postgres"`
	Badger   BadgerConfig   `yaml:"badger"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type BadgerConfig struct {
	Path     string `yaml:"path" default:"/var/lib/stemflow/badger"`
	InMemory bool   `yaml:"in_memory"`
}

type PostgresConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432" validate:"gt=0,lte=65535"`
	User     string `yaml:"user" default:"postgres"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"stemflow"`
	SSLMode  string `yaml:"ssl_mode" default:"disable" validate:"oneof=disable require verify-ca verify-full"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `yaml:"format" default:"text" validate:"oneof=text json"`
}

type Service struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" default:"60s" validate:"gt=0"`
}

type Stems struct {
	Service            `yaml:",inline"`
	JobType            string        `yaml:"job_type" default:"stems-separation" validate:"required"`
	PollInterval       time.Duration `yaml:"poll_interval" default:"5s" validate:"gt=0"`
	GCSBucket          string        `yaml:"gcs_bucket"`
	GCSCredentialsFile string        `yaml:"gcs_credentials_file"`
}

// Default returns a config with every default applied and no services.
func Default() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// Load reads a YAML config file. Environment references like ${VAR} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading config %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Annotatef(err, "config %s", path)
	}
	return c, nil
}

func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
		return nil, errors.NewNotValid(err, "parsing yaml")
	}

	defaults.SetDefaults(c)
	for _, s := range []*Service{c.Analysis, c.Notes} {
		if s != nil {
			defaults.SetDefaults(s)
		}
	}
	if c.Stems != nil {
		defaults.SetDefaults(c.Stems)
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return c, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	if c.Store.Backend == BackendBadger && !c.Store.Badger.InMemory && c.Store.Badger.Path == "" {
		return errors.NotValidf("badger store without path")
	}
	return nil
}

// Options converts the file into engine options.
func (c *Config) Options() []types.Option {
	opts := []types.Option{
		types.SetMaxConcurrentRuns(c.Engine.MaxConcurrentRuns),
		types.SetRetainedRuns(c.Engine.RetainedRuns),
		types.WithTempDir(c.Engine.TempDir),
		types.WithMidiDir(c.Engine.MidiDir),
	}
	if c.Engine.DevMode {
		opts = append(opts, types.EnableDevMode())
	}

	switch c.Store.Backend {
	case BackendPostgres:
		p := c.Store.Postgres
		opts = append(opts, types.WithPostgresConfig(&types.PostgresConfig{
			Host:     p.Host,
			Port:     p.Port,
			User:     p.User,
			Password: p.Password,
			Database: p.Database,
			SSLMode:  p.SSLMode,
		}))
	case BackendBadger:
		opts = append(opts, types.WithBadgerConfig(&types.BadgerConfig{
			Path:     c.Store.Badger.Path,
			InMemory: c.Store.Badger.InMemory,
		}))
	default:
		opts = append(opts, types.EnableMemStore())
	}

	if c.Analysis != nil {
		opts = append(opts, types.WithAnalysisConfig(c.Analysis.options()))
	}
	if c.Notes != nil {
		opts = append(opts, types.WithNotesConfig(c.Notes.options()))
	}
	if c.Stems != nil {
		opts = append(opts, types.WithStemsConfig(&types.StemsConfig{
			ServiceConfig:      *c.Stems.options(),
			JobType:            c.Stems.JobType,
			PollInterval:       c.Stems.PollInterval,
			GCSBucket:          c.Stems.GCSBucket,
			GCSCredentialsFile: c.Stems.GCSCredentialsFile,
		}))
	}
	return opts
}

func (s *Service) options() *types.ServiceConfig {
	return &types.ServiceConfig{
		BaseURL: strings.TrimRight(s.BaseURL, "/"),
		APIKey:  s.APIKey,
		Timeout: s.Timeout,
	}
}

// Apply configures the standard logrus logger.
func (l LogConfig) Apply() error {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		return errors.NewNotValid(err, "log level")
	}
	log.SetLevel(level)
	if l.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
