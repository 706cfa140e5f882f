// Package config loads engine settings from a YAML file and the environment.
//
// Values are resolved in three layers: DefaultConfig, then the YAML file,
// then DATAMODEL_* environment variables. An optional .env file is loaded
// into the environment first and never overrides variables already set.
package config

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/backend/sqlbackend"
	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/filestore"
	"github.com/koustreak/datamodel/internal/flatten"
	"github.com/koustreak/datamodel/internal/logger"
)

// DriverMemory selects the in-process executor. It needs no DSN.
const DriverMemory sqlbackend.Driver = "memory"

// Config is the root of the configuration file.
type Config struct {
	Log       *logger.Config    `yaml:"log"`
	Backend   *BackendConfig    `yaml:"backend"`
	FileStore *filestore.Config `yaml:"filestore"`
	Flatten   flatten.Options   `yaml:"flatten"`
}

// BackendConfig selects and tunes the executor tables are stored on.
type BackendConfig struct {
	// Name identifies the backend instance; tables of differently named
	// backends are never joined.
	Name string `yaml:"name"`

	sqlbackend.Config `yaml:",inline"`
}

// DefaultConfig returns an in-memory setup with left-join flattening.
func DefaultConfig() *Config {
	sql := sqlbackend.DefaultConfig(DriverMemory, "")
	return &Config{
		Log:       logger.DefaultConfig(),
		Backend:   &BackendConfig{Name: "default", Config: *sql},
		FileStore: filestore.DefaultConfig("localhost:9000", "", ""),
		Flatten: flatten.Options{
			Join:      backend.JoinLeft,
			Separator: flatten.DefaultSeparator,
		},
	}
}

// Load reads path (skipped when empty) over DefaultConfig, loads envFile
// into the environment when it exists, applies the environment and
// validates the result.
func Load(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, errs.Wrap(errs.ErrKindNotFound, "config file not found", err)
			}
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read config file", err)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, err
		}
		if err := cfg.sections(); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to load env file", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg. Unknown keys are rejected.
func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return errs.Wrap(errs.ErrKindInvalidInput, "failed to parse config file", err)
	}
	return nil
}

// sections rejects a file that sets a whole section to null.
func (c *Config) sections() error {
	for name, missing := range map[string]bool{
		"log":       c.Log == nil,
		"backend":   c.Backend == nil,
		"filestore": c.FileStore == nil,
	} {
		if missing {
			return errs.Newf(errs.ErrKindInvalidInput, "config section %q cannot be null", name)
		}
	}
	return nil
}

// env names the variables applyEnv understands.
var env = struct {
	LogLevel, LogFormat                    string
	Driver, DSN, Name                      string
	MaxConns, QueryTimeout                 string
	Endpoint, AccessKey, SecretKey, Bucket string
	UseSSL                                 string
	Join, Separator, Squash                string
}{
	LogLevel:     "DATAMODEL_LOG_LEVEL",
	LogFormat:    "DATAMODEL_LOG_FORMAT",
	Driver:       "DATAMODEL_BACKEND_DRIVER",
	DSN:          "DATAMODEL_BACKEND_DSN",
	Name:         "DATAMODEL_BACKEND_NAME",
	MaxConns:     "DATAMODEL_BACKEND_MAX_CONNS",
	QueryTimeout: "DATAMODEL_BACKEND_QUERY_TIMEOUT",
	Endpoint:     "DATAMODEL_MINIO_ENDPOINT",
	AccessKey:    "DATAMODEL_MINIO_ACCESS_KEY",
	SecretKey:    "DATAMODEL_MINIO_SECRET_KEY",
	Bucket:       "DATAMODEL_MINIO_BUCKET",
	UseSSL:       "DATAMODEL_MINIO_USE_SSL",
	Join:         "DATAMODEL_FLATTEN_JOIN",
	Separator:    "DATAMODEL_FLATTEN_SEPARATOR",
	Squash:       "DATAMODEL_FLATTEN_SQUASH",
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str(env.LogLevel, &c.Log.Level)
	str(env.LogFormat, &c.Log.Format)
	str(env.DSN, &c.Backend.DSN)
	str(env.Name, &c.Backend.Name)
	str(env.Endpoint, &c.FileStore.Endpoint)
	str(env.AccessKey, &c.FileStore.AccessKey)
	str(env.SecretKey, &c.FileStore.SecretKey)
	str(env.Bucket, &c.FileStore.Bucket)
	str(env.Separator, &c.Flatten.Separator)
	if v, ok := lookup(env.Driver); ok {
		c.Backend.Driver = sqlbackend.Driver(v)
	}

	if v, ok := lookup(env.MaxConns); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, env.MaxConns+" must be an integer", err)
		}
		c.Backend.MaxConns = int32(n)
	}
	if v, ok := lookup(env.QueryTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, env.QueryTimeout+" must be a duration", err)
		}
		c.Backend.QueryTimeout = d
	}
	for key, dst := range map[string]*bool{env.UseSSL: &c.FileStore.UseSSL, env.Squash: &c.Flatten.Squash} {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errs.Wrap(errs.ErrKindInvalidInput, key+" must be a boolean", err)
			}
			*dst = b
		}
	}
	if v, ok := lookup(env.Join); ok {
		kind, err := backend.ParseJoinKind(v)
		if err != nil {
			return err
		}
		c.Flatten.Join = kind
	}
	return nil
}

// Validate checks the settings hang together.
func (c *Config) Validate() error {
	if err := c.sections(); err != nil {
		return err
	}

	switch c.Backend.Driver {
	case DriverMemory:
	case sqlbackend.DriverPostgres, sqlbackend.DriverMySQL:
		if c.Backend.DSN == "" {
			return errs.Newf(errs.ErrKindInvalidInput, "backend driver %q needs a dsn", c.Backend.Driver)
		}
		if c.Backend.MinConns > c.Backend.MaxConns {
			return errs.Newf(errs.ErrKindInvalidInput,
				"backend min_conns (%d) exceeds max_conns (%d)", c.Backend.MinConns, c.Backend.MaxConns)
		}
	default:
		return errs.Newf(errs.ErrKindInvalidInput, "unknown backend driver %q", c.Backend.Driver)
	}
	if c.Backend.Name == "" {
		return errs.New(errs.ErrKindInvalidInput, "backend name cannot be empty")
	}

	if c.FileStore.Bucket != "" && c.FileStore.Endpoint == "" {
		return errs.New(errs.ErrKindInvalidInput, "filestore bucket set without an endpoint")
	}

	if !c.Flatten.Join.Valid() || c.Flatten.Join == backend.JoinNest {
		return errs.Newf(errs.ErrKindUnsupportedJoinKind, "flatten join %q is not supported", c.Flatten.Join)
	}
	if len(c.Flatten.Tables) > 0 {
		return errs.New(errs.ErrKindInvalidInput, "flatten tables are chosen per call, not in config")
	}
	return nil
}
