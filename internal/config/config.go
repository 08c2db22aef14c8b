package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"doctransfer/internal/codec"
	"doctransfer/internal/document"
	"doctransfer/internal/flatten"
	"doctransfer/internal/transfer"
)

// Config is the on-disk configuration. Every field has a default, so an
// empty or missing file is valid.
type Config struct {
	Transfer TransferConfig `toml:"transfer"`
	CSV      CSVConfig      `toml:"csv"`
	Tools    ToolsConfig    `toml:"tools"`
	Storage  StorageConfig  `toml:"storage"`
	Secrets  SecretsConfig  `toml:"secrets"`
	Watch    WatchConfig    `toml:"watch"`
}

// TransferConfig holds the defaults applied to every job.
type TransferConfig struct {
	BatchSize int `toml:"batch_size"`
	MaxErrors int `toml:"max_errors"`
	// ProgressBuffer is the capacity of each run's progress channel.
	ProgressBuffer int     `toml:"progress_buffer"`
	ReadAhead      int     `toml:"read_ahead"`
	DocsPerSecond  float64 `toml:"docs_per_second"`
	JSONMode       string  `toml:"json_mode"`
	Encoding       string  `toml:"encoding"`
}

// CSVConfig holds flattening and column discovery defaults.
type CSVConfig struct {
	Delimiter       string `toml:"delimiter"`
	MaxDepth        int    `toml:"max_depth"`
	MaxArrayLen     int    `toml:"max_array_len"`
	NullSentinel    string `toml:"null_sentinel"`
	EmptyCell       string `toml:"empty_cell"`
	Collision       string `toml:"collision"`
	ExtendedScalars bool   `toml:"extended_scalars"`
	Columns         string `toml:"columns"`
	SampleSize      int    `toml:"sample_size"`
}

// ToolsConfig locates the archive tools. Empty means look them up in PATH.
type ToolsConfig struct {
	Mongodump    string `toml:"mongodump"`
	Mongorestore string `toml:"mongorestore"`
}

type StorageConfig struct {
	// Path of the SQLite file with connections, saved jobs and run history.
	Path string `toml:"path"`
}

type SecretsConfig struct {
	// EnvPrefix of the variables holding connection passwords.
	EnvPrefix string `toml:"env_prefix"`
	// File keeps passwords that are not in the environment. Empty keeps
	// them in memory for the life of the process.
	File string `toml:"file"`
}

type WatchConfig struct {
	// DebounceMS collapses bursts of file events into one run.
	DebounceMS int `toml:"debounce_ms"`
}

// Dir is the default directory for the config file and database.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".doctransfer"
	}
	return filepath.Join(home, ".doctransfer")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Default returns the built-in configuration.
func Default() *Config {
	opts := transfer.DefaultOptions()
	return &Config{
		Transfer: TransferConfig{
			BatchSize:      opts.BatchSize,
			MaxErrors:      opts.MaxErrors,
			ProgressBuffer: 64,
			ReadAhead:      opts.ReadAhead,
			DocsPerSecond:  opts.DocsPerSecond,
			JSONMode:       string(opts.JSONMode),
			Encoding:       string(opts.Encoding),
		},
		CSV: CSVConfig{
			Delimiter:       opts.Delimiter,
			MaxDepth:        opts.Flatten.MaxDepth,
			MaxArrayLen:     opts.Flatten.MaxArrayLen,
			NullSentinel:    opts.Flatten.NullSentinel,
			EmptyCell:       string(opts.Flatten.EmptyCell),
			Collision:       string(opts.Flatten.Collision),
			ExtendedScalars: opts.Flatten.ExtendedScalars,
			Columns:         string(opts.Columns),
			SampleSize:      opts.SampleSize,
		},
		Storage: StorageConfig{Path: filepath.Join(Dir(), "doctransfer.db")},
		Secrets: SecretsConfig{
			EnvPrefix: "DOCTRANSFER_",
			File:      filepath.Join(Dir(), "secrets.toml"),
		},
		Watch: WatchConfig{DebounceMS: 500},
	}
}

// Load reads the TOML file at path over the defaults. A missing file
// yields the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("config %s: %s", path, strict.String())
		}
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks the values a job would otherwise reject at run time.
func (c *Config) Validate() error {
	if c.Transfer.BatchSize <= 0 || c.Transfer.MaxErrors <= 0 {
		return errors.New("transfer.batch_size and transfer.max_errors must be positive")
	}
	if c.Transfer.ProgressBuffer < 0 {
		return errors.New("transfer.progress_buffer must not be negative")
	}
	if c.Watch.DebounceMS < 0 {
		return errors.New("watch.debounce_ms must not be negative")
	}
	probe := transfer.Job{
		Kind:        transfer.KindExport,
		Format:      codec.FormatCSV,
		Source:      transfer.Endpoint{URI: "mongodb://localhost", Database: "db", Collection: "c"},
		Destination: transfer.Endpoint{Path: "out.csv"},
		Options:     c.TransferOptions(),
	}
	if _, err := probe.Normalize(transfer.Options{}); err != nil {
		return err
	}
	return nil
}

// TransferOptions returns the job defaults described by the config.
func (c *Config) TransferOptions() transfer.Options {
	opts := transfer.DefaultOptions()
	opts.BatchSize = c.Transfer.BatchSize
	opts.MaxErrors = c.Transfer.MaxErrors
	opts.ReadAhead = c.Transfer.ReadAhead
	opts.DocsPerSecond = c.Transfer.DocsPerSecond
	opts.JSONMode = document.ExtJSONMode(c.Transfer.JSONMode)
	opts.Encoding = codec.Encoding(c.Transfer.Encoding)
	opts.Delimiter = c.CSV.Delimiter
	opts.Flatten = c.FlattenOptions()
	opts.Columns = transfer.ColumnStrategy(c.CSV.Columns)
	opts.SampleSize = c.CSV.SampleSize
	return opts
}

// FlattenOptions returns the CSV flattening defaults.
func (c *Config) FlattenOptions() flatten.Options {
	return flatten.Options{
		MaxDepth:        c.CSV.MaxDepth,
		MaxArrayLen:     c.CSV.MaxArrayLen,
		NullSentinel:    c.CSV.NullSentinel,
		EmptyCell:       flatten.EmptyCell(c.CSV.EmptyCell),
		Collision:       flatten.CollisionPolicy(c.CSV.Collision),
		ExtendedScalars: c.CSV.ExtendedScalars,
	}
}

// Debounce is the file-watch debounce interval.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}
