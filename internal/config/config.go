package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pelletier/go-toml/v2"

	spreadsheet "github.com/vogtb/go-spreadsheet"
)

// Config is the sheetcalc configuration file
type Config struct {
	Sheet   SheetConfig   `toml:"sheet"`
	Storage StorageConfig `toml:"storage"`
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
}

// SheetConfig bounds and sizes every sheet
type SheetConfig struct {
	MaxRows     int `toml:"max_rows"`
	MaxColumns  int `toml:"max_columns"`
	RowHeight   int `toml:"row_height"`
	ColumnWidth int `toml:"column_width"`
}

// StorageConfig picks the grid backend. Backend is "memory" or "sqlite".
type StorageConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// ServerConfig is the HTTP host
type ServerConfig struct {
	Addr    string `toml:"addr"`
	DevMode bool   `toml:"dev_mode"`
}

// LogConfig controls engine logging. an empty Output discards.
type LogConfig struct {
	Output string `toml:"output"` // "", "stderr" or "stdout"
	Prefix string `toml:"prefix"`
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Sheet: SheetConfig{
			MaxRows:     spreadsheet.DefaultMaxRows,
			MaxColumns:  spreadsheet.DefaultMaxColumns,
			RowHeight:   spreadsheet.DefaultRowHeight,
			ColumnWidth: spreadsheet.DefaultColumnWidth,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Path:    "sheetcalc.db",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Prefix: "sheetcalc: ",
		},
	}
}

// Load reads a TOML file over DefaultConfig. a missing file is not an
// error when path is empty.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, cfg)
}

// Parse decodes TOML over base and validates the result
func Parse(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = DefaultConfig()
	}
	if err := toml.Unmarshal(data, base); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Sheet.MaxRows < 1 || c.Sheet.MaxColumns < 1 {
		errs = append(errs, fmt.Errorf("sheet bounds must be positive, got %dx%d", c.Sheet.MaxRows, c.Sheet.MaxColumns))
	}
	if c.Sheet.RowHeight < 1 || c.Sheet.ColumnWidth < 1 {
		errs = append(errs, fmt.Errorf("row height and column width must be positive"))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("sqlite storage needs a path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	switch c.Log.Output {
	case "", "stderr", "stdout":
	default:
		errs = append(errs, fmt.Errorf("unknown log output %q", c.Log.Output))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Marshal renders the configuration as TOML
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// Logger builds the engine logger described by Log
func (c *Config) Logger() *log.Logger {
	var out io.Writer = io.Discard
	switch c.Log.Output {
	case "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	}
	return log.New(out, c.Log.Prefix, log.LstdFlags)
}

// SheetOptions converts the configuration into sheet options
func (c *Config) SheetOptions() []spreadsheet.Option {
	return []spreadsheet.Option{
		spreadsheet.WithBounds(c.Sheet.MaxRows, c.Sheet.MaxColumns),
		spreadsheet.WithDimensions(c.Sheet.RowHeight, c.Sheet.ColumnWidth),
		spreadsheet.WithLogger(c.Logger()),
	}
}
