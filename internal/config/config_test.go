package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spreadsheet "github.com/vogtb/go-spreadsheet"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, spreadsheet.DefaultMaxRows, cfg.Sheet.MaxRows)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheetcalc.toml")
	data := []byte(`
[sheet]
max_rows = 500

[storage]
backend = "sqlite"
path = "book.db"
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Sheet.MaxRows)
	assert.Equal(t, spreadsheet.DefaultMaxColumns, cfg.Sheet.MaxColumns)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "book.db", cfg.Storage.Path)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"backend":   "[storage]\nbackend = \"redis\"",
		"bounds":    "[sheet]\nmax_rows = 0",
		"sizes":     "[sheet]\nrow_height = -1",
		"log":       "[log]\noutput = \"syslog\"",
		"no path":   "[storage]\nbackend = \"sqlite\"\npath = \"\"",
		"bad toml":  "[sheet\n",
		"bad value": "[sheet]\nmax_rows = \"many\"",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), nil)
			assert.Error(t, err)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:9000"
	data, err := cfg.Marshal()
	require.NoError(t, err)

	back, err := Parse(data, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestSheetOptionsApply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sheet.MaxRows = 10
	cfg.Sheet.MaxColumns = 3
	cfg.Sheet.RowHeight = 30

	sheet := spreadsheet.NewSheet("Sheet1", nil, cfg.SheetOptions()...)
	assert.Equal(t, 10, sheet.Bounds().End.Row)
	assert.Equal(t, 3, sheet.Bounds().End.Column)
	assert.Equal(t, 30, sheet.Rows().Default())
}
