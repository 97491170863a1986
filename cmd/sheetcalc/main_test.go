package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// execute runs the root command with fresh flag state
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flagConfig, flagFormat, flagOut = "", "text", ""
	flagCells = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseCellFlag(t *testing.T) {
	address, input, err := parseCellFlag("B2==A1*2")
	require.NoError(t, err)
	assert.Equal(t, "B2", address)
	assert.Equal(t, "=A1*2", input)

	_, _, err = parseCellFlag("nope")
	assert.Error(t, err)
	_, _, err = parseCellFlag("=5")
	assert.Error(t, err)
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.Error(t, validateFormat("yaml"))
}

func TestEvalCommand(t *testing.T) {
	out, err := execute(t, "eval", "=SUM(1,2,3)")
	require.NoError(t, err)
	assert.Equal(t, "6\n", out)

	out, err = execute(t, "eval", "=B1+1", "--cell", "A1=2", "--cell", "B1==A1*5")
	require.NoError(t, err)
	assert.Equal(t, "11\n", out)

	out, err = execute(t, "eval", "=SUM(1,", "--format", "json")
	require.NoError(t, err)
	var resp map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "#ERROR!", resp["value"])
	assert.NotEmpty(t, resp["parseError"])
}

func TestEvalRejectsBadFormat(t *testing.T) {
	_, err := execute(t, "eval", "=1", "--format", "xml")
	assert.Error(t, err)
}

func TestRefsAndTokensCommands(t *testing.T) {
	out, err := execute(t, "refs", "=SUM(Sheet2!A1:A3)+$b$2")
	require.NoError(t, err)
	assert.Equal(t, "SHEET2!A1:A3\nB2\n", out)

	out, err = execute(t, "tokens", "=A1+1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "TYPE"))
	assert.Contains(t, lines[2], "CELL")

	out, err = execute(t, "funcs", "--format", "json")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Contains(t, names, "SUM")
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", 2))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", 3))
	require.NoError(t, f.SetCellFormula("Sheet1", "A3", "A1*A2"))
	// an uncomputed formula alone in its row is dropped by GetRows
	require.NoError(t, f.SetCellValue("Sheet1", "B3", "total"))
	require.NoError(t, f.SaveAs(in))
	require.NoError(t, f.Close())

	outPath := filepath.Join(dir, "out.xlsx")
	out, err := execute(t, "run", in, "--format", "json", "--out", outPath)
	require.NoError(t, err)

	var rows []cellRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 4)
	assert.Equal(t, cellRow{Sheet: "Sheet1", Address: "A3", Value: "6", Formula: "=A1*A2"}, rows[2])

	exported, err := excelize.OpenFile(outPath)
	require.NoError(t, err)
	defer exported.Close()
	formula, err := exported.GetCellFormula("Sheet1", "A3")
	require.NoError(t, err)
	assert.Equal(t, "A1*A2", formula)
}

func TestRunCommandWithSQLite(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", 4))
	require.NoError(t, f.SetCellFormula("Sheet1", "A2", "A1*A1"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "square"))
	require.NoError(t, f.SaveAs(in))
	require.NoError(t, f.Close())

	cfgPath := filepath.Join(dir, "sheetcalc.toml")
	cfg := "[storage]\nbackend = \"sqlite\"\npath = \"" + filepath.ToSlash(filepath.Join(dir, "cells.db")) + "\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	out, err := execute(t, "run", in, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "16")
}
