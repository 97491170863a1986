package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	spreadsheet "github.com/vogtb/go-spreadsheet"
	"github.com/vogtb/go-spreadsheet/internal/config"
	"github.com/vogtb/go-spreadsheet/internal/server"
	"github.com/vogtb/go-spreadsheet/internal/sqlitestore"
	"github.com/vogtb/go-spreadsheet/internal/xlsx"
)

var (
	flagConfig string
	flagFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "sheetcalc",
	Short:         "Spreadsheet formula engine",
	Long:          "sheetcalc evaluates spreadsheet formulas, recalculates xlsx workbooks and serves workbooks over HTTP.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: json|text")

	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(refsCmd)
	rootCmd.AddCommand(funcsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

func validateFormat(format string) error {
	switch format {
	case "json", "text":
		return nil
	}
	return fmt.Errorf("unknown format %q, want json or text", format)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var flagCells []string

var evalCmd = &cobra.Command{
	Use:   "eval <formula>",
	Short: "Evaluate a single formula",
	Long:  "Evaluates a formula against the cells given with --cell, e.g. sheetcalc eval '=A1*2' --cell A1=21",
	Args:  cobra.ExactArgs(1),
	RunE:  runEval,
}

func init() {
	evalCmd.Flags().StringArrayVar(&flagCells, "cell", nil, "cell input as ADDRESS=INPUT, repeatable")
}

// parseCellFlag splits "A1==B1*2" into ("A1", "=B1*2")
func parseCellFlag(flag string) (string, string, error) {
	address, input, ok := strings.Cut(flag, "=")
	if !ok || address == "" {
		return "", "", fmt.Errorf("invalid --cell %q, want ADDRESS=INPUT", flag)
	}
	return strings.TrimSpace(address), input, nil
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	sheet := spreadsheet.NewSheet("Sheet1", nil, cfg.SheetOptions()...)
	for _, flag := range flagCells {
		address, input, err := parseCellFlag(flag)
		if err != nil {
			return err
		}
		if _, err := sheet.Set(ctx, address, input); err != nil {
			return fmt.Errorf("set %s: %w", address, err)
		}
	}
	grid, err := sheet.Storage().GetRange(ctx, sheet.Bounds())
	if err != nil {
		return err
	}

	formula := args[0]
	value := spreadsheet.Evaluate(formula, spreadsheet.NewSnapshot(grid))
	out := cmd.OutOrStdout()
	if flagFormat == "json" {
		resp := map[string]string{"formula": formula, "value": value}
		if _, err := spreadsheet.Parse(formula); err != nil {
			resp["parseError"] = err.Error()
		}
		return writeJSON(out, resp)
	}
	fmt.Fprintln(out, value)
	return nil
}

var tokensCmd = &cobra.Command{
	Use:   "tokens <formula>",
	Short: "Print the tokens of a formula",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens := spreadsheet.Tokenize(args[0])
		out := cmd.OutOrStdout()
		if flagFormat == "json" {
			type jsonToken struct {
				Type  string `json:"type"`
				Start int    `json:"start"`
				Stop  int    `json:"stop"`
				Text  string `json:"text"`
			}
			list := make([]jsonToken, 0, len(tokens))
			for _, tok := range tokens {
				list = append(list, jsonToken{tok.Type.String(), tok.Start, tok.Stop, tok.Text})
			}
			return writeJSON(out, list)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TYPE\tSTART\tSTOP\tTEXT")
		for _, tok := range tokens {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%q\n", tok.Type, tok.Start, tok.Stop, tok.Text)
		}
		return tw.Flush()
	},
}

var refsCmd = &cobra.Command{
	Use:   "refs <formula>",
	Short: "Print the references a formula reads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refs := spreadsheet.ExtractReferences(args[0])
		if flagFormat == "json" {
			if refs == nil {
				refs = []string{}
			}
			return writeJSON(cmd.OutOrStdout(), refs)
		}
		for _, ref := range refs {
			fmt.Fprintln(cmd.OutOrStdout(), ref)
		}
		return nil
	},
}

var funcsCmd = &cobra.Command{
	Use:   "funcs",
	Short: "List the built-in functions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := spreadsheet.DefaultFunctions().Names()
		if flagFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), names)
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var flagOut string

var runCmd = &cobra.Command{
	Use:   "run <file.xlsx>",
	Short: "Recalculate an xlsx workbook",
	Long:  "Imports an xlsx workbook, recalculates every formula and prints the non-empty cells. --out writes the recalculated workbook back out.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&flagOut, "out", "", "write the recalculated workbook to this xlsx path")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	book, db, err := openWorkbook(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeDB(db)

	in, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer in.Close()
	if err := xlsx.Import(ctx, in, book); err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}

	if err := printWorkbook(ctx, cmd.OutOrStdout(), book); err != nil {
		return err
	}

	if flagOut != "" {
		out, err := os.Create(flagOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", flagOut, err)
		}
		if err := xlsx.Export(ctx, book, out); err != nil {
			out.Close()
			return fmt.Errorf("export %s: %w", flagOut, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", flagOut)
	}
	return nil
}

type cellRow struct {
	Sheet   string `json:"sheet"`
	Address string `json:"address"`
	Value   string `json:"value"`
	Formula string `json:"formula,omitempty"`
}

func collectCells(ctx context.Context, book *spreadsheet.Workbook) ([]cellRow, error) {
	var rows []cellRow
	for _, name := range book.Sheets() {
		sheet, ok := book.Sheet(name)
		if !ok {
			continue
		}
		grid, err := sheet.Storage().GetRange(ctx, sheet.Bounds())
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		refs := make([]spreadsheet.Ref, 0, len(grid))
		for ref := range grid {
			refs = append(refs, ref)
		}
		slices.SortFunc(refs, spreadsheet.CompareRefs)
		for _, ref := range refs {
			cell := grid[ref]
			rows = append(rows, cellRow{Sheet: name, Address: ref.String(), Value: cell.Value, Formula: cell.Formula})
		}
	}
	return rows, nil
}

func printWorkbook(ctx context.Context, w io.Writer, book *spreadsheet.Workbook) error {
	rows, err := collectCells(ctx, book)
	if err != nil {
		return err
	}
	if flagFormat == "json" {
		if rows == nil {
			rows = []cellRow{}
		}
		return writeJSON(w, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SHEET\tADDRESS\tVALUE\tFORMULA")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Sheet, r.Address, r.Value, r.Formula)
	}
	return tw.Flush()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a workbook over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		book, db, err := openWorkbook(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer closeDB(db)
		if len(book.Sheets()) == 0 {
			if _, err := book.AddSheet(ctx, "Sheet1"); err != nil {
				return err
			}
		}

		var opts []server.Option
		if db != nil {
			opts = append(opts, server.WithCatalog(db))
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Serving %d sheet(s) on %s\n", len(book.Sheets()), cfg.Server.Addr)
		return server.NewServer(book, cfg.Server.DevMode, opts...).Run(cfg.Server.Addr)
	},
}

var _ server.Catalog = (*sqlitestore.DB)(nil)

// openWorkbook builds a workbook on the configured backend. with restore
// set, sheets already stored in a sqlite database are attached along with
// their row and column sizes. the returned database is nil for the memory
// backend.
func openWorkbook(ctx context.Context, cfg *config.Config, restore bool) (*spreadsheet.Workbook, *sqlitestore.DB, error) {
	opts := cfg.SheetOptions()
	if cfg.Storage.Backend != config.BackendSQLite {
		return spreadsheet.NewWorkbook(nil, opts...), nil, nil
	}

	db, err := sqlitestore.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}
	book := spreadsheet.NewWorkbook(db.Factory(ctx), opts...)
	if !restore {
		return book, db, nil
	}

	stored, err := db.Sheets(ctx)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	for _, info := range stored {
		if err := restoreSheet(ctx, db, book, info.Name); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return book, db, nil
}

func closeDB(db *sqlitestore.DB) {
	if db != nil {
		db.Close()
	}
}

func restoreSheet(ctx context.Context, db *sqlitestore.DB, book *spreadsheet.Workbook, name string) error {
	store, err := db.Sheet(ctx, name)
	if err != nil {
		return err
	}
	sheet, err := book.AttachSheet(ctx, name, store)
	if err != nil {
		return fmt.Errorf("attach sheet %q: %w", name, err)
	}
	for _, axis := range []spreadsheet.Axis{spreadsheet.AxisRow, spreadsheet.AxisColumn} {
		sizes, err := store.LoadDimensions(ctx, axis)
		if err != nil {
			return err
		}
		for i, size := range sizes {
			if _, _, err := sheet.Resize(axis, i, size); err != nil {
				return err
			}
		}
	}
	return nil
}
