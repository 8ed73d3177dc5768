package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/litoral-labs/micdta/pkg/config"
	"github.com/litoral-labs/micdta/pkg/export"
	"github.com/litoral-labs/micdta/pkg/ledger"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// runExportCmd implements `micdta export`: write a voyage evidence
// bundle from the configured ledger to a local directory.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		voyageID   string
		outDir     string
		dbURL      string
		jsonOutput bool
	)
	fs.StringVar(&voyageID, "voyage", "", "Voyage ID to export (REQUIRED)")
	fs.StringVar(&outDir, "out", "exports", "Output directory for the bundle")
	fs.StringVar(&dbURL, "db", os.Getenv("MICDTA_DATABASE_URL"), "Database URL (defaults to MICDTA_DATABASE_URL)")
	fs.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if voyageID == "" {
		fmt.Fprintln(stderr, "Error: --voyage is required")
		fs.Usage()
		return 2
	}
	if dbURL == "" {
		fmt.Fprintln(stderr, "Error: no database configured; an in-memory ledger has nothing to export")
		return 2
	}

	ctx := context.Background()

	db, err := sql.Open(config.DriverFor(dbURL), dbURL)
	if err != nil {
		fmt.Fprintf(stderr, "Database error: %v\n", err)
		return 1
	}
	defer db.Close()

	lgr := ledger.NewSQLLedger(db)
	store, err := export.NewFileStore(outDir)
	if err != nil {
		fmt.Fprintf(stderr, "Export store error: %v\n", err)
		return 1
	}

	location, checksum, err := export.NewExporter(lgr, lgr, store).Export(ctx, voyageID)
	if err != nil {
		fmt.Fprintf(stderr, "Export failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		result := map[string]any{
			"voyage_id": voyageID,
			"location":  location,
			"checksum":  checksum,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Evidence bundle written: %s\n", location)
		fmt.Fprintf(stdout, "Checksum: %s\n", checksum)
	}
	return 0
}
