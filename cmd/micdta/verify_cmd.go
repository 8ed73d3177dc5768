package main

import (
	"archive/zip"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"slices"

	"github.com/litoral-labs/micdta/pkg/canonicalize"
	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/export"
	"github.com/litoral-labs/micdta/pkg/ledger"
)

// runVerifyCmd implements `micdta verify`: recompute the per-file
// checksums of an evidence bundle against its manifest.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		bundlePath string
		jsonOutput bool
	)
	fs.StringVar(&bundlePath, "bundle", "", "Path to evidence bundle zip (REQUIRED)")
	fs.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if bundlePath == "" {
		fmt.Fprintln(stderr, "Error: --bundle is required")
		fs.Usage()
		return 2
	}

	manifest, err := verifyBundle(bundlePath)
	if err != nil {
		if jsonOutput {
			result := map[string]any{"bundle": bundlePath, "valid": false, "error": err.Error()}
			data, _ := json.MarshalIndent(result, "", "  ")
			fmt.Fprintln(stdout, string(data))
		} else {
			fmt.Fprintf(stderr, "Verification failed: %v\n", err)
		}
		return 1
	}

	if jsonOutput {
		result := map[string]any{
			"bundle":    bundlePath,
			"valid":     true,
			"voyage_id": manifest.VoyageID,
			"records":   manifest.Records,
			"positions": manifest.Positions,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Bundle valid: voyage %s, %d records, %d positions\n",
			manifest.VoyageID, manifest.Records, manifest.Positions)
	}
	return 0
}

func verifyBundle(path string) (*export.Manifest, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer zr.Close()

	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		files[f.Name] = data
	}

	raw, ok := files["manifest.json"]
	if !ok {
		return nil, fmt.Errorf("bundle has no manifest.json")
	}
	var manifest export.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	for name, want := range manifest.Files {
		data, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("manifest lists %s but the bundle lacks it", name)
		}
		if got := canonicalize.HashBytes(data); got != want {
			return nil, fmt.Errorf("%s checksum mismatch: manifest %s, actual %s", name, want, got)
		}
	}

	// Checksums prove the bundle is intact; the hash chain proves the
	// history inside it was never rewritten.
	var records []contracts.SubmissionRecord
	if err := json.Unmarshal(files["records.json"], &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	slices.Reverse(records) // bundles list newest first
	if err := ledger.VerifyRecords(records); err != nil {
		return nil, err
	}
	return &manifest, nil
}
