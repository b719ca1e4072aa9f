// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Thermoquad/furrow/pkg/route"
	"github.com/Thermoquad/furrow/pkg/validation"
)

// Exit codes shared by run and validate
const (
	exitPass  = 0
	exitFail  = 1
	exitUsage = 2
)

// runFile is the on-disk form of an execution, as written by `run --log-out`
type runFile = validation.Request

func loadCatalog(path string) (*route.Catalog, error) {
	if path == "" {
		return route.NewCatalog(route.DefaultRoutes()...)
	}
	return route.LoadCatalog(path)
}

func readRunFile(path string) (runFile, error) {
	var rf runFile
	data, err := os.ReadFile(path)
	if err != nil {
		return rf, err
	}
	if err := json.Unmarshal(data, &rf); err != nil {
		return rf, fmt.Errorf("parse %s: %w", path, err)
	}
	return rf, nil
}

func writeRunFile(path string, rf runFile) error {
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// importGoldenBundle loads the golden runs of a CBOR export into v
func importGoldenBundle(v *validation.Validator, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	exp, err := validation.DecodeExport(f)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := v.ImportGoldenRuns(exp.GoldenRuns); err != nil {
		return 0, fmt.Errorf("import %s: %w", path, err)
	}
	return len(exp.GoldenRuns), nil
}

// writeExport writes every result and golden run held by v as CBOR
func writeExport(v *validation.Validator, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := validation.EncodeExport(f, v.Export()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func resultExitCode(res validation.Result) int {
	if res.Status == validation.StatusFail {
		return exitFail
	}
	return exitPass
}

// printResult writes a validation report
func printResult(w io.Writer, res validation.Result) {
	fmt.Fprintf(w, "\n--- Validation result ---\n")
	fmt.Fprintf(w, "ID:       %s\n", res.ID)
	fmt.Fprintf(w, "Route:    %s\n", res.RouteID)
	fmt.Fprintf(w, "Status:   %s\n", res.Status)
	fmt.Fprintf(w, "Score:    %d/100\n", res.Score)
	fmt.Fprintf(w, "Checksum: %s\n", res.Checksum)
	if res.Certified() {
		fmt.Fprintf(w, "Certified: yes\n")
	} else {
		fmt.Fprintf(w, "Certified: no\n")
	}

	fmt.Fprintf(w, "\nChecks:\n")
	for _, c := range res.Checks {
		fmt.Fprintf(w, "  %-32s %-8s w=%-3.0f %s\n", c.ID, c.Status, c.Weight, c.Message)
	}

	if cmp := res.GoldenRunComparison; cmp != nil {
		printComparison(w, cmp)
	}
}

func printComparison(w io.Writer, cmp *validation.Comparison) {
	fmt.Fprintf(w, "\nGolden run %s: similarity %.0f%%\n", cmp.GoldenRunID, cmp.Similarity)

	ta := cmp.TimingAnalysis
	fmt.Fprintf(w, "  Duration: %d ms (golden %d ms, variance %s)\n",
		ta.TotalTime, ta.ExpectedTime, formatVariance(ta.Variance))

	passed := 0
	for _, cr := range cmp.CheckpointResults {
		if cr.Passed {
			passed++
		}
	}
	fmt.Fprintf(w, "  Checkpoints: %d/%d passed\n", passed, len(cmp.CheckpointResults))

	if len(cmp.Deviations) == 0 {
		fmt.Fprintf(w, "  No deviations\n")
		return
	}
	fmt.Fprintf(w, "  Deviations:\n")
	for _, d := range cmp.Deviations {
		fmt.Fprintf(w, "    [%s] %s @ %s: %s\n", strings.ToUpper(string(d.Severity)), d.Type, d.Location, d.Message)
	}
}

func formatVariance(m validation.Measure) string {
	if !m.Bounded() {
		return "unbounded"
	}
	return fmt.Sprintf("%.1f%%", float64(m)*100)
}
