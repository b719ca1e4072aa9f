// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/furrow/internal/logging"
	"github.com/Thermoquad/furrow/pkg/validation"
)

var (
	validateGolden      string
	validateRouteID     string
	validateEnvironment string
	validateOperator    string
	validateJSON        bool
	validateExport      string
)

var validateCmd = &cobra.Command{
	Use:   "validate RUN_FILE",
	Short: "Validate a recorded execution log",
	Long: `Score an execution log written by 'furrow run --log-out' (or exported
from the server) against the validation rules, and against the golden run of
its route when --golden provides one.

Exit codes:
  0 - PASS or WARNING
  1 - FAIL
  2 - Input error`,
	Args: cobra.ExactArgs(1),
	RunE: runValidateCmd,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateGolden, "golden", "", "CBOR export to import golden runs from")
	validateCmd.Flags().StringVar(&validateRouteID, "route-id", "", "Override the route ID of the run file")
	validateCmd.Flags().StringVar(&validateEnvironment, "environment", "", "Test environment recorded in the result")
	validateCmd.Flags().StringVar(&validateOperator, "operator", "", "Operator recorded in the result")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the result as JSON")
	validateCmd.Flags().StringVar(&validateExport, "export", "", "Write the result and golden runs as CBOR")
}

func runValidateCmd(cmd *cobra.Command, args []string) error {
	rf, err := readRunFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Input error: %v\n", err)
		os.Exit(exitUsage)
	}
	if validateRouteID != "" {
		rf.RouteID = validateRouteID
	}
	if validateEnvironment != "" || validateOperator != "" {
		meta := validation.Metadata{}
		if rf.Metadata != nil {
			meta = *rf.Metadata
		}
		if validateEnvironment != "" {
			meta.TestEnvironment = validateEnvironment
		}
		if validateOperator != "" {
			meta.Operator = validateOperator
		}
		rf.Metadata = &meta
	}

	logger, err := logging.New(debug, "error")
	if err != nil {
		return err
	}
	defer logger.Sync()

	v := validation.New(validation.WithLogger(logger))
	if validateGolden != "" {
		if _, err := importGoldenBundle(v, validateGolden); err != nil {
			fmt.Fprintf(os.Stderr, "Golden run error: %v\n", err)
			os.Exit(exitUsage)
		}
	}

	res, err := v.Validate(rf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(exitUsage)
	}

	if validateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(os.Stdout, res)
	}

	if validateExport != "" {
		if err := writeExport(v, validateExport); err != nil {
			return err
		}
	}

	if code := resultExitCode(res); code != exitPass {
		os.Exit(code)
	}
	return nil
}
