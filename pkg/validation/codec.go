// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/furrow/pkg/robot"
	"github.com/Thermoquad/furrow/pkg/runlog"
)

// canonical encodes with sorted map keys so equal values hash equally
var canonical cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	canonical = em
}

type checksumBody struct {
	Logs       []runlog.Entry `cbor:"logs"`
	FinalState robot.State    `cbor:"finalState"`
}

// Checksum is the hex SHA-256 of the canonical CBOR encoding of a log and
// its final state
func Checksum(log []runlog.Entry, final robot.State) (string, error) {
	data, err := canonical.Marshal(checksumBody{Logs: log, FinalState: final})
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Export is a bundle of stored results and golden runs
type Export struct {
	ExportedAt int64       `json:"exportedAt"` // ms
	Results    []Result    `json:"results"`
	GoldenRuns []GoldenRun `json:"goldenRuns"`
}

// Encode writes v as canonical CBOR
func Encode(w io.Writer, v any) error {
	data, err := canonical.Marshal(v)
	if err != nil {
		return fmt.Errorf("cbor encode: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Decode reads one CBOR item from r into v
func Decode(r io.Reader, v any) error {
	if err := cbor.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("cbor decode: %w", err)
	}
	return nil
}

// EncodeExport writes an export bundle as CBOR
func EncodeExport(w io.Writer, e Export) error {
	return Encode(w, e)
}

// DecodeExport reads an export bundle written by EncodeExport
func DecodeExport(r io.Reader) (Export, error) {
	var e Export
	err := Decode(r, &e)
	return e, err
}
