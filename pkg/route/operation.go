// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package route

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operation is the kind of movement a route step performs. Values match the
// firmware's operation codes.
type Operation int

const (
	OpNorm         Operation = 1 // line following with magnetic correction
	OpTurnLeft     Operation = 2 // combined forward movement and left turn
	OpTurnRight    Operation = 3 // combined forward movement and right turn
	OpLeft90       Operation = 4 // pivot 90 degrees left
	OpRight90      Operation = 5 // pivot 90 degrees right
	OpDifferential Operation = 6
	OpNormNoMagnet Operation = 7 // line following without magnetic correction
	OpNoOperation  Operation = 8
)

var operationNames = map[Operation]string{
	OpNorm:         "NORM",
	OpTurnLeft:     "TURN_LEFT",
	OpTurnRight:    "TURN_RIGHT",
	OpLeft90:       "LEFT_90",
	OpRight90:      "RIGHT_90",
	OpDifferential: "DIFFERENTIAL",
	OpNormNoMagnet: "NORM_NO_MAGNET",
	OpNoOperation:  "NO_OPERATION",
}

// firmware spellings accepted on input
var operationAliases = map[string]Operation{
	"TU_L":          OpTurnLeft,
	"TU_R":          OpTurnRight,
	"L_90":          OpLeft90,
	"R_90":          OpRight90,
	"DIFF":          OpDifferential,
	"NORM_NOMAGNET": OpNormNoMagnet,
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OPERATION_%d", int(o))
}

// Valid reports whether o is a known operation
func (o Operation) Valid() bool {
	_, ok := operationNames[o]
	return ok
}

// IsPivot reports whether the step turns in place
func (o Operation) IsPivot() bool {
	return o == OpLeft90 || o == OpRight90
}

// ParseOperation accepts the canonical name, a firmware alias or the numeric code
func ParseOperation(s string) (Operation, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for op, n := range operationNames {
		if n == name {
			return op, nil
		}
	}
	if op, ok := operationAliases[name]; ok {
		return op, nil
	}
	if n, err := strconv.Atoi(name); err == nil && Operation(n).Valid() {
		return Operation(n), nil
	}
	return 0, fmt.Errorf("%w: unknown operation %q", ErrInvalidRoute, s)
}

func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Operation) UnmarshalText(text []byte) error {
	op, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// UnmarshalJSON accepts both names and numeric codes
func (o *Operation) UnmarshalJSON(data []byte) error {
	return o.UnmarshalText([]byte(strings.Trim(string(data), `"`)))
}

// UnmarshalYAML accepts both names and numeric codes
func (o *Operation) UnmarshalYAML(value *yaml.Node) error {
	return o.UnmarshalText([]byte(value.Value))
}
