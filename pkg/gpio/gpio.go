// Copyright 2024 nymea GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gpio provides controlled access to Linux GPIO lines: exporting a
// line, configuring its direction, reading and writing its digital value,
// inverting its polarity and receiving edge triggered interrupt
// notifications.
//
// A line is addressed by its global logical number. The number is resolved
// to a controller device and an offset within that controller once, when the
// line is exported. Two kernel interface generations are supported behind
// the same API: the modern character device (default) and the legacy sysfs
// class files.
package gpio

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Direction of a GPIO line.
type Direction int

const (
	// DirectionInvalid means the direction has not been configured.
	DirectionInvalid Direction = iota
	// DirectionInput configures the line as software sensed input.
	DirectionInput
	// DirectionOutput configures the line as software driven output.
	DirectionOutput
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	default:
		return "invalid"
	}
}

// Value is the logical value of a GPIO line. Whether a logical high
// corresponds to a physical high or low level depends on the active-low
// configuration of the line.
type Value int

const (
	// ValueInvalid means the value is unknown or could not be read.
	ValueInvalid Value = -1
	// ValueLow is the logical low value.
	ValueLow Value = 0
	// ValueHigh is the logical high value.
	ValueHigh Value = 1
)

func (v Value) String() string {
	switch v {
	case ValueLow:
		return "0"
	case ValueHigh:
		return "1"
	default:
		return "invalid"
	}
}

// ParseValue parses "0" or "1" into a Value.
func ParseValue(s string) (Value, error) {
	switch s {
	case "0":
		return ValueLow, nil
	case "1":
		return ValueHigh, nil
	default:
		return ValueInvalid, errors.Wrapf(InvalidValueError, "'%s'", s)
	}
}

// Edge describes which physical level transitions of an input line generate
// interrupt events.
type Edge int

const (
	// EdgeNone generates no events. The line is still requested as input
	// and can be read by polling.
	EdgeNone Edge = iota
	// EdgeRising generates an event on a low to high transition.
	EdgeRising
	// EdgeFalling generates an event on a high to low transition.
	EdgeFalling
	// EdgeBoth generates an event on both transitions.
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// ParseEdge parses an edge token (rising|falling|both|none) into an Edge.
func ParseEdge(s string) (Edge, error) {
	switch strings.ToLower(s) {
	case "rising":
		return EdgeRising, nil
	case "falling":
		return EdgeFalling, nil
	case "both":
		return EdgeBoth, nil
	case "none":
		return EdgeNone, nil
	default:
		return EdgeNone, errors.Wrapf(InvalidEdgeError, "'%s'", s)
	}
}

// IsAvailable returns true if at least one GPIO controller device is
// present on this platform.
func IsAvailable() bool {
	if _, err := os.Stat("/dev/gpiochip0"); err == nil {
		return true
	}
	_, err := os.Stat("/sys/class/gpio")
	return err == nil
}
