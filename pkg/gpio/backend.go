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

package gpio

import (
	"time"

	"github.com/rs/zerolog"
)

// Backend selects the kernel interface generation used to drive a line.
type Backend string

const (
	// BackendChardev uses the character device line requests (default).
	BackendChardev Backend = "chardev"
	// BackendSysfs uses the legacy /sys/class/gpio files.
	BackendSysfs Backend = "sysfs"
)

// ParseBackend parses a backend token (chardev|sysfs).
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendChardev:
		return BackendChardev, nil
	case BackendSysfs:
		return BackendSysfs, nil
	default:
		return "", maskAny(InvalidBackendError)
	}
}

// RequestConfig describes a kernel line request. A line has at most one
// active request; reissuing a request releases the previous one first.
type RequestConfig struct {
	Direction Direction
	Edge      Edge
	ActiveLow bool
	// InitialValue is the logical value driven when requesting an
	// output, so switching configuration does not glitch the level.
	InitialValue Value
}

// LineBackend isolates the two Linux GPIO interface generations behind one
// contract. The Line handle and the Monitor depend only on this interface.
//
// Implementations translate between logical values and physical levels
// according to the ActiveLow flag of the active request: a logical high
// corresponds to a physical low level iff ActiveLow is set.
type LineBackend interface {
	// Open binds to the controller. Idempotent.
	Open() error
	// Close releases the active request (if any) and the controller.
	// Best effort, idempotent.
	Close()
	// Request claims the line with the given configuration, releasing
	// any previous request first.
	Request(cfg RequestConfig) error
	// Requested reports whether an active request exists.
	Requested() bool
	// SetValue drives the logical value. Valid only for output requests.
	SetValue(v Value) error
	// Value reads the current logical value.
	Value() (Value, error)
	// EventDescriptor returns a pollable file descriptor that yields one
	// readiness notification per edge event, or -1 when the active
	// request generates no events.
	EventDescriptor() int
	// WaitForInterrupt blocks until an edge event arrives or the timeout
	// expires. Returns true when an event was consumed.
	WaitForInterrupt(timeout time.Duration) (bool, error)
}

// BackendFactory creates a LineBackend for a resolved line. Used by tests
// and by consumers that bring their own kernel interface.
type BackendFactory func(number int, loc Location, log zerolog.Logger) LineBackend

func backendFactoryFor(backend Backend) BackendFactory {
	switch backend {
	case BackendSysfs:
		return func(number int, loc Location, log zerolog.Logger) LineBackend {
			return newSysfsLine(number, log)
		}
	default:
		return func(number int, loc Location, log zerolog.Logger) LineBackend {
			return newChardevLine(loc, log)
		}
	}
}
