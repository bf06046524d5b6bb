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
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// LineNotFoundError is returned when no controller owns the given
	// logical line number. This is a recoverable configuration error.
	LineNotFoundError = errors.New("line not found")
	IsLineNotFound    = isErrorFunc(LineNotFoundError)

	// InvalidDirectionError is returned when an operation receives an
	// invalid direction, or requires a direction the line is not in.
	InvalidDirectionError = errors.New("invalid direction")
	IsInvalidDirection    = isErrorFunc(InvalidDirectionError)

	// InvalidValueError is returned when a value other than low or high
	// is used.
	InvalidValueError = errors.New("invalid value")
	IsInvalidValue    = isErrorFunc(InvalidValueError)

	// InvalidEdgeError is returned when an edge token cannot be parsed or
	// edge events are requested on an output line.
	InvalidEdgeError = errors.New("invalid edge")
	IsInvalidEdge    = isErrorFunc(InvalidEdgeError)

	// InvalidBackendError is returned for unknown backend tokens.
	InvalidBackendError = errors.New("invalid backend")
	IsInvalidBackend    = isErrorFunc(InvalidBackendError)

	// NotExportedError is returned when an operation needs a requested
	// line but the handle is not exported.
	NotExportedError = errors.New("line not exported")
	IsNotExported    = isErrorFunc(NotExportedError)

	maskAny = errors.WithStack
)

func isErrorFunc(typeOfError error) func(err error) bool {
	return func(err error) bool {
		return err == typeOfError || errors.Cause(err) == typeOfError
	}
}

// IsDeviceGone returns true for errors that indicate the underlying
// controller device disappeared. A monitor worker terminates on these
// instead of retrying.
func IsDeviceGone(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	return errors.Is(cause, unix.ENODEV) ||
		errors.Is(cause, unix.EBADF) ||
		errors.Is(cause, unix.ENOENT)
}
