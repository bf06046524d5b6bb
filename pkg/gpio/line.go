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
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Line is the handle for a single GPIO line, addressed by its global
// logical number. It owns the open controller and the active kernel
// request, and caches direction, value, polarity and edge configuration.
//
// A Line starts unexported. Export resolves the number to a controller and
// binds to it; Unexport releases everything. Both are idempotent. All
// methods are safe for concurrent use.
type Line struct {
	mutex sync.Mutex
	log   zerolog.Logger

	number     int
	resolver   *Resolver
	newBackend BackendFactory

	loc     *Location
	backend LineBackend

	direction Direction
	value     Value
	activeLow bool
	edge      Edge
}

// LineOption configures a Line.
type LineOption func(*Line)

// WithBackend selects the kernel interface generation. Default is the
// character device.
func WithBackend(backend Backend) LineOption {
	return func(l *Line) {
		l.newBackend = backendFactoryFor(backend)
	}
}

// WithBackendFactory installs a custom backend constructor.
func WithBackendFactory(factory BackendFactory) LineOption {
	return func(l *Line) {
		l.newBackend = factory
	}
}

// WithResolver replaces the default chip resolver.
func WithResolver(resolver *Resolver) LineOption {
	return func(l *Line) {
		l.resolver = resolver
	}
}

// NewLine creates a handle for the line with the given logical number.
// The kernel resources are not touched until Export is called.
func NewLine(number int, log zerolog.Logger, opts ...LineOption) *Line {
	l := &Line{
		log:        log.With().Str("component", "line").Int("gpio", number).Logger(),
		number:     number,
		resolver:   NewResolver(log),
		newBackend: backendFactoryFor(BackendChardev),
		direction:  DirectionInvalid,
		value:      ValueInvalid,
		edge:       EdgeNone,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Number returns the logical line number of this handle.
func (l *Line) Number() int {
	return l.number
}

// Export resolves the line to a controller and binds to it. Idempotent.
// On failure nothing remains open and a later Unexport is a safe no-op.
func (l *Line) Export() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.ensureExported()
}

// ensureExported resolves and opens the backend. Caller must hold mutex.
func (l *Line) ensureExported() error {
	if l.backend != nil {
		return nil
	}
	if l.loc == nil {
		loc, err := l.resolver.Resolve(l.number)
		if err != nil {
			return maskAny(err)
		}
		l.loc = &loc
	}
	backend := l.newBackend(l.number, *l.loc, l.log)
	if err := backend.Open(); err != nil {
		backend.Close()
		l.log.Warn().Err(err).Msg("Could not open controller")
		return maskAny(err)
	}
	l.backend = backend
	linesExportedTotal.WithLabelValues(fmt.Sprintf("%d", l.number)).Inc()
	return nil
}

// Unexport releases the requested line (if any) and the controller, and
// clears the cached configuration. Best effort, idempotent.
func (l *Line) Unexport() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.log.Debug().Msg("Unexport line")
	if l.backend != nil {
		l.backend.Close()
		l.backend = nil
	}
	l.loc = nil
	l.direction = DirectionInvalid
	l.edge = EdgeNone
	l.value = ValueInvalid
}

// Exported returns true while the handle owns an open controller.
func (l *Line) Exported() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.backend != nil
}

// Location returns the resolved controller location, or false when the
// line has not been resolved yet.
func (l *Line) Location() (Location, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.loc == nil {
		return Location{}, false
	}
	return *l.loc, true
}

// SetDirection configures the line as input or output, reissuing the
// kernel request. For outputs the last known value is preserved so the
// level does not glitch; for inputs the edge mode is cleared to none.
func (l *Line) SetDirection(direction Direction) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.log.Debug().Stringer("direction", direction).Msg("Set direction")
	if direction != DirectionInput && direction != DirectionOutput {
		l.log.Warn().Msg("Setting an invalid direction is forbidden")
		return maskAny(InvalidDirectionError)
	}
	edge := EdgeNone
	if err := l.request(direction, edge); err != nil {
		return maskAny(err)
	}
	l.direction = direction
	l.edge = edge
	return nil
}

// Direction returns the cached direction.
func (l *Line) Direction() Direction {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.direction
}

// SetValue drives the logical value of an output line.
func (l *Line) SetValue(value Value) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.log.Debug().Stringer("value", value).Msg("Set value")
	if value != ValueLow && value != ValueHigh {
		l.log.Warn().Msg("Setting an invalid value is forbidden")
		return maskAny(InvalidValueError)
	}
	if l.direction != DirectionOutput {
		l.log.Warn().Msg("Setting the value of a non-output line is forbidden")
		return maskAny(InvalidDirectionError)
	}
	if err := l.backend.SetValue(value); err != nil {
		l.log.Warn().Err(err).Msg("Could not set value")
		return maskAny(err)
	}
	l.value = value
	return nil
}

// Value returns the logical value of the line. For outputs the cached
// last set value is returned; for inputs a live read is performed.
// Returns ValueInvalid on any failure instead of failing the caller.
func (l *Line) Value() Value {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.backend == nil || !l.backend.Requested() {
		return ValueInvalid
	}
	if l.direction == DirectionOutput {
		return l.value
	}
	value, err := l.backend.Value()
	if err != nil {
		l.log.Warn().Err(err).Msg("Could not read value")
		return ValueInvalid
	}
	return value
}

// SetActiveLow inverts the mapping between logical value and physical
// level. An active request is reissued so the kernel level inversion and
// the cached value stay consistent. No-op when unchanged.
func (l *Line) SetActiveLow(activeLow bool) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.log.Debug().Bool("activeLow", activeLow).Msg("Set active low")
	if l.activeLow == activeLow {
		return nil
	}
	l.activeLow = activeLow
	if l.direction == DirectionInvalid {
		// Not requested yet, the flag is applied on the next request.
		return nil
	}
	return maskAny(l.request(l.direction, l.edge))
}

// ActiveLow returns the cached polarity flag.
func (l *Line) ActiveLow() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.activeLow
}

// SetEdgeInterrupt configures which transitions generate interrupt
// events. Valid only for input lines; an unset line is forced to input.
func (l *Line) SetEdgeInterrupt(edge Edge) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.log.Debug().Stringer("edge", edge).Msg("Set edge interrupt")
	if l.direction == DirectionOutput {
		l.log.Warn().Msg("Could not set edge interrupt, line is configured as an output")
		return maskAny(InvalidEdgeError)
	}
	if err := l.request(DirectionInput, edge); err != nil {
		return maskAny(err)
	}
	l.direction = DirectionInput
	l.edge = edge
	return nil
}

// EdgeInterrupt returns the cached edge mode.
func (l *Line) EdgeInterrupt() Edge {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.edge
}

// FileDescriptor returns a pollable descriptor yielding one readiness
// notification per edge event. Valid only when the line is an input with
// an edge mode configured, -1 otherwise.
func (l *Line) FileDescriptor() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.backend == nil || l.direction != DirectionInput || l.edge == EdgeNone {
		return -1
	}
	return l.backend.EventDescriptor()
}

// WaitForInterrupt blocks until an edge event arrives or the timeout
// expires. Returns true when an event was consumed. Valid only when the
// line is an input with an edge mode configured.
func (l *Line) WaitForInterrupt(timeout time.Duration) (bool, error) {
	l.mutex.Lock()
	backend := l.backend
	ready := backend != nil && l.direction == DirectionInput && l.edge != EdgeNone
	l.mutex.Unlock()
	if !ready {
		return false, maskAny(NotExportedError)
	}
	// The wait runs outside the lock so configuration reads stay
	// responsive while the backend blocks.
	return backend.WaitForInterrupt(timeout)
}

// request reissues the kernel request with the given configuration,
// exporting the line first if needed. Caller must hold mutex.
func (l *Line) request(direction Direction, edge Edge) error {
	if err := l.ensureExported(); err != nil {
		return maskAny(err)
	}
	initial := l.value
	if initial == ValueInvalid {
		initial = ValueLow
	}
	cfg := RequestConfig{
		Direction:    direction,
		Edge:         edge,
		ActiveLow:    l.activeLow,
		InitialValue: initial,
	}
	if err := l.backend.Request(cfg); err != nil {
		l.log.Warn().Err(err).Stringer("direction", direction).Msg("Could not request line")
		lineRequestFailuresTotal.WithLabelValues(fmt.Sprintf("%d", l.number)).Inc()
		return maskAny(err)
	}
	lineRequestsTotal.WithLabelValues(fmt.Sprintf("%d", l.number)).Inc()
	return nil
}

// String returns a compact description of the line configuration.
func (l *Line) String() string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return fmt.Sprintf("Gpio(%d, %s, edge: %s, active low: %t, value: %s)",
		l.number, l.direction, l.edge, l.activeLow, l.value)
}
