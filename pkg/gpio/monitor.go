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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultWaitCycle = 100 * time.Millisecond

// Monitor watches an input line for edge interrupts and delivers one
// notification per observed level change, in order, translated to logical
// values. It owns its Line exclusively while enabled; a background worker
// waits on the line's event descriptor in bounded cycles so Disable is
// observed within one cycle.
type Monitor struct {
	mutex sync.Mutex
	log   zerolog.Logger

	number    int
	edge      Edge
	activeLow bool
	waitCycle time.Duration
	newLine   func(number int) *Line

	receivers  map[int64]func(value bool)
	order      []int64
	receiverID int64

	line    *Line
	value   Value
	enabled bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLineFactory replaces the constructor of the owned Line.
func WithMonitorLineFactory(factory func(number int) *Line) MonitorOption {
	return func(m *Monitor) {
		m.newLine = factory
	}
}

// WithMonitorBackend selects the kernel interface generation of the
// owned Line.
func WithMonitorBackend(backend Backend) MonitorOption {
	return func(m *Monitor) {
		log := m.log
		m.newLine = func(number int) *Line {
			return NewLine(number, log, WithBackend(backend))
		}
	}
}

// WithWaitCycle overrides the bounded wait interval of the worker.
func WithWaitCycle(interval time.Duration) MonitorOption {
	return func(m *Monitor) {
		if interval > 0 {
			m.waitCycle = interval
		}
	}
}

// NewMonitor creates a disabled monitor for the line with the given
// logical number. Default edge mode is both, default polarity is
// active high.
func NewMonitor(number int, log zerolog.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		log:       log.With().Str("component", "monitor").Int("gpio", number).Logger(),
		number:    number,
		edge:      EdgeBoth,
		waitCycle: defaultWaitCycle,
		receivers: make(map[int64]func(value bool)),
		value:     ValueInvalid,
	}
	m.newLine = func(number int) *Line {
		return NewLine(number, log)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Number returns the logical line number this monitor watches.
func (m *Monitor) Number() int {
	return m.number
}

// Edge returns the configured edge mode.
func (m *Monitor) Edge() Edge {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.edge
}

// SetEdge configures the edge mode applied on the next Enable.
func (m *Monitor) SetEdge(edge Edge) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.edge = edge
}

// ActiveLow returns the configured polarity.
func (m *Monitor) ActiveLow() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.activeLow
}

// SetActiveLow configures the polarity applied on the next Enable.
func (m *Monitor) SetActiveLow(activeLow bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.activeLow = activeLow
}

// Enabled returns true while the worker is armed.
func (m *Monitor) Enabled() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.enabled
}

// Value returns the last observed logical value. Safe to call while the
// worker is delivering events.
func (m *Monitor) Value() Value {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.value
}

// RegisterInterruptReceiver registers a callback invoked with the new
// logical value on every observed level change. Callbacks run on the
// worker, in registration order, one level change at a time. The
// returned cancel function removes the registration.
func (m *Monitor) RegisterInterruptReceiver(cb func(value bool)) context.CancelFunc {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	id := m.receiverID
	m.receiverID++
	m.receivers[id] = cb
	m.order = append(m.order, id)
	return func() {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		delete(m.receivers, id)
		for i, x := range m.order {
			if x == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

// Enable exports and configures the owned line and starts the worker.
// Idempotent while running. On failure everything opened so far is torn
// down and the error is returned; the worker is not started.
func (m *Monitor) Enable() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.log.Debug().Msg("Enable monitor")
	if m.enabled {
		m.log.Debug().Msg("Monitor is already running")
		return nil
	}

	line := m.newLine(m.number)
	if err := line.Export(); err != nil {
		m.log.Warn().Err(err).Msg("Could not enable monitor")
		return maskAny(err)
	}
	if err := line.SetActiveLow(m.activeLow); err != nil {
		line.Unexport()
		m.log.Warn().Err(err).Msg("Could not set monitor polarity")
		return maskAny(err)
	}
	if err := line.SetEdgeInterrupt(m.edge); err != nil {
		line.Unexport()
		m.log.Warn().Err(err).Msg("Could not set monitor interrupt")
		return maskAny(err)
	}
	// Establish the baseline before the first event, without notifying.
	m.value = line.Value()

	m.line = line
	m.enabled = true
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.run(line, m.stop)
	monitorsActiveGauge.Inc()
	return nil
}

// Disable stops the worker, waits for it to exit and releases the line.
// Idempotent; bounded by one wait cycle.
func (m *Monitor) Disable() {
	m.mutex.Lock()
	m.log.Debug().Msg("Disable monitor")
	if !m.enabled {
		m.mutex.Unlock()
		return
	}
	m.enabled = false
	close(m.stop)
	m.stop = nil
	m.mutex.Unlock()

	// The line is released only after the worker confirmed its exit,
	// otherwise the worker could wait on a closed descriptor.
	m.wg.Wait()
	m.releaseLine()
	monitorsActiveGauge.Dec()
}

func (m *Monitor) releaseLine() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.line != nil {
		m.line.Unexport()
		m.line = nil
	}
}

// run is the worker loop. It waits on the line in bounded cycles,
// observes the stop channel between cycles and delivers one notification
// per level change.
func (m *Monitor) run(line *Line, stop chan struct{}) {
	defer m.wg.Done()
	m.log.Debug().Msg("Monitor worker started")
	defer m.log.Debug().Msg("Monitor worker finished")
	for {
		select {
		case <-stop:
			return
		default:
		}
		fired, err := line.WaitForInterrupt(m.waitCycle)
		if err != nil {
			if IsDeviceGone(err) {
				m.log.Error().Err(err).Msg("Controller disappeared, stopping monitor")
				m.terminate()
				return
			}
			m.log.Warn().Err(err).Msg("Waiting for interrupt failed")
			continue
		}
		select {
		case <-stop:
			return
		default:
		}
		if !fired {
			continue
		}
		value := line.Value()
		if value == ValueInvalid {
			continue
		}
		m.setValue(value)
	}
}

// terminate marks the monitor disabled after a fatal worker error and
// releases the line. Runs on the worker.
func (m *Monitor) terminate() {
	m.mutex.Lock()
	if !m.enabled {
		m.mutex.Unlock()
		return
	}
	m.enabled = false
	m.stop = nil
	if m.line != nil {
		m.line.Unexport()
		m.line = nil
	}
	m.mutex.Unlock()
	monitorsActiveGauge.Dec()
}

// setValue stores the observed value and notifies receivers on change.
// Runs on the worker, so notifications keep the order of transitions.
func (m *Monitor) setValue(value Value) {
	m.mutex.Lock()
	if m.value == value {
		m.mutex.Unlock()
		return
	}
	m.value = value
	callbacks := make([]func(value bool), 0, len(m.order))
	for _, id := range m.order {
		callbacks = append(callbacks, m.receivers[id])
	}
	m.mutex.Unlock()

	interruptsTotal.WithLabelValues(fmt.Sprintf("%d", m.number)).Inc()
	for _, cb := range callbacks {
		cb(value == ValueHigh)
	}
}
