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

const (
	defaultLongPressedTimeout = 250 * time.Millisecond
	// A press shorter than this is treated as bounce, a press longer
	// than clickMaxDuration is not a click anymore.
	clickMinDuration = 10 * time.Millisecond
	clickMaxDuration = 500 * time.Millisecond
)

// ButtonEvent is a semantic event of a push button.
type ButtonEvent int

const (
	// ButtonPressed is emitted when the button goes down.
	ButtonPressed ButtonEvent = iota
	// ButtonReleased is emitted when the button comes up.
	ButtonReleased
	// ButtonClicked is emitted on release after a debounced short press.
	ButtonClicked
	// ButtonLongPressed is emitted while the button is held longer than
	// the long press timeout.
	ButtonLongPressed
)

func (e ButtonEvent) String() string {
	switch e {
	case ButtonPressed:
		return "pressed"
	case ButtonReleased:
		return "released"
	case ButtonClicked:
		return "clicked"
	case ButtonLongPressed:
		return "long-pressed"
	default:
		return "unknown"
	}
}

// Button interprets the level changes of a monitored input line as press,
// release, click and long press events. It consumes an edge monitor
// configured for both edges; a logical high means pressed.
type Button struct {
	mutex sync.Mutex
	log   zerolog.Logger

	number             int
	name               string
	activeLow          bool
	longPressedTimeout time.Duration
	repeatLongPressed  bool
	newMonitor         func(number int) *Monitor

	receivers  map[int64]func(event ButtonEvent)
	order      []int64
	receiverID int64

	monitor         *Monitor
	cancelInterrupt context.CancelFunc
	timer           *time.Timer
	pressedAt       time.Time
	enabled         bool
}

// ButtonOption configures a Button.
type ButtonOption func(*Button)

// WithButtonName gives the button a name used in log output.
func WithButtonName(name string) ButtonOption {
	return func(b *Button) {
		b.name = name
	}
}

// WithButtonActiveLow inverts the polarity of the monitored line.
func WithButtonActiveLow(activeLow bool) ButtonOption {
	return func(b *Button) {
		b.activeLow = activeLow
	}
}

// WithLongPressedTimeout overrides the hold duration after which a long
// press is emitted.
func WithLongPressedTimeout(timeout time.Duration) ButtonOption {
	return func(b *Button) {
		if timeout > 0 {
			b.longPressedTimeout = timeout
		}
	}
}

// WithRepeatLongPressed repeats the long press event every timeout
// interval while the button stays held.
func WithRepeatLongPressed(repeat bool) ButtonOption {
	return func(b *Button) {
		b.repeatLongPressed = repeat
	}
}

// WithButtonMonitorFactory replaces the constructor of the owned monitor.
func WithButtonMonitorFactory(factory func(number int) *Monitor) ButtonOption {
	return func(b *Button) {
		b.newMonitor = factory
	}
}

// NewButton creates a disabled button on the line with the given logical
// number.
func NewButton(number int, log zerolog.Logger, opts ...ButtonOption) *Button {
	b := &Button{
		log:                log.With().Str("component", "button").Int("gpio", number).Logger(),
		number:             number,
		longPressedTimeout: defaultLongPressedTimeout,
		receivers:          make(map[int64]func(event ButtonEvent)),
	}
	b.newMonitor = func(number int) *Monitor {
		return NewMonitor(number, log)
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.name != "" {
		b.log = b.log.With().Str("name", b.name).Logger()
	}
	return b
}

// Number returns the logical line number of the button.
func (b *Button) Number() int {
	return b.number
}

// Name returns the configured button name.
func (b *Button) Name() string {
	return b.name
}

// RegisterEventReceiver registers a callback invoked for every button
// event, in registration order. The returned cancel function removes the
// registration.
func (b *Button) RegisterEventReceiver(cb func(event ButtonEvent)) context.CancelFunc {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	id := b.receiverID
	b.receiverID++
	b.receivers[id] = cb
	b.order = append(b.order, id)
	return func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		delete(b.receivers, id)
		for i, x := range b.order {
			if x == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Enable arms the button. Any previous monitor is torn down first so the
// button starts from a clean state.
func (b *Button) Enable() error {
	b.Disable()

	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.log.Debug().Msg("Enable button")
	monitor := b.newMonitor(b.number)
	monitor.SetEdge(EdgeBoth)
	monitor.SetActiveLow(b.activeLow)
	cancel := monitor.RegisterInterruptReceiver(b.onInterrupt)
	if err := monitor.Enable(); err != nil {
		cancel()
		b.log.Warn().Err(err).Msg("Could not enable button monitor")
		return maskAny(err)
	}
	b.monitor = monitor
	b.cancelInterrupt = cancel
	b.enabled = true
	return nil
}

// Disable tears the button down. Idempotent.
func (b *Button) Disable() {
	b.mutex.Lock()
	if !b.enabled {
		b.mutex.Unlock()
		return
	}
	b.log.Debug().Msg("Disable button")
	b.enabled = false
	monitor := b.monitor
	cancel := b.cancelInterrupt
	b.monitor = nil
	b.cancelInterrupt = nil
	b.stopTimer()
	b.mutex.Unlock()

	if cancel != nil {
		cancel()
	}
	if monitor != nil {
		monitor.Disable()
	}
}

// Enabled returns true while the button is armed.
func (b *Button) Enabled() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.enabled
}

// onInterrupt translates level changes into button events. Runs on the
// monitor worker.
func (b *Button) onInterrupt(value bool) {
	b.mutex.Lock()
	if !b.enabled {
		b.mutex.Unlock()
		return
	}
	var events []ButtonEvent
	if value {
		b.pressedAt = time.Now()
		b.startTimer()
		events = append(events, ButtonPressed)
	} else {
		b.stopTimer()
		duration := time.Since(b.pressedAt)
		events = append(events, ButtonReleased)
		if duration >= clickMinDuration && duration <= clickMaxDuration {
			events = append(events, ButtonClicked)
		}
	}
	b.mutex.Unlock()

	for _, event := range events {
		b.emit(event)
	}
}

// onLongPressed fires when the hold timer expires. Runs on a timer
// goroutine.
func (b *Button) onLongPressed() {
	b.mutex.Lock()
	if !b.enabled {
		b.mutex.Unlock()
		return
	}
	if b.repeatLongPressed {
		b.startTimer()
	}
	b.mutex.Unlock()
	b.emit(ButtonLongPressed)
}

// startTimer (re)arms the long press timer. Caller must hold mutex.
func (b *Button) startTimer() {
	b.stopTimer()
	b.timer = time.AfterFunc(b.longPressedTimeout, b.onLongPressed)
}

// stopTimer cancels a pending long press timer. Caller must hold mutex.
func (b *Button) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Button) emit(event ButtonEvent) {
	b.mutex.Lock()
	callbacks := make([]func(event ButtonEvent), 0, len(b.order))
	for _, id := range b.order {
		callbacks = append(callbacks, b.receivers[id])
	}
	b.mutex.Unlock()

	b.log.Debug().Stringer("event", event).Msg("Button event")
	for _, cb := range callbacks {
		cb(event)
	}
}

// String returns a compact description of the button.
func (b *Button) String() string {
	return fmt.Sprintf("GpioButton(%d, name: %s)", b.number, b.name)
}
