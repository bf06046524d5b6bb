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
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestButton builds a button over a mocked monitor path.
func newTestButton(t *testing.T, number int, opts ...ButtonOption) *Button {
	t.Helper()
	opts = append([]ButtonOption{
		WithButtonMonitorFactory(func(number int) *Monitor {
			return newTestMonitor(t, number)
		}),
	}, opts...)
	return NewButton(number, zerolog.Nop(), opts...)
}

// buttonBackend digs the mock backend out of an enabled button.
func buttonBackend(t *testing.T, b *Button) *mockBackend {
	t.Helper()
	b.mutex.Lock()
	monitor := b.monitor
	b.mutex.Unlock()
	require.NotNil(t, monitor)
	return monitorBackend(t, monitor)
}

// collectEvent reads one button event or fails the test.
func collectEvent(t *testing.T, ch <-chan ButtonEvent) ButtonEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for button event")
		return ButtonPressed
	}
}

func TestButtonClick(t *testing.T) {
	b := newTestButton(t, 24, WithButtonName("test"))
	events := make(chan ButtonEvent, 16)
	defer b.RegisterEventReceiver(func(event ButtonEvent) {
		events <- event
	})()

	require.NoError(t, b.Enable())
	defer b.Disable()
	assert.True(t, b.Enabled())

	mb := buttonBackend(t, b)
	mb.Trigger(true)
	assert.Equal(t, ButtonPressed, collectEvent(t, events))

	// Release inside the click window.
	time.Sleep(30 * time.Millisecond)
	mb.Trigger(false)
	assert.Equal(t, ButtonReleased, collectEvent(t, events))
	assert.Equal(t, ButtonClicked, collectEvent(t, events))
}

func TestButtonLongPress(t *testing.T) {
	b := newTestButton(t, 24, WithLongPressedTimeout(40*time.Millisecond))
	events := make(chan ButtonEvent, 16)
	defer b.RegisterEventReceiver(func(event ButtonEvent) {
		events <- event
	})()

	require.NoError(t, b.Enable())
	defer b.Disable()

	mb := buttonBackend(t, b)
	mb.Trigger(true)
	assert.Equal(t, ButtonPressed, collectEvent(t, events))

	// Keep the button held past the long press timeout.
	assert.Equal(t, ButtonLongPressed, collectEvent(t, events))

	mb.Trigger(false)
	assert.Equal(t, ButtonReleased, collectEvent(t, events))
}

func TestButtonRepeatLongPress(t *testing.T) {
	b := newTestButton(t, 24,
		WithLongPressedTimeout(20*time.Millisecond),
		WithRepeatLongPressed(true))
	events := make(chan ButtonEvent, 16)
	defer b.RegisterEventReceiver(func(event ButtonEvent) {
		events <- event
	})()

	require.NoError(t, b.Enable())
	defer b.Disable()

	mb := buttonBackend(t, b)
	mb.Trigger(true)
	assert.Equal(t, ButtonPressed, collectEvent(t, events))
	assert.Equal(t, ButtonLongPressed, collectEvent(t, events))
	assert.Equal(t, ButtonLongPressed, collectEvent(t, events))
	mb.Trigger(false)
}

func TestButtonReleaseOutsideClickWindow(t *testing.T) {
	b := newTestButton(t, 24, WithLongPressedTimeout(10*time.Second))
	events := make(chan ButtonEvent, 16)
	defer b.RegisterEventReceiver(func(event ButtonEvent) {
		events <- event
	})()

	require.NoError(t, b.Enable())
	defer b.Disable()

	mb := buttonBackend(t, b)
	mb.Trigger(true)
	assert.Equal(t, ButtonPressed, collectEvent(t, events))

	// Held longer than the click window, so no click is emitted.
	time.Sleep(600 * time.Millisecond)
	mb.Trigger(false)
	assert.Equal(t, ButtonReleased, collectEvent(t, events))
	select {
	case e := <-events:
		t.Fatalf("unexpected event: %s", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestButtonDisableIdempotent(t *testing.T) {
	b := newTestButton(t, 24)
	b.Disable()
	assert.False(t, b.Enabled())

	require.NoError(t, b.Enable())
	b.Disable()
	b.Disable()
	assert.False(t, b.Enabled())
}

func TestButtonEnableUnknownLine(t *testing.T) {
	b := newTestButton(t, 9999)
	err := b.Enable()
	require.Error(t, err)
	assert.True(t, IsLineNotFound(err))
	assert.False(t, b.Enabled())
}

func TestButtonString(t *testing.T) {
	b := NewButton(24, zerolog.Nop(), WithButtonName("shutdown"))
	assert.Equal(t, "GpioButton(24, name: shutdown)", b.String())
	assert.Equal(t, "shutdown", b.Name())
	assert.Equal(t, 24, b.Number())
}

func TestButtonEventString(t *testing.T) {
	assert.Equal(t, "pressed", ButtonPressed.String())
	assert.Equal(t, "released", ButtonReleased.String())
	assert.Equal(t, "clicked", ButtonClicked.String())
	assert.Equal(t, "long-pressed", ButtonLongPressed.String())
}
