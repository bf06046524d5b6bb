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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// mockBackend simulates a kernel line. It tracks the physical level of
// the line and translates to logical values according to the active
// request, like the kernel does.
type mockBackend struct {
	mutex     sync.Mutex
	opened    bool
	requested bool
	cfg       RequestConfig
	physical  bool
	events    chan bool

	openErr    error
	requestErr error
	waitErr    error
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		events: make(chan bool, 16),
	}
}

func (b *mockBackend) Open() error {
	if b.openErr != nil {
		return b.openErr
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.opened = true
	return nil
}

func (b *mockBackend) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.opened = false
	b.requested = false
}

func (b *mockBackend) Request(cfg RequestConfig) error {
	if b.requestErr != nil {
		return b.requestErr
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.opened {
		return NotExportedError
	}
	b.cfg = cfg
	b.requested = true
	if cfg.Direction == DirectionOutput {
		b.physical = (cfg.InitialValue == ValueHigh) != cfg.ActiveLow
	}
	return nil
}

func (b *mockBackend) Requested() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.requested
}

func (b *mockBackend) SetValue(v Value) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.requested {
		return NotExportedError
	}
	b.physical = (v == ValueHigh) != b.cfg.ActiveLow
	return nil
}

func (b *mockBackend) Value() (Value, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.requested {
		return ValueInvalid, NotExportedError
	}
	if b.physical != b.cfg.ActiveLow {
		return ValueHigh, nil
	}
	return ValueLow, nil
}

func (b *mockBackend) EventDescriptor() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.requested || b.cfg.Direction != DirectionInput || b.cfg.Edge == EdgeNone {
		return -1
	}
	return 42
}

func (b *mockBackend) WaitForInterrupt(timeout time.Duration) (bool, error) {
	b.mutex.Lock()
	waitErr := b.waitErr
	b.mutex.Unlock()
	if waitErr != nil {
		// Pace the worker retry loop.
		time.Sleep(time.Millisecond)
		return false, waitErr
	}
	select {
	case physical := <-b.events:
		b.mutex.Lock()
		b.physical = physical
		b.mutex.Unlock()
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

// Trigger simulates a physical level transition generating an edge event.
func (b *mockBackend) Trigger(physical bool) {
	b.events <- physical
}

// SetWaitErr makes WaitForInterrupt fail with the given error until
// cleared with nil.
func (b *mockBackend) SetWaitErr(err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.waitErr = err
}

// Physical returns the current physical level of the mocked line.
func (b *mockBackend) Physical() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.physical
}

// newTestResolver builds a resolver over a fake controller tree with two
// controllers: gpiochip0 owning lines 0..31 and gpiochip1 owning 32..39.
func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	root := t.TempDir()
	sysfsRoot := filepath.Join(root, "sys", "class", "gpio")
	devRoot := filepath.Join(root, "dev")
	require.NoError(t, os.MkdirAll(devRoot, 0755))
	writeChip := func(name, base, ngpio string) {
		dir := filepath.Join(sysfsRoot, name)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "base"), []byte(base+"\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "ngpio"), []byte(ngpio+"\n"), 0644))
	}
	writeChip("gpiochip0", "0", "32")
	writeChip("gpiochip1", "32", "8")
	// Entries without the controller prefix must be skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(sysfsRoot, "export"), 0755))
	return NewResolverWithRoots(zerolog.Nop(), sysfsRoot, devRoot)
}

// newTestLine builds a Line over the fake resolver and a mock backend.
func newTestLine(t *testing.T, number int) (*Line, *mockBackend) {
	t.Helper()
	backend := newMockBackend()
	line := NewLine(number, zerolog.Nop(),
		WithResolver(newTestResolver(t)),
		WithBackendFactory(func(number int, loc Location, log zerolog.Logger) LineBackend {
			return backend
		}))
	return line, backend
}
