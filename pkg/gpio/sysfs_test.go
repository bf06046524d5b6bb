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
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSysfsLine builds a sysfs backend over a fake class tree with the
// line directory already present, as if the kernel had exported it.
func newTestSysfsLine(t *testing.T, number int) (*sysfsLine, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "gpio23")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range map[string]string{
		"value":      "0",
		"direction":  "in",
		"edge":       "none",
		"active_low": "0",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	for _, name := range []string{"export", "unexport"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), nil, 0644))
	}
	b := newSysfsLine(number, zerolog.Nop()).(*sysfsLine)
	b.root = root
	return b, dir
}

func readAttr(t *testing.T, dir, name string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(raw)
}

func TestSysfsOutputRequest(t *testing.T) {
	b, dir := newTestSysfsLine(t, 23)
	require.NoError(t, b.Open())
	defer b.Close()

	require.NoError(t, b.Request(RequestConfig{
		Direction:    DirectionOutput,
		InitialValue: ValueHigh,
	}))
	assert.True(t, b.Requested())
	assert.Equal(t, "high", readAttr(t, dir, "direction"))
	assert.Equal(t, "0", readAttr(t, dir, "active_low"))

	require.NoError(t, b.SetValue(ValueLow))
	assert.Equal(t, "0", readAttr(t, dir, "value"))
	require.NoError(t, b.SetValue(ValueHigh))
	assert.Equal(t, "1", readAttr(t, dir, "value"))

	v, err := b.Value()
	require.NoError(t, err)
	assert.Equal(t, ValueHigh, v)
}

func TestSysfsInputRequest(t *testing.T) {
	b, dir := newTestSysfsLine(t, 23)
	require.NoError(t, b.Open())
	defer b.Close()

	assert.Equal(t, -1, b.EventDescriptor())

	require.NoError(t, b.Request(RequestConfig{
		Direction: DirectionInput,
		Edge:      EdgeFalling,
		ActiveLow: true,
	}))
	assert.Equal(t, "in", readAttr(t, dir, "direction"))
	assert.Equal(t, "falling", readAttr(t, dir, "edge"))
	assert.Equal(t, "1", readAttr(t, dir, "active_low"))
	assert.NotEqual(t, -1, b.EventDescriptor())
}

func TestSysfsRequestWithoutOpen(t *testing.T) {
	b, _ := newTestSysfsLine(t, 23)

	err := b.Request(RequestConfig{Direction: DirectionInput})
	require.Error(t, err)
	assert.True(t, IsNotExported(err))

	err = b.SetValue(ValueHigh)
	require.Error(t, err)
	assert.True(t, IsNotExported(err))

	_, err = b.Value()
	require.Error(t, err)
	assert.True(t, IsNotExported(err))
}

func TestSysfsCloseKeepsForeignExport(t *testing.T) {
	b, _ := newTestSysfsLine(t, 23)
	require.NoError(t, b.Open())

	// The line directory pre-existed, so this process never became the
	// owner and must not unexport on close.
	assert.False(t, b.exported)
	b.Close()
	assert.Empty(t, readAttr(t, b.root, "unexport"))
}

func TestSysfsOpenRollsBackOwnExport(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"export", "unexport"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), nil, 0644))
	}
	b := newSysfsLine(7, zerolog.Nop()).(*sysfsLine)
	b.root = root

	// The export write succeeds but the kernel never materializes the
	// line directory, so the own export is rolled back.
	err := b.Open()
	require.Error(t, err)
	assert.Equal(t, "7", readAttr(t, root, "export"))
	assert.Equal(t, "7", readAttr(t, root, "unexport"))
	assert.False(t, b.exported)
}

func TestSysfsOpenIdempotent(t *testing.T) {
	b, _ := newTestSysfsLine(t, 23)
	require.NoError(t, b.Open())
	require.NoError(t, b.Open())
	b.Close()
	b.Close()
	assert.False(t, b.Requested())
}
