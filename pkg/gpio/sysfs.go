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
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// sysfsLine drives a single line through the legacy /sys/class/gpio
// files. The kernel applies polarity inversion via the active_low
// attribute, so values crossing this backend are always logical.
//
// Edge events are delivered as exceptional conditions (POLLPRI) on the
// value file after writing the edge attribute.
type sysfsLine struct {
	log    zerolog.Logger
	number int
	root   string

	fValue    *os.File
	requested bool
	cfg       RequestConfig
	exported  bool
}

func newSysfsLine(number int, log zerolog.Logger) LineBackend {
	return &sysfsLine{
		log:    log.With().Str("backend", string(BackendSysfs)).Logger(),
		number: number,
		root:   "/sys/class/gpio",
	}
}

func (b *sysfsLine) lineDir() string {
	return filepath.Join(b.root, fmt.Sprintf("gpio%d", b.number))
}

func (b *sysfsLine) attributePath(name string) string {
	return filepath.Join(b.lineDir(), name)
}

func (b *sysfsLine) Open() error {
	if b.fValue != nil {
		return nil
	}
	if _, err := os.Stat(b.lineDir()); err != nil {
		err := b.writeControl("export", strconv.Itoa(b.number))
		if err != nil && !errors.Is(errors.Cause(err), unix.EBUSY) {
			return errors.Wrapf(err, "failed to export gpio %d", b.number)
		}
		// Only a successful export write makes this process the owner,
		// an EBUSY means someone else holds the line.
		b.exported = err == nil
	}
	// Udev rules adjusting access on the freshly created files run
	// asynchronously, retry briefly on permission errors.
	var f *os.File
	var err error
	for start := time.Now(); time.Since(start) < time.Second; {
		f, err = os.OpenFile(b.attributePath("value"), os.O_RDWR, 0660)
		if err == nil || !os.IsPermission(err) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		b.unexport()
		return errors.Wrapf(err, "failed to open value file of gpio %d", b.number)
	}
	b.fValue = f
	return nil
}

func (b *sysfsLine) Close() {
	if b.fValue != nil {
		if b.requested && b.cfg.Edge != EdgeNone {
			_ = b.writeAttribute("edge", "none")
		}
		_ = b.fValue.Close()
		b.fValue = nil
	}
	b.requested = false
	b.unexport()
}

func (b *sysfsLine) unexport() {
	if b.exported {
		_ = b.writeControl("unexport", strconv.Itoa(b.number))
		b.exported = false
	}
}

func (b *sysfsLine) Request(cfg RequestConfig) error {
	if b.fValue == nil {
		return maskAny(NotExportedError)
	}
	activeLow := "0"
	if cfg.ActiveLow {
		activeLow = "1"
	}
	if err := b.writeAttribute("active_low", activeLow); err != nil {
		return errors.Wrapf(err, "failed to set polarity of gpio %d", b.number)
	}
	switch cfg.Direction {
	case DirectionInput:
		if err := b.writeAttribute("direction", "in"); err != nil {
			return errors.Wrapf(err, "failed to set gpio %d as input", b.number)
		}
		// Reset the edge before arming it, accumulated events are not
		// always flushed otherwise.
		if err := b.writeAttribute("edge", "none"); err != nil {
			return errors.Wrapf(err, "failed to reset edge of gpio %d", b.number)
		}
		if cfg.Edge != EdgeNone {
			if err := b.writeAttribute("edge", cfg.Edge.String()); err != nil {
				return errors.Wrapf(err, "failed to set edge of gpio %d", b.number)
			}
		}
	case DirectionOutput:
		// Writing "low"/"high" configures the direction and the initial
		// value in one step, glitch free.
		token := "low"
		if cfg.InitialValue == ValueHigh {
			token = "high"
		}
		if err := b.writeAttribute("direction", token); err != nil {
			return errors.Wrapf(err, "failed to set gpio %d as output", b.number)
		}
	default:
		return maskAny(InvalidDirectionError)
	}
	b.cfg = cfg
	b.requested = true
	return nil
}

func (b *sysfsLine) Requested() bool {
	return b.requested
}

func (b *sysfsLine) SetValue(v Value) error {
	if !b.requested {
		return maskAny(NotExportedError)
	}
	token := "0"
	if v == ValueHigh {
		token = "1"
	}
	if _, err := b.fValue.WriteAt([]byte(token), 0); err != nil {
		return errors.Wrapf(err, "failed to write value of gpio %d", b.number)
	}
	return nil
}

func (b *sysfsLine) Value() (Value, error) {
	if b.fValue == nil {
		return ValueInvalid, maskAny(NotExportedError)
	}
	var buf [4]byte
	if _, err := b.fValue.ReadAt(buf[:1], 0); err != nil {
		return ValueInvalid, errors.Wrapf(err, "failed to read value of gpio %d", b.number)
	}
	switch buf[0] {
	case '0':
		return ValueLow, nil
	case '1':
		return ValueHigh, nil
	default:
		return ValueInvalid, errors.Errorf("unexpected value '%c' of gpio %d", buf[0], b.number)
	}
}

func (b *sysfsLine) EventDescriptor() int {
	if b.fValue == nil || !b.requested || b.cfg.Direction != DirectionInput || b.cfg.Edge == EdgeNone {
		return -1
	}
	return int(b.fValue.Fd())
}

func (b *sysfsLine) WaitForInterrupt(timeout time.Duration) (bool, error) {
	fd := b.EventDescriptor()
	if fd < 0 {
		return false, maskAny(NotExportedError)
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLPRI | unix.POLLERR}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to poll gpio %d", b.number)
	}
	if n == 0 {
		return false, nil
	}
	// Edge events arrive as POLLPRI, usually accompanied by POLLERR, so
	// the error conditions only count when no event is pending.
	if fds[0].Revents&unix.POLLPRI == 0 {
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return false, errors.Wrapf(unix.ENODEV, "gpio %d is gone", b.number)
		}
		return false, nil
	}
	// Reading from offset zero acknowledges the event.
	var buf [4]byte
	if _, err := b.fValue.ReadAt(buf[:1], 0); err != nil {
		return false, errors.Wrapf(err, "failed to acknowledge event of gpio %d", b.number)
	}
	return true, nil
}

func (b *sysfsLine) writeAttribute(name, value string) error {
	return writeFileString(b.attributePath(name), value)
}

func (b *sysfsLine) writeControl(name, value string) error {
	return writeFileString(filepath.Join(b.root, name), value)
}

func writeFileString(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0220)
	if err != nil {
		return maskAny(err)
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		return maskAny(err)
	}
	return nil
}
