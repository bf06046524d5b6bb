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
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Consumer label attached to kernel line requests, visible to tools
// like gpioinfo.
const consumerLabel = "nymea-gpio"

// chardevLine drives a single line through the GPIO character device.
// Polarity inversion is delegated to the kernel via the ACTIVE_LOW
// request flag, so values crossing this backend are always logical.
type chardevLine struct {
	log  zerolog.Logger
	loc  Location
	chip *os.File
	// fd is the line request file descriptor, 0 when not requested.
	fd        int32
	hasEvents bool
}

func newChardevLine(loc Location, log zerolog.Logger) LineBackend {
	return &chardevLine{
		log: log.With().Str("backend", string(BackendChardev)).Logger(),
		loc: loc,
	}
}

func (b *chardevLine) Open() error {
	if b.chip != nil {
		return nil
	}
	chip, err := os.OpenFile(b.loc.Device, os.O_RDWR|unix.O_CLOEXEC, 0660)
	if err != nil {
		return errors.Wrapf(err, "failed to open controller %s", b.loc.Device)
	}
	var info gpiochipInfo
	if err := ioctlChipInfo(chip.Fd(), &info); err != nil {
		_ = chip.Close()
		return errors.Wrapf(err, "failed to read controller info of %s", b.loc.Device)
	}
	if uint32(b.loc.Offset) >= info.lines {
		_ = chip.Close()
		return errors.Wrapf(LineNotFoundError, "offset %d out of range on %s", b.loc.Offset, b.loc.Device)
	}
	b.chip = chip
	return nil
}

func (b *chardevLine) Close() {
	b.release()
	if b.chip != nil {
		_ = b.chip.Close()
		b.chip = nil
	}
}

func (b *chardevLine) release() {
	if b.fd != 0 {
		_ = unix.Close(int(b.fd))
		b.fd = 0
		b.hasEvents = false
	}
}

func (b *chardevLine) Request(cfg RequestConfig) error {
	if b.chip == nil {
		return maskAny(NotExportedError)
	}
	// A line supports exactly one active request at a time.
	b.release()

	var req gpioV2LineRequest
	req.offsets[0] = uint32(b.loc.Offset)
	req.numLines = 1
	copy(req.consumer[:gpioMaxNameSize-1], consumerLabel)
	req.config.flags = requestFlags(cfg)
	if cfg.Direction == DirectionOutput {
		// Drive the initial value with the request itself so the level
		// does not glitch while reconfiguring.
		attr := &req.config.attrs[0]
		attr.attr.id = gpioV2LineAttrIDOutputVals
		if cfg.InitialValue == ValueHigh {
			attr.attr.value = 1
		}
		attr.mask = 1
		req.config.numAttrs = 1
	}
	if err := ioctlLineRequest(b.chip.Fd(), &req); err != nil {
		return errors.Wrapf(err, "failed to request line %d on %s", b.loc.Offset, b.loc.Device)
	}
	if req.fd <= 0 {
		return errors.Errorf("line request on %s returned invalid descriptor", b.loc.Device)
	}
	b.fd = req.fd
	b.hasEvents = cfg.Direction == DirectionInput && cfg.Edge != EdgeNone
	return nil
}

// requestFlags translates a line configuration into uapi v2 flags.
func requestFlags(cfg RequestConfig) uint64 {
	var flags uint64
	switch cfg.Direction {
	case DirectionOutput:
		flags |= gpioV2LineFlagOutput
	default:
		flags |= gpioV2LineFlagInput
	}
	if cfg.ActiveLow {
		flags |= gpioV2LineFlagActiveLow
	}
	if cfg.Direction != DirectionOutput {
		switch cfg.Edge {
		case EdgeRising:
			flags |= gpioV2LineFlagEdgeRising
		case EdgeFalling:
			flags |= gpioV2LineFlagEdgeFalling
		case EdgeBoth:
			flags |= gpioV2LineFlagEdgeRising | gpioV2LineFlagEdgeFalling
		}
	}
	return flags
}

func (b *chardevLine) Requested() bool {
	return b.fd != 0
}

func (b *chardevLine) SetValue(v Value) error {
	if b.fd == 0 {
		return maskAny(NotExportedError)
	}
	values := gpioV2LineValues{mask: 1}
	if v == ValueHigh {
		values.bits = 1
	}
	if err := ioctlSetLineValues(uintptr(b.fd), &values); err != nil {
		return errors.Wrapf(err, "failed to set value of line %d on %s", b.loc.Offset, b.loc.Device)
	}
	return nil
}

func (b *chardevLine) Value() (Value, error) {
	if b.fd == 0 {
		return ValueInvalid, maskAny(NotExportedError)
	}
	values := gpioV2LineValues{mask: 1}
	if err := ioctlGetLineValues(uintptr(b.fd), &values); err != nil {
		return ValueInvalid, errors.Wrapf(err, "failed to read value of line %d on %s", b.loc.Offset, b.loc.Device)
	}
	if values.bits&1 == 1 {
		return ValueHigh, nil
	}
	return ValueLow, nil
}

func (b *chardevLine) EventDescriptor() int {
	if b.fd == 0 || !b.hasEvents {
		return -1
	}
	return int(b.fd)
}

func (b *chardevLine) WaitForInterrupt(timeout time.Duration) (bool, error) {
	fd := b.EventDescriptor()
	if fd < 0 {
		return false, maskAny(NotExportedError)
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to poll line %d on %s", b.loc.Offset, b.loc.Device)
	}
	if n == 0 {
		return false, nil
	}
	// A dead descriptor reports error conditions without a poll error,
	// never new events.
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return false, errors.Wrapf(unix.ENODEV, "line %d on %s is gone", b.loc.Offset, b.loc.Device)
	}
	if fds[0].Revents&unix.POLLIN == 0 {
		return false, nil
	}
	// Consume exactly one event record, otherwise the descriptor stays
	// readable and the next wait returns immediately.
	var event gpioV2LineEvent
	buf := make([]byte, unsafe.Sizeof(event))
	if _, err := unix.Read(fd, buf); err != nil {
		return false, errors.Wrapf(err, "failed to read event of line %d on %s", b.loc.Offset, b.loc.Device)
	}
	return true, nil
}
