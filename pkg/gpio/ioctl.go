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

// Structures and ioctl numbers of the GPIO character device uapi v2,
// from the linux/gpio.h header.
// https://docs.kernel.org/userspace-api/gpio/chardev.html

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNrShift | size<<iocSizeShift
}

func ior(typ, nr, size uintptr) uintptr {
	return ioc(iocRead, typ, nr, size)
}

func iowr(typ, nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, typ, nr, size)
}

const (
	gpioMaxNameSize       = 32
	gpioV2LineNumAttrsMax = 10
	gpioV2LinesMax        = 64

	gpioV2LineFlagActiveLow   uint64 = 1 << 1
	gpioV2LineFlagInput       uint64 = 1 << 2
	gpioV2LineFlagOutput      uint64 = 1 << 3
	gpioV2LineFlagEdgeRising  uint64 = 1 << 4
	gpioV2LineFlagEdgeFalling uint64 = 1 << 5

	gpioV2LineAttrIDOutputVals uint32 = 2
)

type gpiochipInfo struct {
	name  [gpioMaxNameSize]byte
	label [gpioMaxNameSize]byte
	lines uint32
}

type gpioV2LineAttribute struct {
	id      uint32
	padding uint32
	value   uint64
}

type gpioV2LineConfigAttribute struct {
	attr gpioV2LineAttribute
	mask uint64
}

type gpioV2LineConfig struct {
	flags    uint64
	numAttrs uint32
	padding  [5]uint32
	attrs    [gpioV2LineNumAttrsMax]gpioV2LineConfigAttribute
}

type gpioV2LineRequest struct {
	offsets         [gpioV2LinesMax]uint32
	consumer        [gpioMaxNameSize]byte
	config          gpioV2LineConfig
	numLines        uint32
	eventBufferSize uint32
	padding         [5]uint32
	fd              int32
}

type gpioV2LineValues struct {
	bits uint64
	mask uint64
}

type gpioV2LineEvent struct {
	timestampNs uint64
	id          uint32
	offset      uint32
	seqno       uint32
	lineSeqno   uint32
	padding     [6]uint32
}

func ioctlPtr(fd uintptr, request uintptr, data unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, request, uintptr(data))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlChipInfo(fd uintptr, info *gpiochipInfo) error {
	return ioctlPtr(fd, ior(0xb4, 0x01, unsafe.Sizeof(gpiochipInfo{})), unsafe.Pointer(info))
}

func ioctlLineRequest(fd uintptr, req *gpioV2LineRequest) error {
	return ioctlPtr(fd, iowr(0xb4, 0x07, unsafe.Sizeof(gpioV2LineRequest{})), unsafe.Pointer(req))
}

func ioctlGetLineValues(fd uintptr, values *gpioV2LineValues) error {
	return ioctlPtr(fd, iowr(0xb4, 0x0e, unsafe.Sizeof(gpioV2LineValues{})), unsafe.Pointer(values))
}

func ioctlSetLineValues(fd uintptr, values *gpioV2LineValues) error {
	return ioctlPtr(fd, iowr(0xb4, 0x0f, unsafe.Sizeof(gpioV2LineValues{})), unsafe.Pointer(values))
}
