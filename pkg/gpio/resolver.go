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
	"strings"

	"github.com/rs/zerolog"
)

const chipEntryPrefix = "gpiochip"

// Location is the resolved physical location of a logical line number:
// the controller character device and the line offset within it.
type Location struct {
	// Device is the controller character device, e.g. /dev/gpiochip0.
	Device string
	// Chip is the sysfs entry name the location was derived from.
	Chip string
	// Base is the first logical number owned by the controller.
	Base int
	// Offset of the line within the controller.
	Offset int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Device, l.Offset)
}

// Resolver maps a global logical line number to a controller device and an
// offset by scanning the controllers known to the kernel. Each controller
// exposes the first logical number it owns (base) and its line count; a
// number belongs to the first controller with base <= number < base+count.
type Resolver struct {
	log       zerolog.Logger
	sysfsRoot string
	devRoot   string
}

// NewResolver creates a resolver scanning the default kernel paths.
func NewResolver(log zerolog.Logger) *Resolver {
	return &Resolver{
		log:       log.With().Str("component", "resolver").Logger(),
		sysfsRoot: "/sys/class/gpio",
		devRoot:   "/dev",
	}
}

// NewResolverWithRoots creates a resolver scanning the given sysfs class
// directory and device directory instead of the defaults.
func NewResolverWithRoots(log zerolog.Logger, sysfsRoot, devRoot string) *Resolver {
	r := NewResolver(log)
	r.sysfsRoot = sysfsRoot
	r.devRoot = devRoot
	return r
}

// Resolve returns the location of the given logical line number.
// Returns a LineNotFoundError when no controller owns the number.
func (r *Resolver) Resolve(number int) (Location, error) {
	if number < 0 {
		return Location{}, maskAny(LineNotFoundError)
	}
	entries, err := os.ReadDir(r.sysfsRoot)
	if err != nil {
		r.log.Warn().Err(err).Str("root", r.sysfsRoot).Msg("Cannot enumerate GPIO controllers")
		return Location{}, maskAny(LineNotFoundError)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, chipEntryPrefix) {
			continue
		}
		base, err := readIntFile(filepath.Join(r.sysfsRoot, name, "base"))
		if err != nil {
			continue
		}
		count, err := readIntFile(filepath.Join(r.sysfsRoot, name, "ngpio"))
		if err != nil {
			continue
		}
		if base < 0 || count <= 0 {
			continue
		}
		if number < base || number >= base+count {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(name, chipEntryPrefix))
		if err != nil {
			r.log.Warn().Str("entry", name).Msg("Unexpected controller entry name")
			return Location{}, maskAny(LineNotFoundError)
		}
		loc := Location{
			Device: filepath.Join(r.devRoot, fmt.Sprintf("%s%d", chipEntryPrefix, index)),
			Chip:   name,
			Base:   base,
			Offset: number - base,
		}
		r.log.Debug().Int("gpio", number).Str("location", loc.String()).Msg("Resolved line")
		return loc, nil
	}
	r.log.Warn().Int("gpio", number).Msg("Could not find a controller for line")
	return Location{}, maskAny(LineNotFoundError)
}

// readIntFile reads a sysfs attribute file that contains a single integer.
func readIntFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, maskAny(err)
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, maskAny(err)
	}
	return value, nil
}
