// Package target resolves which kernel implementation serves the configured
// microcontroller core. Resolution happens once, at startup; an unsupported
// target is a configuration error, never a per-call failure.
package target

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownCore       = errors.New("target: unknown core")
	ErrUnsupportedTarget = errors.New("target: unsupported target")
)

// Core names the core whose arithmetic is emulated.
type Core uint8

const (
	CoreAuto Core = iota
	CoreHost
	CoreM0
	CoreM0Plus
	CoreM3
	CoreM4
	CoreM7
	CoreM33
	CoreM55
)

var coreNames = [...]string{
	CoreAuto:   "auto",
	CoreHost:   "host",
	CoreM0:     "cortex-m0",
	CoreM0Plus: "cortex-m0plus",
	CoreM3:     "cortex-m3",
	CoreM4:     "cortex-m4",
	CoreM7:     "cortex-m7",
	CoreM33:    "cortex-m33",
	CoreM55:    "cortex-m55",
}

func (c Core) String() string {
	if int(c) < len(coreNames) {
		return coreNames[c]
	}
	return fmt.Sprintf("core(%d)", uint8(c))
}

// Cores lists every accepted core name.
func Cores() []string {
	return append([]string(nil), coreNames[:]...)
}

// ParseCore parses a core name. Matching ignores case and surrounding
// space; "m4" is accepted for "cortex-m4".
func ParseCore(s string) (Core, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CoreAuto, nil
	}
	for i, name := range coreNames {
		if s == name || "cortex-"+s == name {
			return Core(i), nil
		}
	}
	return CoreAuto, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownCore, s, strings.Join(coreNames[:], ", "))
}

// HasDSP reports whether the core has the packed 16-bit lane extension the
// kernels are written against.
func (c Core) HasDSP() bool {
	switch c {
	case CoreM4, CoreM7, CoreM33, CoreM55:
		return true
	}
	return false
}

// Path selects a kernel implementation.
type Path uint8

const (
	PathReference Path = iota
	PathPacked
)

func (p Path) String() string {
	if p == PathPacked {
		return "packed"
	}
	return "reference"
}

// Config is the requested target.
type Config struct {
	Core      Core
	BigEndian bool
}

// Profile is a resolved target.
type Profile struct {
	Core      Core
	Path      Path
	BigEndian bool
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (%s path)", p.Core, p.Path)
}

// Resolve validates cfg and picks the kernel path. CoreAuto resolves
// against the running host: the packed path on little-endian hosts, the
// reference path otherwise.
func Resolve(cfg Config) (Profile, error) {
	if int(cfg.Core) >= len(coreNames) {
		return Profile{}, fmt.Errorf("%w: %v", ErrUnknownCore, cfg.Core)
	}
	if cfg.BigEndian {
		return Profile{}, fmt.Errorf("%w: big-endian %s has no packed-lane implementation", ErrUnsupportedTarget, cfg.Core)
	}

	switch c := cfg.Core; {
	case c == CoreAuto:
		if DetectHost().BigEndian {
			return Profile{Core: CoreHost, Path: PathReference}, nil
		}
		return Profile{Core: CoreM4, Path: PathPacked}, nil
	case c == CoreHost:
		return Profile{Core: c, Path: PathReference}, nil
	case c.HasDSP():
		return Profile{Core: c, Path: PathPacked}, nil
	default:
		return Profile{}, fmt.Errorf("%w: %s lacks the DSP extension", ErrUnsupportedTarget, c)
	}
}
