/*
PURPOSE:
  Device kinds and selector parsing.

REQUIREMENTS:
  User-specified:
  - Device selection by "cpu" or "accel:N".

ARCHITECTURE INTEGRATION:
  - Used by: internal/backend, internal/cli (devices)

ERROR HANDLING:
  - ParseSelector returns ErrNoDevice for anything it cannot parse.

IMPLEMENTATION RULES:
  - "accel" alone means accel:0.

USAGE:
  kind, idx, err := backend.ParseSelector("accel:1")

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/backend/backend.go

MAINTENANCE:
  - None.
*/

package backend

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind distinguishes the host CPU from parallel accelerator devices.
type Kind int

const (
	CPU Kind = iota
	Accelerator
)

// Device is a place kernels run. An accelerator spreads each kernel across
// Lanes goroutines; the CPU device always runs kernels serially.
type Device struct {
	Kind        Kind
	Index       int
	Lanes       int
	MemoryLimit int64 // bytes, 0 = unlimited
}

// String returns the selector form: "cpu" or "accel:N".
func (d Device) String() string {
	if d.Kind == CPU {
		return "cpu"
	}
	return fmt.Sprintf("accel:%d", d.Index)
}

func (d Device) IsAccelerator() bool { return d.Kind == Accelerator }

// ParseSelector splits "accel:1" into (Accelerator, 1). "cpu" and "accel"
// (index 0) are also accepted.
func ParseSelector(selector string) (Kind, int, error) {
	s := strings.ToLower(strings.TrimSpace(selector))
	switch {
	case s == "cpu":
		return CPU, 0, nil
	case s == "accel":
		return Accelerator, 0, nil
	case strings.HasPrefix(s, "accel:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(s, "accel:"))
		if err != nil || idx < 0 {
			return 0, 0, fmt.Errorf("%w: bad index in %q", ErrNoDevice, selector)
		}
		return Accelerator, idx, nil
	default:
		return 0, 0, fmt.Errorf("%w: unknown selector %q", ErrNoDevice, selector)
	}
}
