/*
PURPOSE:
  Error taxonomy of the backend.

REQUIREMENTS:
  User-specified:
  - Strict mode surfaces nondeterministic operations as errors.

ARCHITECTURE INTEGRATION:
  - Used everywhere an op can fail.

ERROR HANDLING:
  - Callers match with errors.Is on the sentinels and errors.As on *OpError.

IMPLEMENTATION RULES:
  - Keep sentinels stable; tests and the CLI match on them.

USAGE:
  if errors.Is(err, backend.ErrNondeterministicOp) { ... }

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/backend/backend.go

MAINTENANCE:
  - None.
*/

package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevice is a configuration error: the selected device is not visible.
	ErrNoDevice = errors.New("backend: no such device")

	// ErrNondeterministicOp is returned in strict mode when an operation has no
	// deterministic implementation on the device.
	ErrNondeterministicOp = errors.New("backend: operation has no deterministic implementation")

	// ErrNoKernel means no kernel at all can run the operation on the device.
	ErrNoKernel = errors.New("backend: no kernel available")

	// ErrOutOfMemory means a kernel needs more memory than the device limit.
	ErrOutOfMemory = errors.New("backend: out of device memory")

	// ErrShapeMismatch indicates incompatible operand shapes.
	ErrShapeMismatch = errors.New("backend: shape mismatch")
)

// OpError records which operation failed and where.
type OpError struct {
	Op     string
	Device string
	Kernel string
	Err    error
}

func (e *OpError) Error() string {
	if e.Kernel != "" {
		return fmt.Sprintf("%s on %s (kernel %s): %v", e.Op, e.Device, e.Kernel, e.Err)
	}
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Device, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
