/*
PURPOSE:
  Replays the deterministic run and checks the replays agree.

REQUIREMENTS:
  User-specified:
  - Two deterministic runs with the same seed give identical metrics.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (verify)
  - Uses: Engine.RunOne, IdenticalMetrics

ERROR HANDLING:
  - Stops at the first failing or mismatching run. Returns ErrNotReproducible
    on a mismatch.

IMPLEMENTATION RULES:
  - Every replay uses a fresh backend and seed context.

USAGE:
  v, err := engine.New(cfg).Verify(ctx, 3)

SELF-HEALING INSTRUCTIONS:
  - On ErrNotReproducible compare the Kernels maps of the two runs first.

RELATED FILES:
  - internal/engine/runner.go

MAINTENANCE:
  - None.
*/

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/daryltucker/detbench/internal/model"
	"github.com/daryltucker/detbench/internal/output"
)

// ErrNotReproducible is returned by Verify when deterministic runs disagree.
var ErrNotReproducible = errors.New("deterministic runs produced different metrics")

// Verification is the outcome of Verify.
type Verification struct {
	Runs []*model.RunResult
	// Mismatch is the index of the first run that differs from run 0, or -1.
	Mismatch int
}

// Verify repeats the deterministic run n times and requires every run to
// reproduce the first one's fingerprint.
func (e *Engine) Verify(ctx context.Context, n int) (*Verification, error) {
	if n < 2 {
		return nil, fmt.Errorf("verify needs at least 2 runs, got %d", n)
	}
	v := &Verification{Mismatch: -1}
	for i := 0; i < n; i++ {
		label := fmt.Sprintf("%s-%d", LabelDeterministic, i+1)
		res, err := e.RunOne(ctx, label, true)
		if err != nil {
			return v, err
		}
		v.Runs = append(v.Runs, res)
		output.Logger.Info("Replay", "run", i+1, "of", n, "fingerprint", res.Fingerprint[:12])

		if i > 0 && !IdenticalMetrics(v.Runs[0], res) {
			v.Mismatch = i
			return v, fmt.Errorf("%w: run %d (%s) vs run 1 (%s)", ErrNotReproducible, i+1, res.Fingerprint[:12], v.Runs[0].Fingerprint[:12])
		}
	}
	return v, nil
}
