/*
PURPOSE:
  Pure-Go numeric backend for the benchmark: devices, kernel dispatch,
  auto-tuning and the determinism switches.

REQUIREMENTS:
  User-specified:
  - Auto-tuning (Benchmark) micro-benchmarks candidate accelerator kernels
    on first use and caches the fastest.
  - SetDeterministic disables auto-tuning and enables deterministic kernels on
    accelerators, then turns on strict mode unconditionally.
  - Strict mode fails any operation that has no deterministic kernel.

  Implementation-discovered:
  - Accelerators are goroutine lane pools. Only they run the parallel
    completion-order kernels (splitk, atomic), which are the real source of
    run-to-run variation.
  - Tuning decisions are cached per (op, device, shape, candidate set) so a
    settings change never reuses a kernel that is no longer allowed.
  - The CPU is never tuned. Its serial kernels sum in different orders, so a
    timing-picked CPU kernel would make a CPU-only deterministic run depend on
    timing noise. CPU selection is the shape heuristic alone.

ARCHITECTURE INTEGRATION:
  - Called by: internal/nn (matmul, column sums), internal/train (histogram)
  - Configured by: internal/engine (one Backend per run)
  - Uses: internal/seed (device generators feed tuning operands)

ERROR HANDLING:
  - Every op returns *OpError wrapping ErrNondeterministicOp, ErrNoKernel,
    ErrOutOfMemory or ErrShapeMismatch. Nothing is retried.

IMPLEMENTATION RULES:
  - Settings must be applied before the first op: tuned choices are cached.
  - Dispatch decisions are serialized by mu; kernels run outside the lock.
  - Kernel choice must be a pure function of (settings, device, shape)
    whenever tuning is off.

USAGE:
  b := backend.New(backend.Options{VisibleDevices: 1, Seeds: seeds})
  b.SetDeterministic()
  dev, err := b.Device("accel:0")
  c, err := b.MatMul(dev, a, x)

SELF-HEALING INSTRUCTIONS:
  - If two deterministic runs diverge, compare Stats().Calls of both runs:
    a differing kernel mix means selection leaked timing into dispatch.

RELATED FILES:
  - internal/backend/kernels.go

MAINTENANCE:
  - New kernels go into the kernel tables; selection code stays generic.
*/

package backend

import (
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/daryltucker/detbench/internal/seed"
)

// Settings is the process-wide execution mode of a Backend.
type Settings struct {
	// Benchmark enables auto-tuning of accelerator matmul kernels.
	Benchmark bool `json:"benchmark" yaml:"benchmark"`
	// Deterministic restricts accelerator matmuls to deterministic kernels.
	Deterministic bool `json:"deterministic" yaml:"deterministic"`
	// Strict fails any op that lacks a deterministic kernel.
	Strict bool `json:"strict" yaml:"strict"`
}

// DefaultSettings is the non-deterministic baseline: auto-tuning on.
func DefaultSettings() Settings {
	return Settings{Benchmark: true}
}

func (s Settings) String() string {
	return fmt.Sprintf("benchmark=%t deterministic=%t strict=%t", s.Benchmark, s.Deterministic, s.Strict)
}

// Options configures New.
type Options struct {
	VisibleDevices int   // number of accelerators
	Lanes          int   // goroutines per accelerator, 0 = runtime.NumCPU()
	MemoryLimit    int64 // bytes per accelerator, 0 = unlimited
	TuneReps       int   // timing repetitions per candidate, 0 = 2
	Seeds          *seed.Context
}

// Stats summarizes dispatch activity.
type Stats struct {
	Calls    map[string]int `json:"calls"`
	Tuned    int            `json:"tuned"`
	TuneTime time.Duration  `json:"tune_time"`
}

// Backend dispatches tensor ops to kernels according to its Settings.
type Backend struct {
	mu       sync.Mutex
	settings Settings
	devices  []Device
	seeds    *seed.Context
	reps     int

	cache    map[string]string
	calls    map[string]int
	tuned    int
	tuneTime time.Duration
	fallback *rand.Rand
}

// New creates a Backend with DefaultSettings.
func New(opts Options) *Backend {
	lanes := opts.Lanes
	if lanes <= 0 {
		lanes = runtime.NumCPU()
	}
	reps := opts.TuneReps
	if reps <= 0 {
		reps = 2
	}

	devices := []Device{{Kind: CPU, Lanes: 1}}
	for i := 0; i < opts.VisibleDevices; i++ {
		devices = append(devices, Device{Kind: Accelerator, Index: i, Lanes: lanes, MemoryLimit: opts.MemoryLimit})
	}

	return &Backend{
		settings: DefaultSettings(),
		devices:  devices,
		seeds:    opts.Seeds,
		reps:     reps,
		cache:    make(map[string]string),
		calls:    make(map[string]int),
		fallback: rand.New(rand.NewPCG(0, 0)),
	}
}

// Settings returns the current mode.
func (b *Backend) Settings() Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings
}

// Configure replaces the mode. Unlike SetDeterministic it can also relax it.
func (b *Backend) Configure(s Settings) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = s
}

// SetDeterministic switches to reproducible execution. On accelerators it
// disables auto-tuning and enables deterministic kernels; strict mode is
// enabled in every case. Repeated calls have no further effect.
func (b *Backend) SetDeterministic() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hasAccelerator() {
		b.settings.Benchmark = false
		b.settings.Deterministic = true
	}
	b.settings.Strict = true
}

// HasAccelerator reports whether any accelerator is visible.
func (b *Backend) HasAccelerator() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasAccelerator()
}

func (b *Backend) hasAccelerator() bool {
	return len(b.devices) > 1
}

// Devices lists visible devices, CPU first.
func (b *Backend) Devices() []Device {
	out := make([]Device, len(b.devices))
	copy(out, b.devices)
	return out
}

// Device binds a selector such as "cpu" or "accel:0".
func (b *Backend) Device(selector string) (Device, error) {
	kind, idx, err := ParseSelector(selector)
	if err != nil {
		return Device{}, err
	}
	if kind == CPU {
		return b.devices[0], nil
	}
	if idx+1 >= len(b.devices) {
		return Device{}, fmt.Errorf("%w: %s (%d accelerators visible)", ErrNoDevice, selector, len(b.devices)-1)
	}
	return b.devices[idx+1], nil
}

// Kernels lists every kernel that can run on dev.
func (b *Backend) Kernels(dev Device) []KernelInfo {
	var out []KernelInfo
	out = appendInfo(out, "matmul", matmulKernels, dev)
	out = appendInfo(out, "colsum", colsumKernels, dev)
	out = appendInfo(out, "scatter_add", scatterKernels, dev)
	return out
}

func appendInfo[F any](out []KernelInfo, op string, ks []kernel[F], dev Device) []KernelInfo {
	for _, k := range ks {
		if k.accelOnly && !dev.IsAccelerator() {
			continue
		}
		out = append(out, KernelInfo{Op: op, Name: k.name, Deterministic: k.deterministic, AccelOnly: k.accelOnly})
	}
	return out
}

// Stats returns a snapshot of dispatch counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	calls := make(map[string]int, len(b.calls))
	for k, v := range b.calls {
		calls[k] = v
	}
	return Stats{Calls: calls, Tuned: b.tuned, TuneTime: b.tuneTime}
}

// candidates filters ks by device and mode. tunable marks ops governed by
// the Deterministic switch.
func candidates[F any](s Settings, op string, ks []kernel[F], dev Device, tunable bool) ([]kernel[F], error) {
	var out []kernel[F]
	for _, k := range ks {
		if k.accelOnly && !dev.IsAccelerator() {
			continue
		}
		if !k.deterministic && (s.Strict || (tunable && s.Deterministic && dev.IsAccelerator())) {
			continue
		}
		out = append(out, k)
	}
	if len(out) == 0 {
		if s.Strict {
			return nil, &OpError{Op: op, Device: dev.String(), Err: ErrNondeterministicOp}
		}
		return nil, &OpError{Op: op, Device: dev.String(), Err: ErrNoKernel}
	}
	return out, nil
}

func byName[F any](ks []kernel[F], name string) (kernel[F], bool) {
	for _, k := range ks {
		if k.name == name {
			return k, true
		}
	}
	return kernel[F]{}, false
}

func names[F any](ks []kernel[F]) string {
	n := make([]string, len(ks))
	for i, k := range ks {
		n[i] = k.name
	}
	sort.Strings(n)
	return strings.Join(n, ",")
}

func (b *Backend) checkMemory(op string, dev Device, k string, need int64) error {
	if dev.MemoryLimit > 0 && need > dev.MemoryLimit {
		return &OpError{Op: op, Device: dev.String(), Kernel: k,
			Err: fmt.Errorf("%w: need %d bytes, limit %d", ErrOutOfMemory, need, dev.MemoryLimit)}
	}
	return nil
}

func (b *Backend) count(op, kernel string) {
	b.calls[op+"/"+kernel]++
}

// MatMul returns a x w.
func (b *Backend) MatMul(dev Device, a, w *Tensor) (*Tensor, error) {
	if a.Cols != w.Rows {
		return nil, &OpError{Op: "matmul", Device: dev.String(),
			Err: fmt.Errorf("%w: %dx%d x %dx%d", ErrShapeMismatch, a.Rows, a.Cols, w.Rows, w.Cols)}
	}
	m, k, n := a.Rows, a.Cols, w.Cols

	b.mu.Lock()
	s := b.settings
	cands, err := candidates(s, "matmul", matmulKernels, dev, true)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	var chosen kernel[matmulFunc]
	if s.Benchmark && dev.IsAccelerator() && len(cands) > 1 {
		chosen = b.tuneMatMul(dev, cands, m, k, n)
	} else {
		chosen = heuristicMatMul(cands, dev, m, k, n)
	}
	need := int64(m) * int64(n) * 8
	if chosen.workspace != nil {
		need += chosen.workspace(m, k, n, dev.Lanes)
	}
	if err := b.checkMemory("matmul", dev, chosen.name, need); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.count("matmul", chosen.name)
	b.mu.Unlock()

	out := NewTensor(m, n)
	chosen.run(out, a, w, dev.Lanes)
	return out, nil
}

const parallelWork = 1 << 16

func heuristicMatMul(cands []kernel[matmulFunc], dev Device, m, k, n int) kernel[matmulFunc] {
	prefer := []string{"unroll4", "naive"}
	switch {
	case dev.IsAccelerator() && m*k*n >= parallelWork:
		prefer = []string{"splitk", "rowpar", "unroll4", "naive"}
	case k < 8:
		prefer = []string{"naive", "unroll4"}
	}
	for _, name := range prefer {
		if kk, ok := byName(cands, name); ok {
			return kk
		}
	}
	return cands[0]
}

// tuneMatMul times every candidate once per cache key and keeps the fastest.
// Caller holds b.mu.
func (b *Backend) tuneMatMul(dev Device, cands []kernel[matmulFunc], m, k, n int) kernel[matmulFunc] {
	key := fmt.Sprintf("matmul/%s/%dx%dx%d/%s", dev, m, k, n, names(cands))
	if name, ok := b.cache[key]; ok {
		if kk, ok := byName(cands, name); ok {
			return kk
		}
	}

	start := time.Now()
	rng := b.deviceRand(dev)
	a := NewTensor(m, k)
	w := NewTensor(k, n)
	for i := range a.Data {
		a.Data[i] = rng.NormFloat64()
	}
	for i := range w.Data {
		w.Data[i] = rng.NormFloat64()
	}
	out := NewTensor(m, n)

	best := cands[0]
	bestTime := time.Duration(-1)
	for _, cand := range cands {
		need := int64(m) * int64(n) * 8
		if cand.workspace != nil {
			need += cand.workspace(m, k, n, dev.Lanes)
		}
		if dev.MemoryLimit > 0 && need > dev.MemoryLimit {
			continue
		}
		var fastest time.Duration = -1
		for r := 0; r < b.reps; r++ {
			t0 := time.Now()
			cand.run(out, a, w, dev.Lanes)
			if d := time.Since(t0); fastest < 0 || d < fastest {
				fastest = d
			}
		}
		if bestTime < 0 || fastest < bestTime {
			best, bestTime = cand, fastest
		}
	}

	b.cache[key] = best.name
	b.tuned++
	b.tuneTime += time.Since(start)
	return best
}

func (b *Backend) deviceRand(dev Device) *rand.Rand {
	if dev.IsAccelerator() && b.seeds != nil {
		if src := b.seeds.Device(dev.Index); src != nil {
			return src.Rand()
		}
	}
	return b.fallback
}

// ColSum returns the column sums of t (the bias gradient of a dense layer).
func (b *Backend) ColSum(dev Device, t *Tensor) ([]float64, error) {
	b.mu.Lock()
	cands, err := candidates(b.settings, "colsum", colsumKernels, dev, false)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	chosen := cands[0]
	if dev.IsAccelerator() && t.Rows >= 64 {
		if k, ok := byName(cands, "atomic"); ok {
			chosen = k
		}
	}
	if err := b.checkMemory("colsum", dev, chosen.name, int64(t.Cols)*8*int64(dev.Lanes+1)); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.count("colsum", chosen.name)
	b.mu.Unlock()

	out := make([]float64, t.Cols)
	chosen.run(out, t, dev.Lanes)
	return out, nil
}

// ScatterAdd returns a slice of length size where out[idx[i]] += vals[i].
func (b *Backend) ScatterAdd(dev Device, idx []int, vals []float64, size int) ([]float64, error) {
	if len(idx) != len(vals) {
		return nil, &OpError{Op: "scatter_add", Device: dev.String(),
			Err: fmt.Errorf("%w: %d indices, %d values", ErrShapeMismatch, len(idx), len(vals))}
	}
	for _, i := range idx {
		if i < 0 || i >= size {
			return nil, &OpError{Op: "scatter_add", Device: dev.String(),
				Err: fmt.Errorf("%w: index %d outside [0,%d)", ErrShapeMismatch, i, size)}
		}
	}

	b.mu.Lock()
	cands, err := candidates(b.settings, "scatter_add", scatterKernels, dev, false)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	chosen := cands[0]
	b.count("scatter_add", chosen.name)
	b.mu.Unlock()

	out := make([]float64, size)
	chosen.run(out, idx, vals, dev.Lanes)
	return out, nil
}
