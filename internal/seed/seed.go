/*
PURPOSE:
  Synchronizes every pseudo-random generator family used by a benchmark run
  to one logical seed.

REQUIREMENTS:
  User-specified:
  - One call reseeds the general-purpose, numeric-array, model (CPU) and
    per-device generators and publishes the seed to the environment.
  - Same seed => identical sample sequences from every family.

  Implementation-discovered:
  - Go 1.24 turned the global math/rand Seed into a no-op, so generators are
    explicit *rand.Rand values owned by a Context and handed to collaborators.
  - Families must not produce the same sequence for the same seed, so each
    Source mixes in its own stream id.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine (session setup), internal/backend (device
    generators), internal/data (shuffle + synthetic data), internal/nn (init).

ERROR HANDLING:
  - Apply returns ErrNegativeSeed for seeds < 0 and wraps environment errors.
  - Context.SeedSet publishes to the environment before touching any
    generator, so SetAllSeeds either reseeds everything or nothing.

IMPLEMENTATION RULES:
  - New generator families register a Generator adapter on the SeedSet;
    Apply never changes.
  - *rand.Rand is not goroutine-safe. Do not share a Source across goroutines.

USAGE:
  ctx := seed.NewContext(devices)
  err := seed.SetAllSeeds(ctx, 1)

SELF-HEALING INSTRUCTIONS:
  - If PL_GLOBAL_SEED is missing after a run, check that Context.Env is set.

RELATED FILES:
  - internal/seed/source.go

MAINTENANCE:
  - Add an adapter (not a branch in Apply) when a new random source appears.
*/

package seed

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// EnvKey is the environment variable the seed is published under.
const EnvKey = "PL_GLOBAL_SEED"

// ErrNegativeSeed is returned when a seed below zero is applied.
var ErrNegativeSeed = errors.New("seed: seed must be non-negative")

// Generator is one reseedable random source.
type Generator interface {
	Name() string
	Reseed(seed int64) error
}

// SeedSet fans a single seed out to every registered Generator.
type SeedSet struct {
	seed int64
	gens []Generator
}

// NewSeedSet creates a SeedSet for seed with the given adapters.
func NewSeedSet(seed int64, gens ...Generator) *SeedSet {
	s := &SeedSet{seed: seed}
	for _, g := range gens {
		s.Register(g)
	}
	return s
}

// Register adds a generator adapter. Nil adapters are ignored.
func (s *SeedSet) Register(g Generator) {
	if g == nil {
		return
	}
	s.gens = append(s.gens, g)
}

// Seed returns the seed the set applies.
func (s *SeedSet) Seed() int64 {
	return s.seed
}

// Names lists the registered generators in registration order.
func (s *SeedSet) Names() []string {
	names := make([]string, 0, len(s.gens))
	for _, g := range s.gens {
		names = append(names, g.Name())
	}
	return names
}

// Apply reseeds every registered generator in registration order and stops
// at the first error. Generators registered before the failing one keep the
// new seed.
func (s *SeedSet) Apply() error {
	if s.seed < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeSeed, s.seed)
	}
	for _, g := range s.gens {
		if err := g.Reseed(s.seed); err != nil {
			return fmt.Errorf("failed to reseed %s: %w", g.Name(), err)
		}
	}
	return nil
}

// EnvPublisher writes the seed into the process environment.
type EnvPublisher struct {
	Key    string
	Setenv func(key, value string) error
}

// NewEnvPublisher publishes under EnvKey with os.Setenv.
func NewEnvPublisher() *EnvPublisher {
	return &EnvPublisher{Key: EnvKey, Setenv: os.Setenv}
}

func (p *EnvPublisher) Name() string { return "env:" + p.Key }

func (p *EnvPublisher) Reseed(seed int64) error {
	return p.Setenv(p.Key, strconv.FormatInt(seed, 10))
}

// Context owns the generator families of one run. It is passed by reference
// to every component that draws random numbers.
type Context struct {
	Seed    int64
	Env     *EnvPublisher
	General *Source   // shuffling
	Array   *Source   // numeric arrays (synthetic data)
	Model   *Source   // parameter initialization (CPU)
	Devices []*Source // one per visible accelerator
}

// NewContext creates unseeded generators for n visible accelerators.
func NewContext(devices int) *Context {
	c := &Context{
		Env:     NewEnvPublisher(),
		General: NewSource("general", 1),
		Array:   NewSource("array", 2),
		Model:   NewSource("model", 3),
	}
	for i := 0; i < devices; i++ {
		c.Devices = append(c.Devices, NewSource(fmt.Sprintf("device:%d", i), 16+uint64(i)))
	}
	return c
}

// SeedSet builds the fan-out for this context. The environment publisher,
// the only adapter that can fail, runs first so a failed Apply leaves every
// generator on its previous seed.
func (c *Context) SeedSet(seed int64) *SeedSet {
	s := NewSeedSet(seed)
	if c.Env != nil {
		s.Register(c.Env)
	}
	s.Register(c.General)
	s.Register(c.Array)
	s.Register(c.Model)
	for _, d := range c.Devices {
		s.Register(d)
	}
	return s
}

// Device returns the generator of accelerator i, or nil.
func (c *Context) Device(i int) *Source {
	if i < 0 || i >= len(c.Devices) {
		return nil
	}
	return c.Devices[i]
}

// SetAllSeeds reseeds every generator family in c and records the seed.
func SetAllSeeds(c *Context, seed int64) error {
	if err := c.SeedSet(seed).Apply(); err != nil {
		return err
	}
	c.Seed = seed
	return nil
}
