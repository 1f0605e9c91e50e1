/*
PURPOSE:
  One reseedable generator family.

REQUIREMENTS:
  Implementation-discovered:
  - Reseed must keep the *rand.Rand handle valid, since loaders and models
    hold it for the whole run.

ARCHITECTURE INTEGRATION:
  - Used by: internal/seed (Context families)

ERROR HANDLING:
  - Reseed never fails; it satisfies Generator.

IMPLEMENTATION RULES:
  - Never replace s.pcg or s.rng after construction.

USAGE:
  src := seed.NewSource("general", 1)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/seed/seed.go

MAINTENANCE:
  - Stream ids must stay distinct across families.
*/

package seed

import (
	"math/rand/v2"
)

const goldenRatio64 = 0x9e3779b97f4a7c15

// Source is a reseedable PCG generator belonging to one family.
type Source struct {
	name   string
	stream uint64
	pcg    *rand.PCG
	rng    *rand.Rand
}

// NewSource creates a Source seeded with 0. Distinct stream ids give
// distinct sequences for the same seed.
func NewSource(name string, stream uint64) *Source {
	s := &Source{name: name, stream: stream, pcg: rand.NewPCG(0, 0)}
	s.rng = rand.New(s.pcg)
	_ = s.Reseed(0)
	return s
}

func (s *Source) Name() string { return s.name }

// Reseed resets the generator state in place. Callers holding Rand() keep
// a valid handle.
func (s *Source) Reseed(seed int64) error {
	u := uint64(seed)
	s.pcg.Seed(mix(u^(s.stream*goldenRatio64)), mix(u+s.stream+goldenRatio64))
	return nil
}

// Rand returns the generator handle.
func (s *Source) Rand() *rand.Rand {
	return s.rng
}

func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
