package engine

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// RNG subsystems. ETA and EPS come from separate streams so that changing
// the observation grid does not change who the individuals are.
const (
	SubsystemEta = "eta"
	SubsystemEps = "eps"
)

// Streams derives deterministic, independent random streams per individual:
// seed XOR fnv1a64("<subsystem>_<id>"). The same seed always simulates the
// same population, whatever the number of workers.
type Streams struct {
	key int64
}

func NewStreams(seed int64) Streams {
	return Streams{key: seed}
}

// Subject returns a fresh generator; callers own it exclusively.
func (s Streams) Subject(subsystem string, id int) *rand.Rand {
	derived := s.key ^ fnv1a64(fmt.Sprintf("%s_%d", subsystem, id))
	return rand.New(rand.NewSource(derived))
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
