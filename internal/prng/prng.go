// Package prng supplies the deterministic, per-draw seeded random source
// spec §4.2 requires for RandomSelector and the probabilistic decorators:
// "deterministic PRNG seeded from {context_id, node_id, tick_index}".
// Hashing the tuple with BLAKE3 rather than summing its parts avoids
// correlated seeds for nodes/contexts whose ids differ by a small,
// structured amount (ULIDs sharing a timestamp prefix, sibling node ids).
package prng

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/solifugus/decisioncore/internal/id"
	"github.com/zeebo/blake3"
)

// Seed64 derives a 64-bit seed for one draw from the coordinator's base
// seed plus the (context, node, tick) key identifying this activation.
func Seed64(baseSeed uint64, contextID id.ID, nodeID int, tickIndex uint64) uint64 {
	h := blake3.New()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], baseSeed)
	_, _ = h.Write(buf[:])

	ctxBytes := contextID
	_, _ = h.Write(ctxBytes[:])

	binary.LittleEndian.PutUint64(buf[:], uint64(int64(nodeID)))
	_, _ = h.Write(buf[:])

	binary.LittleEndian.PutUint64(buf[:], tickIndex)
	_, _ = h.Write(buf[:])

	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}

// Draw returns a deterministic float64 in [0, 1) for the given draw key,
// using a fresh PCG source per call so draws never share mutable state
// across goroutines.
func Draw(baseSeed uint64, contextID id.ID, nodeID int, tickIndex uint64) float64 {
	seed := Seed64(baseSeed, contextID, nodeID, tickIndex)
	src := rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)
	return rand.New(src).Float64()
}

// WeightedIndex picks an index into weights (must be non-empty, all
// weights >= 0, sum > 0) deterministically for the given draw key.
func WeightedIndex(weights []float64, baseSeed uint64, contextID id.ID, nodeID int, tickIndex uint64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}

	r := Draw(baseSeed, contextID, nodeID, tickIndex) * total
	var cum float64
	for i, w := range weights {
		cum += w
		if r < cum {
			return i
		}
	}
	return len(weights) - 1
}
