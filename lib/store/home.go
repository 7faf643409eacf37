package store

import (
	"slices"
)

// maxChunkGroup is the largest number of consecutive chunks placed on one node
const maxChunkGroup = 16

// --------------------------------------------------------------------------
// Home Selection
// --------------------------------------------------------------------------

// homeIndex returns the index of the home of k in members and the replica
// index of self, both -1 if members is empty. The result is cached in the key
// for the given generation. Keys are interned per store, so self is the same
// on every call for a key.
func homeIndex(k *Key, members []string, generation uint64, self string) (home, replica int) {
	if c := k.home.Load(); c != nil && c.generation == generation {
		return c.home, c.replica
	}
	home = computeHome(k, members)
	replica = replicaIndex(home, slices.Index(members, self), len(members))
	k.home.Store(&homeCache{generation: generation, home: home, replica: replica})
	return home, replica
}

// replicaIndex returns the distance from home to self along the ring of n
// members, -1 if either is not a member
func replicaIndex(home, self, n int) int {
	if home < 0 || self < 0 {
		return -1
	}
	return (self - home + n) % n
}

// computeHome selects the home of k:
//   - system keys with pinned homes use the first candidate that is a member
//   - chunk keys are striped over the members in groups of 1, 2, 4, 8 and then
//     16 consecutive chunks per node, starting at the home of their group
//   - every other key is placed by hash modulo the number of members
func computeHome(k *Key, members []string) int {
	n := len(members)
	if n == 0 {
		return -1
	}

	switch k.typ {
	case KeySystem:
		for _, h := range k.homes {
			if i := slices.Index(members, h); i >= 0 {
				return i
			}
		}
	case KeyChunk:
		return (int(k.group%uint32(n)) + chunkOffset(k.cidx, n)) % n
	}
	return int(k.hash % uint32(n))
}

// chunkOffset returns the node offset of chunk cidx under grouped power-of-two
// round robin over n nodes. Round r places min(2^r, 16) consecutive chunks on
// each node before moving on to the next.
func chunkOffset(cidx, n int) int {
	group := 1
	for {
		round := group * n
		if group == maxChunkGroup {
			cidx %= round
		}
		if cidx < round {
			return cidx / group
		}
		cidx -= round
		if group < maxChunkGroup {
			group *= 2
		}
	}
}
