package anchor

import (
	"crypto/sha256"
	"errors"

	"timelock.mini/tlm/internal/types"
)

// Tree hashing follows RFC 6962: leaves are prefixed with 0x00 and interior
// nodes with 0x01 before SHA-256.

// EmptyRoot is the root of a tree with no leaves.
func EmptyRoot() types.Hash {
	return sha256.Sum256(nil)
}

// LeafHash hashes one stamped content hash as a tree leaf.
func LeafHash(h types.Hash) types.Hash {
	var payload [1 + types.HashSize]byte
	copy(payload[1:], h[:])
	return sha256.Sum256(payload[:])
}

func nodeHash(left, right types.Hash) types.Hash {
	var payload [1 + 2*types.HashSize]byte
	payload[0] = 0x01
	copy(payload[1:], left[:])
	copy(payload[1+types.HashSize:], right[:])
	return sha256.Sum256(payload[:])
}

// Root computes the tree head over hashes in order.
func Root(hashes []types.Hash) types.Hash {
	switch len(hashes) {
	case 0:
		return EmptyRoot()
	case 1:
		return LeafHash(hashes[0])
	default:
		k := splitPoint(len(hashes))
		return nodeHash(Root(hashes[:k]), Root(hashes[k:]))
	}
}

// InclusionPath returns the audit path for hashes[index], leaf side first.
func InclusionPath(hashes []types.Hash, index int) ([]types.Hash, error) {
	if index < 0 || index >= len(hashes) {
		return nil, errors.New("leaf index out of range")
	}
	return inclusionPath(hashes, index), nil
}

func inclusionPath(hashes []types.Hash, index int) []types.Hash {
	if len(hashes) <= 1 {
		return nil
	}
	k := splitPoint(len(hashes))
	if index < k {
		return append(inclusionPath(hashes[:k], index), Root(hashes[k:]))
	}
	return append(inclusionPath(hashes[k:], index-k), Root(hashes[:k]))
}

// VerifyInclusion checks that leaf sits at leafIndex in a tree of treeSize
// leaves with the given root.
func VerifyInclusion(leafIndex, treeSize uint64, leaf types.Hash, path []types.Hash, root types.Hash) bool {
	if treeSize == 0 || leafIndex >= treeSize {
		return false
	}

	fn, sn := leafIndex, treeSize-1
	current := leaf
	for _, sibling := range path {
		if sn == 0 {
			return false
		}
		if fn&1 == 1 || fn == sn {
			current = nodeHash(sibling, current)
			if fn&1 == 0 {
				for fn&1 == 0 && fn != 0 {
					fn >>= 1
					sn >>= 1
				}
			}
		} else {
			current = nodeHash(current, sibling)
		}
		fn >>= 1
		sn >>= 1
	}
	return sn == 0 && current == root
}

// splitPoint is the largest power of two strictly less than n (n > 1).
func splitPoint(n int) int {
	k := 1
	for k<<1 < n {
		k <<= 1
	}
	return k
}
