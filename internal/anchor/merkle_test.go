package anchor

import (
	"crypto/sha256"
	"testing"

	"timelock.mini/tlm/internal/types"
)

func leaves(n int) []types.Hash {
	out := make([]types.Hash, n)
	for i := range out {
		out[i] = sha256.Sum256([]byte{byte(i)})
	}
	return out
}

func TestRootSmallTrees(t *testing.T) {
	if Root(nil) != sha256.Sum256(nil) {
		t.Fatal("empty root mismatch")
	}

	hs := leaves(3)
	if Root(hs[:1]) != LeafHash(hs[0]) {
		t.Fatal("single leaf root should be the leaf hash")
	}
	want := nodeHash(nodeHash(LeafHash(hs[0]), LeafHash(hs[1])), LeafHash(hs[2]))
	if Root(hs) != want {
		t.Fatal("three leaf root should split 2+1")
	}
}

func TestLeafAndNodeDomainsDiffer(t *testing.T) {
	hs := leaves(2)
	if LeafHash(hs[0]) == sha256.Sum256(hs[0][:]) {
		t.Fatal("leaf hash must be domain separated")
	}
}

func TestInclusionProofsVerify(t *testing.T) {
	for size := 1; size <= 17; size++ {
		hs := leaves(size)
		root := Root(hs)
		for i := 0; i < size; i++ {
			path, err := InclusionPath(hs, i)
			if err != nil {
				t.Fatalf("size %d index %d: %v", size, i, err)
			}
			if !VerifyInclusion(uint64(i), uint64(size), LeafHash(hs[i]), path, root) {
				t.Fatalf("size %d index %d: proof did not verify", size, i)
			}
			if size > 1 && VerifyInclusion(uint64(i), uint64(size), LeafHash(hs[(i+1)%size]), path, root) {
				t.Fatalf("size %d index %d: proof verified the wrong leaf", size, i)
			}
		}
	}
}

func TestInclusionPathBounds(t *testing.T) {
	if _, err := InclusionPath(leaves(2), 2); err == nil {
		t.Fatal("expected out of range error")
	}
	if VerifyInclusion(0, 0, types.Hash{}, nil, types.Hash{}) {
		t.Fatal("empty tree cannot prove inclusion")
	}
}
