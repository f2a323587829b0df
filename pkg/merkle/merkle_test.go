package merkle

import (
	"math/rand"
	"testing"
)

func leafAt(i int) Root {
	var r Root
	r[0] = byte(i)
	r[1] = byte(i >> 8)
	return r
}

func TestBuildEmptyTreeRoot(t *testing.T) {
	tr := Build(nil)
	if tr.Root() != ZeroRoot {
		t.Fatalf("empty tree root = %x, want zero", tr.Root())
	}
}

func TestBuildSingleLeafRootEqualsLeaf(t *testing.T) {
	leaf := leafAt(1)
	tr := Build([]Root{leaf})
	if tr.Root() != leaf {
		t.Fatalf("single-leaf root = %x, want %x", tr.Root(), leaf)
	}
}

func TestBuildDeterministic(t *testing.T) {
	leaves := make([]Root, 7)
	for i := range leaves {
		leaves[i] = leafAt(i)
	}
	a := Build(leaves).Root()
	b := Build(leaves).Root()
	if a != b {
		t.Fatalf("same leaf sequence produced different roots: %x vs %x", a, b)
	}
}

func TestProofVerifyRoundTrip(t *testing.T) {
	sizes := []int{1, 2, 3, 4, 5, 7, 8, 16, 17, 31}
	for _, n := range sizes {
		leaves := make([]Root, n)
		for i := range leaves {
			leaves[i] = leafAt(i)
		}
		tr := Build(leaves)
		root := tr.Root()
		for i := 0; i < n; i++ {
			path := tr.Proof(i)
			if !Verify(leaves[i], i, n, path, root) {
				t.Fatalf("n=%d index=%d: proof did not verify", n, i)
			}
		}
	}
}

func TestVerifyRejectsWrongLeaf(t *testing.T) {
	leaves := make([]Root, 5)
	for i := range leaves {
		leaves[i] = leafAt(i)
	}
	tr := Build(leaves)
	path := tr.Proof(2)
	if Verify(leafAt(99), 2, len(leaves), path, tr.Root()) {
		t.Fatal("verify accepted a leaf that was not in the tree at that index")
	}
}

func TestVerifyRejectsWrongIndex(t *testing.T) {
	leaves := make([]Root, 6)
	for i := range leaves {
		leaves[i] = leafAt(i)
	}
	tr := Build(leaves)
	path := tr.Proof(1)
	if Verify(leaves[1], 3, len(leaves), path, tr.Root()) {
		t.Fatal("verify accepted the right leaf at the wrong index")
	}
}

func TestVerifyRejectsOutOfRangeIndex(t *testing.T) {
	if Verify(leafAt(0), -1, 4, nil, ZeroRoot) {
		t.Fatal("verify accepted a negative index")
	}
	if Verify(leafAt(0), 4, 4, nil, ZeroRoot) {
		t.Fatal("verify accepted an index equal to totalLeaves")
	}
}

func TestHashPairOrderIndependent(t *testing.T) {
	a, b := leafAt(1), leafAt(2)
	if hashPair(a, b) != hashPair(b, a) {
		t.Fatal("hashPair is not order-independent")
	}
}

func TestProofVerifyRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		n := 1 + rng.Intn(50)
		leaves := make([]Root, n)
		for i := range leaves {
			var r Root
			rng.Read(r[:])
			leaves[i] = r
		}
		tr := Build(leaves)
		root := tr.Root()
		idx := rng.Intn(n)
		path := tr.Proof(idx)
		if !Verify(leaves[idx], idx, n, path, root) {
			t.Fatalf("trial %d: n=%d idx=%d failed to verify", trial, n, idx)
		}
	}
}
