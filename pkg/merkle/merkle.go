// Package merkle implements the sorted-pair keccak Merkle trees used to
// commit batch state and orders. The hashing rule is fixed by the
// on-chain verifier contract and must be reproduced exactly:
//
//	parent = keccak256(min(a, b) || max(a, b))
//
// Leaves are pre-hashed by callers (see the leaf encoders in leaves.go);
// the tree itself only ever hashes 32-byte node pairs.
package merkle

import (
	"bytes"

	"github.com/ethereum/go-ethereum/crypto"
)

// Root is the fixed-size commitment produced by a tree.
type Root [32]byte

// ZeroRoot is the commitment of an empty leaf sequence.
var ZeroRoot = Root{}

// Tree is a flat, leaves-plus-computed-layers representation: no
// pointer-linked nodes, so proof generation is a simple index walk.
type Tree struct {
	leafCount int
	layers    [][]Root
}

// Build constructs a tree from an ordered sequence of pre-hashed leaves.
// Equal leaf sequences always yield equal trees (and therefore equal
// roots and proofs) because hashing here never depends on leaf position,
// only on the sorted-pair rule at each internal node.
func Build(leaves []Root) *Tree {
	if len(leaves) == 0 {
		return &Tree{leafCount: 0, layers: [][]Root{{}}}
	}

	layer := make([]Root, len(leaves))
	copy(layer, leaves)

	layers := [][]Root{layer}
	for len(layer) > 1 {
		next := make([]Root, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 == len(layer) {
				// odd trailing node carries to the next layer unchanged
				next = append(next, layer[i])
				break
			}
			next = append(next, hashPair(layer[i], layer[i+1]))
		}
		layers = append(layers, next)
		layer = next
	}

	return &Tree{leafCount: len(leaves), layers: layers}
}

// Root returns the tree's commitment. The empty tree's root is the
// all-zero value.
func (t *Tree) Root() Root {
	top := t.layers[len(t.layers)-1]
	if len(top) == 0 {
		return ZeroRoot
	}
	return top[0]
}

// Proof returns the sibling path for the leaf at index i, bottom to top,
// skipping levels where i carries forward with no sibling.
func (t *Tree) Proof(i int) []Root {
	path := make([]Root, 0, len(t.layers)-1)
	index := i
	for level := 0; level < len(t.layers)-1; level++ {
		layer := t.layers[level]
		sibling := index ^ 1
		if sibling < len(layer) {
			path = append(path, layer[sibling])
		}
		index /= 2
	}
	return path
}

// Verify recomputes the root from leaf, its original index, and the
// total number of leaves the tree was built from, and compares it
// against root. totalLeaves is required because the carried-forward
// rule for odd layers means whether a given level has a sibling depends
// on the tree's shape, not just on path length.
func Verify(leaf Root, index int, totalLeaves int, path []Root, root Root) bool {
	if totalLeaves <= 0 || index < 0 || index >= totalLeaves {
		return false
	}
	if totalLeaves == 1 {
		return len(path) == 0 && leaf == root
	}

	current := leaf
	layerSize := totalLeaves
	pi := 0
	for layerSize > 1 {
		sibling := index ^ 1
		if sibling < layerSize {
			if pi >= len(path) {
				return false
			}
			if index%2 == 0 {
				current = hashPair(current, path[pi])
			} else {
				current = hashPair(path[pi], current)
			}
			pi++
		}
		index /= 2
		layerSize = (layerSize + 1) / 2
	}
	if pi != len(path) {
		return false
	}
	return current == root
}

// hashPair implements the sorted-pair rule: keccak256(min(a,b) || max(a,b)),
// packed with no length prefix.
func hashPair(a, b Root) Root {
	lo, hi := a, b
	if bytes.Compare(a[:], b[:]) > 0 {
		lo, hi = b, a
	}
	buf := make([]byte, 64)
	copy(buf[:32], lo[:])
	copy(buf[32:], hi[:])
	return Root(crypto.Keccak256Hash(buf))
}
