package merkle

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/xencat/bridge-verifier/types"
)

// MaxDepth bounds the length of an inclusion path.
const MaxDepth = 32

var (
	ErrIndexOutOfBounds = errors.New("merkle tree leaf index out of bounds")
	ErrEmptyTree        = errors.New("merkle tree has no leaves")
	ErrPathTooLong      = errors.New("merkle path exceeds the maximum depth")
	ErrZeroRoot         = errors.New("state root is zero")
	ErrRootMismatch     = errors.New("computed root does not match the state root")
)

// Leaf and node preimages carry distinct tag bytes so that no inner node can
// be presented as a leaf.
const (
	leafTag byte = 0x00
	nodeTag byte = 0x01
)

// Tree is a keccak256 Merkle tree whose internal nodes hash the sorted pair of
// their children, so an inclusion path carries no direction bits.
type Tree struct {
	root       *node
	leafHashes []types.Hash
}

type node struct {
	left  *node
	right *node
	hash  types.Hash
}

// LeafHash returns keccak256(0x00 || data).
func LeafHash(data []byte) types.Hash {
	var h types.Hash
	copy(h[:], crypto.Keccak256([]byte{leafTag}, data))
	return h
}

// HashPair returns keccak256(0x01 || min(a,b) || max(a,b)).
func HashPair(a, b types.Hash) types.Hash {
	var h types.Hash
	if bytes.Compare(a[:], b[:]) <= 0 {
		copy(h[:], crypto.Keccak256([]byte{nodeTag}, a[:], b[:]))
	} else {
		copy(h[:], crypto.Keccak256([]byte{nodeTag}, b[:], a[:]))
	}
	return h
}

// New builds a tree over raw leaves.
func New(leaves [][]byte) *Tree {
	hashes := make([]types.Hash, len(leaves))
	for i, l := range leaves {
		hashes[i] = LeafHash(l)
	}
	return NewFromHashes(hashes)
}

func NewFromHashes(leafHashes []types.Hash) *Tree {
	t := &Tree{leafHashes: leafHashes}
	if len(leafHashes) > 0 {
		t.root = build(leafHashes)
	}
	return t
}

func build(hashes []types.Hash) *node {
	if len(hashes) == 1 {
		return &node{hash: hashes[0]}
	}
	n := hibit(len(hashes) - 1)
	left := build(hashes[:n])
	right := build(hashes[n:])
	return &node{left: left, right: right, hash: HashPair(left.hash, right.hash)}
}

// Root returns the root hash, or the zero hash for an empty tree.
func (t *Tree) Root() types.Hash {
	if t.root == nil {
		return types.Hash{}
	}
	return t.root.hash
}

func (t *Tree) Len() int {
	return len(t.leafHashes)
}

// IndexOf returns the index of the leaf with the given hash.
func (t *Tree) IndexOf(leaf types.Hash) (int, bool) {
	for i, h := range t.leafHashes {
		if h == leaf {
			return i, true
		}
	}
	return -1, false
}

// Proof returns the sibling hashes from the leaf at idx up to the root.
func (t *Tree) Proof(idx int) ([]types.Hash, error) {
	if t.root == nil {
		return nil, ErrEmptyTree
	}
	if idx < 0 || idx >= len(t.leafHashes) {
		return nil, ErrIndexOutOfBounds
	}

	var path []types.Hash
	curr := t.root
	b := 0
	m := len(t.leafHashes)
	for m > 1 {
		n := hibit(m - 1)
		if idx < b+n {
			path = append([]types.Hash{curr.right.hash}, path...)
			curr = curr.left
			m = n
		} else {
			path = append([]types.Hash{curr.left.hash}, path...)
			curr = curr.right
			b += n
			m -= n
		}
	}
	if len(path) > MaxDepth {
		return nil, ErrPathTooLong
	}

	return path, nil
}

// ComputeRoot folds the path over the leaf hash.
func ComputeRoot(leaf types.Hash, path []types.Hash) types.Hash {
	h := leaf
	for _, sibling := range path {
		h = HashPair(h, sibling)
	}
	return h
}

// Verify checks that the raw leaf is included under root.
func Verify(leaf []byte, path []types.Hash, root types.Hash) error {
	if root.IsZero() {
		return ErrZeroRoot
	}
	if len(path) > MaxDepth {
		return fmt.Errorf("%w: %d > %d", ErrPathTooLong, len(path), MaxDepth)
	}
	if ComputeRoot(LeafHash(leaf), path) != root {
		return ErrRootMismatch
	}
	return nil
}

// hibit returns the largest power of two not greater than n.
func hibit(n int) int {
	if n < 0 {
		panic("hibit input cannot be negative")
	}
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n - (n >> 1)
}
