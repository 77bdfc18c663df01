// Package merkle builds Merkle commitments over attestation content hashes
// and produces inclusion proofs so a single attestation can be verified
// against an epoch root without replaying the chain.
//
// Leaves and internal nodes are lowercase hex SHA-256 digests. A pair hashes
// as SHA256(left || right) over the hex strings; a node left without a
// sibling at some level is rehashed alone, SHA256(node).
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// EmptyRoot is the root of a tree with no leaves, and doubles as the
// well-known genesis value for epoch chains.
var EmptyRoot = strings.Repeat("0", 64)

// Root computes the Merkle root of the given leaf hashes.
func Root(leaves []string) string {
	if len(leaves) == 0 {
		return EmptyRoot
	}
	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		level = reduce(level)
	}
	return level[0]
}

// Step is one level of an inclusion proof. An empty Sibling means the node
// was rehashed alone at that level.
type Step struct {
	Sibling string `json:"sibling"`
	// Left is true when the sibling sits to the left of the running hash.
	Left bool `json:"left"`
}

// Proof carries the path from a leaf to the root.
type Proof struct {
	Leaf  string `json:"leaf"`
	Steps []Step `json:"steps"`
}

// Prove returns the inclusion proof for the leaf at the given index, or false
// if the index is out of range.
func Prove(leaves []string, index int) (Proof, bool) {
	if index < 0 || index >= len(leaves) {
		return Proof{}, false
	}
	proof := Proof{Leaf: leaves[index]}
	level := append([]string(nil), leaves...)
	pos := index
	for len(level) > 1 {
		if pos%2 == 0 {
			if pos+1 < len(level) {
				proof.Steps = append(proof.Steps, Step{Sibling: level[pos+1]})
			} else {
				proof.Steps = append(proof.Steps, Step{})
			}
		} else {
			proof.Steps = append(proof.Steps, Step{Sibling: level[pos-1], Left: true})
		}
		level = reduce(level)
		pos /= 2
	}
	return proof, true
}

// Verify replays the proof and reports whether it commits leaf to root.
func (p Proof) Verify(root string) bool {
	h := p.Leaf
	for _, step := range p.Steps {
		switch {
		case step.Sibling == "":
			h = hashPair(h, "")
		case step.Left:
			h = hashPair(step.Sibling, h)
		default:
			h = hashPair(h, step.Sibling)
		}
	}
	return h == root
}

func reduce(level []string) []string {
	next := make([]string, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 < len(level) {
			next = append(next, hashPair(level[i], level[i+1]))
		} else {
			next = append(next, hashPair(level[i], ""))
		}
	}
	return next
}

func hashPair(left, right string) string {
	h := sha256.New()
	h.Write([]byte(left))
	if right != "" {
		h.Write([]byte(right))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashLeaf hashes raw bytes into leaf form.
func HashLeaf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
