// Package ident provides the 256-bit content-addressing primitives shared by
// every commitment path in warpcore: node/edge/type identifiers, scope keys,
// intent ids, and the state/patch/commit roots themselves.
//
// Every hash in the engine is domain-separated: the tag identifies *which*
// commitment path produced the digest, so structurally identical byte
// streams feeding two different paths (say, a state_root encoding and a
// patch_digest encoding that happen to coincide byte-for-byte) can never
// collide.
package ident

import (
	"crypto/sha256"
	"encoding/binary"
)

// Hash is a 256-bit content hash. Equality and ordering are byte-lexicographic.
type Hash [32]byte

// Domain-separation tags. Each is a distinct non-empty byte string, one per
// commitment path. Never reuse a tag across paths: two structurally
// identical byte streams feeding different commitment paths must never hash
// to the same value.
const (
	TagNode        = "node:"
	TagEdge        = "edge:"
	TagType        = "type:"
	TagScope       = "scope:"
	TagIntent      = "intent:"
	TagInstance    = "instance:"
	TagStateRoot   = "state_root:"
	TagPatchDigest = "patch_digest:"
	TagCommit      = "commit:"
	TagPlanDigest  = "plan_digest:"
	TagDecision    = "decision_digest:"
	TagRewrites    = "rewrites_digest:"
	TagLenPrefixed = "list:"
)

// Less reports whether h sorts before o in byte-lexicographic order.
func (h Hash) Less(o Hash) bool {
	for i := range h {
		if h[i] != o[i] {
			return h[i] < o[i]
		}
	}
	return false
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns a copy of the hash's 32 bytes.
func (h Hash) Bytes() []byte {
	b := make([]byte, 32)
	copy(b, h[:])
	return b
}

// String returns the hex encoding of h.
func (h Hash) String() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// Sum computes a domain-separated hash: hash(tag || concat(parts...)).
func Sum(tag string, parts ...[]byte) Hash {
	h := sha256.New()
	h.Write([]byte(tag))
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// U64LE encodes v as 8 little-endian bytes.
func U64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// U32LE encodes v as 4 little-endian bytes.
func U32LE(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// U16LE encodes v as 2 little-endian bytes.
func U16LE(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

// EmptyLengthPrefixedDigest is the hash of a zero-length, length-prefixed
// list: hash(u64LE(0)). Exported so callers can recognize an empty digest
// without recomputing it.
var EmptyLengthPrefixedDigest = Sum(TagLenPrefixed, U64LE(0))

// LengthPrefixedDigest hashes an ordered list of already-encoded items under
// TagLenPrefixed, each item prefixed by its own 64-bit little-endian length.
// Used anywhere a digest of an ordered list of byte slices is needed.
func LengthPrefixedDigest(items [][]byte) Hash {
	h := sha256.New()
	h.Write([]byte(TagLenPrefixed))
	h.Write(U64LE(uint64(len(items))))
	for _, item := range items {
		h.Write(U64LE(uint64(len(item))))
		h.Write(item)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// NodeID is a 32-byte content hash, instance-scoped.
type NodeID Hash

// Less orders NodeIDs byte-lexicographically.
func (n NodeID) Less(o NodeID) bool { return Hash(n).Less(Hash(o)) }

// EdgeID is a 32-byte content hash, instance-scoped.
type EdgeID Hash

// Less orders EdgeIDs byte-lexicographically.
func (e EdgeID) Less(o EdgeID) bool { return Hash(e).Less(Hash(o)) }

// TypeID is an immutable 32-byte hash derived from a namespaced type name.
type TypeID Hash

// NewTypeID derives a TypeID from a namespaced string, e.g. "warp.core.Actor".
func NewTypeID(namespacedName string) TypeID {
	return TypeID(Sum(TagType, []byte(namespacedName)))
}

// InstanceID is a 32-byte identifier allocated on portal open or genesis.
// It is never derived from its contents — see NewInstanceID.
type InstanceID Hash

// Less orders InstanceIDs byte-lexicographically.
func (i InstanceID) Less(o InstanceID) bool { return Hash(i).Less(Hash(o)) }

// NodeKey identifies a node across instance boundaries.
type NodeKey struct {
	Instance InstanceID
	Local    NodeID
}

// Less orders NodeKeys by (Instance, Local) byte-lexicographic precedence.
func (k NodeKey) Less(o NodeKey) bool {
	if k.Instance != o.Instance {
		return k.Instance.Less(o.Instance)
	}
	return k.Local.Less(o.Local)
}

// EdgeKey identifies an edge across instance boundaries.
type EdgeKey struct {
	Instance InstanceID
	Local    EdgeID
}

// ScopeHash computes the scope hash for a rule applied at a node key:
// hash(tag("scope") || rule_id || instance_id || local_node_id).
func ScopeHash(ruleID Hash, scope NodeKey) Hash {
	return Sum(TagScope, ruleID[:], scope.Instance[:], scope.Local[:])
}

// IntentID computes the content-addressed id of an ingested intent:
// hash(tag("intent") || intent_bytes). Identical intent_bytes dedupe to the
// same id.
func IntentID(intentBytes []byte) Hash {
	return Sum(TagIntent, intentBytes)
}
