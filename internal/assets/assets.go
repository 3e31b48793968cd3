// Package assets defines the normalized asset map handed to the build
// session by bundler adapters, keyed by content hash.
package assets

import (
	"sort"
)

// Asset is one build artifact.
type Asset struct {
	Path        string // path relative to the build output root
	Size        int64
	Content     []byte
	ContentType string
	Hash        string // content hash, also the map key
}

// Map holds a build's assets keyed by content hash. Hash collisions are
// assumed not to occur; no reconciliation logic exists for them.
type Map map[string]Asset

// HashSet is a set of content hashes.
type HashSet map[string]struct{}

// NewHashSet builds a set from a list of hashes.
func NewHashSet(hashes []string) HashSet {
	s := make(HashSet, len(hashes))
	for _, h := range hashes {
		s[h] = struct{}{}
	}
	return s
}

// Has reports whether h is in the set.
func (s HashSet) Has(h string) bool {
	_, ok := s[h]
	return ok
}

// Add inserts h. Re-adding an existing hash is a no-op.
func (s HashSet) Add(h string) {
	s[h] = struct{}{}
}

// Sorted returns the hashes in lexical order, for deterministic
// persistence.
func (s HashSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Missing returns the subset of m whose hashes are not in known.
func (m Map) Missing(known HashSet) Map {
	out := make(Map)
	for h, a := range m {
		if !known.Has(h) {
			out[h] = a
		}
	}
	return out
}

// Hashes returns the map's hashes in lexical order.
func (m Map) Hashes() []string {
	out := make([]string, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// TotalBytes sums the sizes of all assets in the map.
func (m Map) TotalBytes() int64 {
	var total int64
	for _, a := range m {
		total += a.Size
	}
	return total
}
