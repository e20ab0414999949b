// Package pathkey computes the 64-bit digest used as the primary key for
// every node in the index.
package pathkey

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Sentinel is the reserved handle meaning "no indexed parent"; it also
// groups every top-level scan root as a child of this key.
const Sentinel uint64 = 0

// Of hashes an already-canonical absolute path into a handle. It performs
// no I/O and is stable across process runs for identical input.
//
// A path that legitimately hashes to Sentinel is vanishingly unlikely
// (xxhash64 of a non-empty string), but if it ever happens we fold it
// away from the reserved value rather than let a real root collide with
// "no parent".
func Of(absPath string) uint64 {
	h := xxhash.Sum64String(absPath)
	if h == Sentinel {
		h = xxhash.Sum64String(absPath + "\x00")
	}
	return h
}

// CheckCollision panics if two distinct paths were assigned the same
// handle. Invariant 4 treats this as an unrecoverable programmer/hash
// error, never a recoverable runtime condition.
func CheckCollision(h uint64, existingPath, newPath string) {
	if existingPath != newPath {
		panic(fmt.Sprintf("pathkey: digest collision between %q and %q (handle %d)", existingPath, newPath, h))
	}
}
