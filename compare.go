package cowdb

import "bytes"

// Compare orders keys the same way the tree itself does: plain
// lexicographic byte order, per spec.md §6.
func Compare(a, b []byte) int { return bytes.Compare(a, b) }
