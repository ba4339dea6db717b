package cowdb

// commonPrefixLen returns the length of the longest common byte prefix
// of a and b.
func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// computePrefix implements spec.md §4.5: the effective prefix of a page
// is the longest common byte-prefix of its two bounding ancestor
// separators. If exactly one bound exists, the prefix is empty; if
// neither exists (the only child of its parent), the page inherits its
// parent's prefix.
func computePrefix(left, right []byte, hasLeft, hasRight bool, parentPrefix []byte) []byte {
	switch {
	case hasLeft && hasRight:
		n := commonPrefixLen(left, right)
		return left[:n:n]
	case hasLeft != hasRight:
		return nil
	default:
		return parentPrefix
	}
}

// fullKey reconstructs a page's original key from its stored
// (prefix-stripped) form.
func fullKey(prefix, stored []byte) []byte {
	if len(prefix) == 0 {
		return stored
	}
	out := make([]byte, 0, len(prefix)+len(stored))
	out = append(out, prefix...)
	out = append(out, stored...)
	return out
}

// stripPrefix removes a page's prefix from a full key before storing it,
// assuming key already begins with prefix (the caller guarantees this
// via the B+tree's ordering invariants).
func stripPrefix(prefix, key []byte) []byte {
	return key[len(prefix):]
}

// reduceSeparator implements spec.md §4.5's reduce_separator: given
// min < sep under full-key comparison, truncate sep to the shortest
// byte string that still compares greater than min — one byte past
// their first differing position.
func reduceSeparator(min, sep []byte) []byte {
	n := commonPrefixLen(min, sep)
	if n >= len(sep) {
		return sep
	}
	return sep[:n+1 : n+1]
}
