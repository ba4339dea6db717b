package cowdb

import (
	"bytes"
	"testing"
)

func TestComputePrefixBothBounds(t *testing.T) {
	got := computePrefix([]byte("apple"), []byte("apricot"), true, true, nil)
	if !bytes.Equal(got, []byte("ap")) {
		t.Fatalf("computePrefix = %q, want %q", got, "ap")
	}
}

func TestComputePrefixOneBound(t *testing.T) {
	if got := computePrefix([]byte("apple"), nil, true, false, []byte("parent")); got != nil {
		t.Fatalf("computePrefix with one bound = %q, want nil", got)
	}
}

func TestComputePrefixNoBoundsInheritsParent(t *testing.T) {
	got := computePrefix(nil, nil, false, false, []byte("par"))
	if !bytes.Equal(got, []byte("par")) {
		t.Fatalf("computePrefix with no bounds = %q, want inherited %q", got, "par")
	}
}

func TestReduceSeparator(t *testing.T) {
	cases := []struct{ min, sep, want string }{
		{"apple", "apricot", "apr"},
		{"ban", "banana", "bana"},
		{"a", "b", "b"},
		{"", "x", "x"},
	}
	for _, c := range cases {
		got := reduceSeparator([]byte(c.min), []byte(c.sep))
		if !bytes.Equal(got, []byte(c.want)) {
			t.Errorf("reduceSeparator(%q, %q) = %q, want %q", c.min, c.sep, got, c.want)
		}
		if bytes.Compare(got, []byte(c.min)) <= 0 {
			t.Errorf("reduceSeparator(%q, %q) = %q, not > min", c.min, c.sep, got)
		}
		if bytes.Compare(got, []byte(c.sep)) > 0 {
			t.Errorf("reduceSeparator(%q, %q) = %q, not <= sep", c.min, c.sep, got)
		}
	}
}

func TestFullKeyStripPrefixRoundTrip(t *testing.T) {
	prefix := []byte("pre")
	full := []byte("prefixed")
	stored := stripPrefix(prefix, full)
	if got := fullKey(prefix, stored); !bytes.Equal(got, full) {
		t.Fatalf("fullKey(stripPrefix(%q)) = %q, want %q", full, got, full)
	}
}
