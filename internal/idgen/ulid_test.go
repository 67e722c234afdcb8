package idgen

import (
	"testing"
	"time"
)

func TestNewIsLexicallyOrderedWithTime(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)
	a := NewAt(t0)
	b := NewAt(t1)
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("expected 26-char ULIDs, got %d and %d", len(a), len(b))
	}
	if !(string(a) < string(b)) {
		t.Fatalf("expected %s < %s", a, b)
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[ULID]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate ULID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestEncodingUsesCrockfordAlphabet(t *testing.T) {
	id := New()
	for _, r := range id.String() {
		found := false
		for _, c := range crockford {
			if r == c {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("unexpected character %q in ULID %s", r, id)
		}
	}
}
