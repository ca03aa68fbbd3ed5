package database

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewID(PrefixCase)
		if !strings.HasPrefix(id, PrefixCase) {
			t.Fatalf("missing prefix: %s", id)
		}
		if len(id) != len(PrefixCase)+12 {
			t.Fatalf("unexpected length %d for %s", len(id), id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
