package id

import (
	"encoding/hex"
	"testing"
)

func TestRunIDIsDistinctHex(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		v := RunID{}.New()
		if len(v) != 32 {
			t.Fatalf("expected 32 characters, got %q", v)
		}
		if _, err := hex.DecodeString(v); err != nil {
			t.Fatalf("not hex: %q", v)
		}
		if seen[v] {
			t.Fatalf("duplicate id %q", v)
		}
		seen[v] = true
	}
}
