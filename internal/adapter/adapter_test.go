package adapter

import "testing"

func TestDeltaKey(t *testing.T) {
	if got, want := DeltaKey("abc"), "delta/abc"; got != want {
		t.Errorf("DeltaKey(%q) = %q, want %q", "abc", got, want)
	}
}

func TestPackKey(t *testing.T) {
	if got, want := PackKey("xyz"), "pack/xyz"; got != want {
		t.Errorf("PackKey(%q) = %q, want %q", "xyz", got, want)
	}
}
