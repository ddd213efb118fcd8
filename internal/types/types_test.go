package types

import "testing"

func TestParseGen(t *testing.T) {
	cases := []struct {
		name    string
		rev     RevID
		want    int
		wantErr bool
	}{
		{"simple", "1-abc123", 1, false},
		{"multi-digit", "42-deadbeef", 42, false},
		{"no separator", "abc123", 0, true},
		{"zero gen", "0-abc", 0, true},
		{"negative gen", "-1-abc", 0, true},
		{"non-numeric gen", "x-abc", 0, true},
		{"empty", "", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseGen(tc.rev)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseGen(%q): expected error, got gen %d", tc.rev, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGen(%q): unexpected error: %v", tc.rev, err)
			}
			if got != tc.want {
				t.Errorf("ParseGen(%q) = %d, want %d", tc.rev, got, tc.want)
			}
		})
	}
}

func TestSortedParents(t *testing.T) {
	in := []RevID{"2-b", "1-a", "2-b", "1-c"}
	got := SortedParents(in)
	want := []RevID{"1-a", "1-c", "2-b"}
	if len(got) != len(want) {
		t.Fatalf("SortedParents(%v) = %v, want %v", in, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SortedParents(%v)[%d] = %q, want %q", in, i, got[i], want[i])
		}
	}

	// original slice must not be mutated
	if in[0] != "2-b" {
		t.Errorf("SortedParents mutated its input: %v", in)
	}
}

func TestSortedParentsEmpty(t *testing.T) {
	if got := SortedParents(nil); len(got) != 0 {
		t.Errorf("SortedParents(nil) = %v, want empty", got)
	}
}
