package auth

import "testing"

func TestMarkerOwner(t *testing.T) {
	cases := []struct {
		name  string
		val   string
		owner string
	}{
		{"owner and reason", "u1|logout", "u1"},
		{"reason with separator", "u1|admin|revoke", "u1"},
		{"no separator", "u1", "u1"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := markerOwner(tc.val); got != tc.owner {
				t.Fatalf("markerOwner(%q) = %q, want %q", tc.val, got, tc.owner)
			}
		})
	}

	// A principal id that prefixes the stored owner must not match.
	if markerOwner("user-12|logout") == "user-1" {
		t.Fatal("prefix principal must not own the marker")
	}
}
