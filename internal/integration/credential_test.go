package integration

import (
	"testing"
	"time"
)

func TestTokenExpiredBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buffer := 5 * time.Minute

	cases := []struct {
		name   string
		expiry *time.Time
		want   bool
	}{
		{"no recorded expiry", nil, true},
		{"already expired", timePtr(now.Add(-time.Minute)), true},
		{"expires exactly at buffer edge", timePtr(now.Add(buffer)), true},
		{"expires one second past the edge", timePtr(now.Add(buffer + time.Second)), false},
		{"expires well in the future", timePtr(now.Add(time.Hour)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cred := Credential{TokenExpiresAt: tc.expiry}
			if got := cred.TokenExpired(now, buffer); got != tc.want {
				t.Fatalf("TokenExpired = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRefreshTokenExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		expiry *time.Time
		want   bool
	}{
		{"unknown expiry is optimistically valid", nil, false},
		{"lapsed", timePtr(now.Add(-time.Second)), true},
		{"lapses exactly now", timePtr(now), true},
		{"still valid", timePtr(now.Add(time.Second)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cred := Credential{RefreshTokenExpiresAt: tc.expiry}
			if got := cred.RefreshTokenExpired(now); got != tc.want {
				t.Fatalf("RefreshTokenExpired = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestShouldDeactivate(t *testing.T) {
	if (Credential{RefreshErrorCount: 2}).ShouldDeactivate(3) {
		t.Fatal("count below ceiling should not deactivate")
	}
	if !(Credential{RefreshErrorCount: 3}).ShouldDeactivate(3) {
		t.Fatal("count at ceiling should deactivate")
	}
	if !(Credential{RefreshErrorCount: 4}).ShouldDeactivate(3) {
		t.Fatal("count past ceiling should deactivate")
	}
}

func timePtr(t time.Time) *time.Time { return &t }
