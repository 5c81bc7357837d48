package auth

import (
	"context"
	"errors"
	"testing"
)

func TestIsAdmin(t *testing.T) {
	cases := []struct {
		name string
		id   *Identity
		want bool
	}{
		{"nil", nil, false},
		{"admin", &Identity{Username: "bob", Role: RoleAdmin}, true},
		{"user", &Identity{Username: "ana", Role: RoleUser}, false},
		{"empty role", &Identity{Username: "x"}, false},
		{"case sensitive", &Identity{Username: "x", Role: "Admin"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAdmin(tc.id); got != tc.want {
				t.Fatalf("IsAdmin(%+v) = %v, want %v", tc.id, got, tc.want)
			}
		})
	}
}

func TestAuthenticatorFunc(t *testing.T) {
	var seen string
	f := AuthenticatorFunc(func(ctx context.Context, token string) (Identity, error) {
		seen = token
		if token == "bad" {
			return Identity{}, ErrUnauthorized
		}
		return Identity{Username: "ana", Role: RoleUser}, nil
	})

	id, err := f.WhoAmI(context.Background(), "good")
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if id.Username != "ana" || seen != "good" {
		t.Fatalf("unexpected identity %+v (token %q)", id, seen)
	}
	if _, err := f.WhoAmI(context.Background(), "bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
