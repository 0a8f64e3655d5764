package main

import (
	"testing"
	"time"

	"prism-board/api"
)

func TestSignedTokensAreAcceptedInTestMode(t *testing.T) {
	secret := []byte("local-secret")
	auth := api.NewAuth(api.AuthOptions{TestSecret: secret})

	for _, user := range userIDs(3, "load", nil) {
		tok, err := signToken(secret, user, time.Hour, time.Now())
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		got, err := auth.UserIDFromAuthHeader("Bearer " + tok)
		if err != nil {
			t.Fatalf("token for %s rejected: %v", user, err)
		}
		if got != user {
			t.Fatalf("expected %s, got %s", user, got)
		}
	}
}

func TestUserIDs(t *testing.T) {
	if got := userIDs(1, "p", []string{"alice"}); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("explicit id ignored: %v", got)
	}
	if got := userIDs(2, "p", nil); len(got) != 2 || got[0] != "p-1" || got[1] != "p-2" {
		t.Fatalf("unexpected ids: %v", got)
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	secret := []byte("local-secret")
	tok, err := signToken(secret, "u1", time.Minute, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := api.NewAuth(api.AuthOptions{TestSecret: secret}).UserIDFromAuthHeader("Bearer " + tok); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}
