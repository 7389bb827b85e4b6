package auth

import (
	"strings"
	"testing"
	"time"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "https://notary.local", time.Hour)

	tok, err := issuer.Issue("hiring-backend")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Caller != "hiring-backend" {
		t.Fatalf("caller = %q", claims.Caller)
	}
	if claims.Issuer != "https://notary.local" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a := NewTokenIssuer([]byte("secret-a"), "https://notary.local", time.Hour)
	b := NewTokenIssuer([]byte("secret-b"), "https://notary.local", time.Hour)

	tok, err := a.Issue("caller")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(tok); err == nil {
		t.Fatal("token verified with wrong secret")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret"), "https://notary.local", -time.Minute)

	tok, err := issuer.Issue("caller")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(tok); err == nil {
		t.Fatal("expired token verified")
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret"), "https://notary.local", time.Hour)

	tok, err := issuer.Issue("caller")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("token parts = %d", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := issuer.Verify(tampered); err == nil {
		t.Fatal("tampered token verified")
	}
}

func TestKeyMatches(t *testing.T) {
	if !KeyMatches("k1", "k1") {
		t.Fatal("equal keys rejected")
	}
	if KeyMatches("k1", "k2") {
		t.Fatal("unequal keys accepted")
	}
	if KeyMatches("", "") {
		t.Fatal("empty keys accepted")
	}
}
