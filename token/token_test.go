package token

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateSecureToken(t *testing.T) {
	a, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars for 32 bytes, got %d", len(a))
	}

	b, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a == b {
		t.Fatal("two generated tokens collided")
	}
}

func TestGenerateSecureTokenRejectsWeakLength(t *testing.T) {
	if _, err := GenerateSecureToken(16); err == nil {
		t.Fatal("expected error for sub-minimum byte length")
	}
}

func TestNewSessionIDUnique(t *testing.T) {
	if NewSessionID() == NewSessionID() {
		t.Fatal("session ids collided")
	}
}

func TestHasherRoundTrip(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	hash, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if !h.Verify("correct horse battery staple", hash) {
		t.Fatal("expected verification to succeed")
	}
	if h.Verify("wrong password", hash) {
		t.Fatal("expected verification to fail")
	}
}

func TestHasherCostValidation(t *testing.T) {
	if _, err := NewHasher(bcrypt.MaxCost + 1); err == nil {
		t.Fatal("expected error for out-of-range cost")
	}
}

func TestHasherNeedsRehash(t *testing.T) {
	low, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	hash, err := low.Hash("some password here")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	high, err := NewHasher(bcrypt.MinCost + 2)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	if !high.NeedsRehash(hash) {
		t.Fatal("expected low-cost hash to need rehash")
	}
	if low.NeedsRehash(hash) {
		t.Fatal("expected same-cost hash to not need rehash")
	}
}
