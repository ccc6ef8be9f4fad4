package token

import (
	"strings"
	"testing"
)

func TestValidateStrengthTooShort(t *testing.T) {
	result := ValidateStrength("short1!")

	if result.Valid {
		t.Fatal("expected 7-char password to be invalid")
	}
	found := false
	for _, reason := range result.Reasons {
		if strings.Contains(reason, "8 characters") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a length reason, got %v", result.Reasons)
	}
}

func TestValidateStrengthStrongPassword(t *testing.T) {
	result := ValidateStrength("Tr41lV3rse!2024")

	if !result.Valid {
		t.Fatalf("expected valid, reasons: %v", result.Reasons)
	}
	if result.Score < 4 {
		t.Fatalf("expected score >= 4, got %d", result.Score)
	}
	if len(result.Reasons) != 0 {
		t.Fatalf("expected no reasons, got %v", result.Reasons)
	}
}

func TestValidateStrengthLengthAloneInsufficient(t *testing.T) {
	// 20 chars of one class: the two length points cannot carry it.
	result := ValidateStrength("aaaaaaaaaaaaaaaaaaaa")

	if result.Valid {
		t.Fatal("expected single-class password to be invalid")
	}
	if len(result.Reasons) == 0 {
		t.Fatal("expected missing-class reasons")
	}
}

func TestValidateStrengthCommonPattern(t *testing.T) {
	result := ValidateStrength("Password!99x")

	if result.Valid {
		t.Fatal("expected deny-list hit to invalidate")
	}
	found := false
	for _, reason := range result.Reasons {
		if strings.Contains(reason, "common password pattern") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected common-pattern reason, got %v", result.Reasons)
	}
}

func TestValidateStrengthSequentialDigits(t *testing.T) {
	result := ValidateStrength("Xy!a12345678")

	if result.Valid {
		t.Fatal("expected sequential digit run to invalidate")
	}
}

func TestValidateStrengthScoreBounds(t *testing.T) {
	result := ValidateStrength("password1234")
	if result.Score < 0 || result.Score > 6 {
		t.Fatalf("score out of bounds: %d", result.Score)
	}
}
