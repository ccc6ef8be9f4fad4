package token

import (
	"strings"
	"unicode"
)

// StrengthResult reports the outcome of password strength validation.
// Score ranges 0..6. Reasons is empty when every check passed; Valid
// requires a score of at least 4 and zero outstanding reasons, so length
// alone can never satisfy validity.
type StrengthResult struct {
	Valid   bool     `json:"valid"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

const minStrengthScore = 4

// commonPatterns is a small deny-list of substrings that show up in the
// most frequently guessed passwords. Matching any entry costs two points.
var commonPatterns = []string{
	"password",
	"qwerty",
	"letmein",
	"abc123",
	"iloveyou",
	"admin",
	"welcome",
}

// ValidateStrength scores a plaintext password. One point each for
// length >= 8, length >= 12, and the presence of lowercase, uppercase,
// digit, and symbol characters; two points subtracted for every
// deny-list or sequential-digit match.
func ValidateStrength(plaintext string) StrengthResult {
	var (
		score   int
		reasons []string
	)

	if len(plaintext) >= 8 {
		score++
	} else {
		reasons = append(reasons, "must be at least 8 characters long")
	}
	if len(plaintext) >= 12 {
		score++
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range plaintext {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	if hasLower {
		score++
	} else {
		reasons = append(reasons, "must contain a lowercase letter")
	}
	if hasUpper {
		score++
	} else {
		reasons = append(reasons, "must contain an uppercase letter")
	}
	if hasDigit {
		score++
	} else {
		reasons = append(reasons, "must contain a digit")
	}
	if hasSymbol {
		score++
	} else {
		reasons = append(reasons, "must contain a symbol")
	}

	lowered := strings.ToLower(plaintext)
	for _, pattern := range commonPatterns {
		if strings.Contains(lowered, pattern) {
			score -= 2
			reasons = append(reasons, "contains a common password pattern")
		}
	}
	if hasSequentialDigits(plaintext, 4) {
		score -= 2
		reasons = append(reasons, "contains a sequential digit run")
	}

	if score < 0 {
		score = 0
	}
	if score > 6 {
		score = 6
	}

	return StrengthResult{
		Valid:   score >= minStrengthScore && len(reasons) == 0,
		Score:   score,
		Reasons: reasons,
	}
}

func hasSequentialDigits(s string, runLength int) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		if s[i] >= '1' && s[i] <= '9' && s[i] == s[i-1]+1 {
			run++
			if run >= runLength {
				return true
			}
			continue
		}
		run = 1
	}
	return false
}
