package types

import (
	"strings"

	ierr "github.com/reckonhq/reckon/internal/errors"
)

// NormalizeCurrency lowercases and validates a 3-letter ISO currency code
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ierr.NewError("invalid currency code").
			WithHint("Currency must be a 3-letter ISO code").
			WithReportableDetails(map[string]any{"currency": code}).
			Mark(ierr.ErrValidation)
	}
	return code, nil
}

// IsMatchingCurrency compares two currency codes case-insensitively
func IsMatchingCurrency(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
