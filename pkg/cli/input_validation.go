// Package cli validates values passed on the command line
package cli

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrMaliciousInput is returned for shell or SQL metacharacters
	ErrMaliciousInput = errors.New("potentially malicious input detected")

	symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,20}/[A-Z0-9]{1,20}$`)
	sqlPattern    = regexp.MustCompile(`['"]\s*;\s*|\b(DROP|DELETE|UPDATE|INSERT)\b`)
)

// ValidateInput rejects command injection, path traversal and SQL fragments
func ValidateInput(input string) error {
	if strings.Contains(input, ";") || strings.Contains(input, "&&") || strings.Contains(input, "||") {
		return ErrMaliciousInput
	}
	if strings.Contains(input, "../") || strings.Contains(input, "..\\") {
		return ErrMaliciousInput
	}
	if sqlPattern.MatchString(strings.ToUpper(input)) {
		return ErrMaliciousInput
	}
	return nil
}

// ParseSymbols turns "btc/usdt, ETH/USDT" into unified symbols. Empty input
// yields nil so callers can fall back to the configured list.
func ParseSymbols(input string) ([]string, error) {
	if err := ValidateInput(input); err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(input, ",") {
		sym := strings.ToUpper(strings.TrimSpace(part))
		if sym == "" {
			continue
		}
		if !symbolPattern.MatchString(sym) {
			return nil, fmt.Errorf("invalid symbol %q: expected BASE/QUOTE", part)
		}
		if seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out, nil
}
