package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	symbolPattern    = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,11}$`)
	accountIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)
)

var (
	ErrInvalidSymbol    = errors.New("invalid ticker symbol")
	ErrInvalidAccountID = errors.New("invalid account id")
)

// Symbol normalizes a ticker to upper case and checks its shape.
func Symbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	return s, nil
}

// Symbols parses a comma separated ticker list, dropping blanks and
// duplicates while keeping the first-seen order.
func Symbols(csv string, max int) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := Symbol(part)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one symbol is required")
	}
	if max > 0 && len(out) > max {
		return nil, fmt.Errorf("at most %d symbols per request", max)
	}
	return out, nil
}

func AccountID(raw string) error {
	if !accountIDPattern.MatchString(raw) {
		return ErrInvalidAccountID
	}
	return nil
}
