package domain

import (
	"fmt"
	"strings"
)

// Category identifies a service category (moving, cleaning, handyman, ...).
// Stored normalized: lowercase, trimmed, inner whitespace collapsed to dashes.
type Category string

func (c Category) String() string { return string(c) }

func (c Category) Validate() error {
	if strings.TrimSpace(string(c)) == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if string(c) != string(NormalizeCategory(string(c))) {
		return fmt.Errorf("%w: category %q is not normalized", ErrValidation, c)
	}
	return nil
}

// NormalizeCategory maps free-form category input to its canonical form.
func NormalizeCategory(raw string) Category {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.Join(strings.Fields(normalized), "-")
	return Category(normalized)
}

// ParseCategoryFromString normalizes and validates a category.
func ParseCategoryFromString(raw string) (Category, error) {
	c := NormalizeCategory(raw)
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

// NormalizeAddress collapses whitespace in a postal address for use as a
// routing-service query. Empty input stays empty.
func NormalizeAddress(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
