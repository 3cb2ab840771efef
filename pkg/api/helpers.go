package api

import (
	"fmt"
	"strconv"
)

// parsePositiveInt parses a query-param integer, rejecting non-positive
// values so a malformed or adversarial `limit` falls back to the caller's
// default rather than requesting zero or negative rows.
func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive, got %d", n)
	}
	return n, nil
}
