// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"math"
	"strconv"
)

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParseID parses a positive database id. Zero, negatives, signs and values
// beyond the platform uint range are rejected.
func ParseID(s string) (uint, bool) {
	if s == "" || s[0] == '+' {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 || n > math.MaxUint {
		return 0, false
	}
	return uint(n), true
}

// ClampLimit parses a result limit. Missing, malformed or non-positive
// values yield 0 (caller default); values above max are capped at max.
func ClampLimit(s string, max int) int {
	n := AtoiDefault(s, 0)
	if n <= 0 {
		return 0
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
