// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// Uint64Default converts a string to a uint64. If the string is empty,
// negative, or cannot be parsed, it returns the provided default value.
// Used for id-valued query parameters such as after_id.
//
// Example:
//
//	id := utils.Uint64Default("31", 0) // returns 31
//	id = utils.Uint64Default("", 7)    // returns 7
//	id = utils.Uint64Default("-3", 0)  // returns 0
func Uint64Default(s string, def uint64) uint64 {
	if s == "" {
		return def
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n
	}
	return def
}
