// Package strings provides small string and slice helpers
package strings

import std "strings"

// IfEmpty returns def if in is empty, otherwise returns in
func IfEmpty[T any](in []T, def []T) []T {
	if len(in) == 0 {
		return def
	}
	return in
}

// MustString returns s if it has non whitespace content otherwise panics
// name is used in the panic message so you can tell what was missing
func MustString(s string, name string) string {
	if std.TrimSpace(s) == "" {
		panic(name + " is required")
	}
	return s
}

// EmptyToNil returns empty string if s is all whitespace, otherwise returns s
func EmptyToNil(s string) string {
	if std.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// Ptr returns a pointer to s, or nil if s is empty
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns "" if ps is nil, else *ps.
func Deref(ps *string) string {
	if ps == nil {
		return ""
	}
	return *ps
}

// Truncate cuts s to at most n bytes, appending an ellipsis when cut.
// Used for bounded diagnostics like error body tails
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
