package ring

import "strings"

// Sanitize escapes a scope or key so it is safe to use as a single path
// segment. '%' must be escaped first, or the escape sequences introduced
// for the other characters would themselves get re-escaped.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "*", "%2A")
	s = strings.ReplaceAll(s, "/", "%2F")
	s = strings.ReplaceAll(s, "?", "%3F")
	s = strings.ReplaceAll(s, "\x00", "%00")
	return s
}

// Unsanitize reverses Sanitize. '%' must be restored last, mirroring the
// reverse order of escaping.
func Unsanitize(s string) string {
	s = strings.ReplaceAll(s, "%00", "\x00")
	s = strings.ReplaceAll(s, "%3F", "?")
	s = strings.ReplaceAll(s, "%2F", "/")
	s = strings.ReplaceAll(s, "%2A", "*")
	s = strings.ReplaceAll(s, "%25", "%")
	return s
}
