// File: internal/config/pattern.go
package config

import "regexp"

// Pattern matches URLs either by exact string equality or, when the source
// text compiles as a regular expression, by an unanchored regexp match.
// Text that fails to compile degrades to exact-only matching; the caller is
// expected to log the degradation so a typoed pattern is not silently inert.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

// CompilePattern builds a Pattern from raw text. The returned error reports
// a failed regexp compilation; the Pattern is still usable for exact matches.
func CompilePattern(raw string) (Pattern, error) {
	re, err := regexp.Compile(raw)
	if err != nil {
		return Pattern{raw: raw}, err
	}
	return Pattern{raw: raw, re: re}, nil
}

// Matches reports whether url is matched by this pattern, trying exact
// equality first and the regexp second.
func (p Pattern) Matches(url string) bool {
	if url == p.raw {
		return true
	}
	return p.re != nil && p.re.MatchString(url)
}

// IsRegexp reports whether the pattern carries a compiled regexp.
func (p Pattern) IsRegexp() bool { return p.re != nil }

func (p Pattern) String() string { return p.raw }
