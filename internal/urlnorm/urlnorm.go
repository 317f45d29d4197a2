// Package urlnorm implements the navigation-input normalization rule
// shared by every backend's goto/open action.
package urlnorm

import (
	"strings"

	"github.com/actionplane/browserctl/internal/berrors"
)

// Normalize implements spec invariant 1: the input is trimmed of
// leading/trailing whitespace, and a protocol-relative, scheme-
// qualified, or bare host[:port][/path] string is rewritten to an
// https:// (or passthrough) URL. Order matters: the host:port check
// runs before the generic scheme check, so "localhost:8080/path" is
// recognized as an authority rather than as scheme "localhost:".
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", berrors.New(berrors.InvalidUrl, "empty navigation input")
	}

	if rest, ok := strings.CutPrefix(trimmed, "//"); ok {
		return "https://" + rest, nil
	}
	if strings.Contains(trimmed, "://") {
		return trimmed, nil
	}
	if isHostPortWithOptionalPath(trimmed) {
		return "https://" + trimmed, nil
	}
	if hasExplicitScheme(trimmed) {
		return trimmed, nil
	}
	return "https://" + trimmed, nil
}

// isHostPortWithOptionalPath reports whether input is an authority of
// the form host:port, optionally followed by /path, ?query, or #frag,
// with an all-digit port.
func isHostPortWithOptionalPath(input string) bool {
	boundary := strings.IndexAny(input, "/?#")
	authority := input
	if boundary >= 0 {
		authority = input[:boundary]
	}
	if authority == "" {
		return false
	}

	idx := strings.LastIndex(authority, ":")
	if idx < 0 {
		return false
	}
	host, port := authority[:idx], authority[idx+1:]
	if host == "" || port == "" {
		return false
	}
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// hasExplicitScheme reports whether input starts with a scheme
// (letter, then letters/digits/+/-/. up to a colon).
func hasExplicitScheme(input string) bool {
	runes := []rune(input)
	if len(runes) == 0 || !isASCIIAlpha(runes[0]) {
		return false
	}
	for _, c := range runes[1:] {
		if c == ':' {
			return true
		}
		if isASCIIAlpha(c) || (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.' {
			continue
		}
		return false
	}
	return false
}

func isASCIIAlpha(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
