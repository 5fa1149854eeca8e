package pathutil

import (
	"errors"
	"strings"
	"unicode"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

var ErrUnsafeName = errors.New("pathutil: unsafe file name")

const MaxFileNameLen = 200

// SafeFileName validates a client supplied file name for use as the last
// segment of an object key. Separators, dot segments and control characters
// are rejected rather than rewritten; inner spaces become dashes.
func SafeFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxFileNameLen {
		return "", ErrUnsafeName
	}
	if strings.ContainsAny(name, `/\`) || HasDotSegments(name) {
		return "", ErrUnsafeName
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return "", ErrUnsafeName
		}
	}
	return strings.Join(strings.Fields(name), "-"), nil
}
