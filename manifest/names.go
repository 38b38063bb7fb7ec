package manifest

import (
	"fmt"
	"strings"
)

// ValidTypeName checks a namespace-qualified type name as used for
// capability and base types: dot-separated identifier segments, for example
// "Engine.Component". A "[Scope]" prefix is accepted and checked the same
// way.
func ValidTypeName(name string) error {
	if strings.HasPrefix(name, "[") {
		end := strings.IndexByte(name, ']')
		if end < 0 {
			return fmt.Errorf("type name %q: unterminated scope", name)
		}
		if err := validSegments(name[1:end]); err != nil {
			return fmt.Errorf("type name %q: scope: %w", name, err)
		}
		name = name[end+1:]
	}
	if err := validSegments(name); err != nil {
		return fmt.Errorf("type name %q: %w", name, err)
	}
	return nil
}

func validSegments(s string) error {
	if s == "" {
		return fmt.Errorf("empty name")
	}
	for _, seg := range strings.Split(s, ".") {
		if seg == "" {
			return fmt.Errorf("empty segment")
		}
		for i, r := range seg {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case i > 0 && r >= '0' && r <= '9':
			default:
				return fmt.Errorf("invalid character %q in %q", r, seg)
			}
		}
	}
	return nil
}
