package module

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseType parses the textual form produced by TypeRef.String:
// "Name", "[Scope]Name", "!!n" and any of those followed by "[]".
// "void" parses to nil.
func ParseType(s string) (*TypeRef, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, fmt.Errorf("%w: empty type name", ErrUnresolvedType)
	case s == "void":
		return nil, nil
	case strings.HasSuffix(s, "[]"):
		elem, err := ParseType(s[:len(s)-2])
		if err != nil {
			return nil, err
		}
		if elem == nil {
			return nil, fmt.Errorf("%w: array of void", ErrUnresolvedType)
		}
		return ArrayOf(elem), nil
	case strings.HasPrefix(s, "!!"):
		n, err := strconv.Atoi(s[2:])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad generic parameter %q", ErrUnresolvedType, s)
		}
		return GenericParam(n), nil
	case strings.HasPrefix(s, "["):
		end := strings.IndexByte(s, ']')
		if end < 0 || end == len(s)-1 {
			return nil, fmt.Errorf("%w: bad scoped name %q", ErrUnresolvedType, s)
		}
		return NamedType(s[1:end], s[end+1:]), nil
	}
	return NamedType("", s), nil
}
