// Package rules defines the closed directive vocabulary, the injection rules
// that map each directive to a target method and a pair of generic
// templates, and the static registry those templates are resolved from.
package rules

import (
	"errors"
	"fmt"
	"strings"
)

// DirectiveKind is one of the directives the weaver understands.
type DirectiveKind int

const (
	// GetSelfComponent resolves a component attached to the same object.
	GetSelfComponent DirectiveKind = iota
	// FindAnyInstance resolves any loaded object of the field's type.
	FindAnyInstance
	// GetChildComponent resolves a component in descendant objects.
	GetChildComponent
)

// String returns the directive name as it appears on fields.
func (k DirectiveKind) String() string {
	switch k {
	case GetSelfComponent:
		return "get-self-component"
	case FindAnyInstance:
		return "find-any-instance"
	case GetChildComponent:
		return "get-child-component"
	default:
		return fmt.Sprintf("DirectiveKind(%d)", int(k))
	}
}

// Valid reports whether k is part of the vocabulary.
func (k DirectiveKind) Valid() bool {
	return k >= GetSelfComponent && k <= GetChildComponent
}

// Kinds returns every directive kind in declaration order.
func Kinds() []DirectiveKind {
	return []DirectiveKind{GetSelfComponent, FindAnyInstance, GetChildComponent}
}

// ParseDirectiveKind converts a directive name to its kind.
func ParseDirectiveKind(s string) (DirectiveKind, error) {
	for _, k := range Kinds() {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDirective, s)
}

var (
	ErrUnknownDirective = errors.New("unknown directive")
	ErrInvalidRule      = errors.New("invalid injection rule")
)

// Rule maps a directive to the method it populates fields from and the
// templates used to do so. Rules are evaluated in the order given; that
// order is also the order of the injected blocks in a shared target method.
type Rule struct {
	Directive          DirectiveKind
	Target             string // method the blocks are inserted into
	ScalarTemplate     string
	CollectionTemplate string
	Capability         string // full name of the type declaring the templates
	ReceiverArg        bool   // load the receiver as the call target

	// BaseType restricts the rule to types deriving from the named type.
	// Empty means every type is scanned.
	BaseType string
}

// Validate checks that every required field is set.
func (r Rule) Validate() error {
	var missing []string
	if !r.Directive.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRule, r.Directive)
	}
	if r.Target == "" {
		missing = append(missing, "target")
	}
	if r.ScalarTemplate == "" {
		missing = append(missing, "scalar template")
	}
	if r.CollectionTemplate == "" {
		missing = append(missing, "collection template")
	}
	if r.Capability == "" {
		missing = append(missing, "capability")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s: missing %s", ErrInvalidRule, r.Directive, strings.Join(missing, ", "))
	}
	return nil
}

// Matches reports whether a directive name selects this rule.
func (r Rule) Matches(name string) bool {
	return r.Directive.String() == name
}

// ValidateAll checks every rule and rejects duplicate directives, which
// would make all but the first unreachable.
func ValidateAll(rs []Rule) error {
	seen := make(map[DirectiveKind]int)
	for i, r := range rs {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		if j, ok := seen[r.Directive]; ok {
			return fmt.Errorf("%w: rule %d repeats directive %s of rule %d", ErrInvalidRule, i, r.Directive, j)
		}
		seen[r.Directive] = i
	}
	return nil
}

// Default returns the reference rule set: all three directives populate
// fields in Awake on types deriving from Engine.MonoBehaviour.
func Default() []Rule {
	return []Rule{
		{
			Directive:          GetSelfComponent,
			Target:             "Awake",
			ScalarTemplate:     "GetComponent",
			CollectionTemplate: "GetComponents",
			Capability:         "Engine.Component",
			ReceiverArg:        true,
			BaseType:           "Engine.MonoBehaviour",
		},
		{
			Directive:          FindAnyInstance,
			Target:             "Awake",
			ScalarTemplate:     "FindObjectOfType",
			CollectionTemplate: "FindObjectsOfType",
			Capability:         "Engine.Object",
			ReceiverArg:        false,
			BaseType:           "Engine.MonoBehaviour",
		},
		{
			Directive:          GetChildComponent,
			Target:             "Awake",
			ScalarTemplate:     "GetComponentInChildren",
			CollectionTemplate: "GetComponentsInChildren",
			Capability:         "Engine.Component",
			ReceiverArg:        true,
			BaseType:           "Engine.MonoBehaviour",
		},
	}
}
