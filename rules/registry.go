package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/loom/module"
)

var (
	ErrUnknownCapability = errors.New("unknown capability type")
	ErrDuplicate         = errors.New("already registered")
	ErrBadTemplate       = errors.New("invalid template")
)

// Capability is a type that declares template methods. Templates are
// generic method references; the registry never inspects real code.
type Capability struct {
	Type      *module.TypeRef
	Templates []*module.MethodRef
}

// Name returns the capability's full type name.
func (c *Capability) Name() string { return c.Type.Name }

// Scalar returns the generic template with the given name and no
// parameters. Overloads taking arguments are skipped.
func (c *Capability) Scalar(name string) (*module.MethodRef, bool) {
	for _, m := range c.Templates {
		if m.IsGeneric() && m.Name == name && len(m.Params) == 0 {
			return m, true
		}
	}
	return nil, false
}

// Collection returns the generic template with the given name and no
// parameters. Overloads taking arguments are skipped.
func (c *Capability) Collection(name string) (*module.MethodRef, bool) {
	for _, m := range c.Templates {
		if m.IsGeneric() && m.Name == name && len(m.Params) == 0 {
			return m, true
		}
	}
	return nil, false
}

// Registry maps capability type names to their templates. It is filled once
// at configuration time and read by every run afterwards.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]*Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*Capability)}
}

// Register adds a capability after checking its templates.
func (r *Registry) Register(c *Capability) error {
	if c == nil || c.Type == nil || c.Type.Name == "" {
		return fmt.Errorf("%w: capability without a type", ErrBadTemplate)
	}
	if c.Type.IsLocal() {
		return fmt.Errorf("%w: capability %s must name its scope", ErrBadTemplate, c.Type.Name)
	}
	for _, m := range c.Templates {
		if err := checkTemplate(c, m); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.Name()]; exists {
		return fmt.Errorf("capability %s: %w", c.Name(), ErrDuplicate)
	}
	r.caps[c.Name()] = c
	return nil
}

func checkTemplate(c *Capability, m *module.MethodRef) error {
	switch {
	case m == nil || m.Name == "":
		return fmt.Errorf("%w: unnamed template on %s", ErrBadTemplate, c.Name())
	case m.DeclaringType == nil || !m.DeclaringType.Equal(c.Type):
		return fmt.Errorf("%w: %s is not declared on %s", ErrBadTemplate, m.Name, c.Type)
	}
	for _, p := range m.Params {
		if p == nil {
			return fmt.Errorf("%w: %s has a void parameter", ErrBadTemplate, m.Name)
		}
	}
	return nil
}

// Capability returns the capability registered under name. A bare name
// matches on the type name alone; a "[Scope]Name" form must also match the
// scope the capability was registered with.
func (r *Registry) Capability(name string) (*Capability, bool) {
	want, err := module.ParseType(name)
	if err != nil || want == nil || want.Kind != module.KindNamed {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[want.Name]
	if !ok || (want.Scope != "" && c.Type.Scope != want.Scope) {
		return nil, false
	}
	return c, true
}

// Names returns the registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Binding is a rule together with the templates it resolved to.
type Binding struct {
	Rule       Rule
	Index      int // position in the caller's rule order
	Scalar     *module.MethodRef
	Collection *module.MethodRef
}

// ResolutionError reports why a rule's templates could not be bound.
type ResolutionError struct {
	Rule       Rule
	Capability string
	Missing    []string
	Reason     string
}

func (e *ResolutionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "directive %s: ", e.Rule.Directive)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&sb, "template %s not found on %s", strings.Join(e.Missing, ", "), e.Capability)
		if e.Reason != "" {
			sb.WriteString("; ")
		}
	}
	sb.WriteString(e.Reason)
	return sb.String()
}

// Resolve binds rule to its scalar and collection templates. All problems
// with one rule are reported in a single *ResolutionError.
func (r *Registry) Resolve(index int, rule Rule) (*Binding, error) {
	c, ok := r.Capability(rule.Capability)
	if !ok {
		return nil, &ResolutionError{
			Rule:       rule,
			Capability: rule.Capability,
			Missing:    []string{rule.ScalarTemplate, rule.CollectionTemplate},
			Reason:     fmt.Sprintf("%v %s", ErrUnknownCapability, rule.Capability),
		}
	}

	rerr := &ResolutionError{Rule: rule, Capability: c.Name()}
	scalar, ok := c.Scalar(rule.ScalarTemplate)
	if !ok {
		rerr.Missing = append(rerr.Missing, rule.ScalarTemplate+"()")
	}
	collection, ok := c.Collection(rule.CollectionTemplate)
	if !ok {
		rerr.Missing = append(rerr.Missing, rule.CollectionTemplate+"()")
	}

	var reasons []string
	for _, m := range []*module.MethodRef{scalar, collection} {
		if m == nil {
			continue
		}
		if m.GenericParams != 1 {
			reasons = append(reasons, fmt.Sprintf("%s has %d generic parameters, want 1", m.Name, m.GenericParams))
		}
		if m.HasThis() != rule.ReceiverArg {
			reasons = append(reasons, fmt.Sprintf("%s receiver mismatch: instance=%v, rule passes receiver=%v",
				m.Name, m.HasThis(), rule.ReceiverArg))
		}
	}
	if scalar != nil && scalar.Return == nil {
		reasons = append(reasons, fmt.Sprintf("%s returns void", scalar.Name))
	}
	if collection != nil && !collection.Return.IsArray() {
		reasons = append(reasons, fmt.Sprintf("%s does not return a collection", collection.Name))
	}
	rerr.Reason = strings.Join(reasons, "; ")

	if len(rerr.Missing) > 0 || rerr.Reason != "" {
		return nil, rerr
	}
	return &Binding{Rule: rule, Index: index, Scalar: scalar, Collection: collection}, nil
}

// ParseCapability builds a Capability from textual template signatures of
// the form "[static] Name<n>(T1, T2) : R", the same shape the disassembler
// prints.
func ParseCapability(typeName string, signatures []string) (*Capability, error) {
	t, err := module.ParseType(typeName)
	if err != nil {
		return nil, err
	}
	if t == nil || t.Kind != module.KindNamed {
		return nil, fmt.Errorf("%w: capability %q is not a named type", ErrBadTemplate, typeName)
	}
	c := &Capability{Type: t}
	for _, sig := range signatures {
		m, err := parseSignature(t, sig)
		if err != nil {
			return nil, fmt.Errorf("capability %s: %w", typeName, err)
		}
		c.Templates = append(c.Templates, m)
	}
	return c, nil
}

func parseSignature(owner *module.TypeRef, sig string) (*module.MethodRef, error) {
	bad := func(why string) error {
		return fmt.Errorf("%w: %q: %s", ErrBadTemplate, sig, why)
	}
	s := strings.TrimSpace(sig)
	m := &module.MethodRef{DeclaringType: owner, Instance: true}
	if rest, ok := strings.CutPrefix(s, "static "); ok {
		m.Instance = false
		s = strings.TrimSpace(rest)
	}

	open := strings.IndexByte(s, '(')
	closing := strings.LastIndexByte(s, ')')
	if open < 0 || closing < open {
		return nil, bad("missing parameter list")
	}
	head, params, tail := s[:open], s[open+1:closing], strings.TrimSpace(s[closing+1:])

	if lt := strings.IndexByte(head, '<'); lt >= 0 {
		if !strings.HasSuffix(head, ">") {
			return nil, bad("unterminated generic arity")
		}
		var n int
		if _, err := fmt.Sscanf(head[lt+1:len(head)-1], "%d", &n); err != nil || n < 0 {
			return nil, bad("bad generic arity")
		}
		m.GenericParams = n
		head = head[:lt]
	}
	m.Name = strings.TrimSpace(head)
	if m.Name == "" {
		return nil, bad("missing name")
	}

	if strings.TrimSpace(params) != "" {
		for _, p := range strings.Split(params, ",") {
			pt, err := module.ParseType(p)
			if err != nil {
				return nil, bad(err.Error())
			}
			m.Params = append(m.Params, pt)
		}
	}

	ret, ok := strings.CutPrefix(tail, ":")
	if !ok {
		return nil, bad("missing return type")
	}
	rt, err := module.ParseType(ret)
	if err != nil {
		return nil, bad(err.Error())
	}
	m.Return = rt
	return m, nil
}
