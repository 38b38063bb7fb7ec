package module

import "fmt"

// RefTable interns the type references, external method references and
// generic method instantiations a module uses. Instructions may only point at
// references that went through the table; the writer encodes them by their
// position in it.
type RefTable struct {
	types     []*TypeRef
	typeIndex map[string]int

	methods     []*MethodRef
	methodIndex map[string]int

	specs     []*GenericInstanceMethod
	specIndex map[string]int
}

// NewRefTable creates an empty reference table.
func NewRefTable() *RefTable {
	return &RefTable{
		typeIndex:   make(map[string]int),
		methodIndex: make(map[string]int),
		specIndex:   make(map[string]int),
	}
}

// ImportType interns t and returns the canonical reference. Element types
// are interned before the array that contains them.
func (r *RefTable) ImportType(t *TypeRef) *TypeRef {
	if t == nil {
		return nil
	}
	if idx, ok := r.typeIndex[t.key()]; ok {
		return r.types[idx]
	}
	canon := &TypeRef{Kind: t.Kind, Scope: t.Scope, Name: t.Name, Index: t.Index}
	if t.Kind == KindArray {
		canon.Elem = r.ImportType(t.Elem)
	}
	r.typeIndex[canon.key()] = len(r.types)
	r.types = append(r.types, canon)
	return canon
}

// ImportMethod interns m together with every type its signature mentions.
func (r *RefTable) ImportMethod(m *MethodRef) *MethodRef {
	if idx, ok := r.methodIndex[m.key()]; ok {
		return r.methods[idx]
	}
	canon := &MethodRef{
		DeclaringType: r.ImportType(m.DeclaringType),
		Name:          m.Name,
		Instance:      m.Instance,
		GenericParams: m.GenericParams,
		Return:        r.ImportType(m.Return),
	}
	for _, p := range m.Params {
		canon.Params = append(canon.Params, r.ImportType(p))
	}
	r.methodIndex[canon.key()] = len(r.methods)
	r.methods = append(r.methods, canon)
	return canon
}

// Instantiate binds a generic method to concrete arguments and interns the
// result. The argument count must match the method's generic arity and every
// argument must be closed.
func (r *RefTable) Instantiate(m *MethodRef, args ...*TypeRef) (*GenericInstanceMethod, error) {
	if !m.IsGeneric() {
		return nil, fmt.Errorf("%w: %s is not generic", ErrGenericArity, m.Name)
	}
	if len(args) != m.GenericParams {
		return nil, fmt.Errorf("%w: %s takes %d generic arguments, got %d",
			ErrGenericArity, m.Name, m.GenericParams, len(args))
	}
	spec := &GenericInstanceMethod{Method: r.ImportMethod(m)}
	for _, a := range args {
		if a == nil || a.IsOpen() {
			return nil, fmt.Errorf("%w: %s", ErrOpenType, a)
		}
		spec.Args = append(spec.Args, r.ImportType(a))
	}
	if idx, ok := r.specIndex[spec.key()]; ok {
		return r.specs[idx], nil
	}
	r.specIndex[spec.key()] = len(r.specs)
	r.specs = append(r.specs, spec)
	return spec, nil
}

// Types returns the interned type references in import order.
func (r *RefTable) Types() []*TypeRef { return r.types }

// Methods returns the interned method references in import order.
func (r *RefTable) Methods() []*MethodRef { return r.methods }

// Specs returns the interned generic instantiations in import order.
func (r *RefTable) Specs() []*GenericInstanceMethod { return r.specs }

// TypeIndex returns the position of t, which must be the canonical pointer.
func (r *RefTable) TypeIndex(t *TypeRef) (int, bool) {
	if t == nil {
		return 0, false
	}
	idx, ok := r.typeIndex[t.key()]
	if !ok || r.types[idx] != t {
		return 0, false
	}
	return idx, true
}

// MethodIndex returns the position of m, which must be the canonical pointer.
func (r *RefTable) MethodIndex(m *MethodRef) (int, bool) {
	idx, ok := r.methodIndex[m.key()]
	if !ok || r.methods[idx] != m {
		return 0, false
	}
	return idx, true
}

// SpecIndex returns the position of g, which must be the canonical pointer.
func (r *RefTable) SpecIndex(g *GenericInstanceMethod) (int, bool) {
	idx, ok := r.specIndex[g.key()]
	if !ok || r.specs[idx] != g {
		return 0, false
	}
	return idx, true
}
