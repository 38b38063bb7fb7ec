// Package module is the in-memory model of a compiled loom module: declared
// types with their fields and methods, instruction bodies, and the reference
// table through which a module points at types and methods it does not
// declare itself.
//
// A Module is read once from a binary image (see Read), mutated in place and
// written once (see Write). Instructions refer to each other, to fields and
// to methods by pointer; offsets and metadata tokens only exist in the
// encoded form and are recomputed on every write, so inserting instructions
// never invalidates branches or sequence points.
package module

import (
	"fmt"

	"github.com/google/uuid"
)

// TypeKind distinguishes the shapes a TypeRef can take.
type TypeKind uint8

const (
	// KindNamed is a plain named type, declared locally or in another module.
	KindNamed TypeKind = iota
	// KindArray is a single-dimension array (collection-of-T).
	KindArray
	// KindGenericParam is a method generic parameter (!!n).
	KindGenericParam
)

// TypeRef names a type. Module-local types have an empty Scope; types that
// live in another module carry that module's name as Scope.
type TypeRef struct {
	Kind  TypeKind
	Scope string
	Name  string
	Elem  *TypeRef // element type when Kind == KindArray
	Index int      // parameter position when Kind == KindGenericParam
}

// NamedType returns a reference to a named type.
func NamedType(scope, name string) *TypeRef {
	return &TypeRef{Kind: KindNamed, Scope: scope, Name: name}
}

// ArrayOf returns a reference to an array of elem.
func ArrayOf(elem *TypeRef) *TypeRef {
	return &TypeRef{Kind: KindArray, Elem: elem}
}

// GenericParam returns a reference to the index-th method generic parameter.
func GenericParam(index int) *TypeRef {
	return &TypeRef{Kind: KindGenericParam, Index: index}
}

// IsArray reports whether t is a collection-of-T.
func (t *TypeRef) IsArray() bool {
	return t != nil && t.Kind == KindArray
}

// ElementType returns the element type of an array, or nil.
func (t *TypeRef) ElementType() *TypeRef {
	if !t.IsArray() {
		return nil
	}
	return t.Elem
}

// IsLocal reports whether t names a type declared in the current module.
func (t *TypeRef) IsLocal() bool {
	return t != nil && t.Kind == KindNamed && t.Scope == ""
}

// IsOpen reports whether t mentions a generic parameter.
func (t *TypeRef) IsOpen() bool {
	switch {
	case t == nil:
		return false
	case t.Kind == KindGenericParam:
		return true
	case t.Kind == KindArray:
		return t.Elem.IsOpen()
	}
	return false
}

// Equal reports structural equality.
func (t *TypeRef) Equal(o *TypeRef) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.key() == o.key()
}

func (t *TypeRef) key() string {
	if t == nil {
		return "void"
	}
	switch t.Kind {
	case KindArray:
		return "A(" + t.Elem.key() + ")"
	case KindGenericParam:
		return fmt.Sprintf("G(%d)", t.Index)
	default:
		return "N(" + t.Scope + "|" + t.Name + ")"
	}
}

// String renders t the way the assembler reads it.
func (t *TypeRef) String() string {
	if t == nil {
		return "void"
	}
	switch t.Kind {
	case KindArray:
		return t.Elem.String() + "[]"
	case KindGenericParam:
		return fmt.Sprintf("!!%d", t.Index)
	default:
		if t.Scope != "" {
			return "[" + t.Scope + "]" + t.Name
		}
		return t.Name
	}
}

// substitute replaces generic parameters with args.
func (t *TypeRef) substitute(args []*TypeRef) *TypeRef {
	switch {
	case t == nil:
		return nil
	case t.Kind == KindGenericParam && t.Index < len(args):
		return args[t.Index]
	case t.Kind == KindArray:
		return ArrayOf(t.Elem.substitute(args))
	}
	return t
}

// Directive is a named marker attached to a field or method.
type Directive struct {
	Name string
	Args []string
}

// FieldAttributes are the flags of a field declaration.
type FieldAttributes uint16

const (
	FieldPrivate FieldAttributes = 1 << 0
	FieldPublic  FieldAttributes = 1 << 1
	FieldStatic  FieldAttributes = 1 << 2
)

// MethodAttributes are the flags of a method declaration.
type MethodAttributes uint16

const (
	MethodPrivate   MethodAttributes = 1 << 0
	MethodPublic    MethodAttributes = 1 << 1
	MethodStatic    MethodAttributes = 1 << 2
	MethodHideBySig MethodAttributes = 1 << 3
	MethodVirtual   MethodAttributes = 1 << 4
	MethodAbstract  MethodAttributes = 1 << 5
)

// Module is a compiled module.
type Module struct {
	Name  string
	MVID  uuid.UUID
	Types []*TypeDecl
	Refs  *RefTable
}

// New creates an empty module with a fresh MVID.
func New(name string) *Module {
	return &Module{
		Name: name,
		MVID: uuid.New(),
		Refs: NewRefTable(),
	}
}

// AddType declares t in the module.
func (m *Module) AddType(t *TypeDecl) *TypeDecl {
	t.Module = m
	m.Types = append(m.Types, t)
	return t
}

// Type returns the declared type with the given full name, or nil.
func (m *Module) Type(name string) *TypeDecl {
	for _, t := range m.Types {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// ResolveType returns the declaration a local type reference points at.
func (m *Module) ResolveType(ref *TypeRef) *TypeDecl {
	if !ref.IsLocal() {
		return nil
	}
	return m.Type(ref.Name)
}

// InheritsFrom reports whether t derives, directly or through module-local
// base types, from base. base is "Name" or "[Scope]Name"; a bare name
// matches any scope. External bases are matched by reference only; their
// own bases are not known to this module.
func (m *Module) InheritsFrom(t *TypeDecl, base string) bool {
	want, err := ParseType(base)
	if err != nil || want == nil || want.Kind != KindNamed {
		return false
	}
	seen := make(map[*TypeDecl]bool)
	for cur := t; cur != nil && !seen[cur]; {
		seen[cur] = true
		if cur.Base == nil {
			return false
		}
		if cur.Base.Name == want.Name && (want.Scope == "" || cur.Base.Scope == want.Scope) {
			return true
		}
		cur = m.ResolveType(cur.Base)
	}
	return false
}

// Import validates ref against the module and interns it in the reference
// table. It fails for references the module could never encode: nil types,
// open generic parameters, arrays without elements and local names with no
// declaration.
func (m *Module) Import(ref *TypeRef) (*TypeRef, error) {
	if err := m.checkResolvable(ref); err != nil {
		return nil, err
	}
	return m.Refs.ImportType(ref), nil
}

func (m *Module) checkResolvable(ref *TypeRef) error {
	switch {
	case ref == nil:
		return ErrNilType
	case ref.Kind == KindGenericParam:
		return fmt.Errorf("%w: %s", ErrOpenType, ref)
	case ref.Kind == KindArray:
		if ref.Elem == nil {
			return fmt.Errorf("%w: array without element type", ErrUnresolvedType)
		}
		return m.checkResolvable(ref.Elem)
	case ref.Name == "":
		return fmt.Errorf("%w: empty type name", ErrUnresolvedType)
	case ref.Scope == "" && m.Type(ref.Name) == nil:
		return fmt.Errorf("%w: %s", ErrUnresolvedType, ref.Name)
	}
	return nil
}

// TypeDecl is a type declared in the module.
type TypeDecl struct {
	Name    string // namespace-qualified, e.g. "Game.Player"
	Base    *TypeRef
	Fields  []*FieldDecl
	Methods []*MethodDecl
	Module  *Module
}

// AddField declares f on t.
func (t *TypeDecl) AddField(f *FieldDecl) *FieldDecl {
	f.DeclaringType = t
	t.Fields = append(t.Fields, f)
	return f
}

// AddMethod declares md on t.
func (t *TypeDecl) AddMethod(md *MethodDecl) *MethodDecl {
	md.DeclaringType = t
	t.Methods = append(t.Methods, md)
	return md
}

// Field returns the field with the given name, or nil.
func (t *TypeDecl) Field(name string) *FieldDecl {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Method returns the first method with the given name, or nil.
func (t *TypeDecl) Method(name string) *MethodDecl {
	for _, md := range t.Methods {
		if md.Name == name {
			return md
		}
	}
	return nil
}

// Ref returns a local reference to t.
func (t *TypeDecl) Ref() *TypeRef {
	return NamedType("", t.Name)
}

// FieldDecl is a field declared on a type.
type FieldDecl struct {
	Name          string
	Type          *TypeRef
	Attrs         FieldAttributes
	Directives    []Directive
	DeclaringType *TypeDecl
}

// IsStatic reports whether the field is static.
func (f *FieldDecl) IsStatic() bool {
	return f.Attrs&FieldStatic != 0
}

// FullName returns "Type::field".
func (f *FieldDecl) FullName() string {
	if f.DeclaringType == nil {
		return f.Name
	}
	return f.DeclaringType.Name + "::" + f.Name
}

// Method is anything a call instruction can target.
type Method interface {
	MethodName() string
	HasThis() bool
	ParamCount() int
	ReturnsValue() bool
	String() string
}

// MethodDecl is a method declared on a type.
type MethodDecl struct {
	Name          string
	Attrs         MethodAttributes
	Params        []*TypeRef
	Return        *TypeRef // nil means void
	GenericParams int
	InitLocals    bool
	Directives    []Directive
	Body          []*Instruction
	Debug         *DebugInfo
	DeclaringType *TypeDecl
}

func (md *MethodDecl) MethodName() string { return md.Name }
func (md *MethodDecl) HasThis() bool      { return md.Attrs&MethodStatic == 0 }
func (md *MethodDecl) ParamCount() int    { return len(md.Params) }
func (md *MethodDecl) ReturnsValue() bool { return md.Return != nil }

// String returns "Type::Method".
func (md *MethodDecl) String() string {
	if md.DeclaringType == nil {
		return md.Name
	}
	return md.DeclaringType.Name + "::" + md.Name
}

// HasDirective reports whether a directive with the given name is attached.
func (md *MethodDecl) HasDirective(name string) bool {
	for _, d := range md.Directives {
		if d.Name == name {
			return true
		}
	}
	return false
}

// Emit appends an instruction to the body and returns it.
func (md *MethodDecl) Emit(op Opcode, operand any) *Instruction {
	ins := NewInstruction(op, operand)
	md.Body = append(md.Body, ins)
	return ins
}

// SpliceHead places block in front of the existing body in one step. The
// original instructions keep their identity and relative order, so branch
// targets and sequence points still point at them.
func (md *MethodDecl) SpliceHead(block []*Instruction) {
	if len(block) == 0 {
		return
	}
	body := make([]*Instruction, 0, len(block)+len(md.Body))
	body = append(body, block...)
	body = append(body, md.Body...)
	md.Body = body
}

// MethodRef references a method declared outside the module.
type MethodRef struct {
	DeclaringType *TypeRef
	Name          string
	Instance      bool
	GenericParams int
	Params        []*TypeRef
	Return        *TypeRef // nil means void
}

func (r *MethodRef) MethodName() string { return r.Name }
func (r *MethodRef) HasThis() bool      { return r.Instance }
func (r *MethodRef) ParamCount() int    { return len(r.Params) }
func (r *MethodRef) ReturnsValue() bool { return r.Return != nil }

// IsGeneric reports whether the method declares generic parameters.
func (r *MethodRef) IsGeneric() bool { return r.GenericParams > 0 }

func (r *MethodRef) String() string {
	s := r.DeclaringType.String() + "::" + r.Name
	if r.GenericParams > 0 {
		s += fmt.Sprintf("<%d>", r.GenericParams)
	}
	return s + paramList(r.Params) + " : " + r.Return.String()
}

func (r *MethodRef) key() string {
	k := r.DeclaringType.key() + "::" + r.Name + fmt.Sprintf("<%d>(", r.GenericParams)
	for _, p := range r.Params {
		k += p.key() + ","
	}
	k += ")" + r.Return.key()
	if r.Instance {
		k += "@this"
	}
	return k
}

// GenericInstanceMethod is a generic MethodRef bound to concrete arguments.
type GenericInstanceMethod struct {
	Method *MethodRef
	Args   []*TypeRef
}

func (g *GenericInstanceMethod) MethodName() string { return g.Method.Name }
func (g *GenericInstanceMethod) HasThis() bool      { return g.Method.Instance }
func (g *GenericInstanceMethod) ParamCount() int    { return len(g.Method.Params) }
func (g *GenericInstanceMethod) ReturnsValue() bool { return g.Method.Return != nil }

// ReturnType returns the method's return type with generic arguments applied.
func (g *GenericInstanceMethod) ReturnType() *TypeRef {
	return g.Method.Return.substitute(g.Args)
}

func (g *GenericInstanceMethod) String() string {
	s := g.Method.DeclaringType.String() + "::" + g.Method.Name + "<"
	for i, a := range g.Args {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	return s + ">" + paramList(g.Method.Params) + " : " + g.ReturnType().String()
}

func (g *GenericInstanceMethod) key() string {
	k := g.Method.key() + "<"
	for _, a := range g.Args {
		k += a.key() + ","
	}
	return k + ">"
}

func paramList(params []*TypeRef) string {
	s := "("
	for i, p := range params {
		if i > 0 {
			s += ", "
		}
		s += p.String()
	}
	return s + ")"
}

// Instruction is a single opcode with its operand. Operand holds a Go value
// whose type matches Op.OperandKind(): nil, int32, string, *Instruction,
// *FieldDecl, Method or *TypeRef.
type Instruction struct {
	Op      Opcode
	Operand any

	// Offset is the byte offset within the encoded body. It is only valid
	// after Layout or after reading.
	Offset int
}

// NewInstruction creates an instruction.
func NewInstruction(op Opcode, operand any) *Instruction {
	return &Instruction{Op: op, Operand: operand}
}

// String renders the instruction without its offset.
func (i *Instruction) String() string {
	switch v := i.Operand.(type) {
	case nil:
		return i.Op.String()
	case int32:
		return fmt.Sprintf("%s %d", i.Op, v)
	case string:
		return fmt.Sprintf("%s %q", i.Op, v)
	case *Instruction:
		return fmt.Sprintf("%s IL_%04x", i.Op, v.Offset)
	case *FieldDecl:
		return fmt.Sprintf("%s %s", i.Op, v.FullName())
	case Method:
		return fmt.Sprintf("%s %s", i.Op, v.String())
	case *TypeRef:
		return fmt.Sprintf("%s %s", i.Op, v.String())
	default:
		return fmt.Sprintf("%s <%T>", i.Op, v)
	}
}

// Layout assigns byte offsets to body and returns the encoded code size.
func Layout(body []*Instruction) int {
	offset := 0
	for _, ins := range body {
		ins.Offset = offset
		offset += ins.Op.InstructionLen()
	}
	return offset
}

// SequencePoint maps an instruction to a source span.
type SequencePoint struct {
	Instruction *Instruction
	Document    string
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
	Hidden      bool
}

// DebugInfo carries the debug-symbol data of one method.
type DebugInfo struct {
	Points     []*SequencePoint
	LocalNames []string
}
