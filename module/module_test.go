package module

import (
	"errors"
	"strings"
	"testing"
)

// newTestModule builds a small module:
//
//	type Game.Foo
//	type Game.Player : [Engine.Core]Engine.MonoBehaviour
//	  field health : [System]System.Int32
//	  field foo : Game.Foo @get-self-component
//	  method Awake()  -- if (health == 0) Log("dead")
//	  method Init()   -- foo = GetComponent<Game.Foo>()
func newTestModule(t *testing.T) *Module {
	t.Helper()
	m := New("Game")

	base := m.Refs.ImportType(NamedType("Engine.Core", "Engine.MonoBehaviour"))
	foo := m.AddType(&TypeDecl{Name: "Game.Foo"})
	player := m.AddType(&TypeDecl{Name: "Game.Player", Base: base})

	fooRef, err := m.Import(foo.Ref())
	if err != nil {
		t.Fatalf("Import(Game.Foo): %v", err)
	}
	health := player.AddField(&FieldDecl{
		Name:  "health",
		Type:  m.Refs.ImportType(NamedType("System", "System.Int32")),
		Attrs: FieldPrivate,
	})
	fooField := player.AddField(&FieldDecl{
		Name:       "foo",
		Type:       fooRef,
		Attrs:      FieldPrivate,
		Directives: []Directive{{Name: "get-self-component"}},
	})

	log := m.Refs.ImportMethod(&MethodRef{
		DeclaringType: NamedType("Engine.Core", "Engine.Debug"),
		Name:          "Log",
		Params:        []*TypeRef{NamedType("System", "System.String")},
	})
	awake := player.AddMethod(&MethodDecl{Name: "Awake", Attrs: MethodPrivate | MethodHideBySig, InitLocals: true})
	ret := NewInstruction(OpRet, nil)
	awake.Emit(OpLdArg0, nil)
	awake.Emit(OpLdFld, health)
	awake.Emit(OpBrTrue, ret)
	awake.Emit(OpLdStr, "dead")
	awake.Emit(OpCall, log)
	awake.Body = append(awake.Body, ret)

	getComponent := &MethodRef{
		DeclaringType: NamedType("Engine.Core", "Engine.Component"),
		Name:          "GetComponent",
		Instance:      true,
		GenericParams: 1,
		Return:        GenericParam(0),
	}
	spec, err := m.Refs.Instantiate(getComponent, fooRef)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	initMethod := player.AddMethod(&MethodDecl{Name: "Init", Attrs: MethodPublic})
	initMethod.Emit(OpLdArg0, nil)
	initMethod.Emit(OpLdArg0, nil)
	initMethod.Emit(OpCall, spec)
	initMethod.Emit(OpStFld, fooField)
	initMethod.Emit(OpRet, nil)

	return m
}

func TestOpcodeTableComplete(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" {
			t.Errorf("opcode 0x%02X has no name", byte(op))
			continue
		}
		got, ok := LookupOpcode(info.Name)
		if !ok || got != op {
			t.Errorf("LookupOpcode(%q) = 0x%02X, %v; want 0x%02X", info.Name, byte(got), ok, byte(op))
		}
	}
	if Opcode(0xEE).Valid() {
		t.Error("0xEE should not be a valid opcode")
	}
}

func TestRefTableInterning(t *testing.T) {
	r := NewRefTable()

	a := r.ImportType(NamedType("Engine.Core", "Engine.Object"))
	b := r.ImportType(NamedType("Engine.Core", "Engine.Object"))
	if a != b {
		t.Error("importing the same type twice returned different references")
	}

	arr := r.ImportType(ArrayOf(NamedType("", "Game.Bar")))
	elemIdx, ok := r.TypeIndex(arr.Elem)
	if !ok {
		t.Fatal("array element was not interned")
	}
	arrIdx, _ := r.TypeIndex(arr)
	if elemIdx >= arrIdx {
		t.Errorf("element index %d should precede array index %d", elemIdx, arrIdx)
	}

	if _, ok := r.TypeIndex(NamedType("Engine.Core", "Engine.Object")); ok {
		t.Error("TypeIndex should only accept canonical pointers")
	}
}

func TestInstantiate(t *testing.T) {
	r := NewRefTable()
	generic := &MethodRef{
		DeclaringType: NamedType("Engine.Core", "Engine.Component"),
		Name:          "GetComponents",
		Instance:      true,
		GenericParams: 1,
		Return:        ArrayOf(GenericParam(0)),
	}
	bar := NamedType("", "Game.Bar")

	spec1, err := r.Instantiate(generic, bar)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	spec2, err := r.Instantiate(generic, NamedType("", "Game.Bar"))
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if spec1 != spec2 {
		t.Error("identical instantiations should be interned")
	}
	if got := spec1.ReturnType().String(); got != "Game.Bar[]" {
		t.Errorf("ReturnType() = %s, want Game.Bar[]", got)
	}

	if _, err := r.Instantiate(generic); !errors.Is(err, ErrGenericArity) {
		t.Errorf("zero arguments: err = %v, want ErrGenericArity", err)
	}
	if _, err := r.Instantiate(generic, GenericParam(0)); !errors.Is(err, ErrOpenType) {
		t.Errorf("open argument: err = %v, want ErrOpenType", err)
	}
	plain := &MethodRef{DeclaringType: NamedType("X", "X.Y"), Name: "Z"}
	if _, err := r.Instantiate(plain, bar); !errors.Is(err, ErrGenericArity) {
		t.Errorf("non-generic: err = %v, want ErrGenericArity", err)
	}
}

func TestModuleImport(t *testing.T) {
	m := New("Game")
	m.AddType(&TypeDecl{Name: "Game.Foo"})

	tests := []struct {
		name string
		ref  *TypeRef
		want error
	}{
		{"local", NamedType("", "Game.Foo"), nil},
		{"external", NamedType("Engine.Core", "Engine.Object"), nil},
		{"local array", ArrayOf(NamedType("", "Game.Foo")), nil},
		{"nil", nil, ErrNilType},
		{"generic param", GenericParam(0), ErrOpenType},
		{"undeclared local", NamedType("", "Game.Missing"), ErrUnresolvedType},
		{"array of undeclared", ArrayOf(NamedType("", "Game.Missing")), ErrUnresolvedType},
		{"array without element", &TypeRef{Kind: KindArray}, ErrUnresolvedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Import(tt.ref)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Import: %v", err)
				}
				if _, ok := m.Refs.TypeIndex(got); !ok {
					t.Error("imported reference is not in the table")
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestInheritsFrom(t *testing.T) {
	m := New("Game")
	m.AddType(&TypeDecl{Name: "Game.Base", Base: NamedType("Engine.Core", "Engine.MonoBehaviour")})
	mid := m.AddType(&TypeDecl{Name: "Game.Mid", Base: NamedType("", "Game.Base")})
	plain := m.AddType(&TypeDecl{Name: "Game.Plain"})
	loopA := m.AddType(&TypeDecl{Name: "Game.A", Base: NamedType("", "Game.B")})
	m.AddType(&TypeDecl{Name: "Game.B", Base: NamedType("", "Game.A")})

	if !m.InheritsFrom(mid, "Engine.MonoBehaviour") {
		t.Error("Game.Mid should inherit Engine.MonoBehaviour through Game.Base")
	}
	if !m.InheritsFrom(mid, "Game.Base") {
		t.Error("Game.Mid should inherit Game.Base")
	}
	if m.InheritsFrom(plain, "Engine.MonoBehaviour") {
		t.Error("Game.Plain has no base")
	}
	if m.InheritsFrom(loopA, "Engine.MonoBehaviour") {
		t.Error("cyclic bases must terminate without a match")
	}
	if !m.InheritsFrom(mid, "[Engine.Core]Engine.MonoBehaviour") {
		t.Error("a scoped base name should match the external base")
	}
	if m.InheritsFrom(mid, "[Other]Engine.MonoBehaviour") {
		t.Error("a base in another scope must not match")
	}
	if m.InheritsFrom(mid, "[Engine.Core") {
		t.Error("a malformed base name must not match")
	}
}

func TestSpliceHead(t *testing.T) {
	md := &MethodDecl{Name: "Awake"}
	orig := md.Emit(OpNop, nil)
	ret := md.Emit(OpRet, nil)

	block := []*Instruction{NewInstruction(OpLdArg0, nil), NewInstruction(OpPop, nil)}
	md.SpliceHead(block)

	if len(md.Body) != 4 {
		t.Fatalf("body length = %d, want 4", len(md.Body))
	}
	if md.Body[0] != block[0] || md.Body[1] != block[1] {
		t.Error("block should be at the head")
	}
	if md.Body[2] != orig || md.Body[3] != ret {
		t.Error("original instructions should keep identity and order")
	}

	md.SpliceHead(nil)
	if len(md.Body) != 4 {
		t.Error("splicing an empty block should not change the body")
	}
}

func TestLayout(t *testing.T) {
	body := []*Instruction{
		NewInstruction(OpLdArg0, nil),
		NewInstruction(OpLdcI4, int32(7)),
		NewInstruction(OpPop, nil),
		NewInstruction(OpRet, nil),
	}
	size := Layout(body)
	wantOffsets := []int{0, 1, 6, 7}
	for i, ins := range body {
		if ins.Offset != wantOffsets[i] {
			t.Errorf("body[%d].Offset = %d, want %d", i, ins.Offset, wantOffsets[i])
		}
	}
	if size != 8 {
		t.Errorf("size = %d, want 8", size)
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Game.Foo", "Game.Foo"},
		{"[Engine.Core]Engine.Component", "[Engine.Core]Engine.Component"},
		{"Game.Foo[]", "Game.Foo[]"},
		{"[System]System.Int32[][]", "[System]System.Int32[][]"},
		{"!!0", "!!0"},
		{"!!1[]", "!!1[]"},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if err != nil {
			t.Errorf("ParseType(%q): %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if got, err := ParseType("void"); err != nil || got != nil {
		t.Errorf("ParseType(void) = %v, %v; want nil, nil", got, err)
	}
	for _, bad := range []string{"", "  ", "void[]", "!!x", "[Scope", "[Scope]"} {
		if _, err := ParseType(bad); !errors.Is(err, ErrUnresolvedType) {
			t.Errorf("ParseType(%q) error = %v, want ErrUnresolvedType", bad, err)
		}
	}
}

func TestDanglingFieldTypeStillValid(t *testing.T) {
	m := newTestModule(t)
	p := m.Type("Game.Player")
	p.AddField(&FieldDecl{
		Name: "ghost",
		Type: m.Refs.ImportType(NamedType("", "Game.Missing")),
	})
	if err := Validate(m); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// Instantiating over the missing type is what makes it invalid.
	if _, err := m.Import(NamedType("", "Game.Missing")); !errors.Is(err, ErrUnresolvedType) {
		t.Fatalf("Import(Game.Missing) error = %v, want ErrUnresolvedType", err)
	}
	getComponent := &MethodRef{
		DeclaringType: NamedType("Engine.Core", "Engine.Component"),
		Name:          "GetComponent",
		Instance:      true,
		GenericParams: 1,
		Return:        GenericParam(0),
	}
	spec, err := m.Refs.Instantiate(getComponent, NamedType("", "Game.Missing"))
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	md := p.AddMethod(&MethodDecl{Name: "Haunt"})
	md.Emit(OpLdArg0, nil)
	md.Emit(OpCall, spec)
	md.Emit(OpPop, nil)
	md.Emit(OpRet, nil)

	err = Validate(m)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Validate error = %v, want *ValidationError", err)
	}
	if !strings.Contains(ve.Error(), "Game.Missing is not declared") {
		t.Errorf("Validate error = %v, want mention of Game.Missing", ve)
	}
}
