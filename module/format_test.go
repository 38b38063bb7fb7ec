package module

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	m := newTestModule(t)

	data, err := Write(m)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.HasPrefix(data, Magic[:]) {
		t.Fatalf("image does not start with magic: %q", data[:4])
	}

	got, err := Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Name != "Game" {
		t.Errorf("Name = %q, want Game", got.Name)
	}
	if got.MVID != m.MVID {
		t.Errorf("MVID = %s, want %s", got.MVID, m.MVID)
	}

	want := Disassemble(m)
	if have := Disassemble(got); have != want {
		t.Errorf("round trip changed the module\n--- want\n%s\n--- have\n%s", want, have)
	}

	// Branch targets come back as instruction pointers inside the same body.
	awake := got.Type("Game.Player").Method("Awake")
	br := awake.Body[2]
	if br.Op != OpBrTrue {
		t.Fatalf("Body[2] = %s, want brtrue", br.Op)
	}
	if br.Operand.(*Instruction) != awake.Body[len(awake.Body)-1] {
		t.Error("brtrue should target the final ret")
	}

	// Rewriting the decoded module is byte-identical.
	again, err := Write(got)
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Error("second Write produced different bytes")
	}
}

func TestRoundTripAfterHeadInsertion(t *testing.T) {
	m := newTestModule(t)
	awake := m.Type("Game.Player").Method("Awake")
	awake.SpliceHead([]*Instruction{NewInstruction(OpNop, nil), NewInstruction(OpNop, nil)})

	data, err := Write(m)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	body := got.Type("Game.Player").Method("Awake").Body
	br := body[4]
	if br.Op != OpBrTrue || br.Operand.(*Instruction) != body[len(body)-1] {
		t.Errorf("branch was not relocated: %s", br)
	}
}

func TestReadErrors(t *testing.T) {
	data, err := Write(newTestModule(t))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	badMagic := append([]byte("NOPE"), data[4:]...)
	if _, err := Read(badMagic); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("bad magic: err = %v, want ErrInvalidMagic", err)
	}

	badVersion := append([]byte(nil), data...)
	badVersion[5] = 0x7F
	if _, err := Read(badVersion); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("bad version: err = %v, want ErrVersionMismatch", err)
	}

	if _, err := Read(data[:10]); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("short header: err = %v, want ErrUnexpectedEOF", err)
	}

	for _, n := range []int{HeaderSize + 3, len(data) / 2, len(data) - 1} {
		if _, err := Read(data[:n]); err == nil {
			t.Errorf("truncated at %d: expected an error", n)
		}
	}

	trailing := append(append([]byte(nil), data...), 0)
	if _, err := Read(trailing); !errors.Is(err, ErrCorruptData) {
		t.Errorf("trailing byte: err = %v, want ErrCorruptData", err)
	}
}

func TestWriteRejectsInvalidModule(t *testing.T) {
	m := newTestModule(t)
	awake := m.Type("Game.Player").Method("Awake")
	awake.Body = awake.Body[:len(awake.Body)-1] // drop the ret

	_, err := Write(m)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if !strings.Contains(verr.Error(), "terminator") {
		t.Errorf("error should mention the missing terminator: %v", verr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, m *Module)
		want   string
	}{
		{
			name: "stack underflow",
			mutate: func(t *testing.T, m *Module) {
				p := m.Type("Game.Player")
				md := p.AddMethod(&MethodDecl{Name: "Broken"})
				md.Emit(OpLdArg0, nil)
				md.Emit(OpStFld, p.Field("foo"))
				md.Emit(OpRet, nil)
			},
			want: "needs 2 stack values",
		},
		{
			name: "ret with value in void method",
			mutate: func(t *testing.T, m *Module) {
				md := m.Type("Game.Player").AddMethod(&MethodDecl{Name: "Broken"})
				md.Emit(OpLdcI4, int32(1))
				md.Emit(OpRet, nil)
			},
			want: "ret with stack depth 1",
		},
		{
			name: "method reference not imported",
			mutate: func(t *testing.T, m *Module) {
				md := m.Type("Game.Player").AddMethod(&MethodDecl{Name: "Broken"})
				md.Emit(OpCall, &MethodRef{DeclaringType: NamedType("X", "X.Y"), Name: "Z"})
				md.Emit(OpRet, nil)
			},
			want: "is not imported",
		},
		{
			name: "generic method without instantiation",
			mutate: func(t *testing.T, m *Module) {
				ref := m.Refs.ImportMethod(&MethodRef{
					DeclaringType: NamedType("X", "X.Y"),
					Name:          "Make",
					GenericParams: 1,
					Return:        GenericParam(0),
				})
				md := m.Type("Game.Player").AddMethod(&MethodDecl{Name: "Broken"})
				md.Emit(OpCall, ref)
				md.Emit(OpPop, nil)
				md.Emit(OpRet, nil)
			},
			want: "without instantiation",
		},
		{
			name: "receiver in static method",
			mutate: func(t *testing.T, m *Module) {
				md := m.Type("Game.Player").AddMethod(&MethodDecl{Name: "Broken", Attrs: MethodStatic})
				md.Emit(OpLdArg0, nil)
				md.Emit(OpPop, nil)
				md.Emit(OpRet, nil)
			},
			want: "has no receiver",
		},
		{
			name: "operand of the wrong kind",
			mutate: func(t *testing.T, m *Module) {
				md := m.Type("Game.Player").AddMethod(&MethodDecl{Name: "Broken"})
				md.Emit(OpLdcI4, "seven")
				md.Emit(OpPop, nil)
				md.Emit(OpRet, nil)
			},
			want: "expects a int32 operand",
		},
		{
			name: "branch outside the body",
			mutate: func(t *testing.T, m *Module) {
				md := m.Type("Game.Player").AddMethod(&MethodDecl{Name: "Broken"})
				md.Emit(OpBr, NewInstruction(OpRet, nil))
				md.Emit(OpRet, nil)
			},
			want: "outside the method body",
		},
		{
			name: "empty body",
			mutate: func(t *testing.T, m *Module) {
				m.Type("Game.Player").AddMethod(&MethodDecl{Name: "Broken"})
			},
			want: "empty body",
		},
		{
			name: "field type not imported",
			mutate: func(t *testing.T, m *Module) {
				m.Type("Game.Player").AddField(&FieldDecl{Name: "x", Type: NamedType("X", "X.Y")})
			},
			want: "is not imported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModule(t)
			if err := Validate(m); err != nil {
				t.Fatalf("baseline module invalid: %v", err)
			}
			tt.mutate(t, m)
			err := Validate(m)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDisassemble(t *testing.T) {
	out := Disassemble(newTestModule(t))
	for _, want := range []string{
		"; module Game",
		".type Game.Player : [Engine.Core]Engine.MonoBehaviour",
		".field foo : Game.Foo @get-self-component",
		".method Awake() : void [private hidebysig initlocals]",
		"IL_0000: ldarg.0",
		"brtrue IL_",
		"call [Engine.Core]Engine.Component::GetComponent<Game.Foo>() : Game.Foo",
		"stfld Game.Player::foo",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing is missing %q\n%s", want, out)
		}
	}
}
