package module

import (
	"encoding/binary"
	"fmt"
)

// Write validates m and encodes it as a module image.
//
// Format (big-endian):
//
//	[magic:4] [version:2] [flags:2] [mvid:16]
//	[string_count:4] ([len:4] [utf8:...])*
//	[module_name:str]
//	[type_count:4] ([kind:1] [scope:str] [name:str] [elem:4] [gidx:2])*
//	[memberref_count:4] ([owner:4] [name:str] [this:1] [generic:1] [ret:4] [argc:2] [param:4]*)*
//	[spec_count:4] ([method:4] [argc:1] [arg:4]*)*
//	[typedef_count:4] ([name:str] [base:4] fields methods)*
//
// "str" is an index into the string table; type references stored as
// "index+1" use zero for "none".
func Write(m *Module) ([]byte, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	w := newWriter(m)
	w.collect()
	if err := w.encode(); err != nil {
		return nil, err
	}
	return w.buf, nil
}

type writer struct {
	mod *Module
	buf []byte

	strings     []string
	stringIndex map[string]uint32

	fieldRows  map[*FieldDecl]int
	methodRows map[*MethodDecl]int
}

func newWriter(m *Module) *writer {
	return &writer{
		mod:         m,
		buf:         make([]byte, 0, 4096),
		stringIndex: make(map[string]uint32),
		fieldRows:   make(map[*FieldDecl]int),
		methodRows:  make(map[*MethodDecl]int),
	}
}

// ---------------------------------------------------------------------------
// Pre-registration phase: collect strings and assign rows
// ---------------------------------------------------------------------------

func (w *writer) collect() {
	w.registerString(w.mod.Name)
	for _, t := range w.mod.Refs.Types() {
		w.registerString(t.Scope)
		w.registerString(t.Name)
	}
	for _, mr := range w.mod.Refs.Methods() {
		w.registerString(mr.Name)
	}

	fieldRow, methodRow := 1, 1
	for _, t := range w.mod.Types {
		w.registerString(t.Name)
		for _, f := range t.Fields {
			w.fieldRows[f] = fieldRow
			fieldRow++
			w.registerString(f.Name)
			w.registerDirectives(f.Directives)
		}
		for _, md := range t.Methods {
			w.methodRows[md] = methodRow
			methodRow++
			w.registerString(md.Name)
			w.registerDirectives(md.Directives)
			for _, ins := range md.Body {
				if s, ok := ins.Operand.(string); ok {
					w.registerString(s)
				}
			}
		}
	}
}

func (w *writer) registerDirectives(ds []Directive) {
	for _, d := range ds {
		w.registerString(d.Name)
		for _, a := range d.Args {
			w.registerString(a)
		}
	}
}

func (w *writer) registerString(s string) uint32 {
	if idx, ok := w.stringIndex[s]; ok {
		return idx
	}
	idx := uint32(len(w.strings))
	w.stringIndex[s] = idx
	w.strings = append(w.strings, s)
	return idx
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) str(s string) { w.u32(w.stringIndex[s]) }

func (w *writer) typeIndex(t *TypeRef) (uint32, error) {
	idx, ok := w.mod.Refs.TypeIndex(t)
	if !ok {
		return 0, fmt.Errorf("type %s is not in the reference table", t)
	}
	return uint32(idx), nil
}

// optType encodes an optional type reference as index+1.
func (w *writer) optType(t *TypeRef) error {
	if t == nil {
		w.u32(0)
		return nil
	}
	idx, err := w.typeIndex(t)
	if err != nil {
		return err
	}
	w.u32(idx + 1)
	return nil
}

func (w *writer) typeList(ts []*TypeRef) error {
	w.u16(uint16(len(ts)))
	for _, t := range ts {
		idx, err := w.typeIndex(t)
		if err != nil {
			return err
		}
		w.u32(idx)
	}
	return nil
}

func (w *writer) encode() error {
	// Header
	w.buf = append(w.buf, Magic[:]...)
	w.u16(FormatVersion)
	w.u16(FlagNone)
	w.buf = append(w.buf, w.mod.MVID[:]...)

	// String table
	w.u32(uint32(len(w.strings)))
	for _, s := range w.strings {
		w.u32(uint32(len(s)))
		w.buf = append(w.buf, s...)
	}

	w.str(w.mod.Name)

	// Type references
	types := w.mod.Refs.Types()
	w.u32(uint32(len(types)))
	for _, t := range types {
		w.u8(uint8(t.Kind))
		w.str(t.Scope)
		w.str(t.Name)
		if err := w.optType(t.Elem); err != nil {
			return err
		}
		w.u16(uint16(t.Index))
	}

	// Member references
	methods := w.mod.Refs.Methods()
	w.u32(uint32(len(methods)))
	for _, mr := range methods {
		owner, err := w.typeIndex(mr.DeclaringType)
		if err != nil {
			return err
		}
		w.u32(owner)
		w.str(mr.Name)
		w.u8(boolByte(mr.Instance))
		w.u8(uint8(mr.GenericParams))
		if err := w.optType(mr.Return); err != nil {
			return err
		}
		if err := w.typeList(mr.Params); err != nil {
			return err
		}
	}

	// Method specs
	specs := w.mod.Refs.Specs()
	w.u32(uint32(len(specs)))
	for _, s := range specs {
		idx, ok := w.mod.Refs.MethodIndex(s.Method)
		if !ok {
			return fmt.Errorf("method %s is not in the reference table", s.Method)
		}
		w.u32(uint32(idx))
		w.u8(uint8(len(s.Args)))
		for _, a := range s.Args {
			ai, err := w.typeIndex(a)
			if err != nil {
				return err
			}
			w.u32(ai)
		}
	}

	// Type definitions
	w.u32(uint32(len(w.mod.Types)))
	for _, t := range w.mod.Types {
		if err := w.writeType(t); err != nil {
			return fmt.Errorf("type %s: %w", t.Name, err)
		}
	}
	return nil
}

func (w *writer) writeDirectives(ds []Directive) {
	w.u16(uint16(len(ds)))
	for _, d := range ds {
		w.str(d.Name)
		w.u16(uint16(len(d.Args)))
		for _, a := range d.Args {
			w.str(a)
		}
	}
}

func (w *writer) writeType(t *TypeDecl) error {
	w.str(t.Name)
	if err := w.optType(t.Base); err != nil {
		return err
	}

	w.u32(uint32(len(t.Fields)))
	for _, f := range t.Fields {
		w.str(f.Name)
		idx, err := w.typeIndex(f.Type)
		if err != nil {
			return err
		}
		w.u32(idx)
		w.u16(uint16(f.Attrs))
		w.writeDirectives(f.Directives)
	}

	w.u32(uint32(len(t.Methods)))
	for _, md := range t.Methods {
		if err := w.writeMethod(md); err != nil {
			return fmt.Errorf("method %s: %w", md.Name, err)
		}
	}
	return nil
}

func (w *writer) writeMethod(md *MethodDecl) error {
	w.str(md.Name)
	w.u16(uint16(md.Attrs))
	w.u8(boolByte(md.InitLocals))
	w.u8(uint8(md.GenericParams))
	if err := w.optType(md.Return); err != nil {
		return err
	}
	if err := w.typeList(md.Params); err != nil {
		return err
	}
	w.writeDirectives(md.Directives)

	size := Layout(md.Body)
	w.u32(uint32(size))
	start := len(w.buf)
	for _, ins := range md.Body {
		if err := w.writeInstruction(ins); err != nil {
			return fmt.Errorf("IL_%04x: %w", ins.Offset, err)
		}
	}
	if len(w.buf)-start != size {
		return fmt.Errorf("encoded body is %d bytes, layout says %d", len(w.buf)-start, size)
	}
	return nil
}

func (w *writer) writeInstruction(ins *Instruction) error {
	w.u8(byte(ins.Op))
	switch v := ins.Operand.(type) {
	case nil:
	case int32:
		w.u32(uint32(v))
	case string:
		w.u32(MakeToken(TableString, int(w.stringIndex[v])+1))
	case *Instruction:
		next := ins.Offset + ins.Op.InstructionLen()
		w.u32(uint32(int32(v.Offset - next)))
	case *FieldDecl:
		row, ok := w.fieldRows[v]
		if !ok {
			return fmt.Errorf("field %s is not declared", v.FullName())
		}
		w.u32(MakeToken(TableFieldDef, row))
	case *MethodDecl:
		row, ok := w.methodRows[v]
		if !ok {
			return fmt.Errorf("method %s is not declared", v)
		}
		w.u32(MakeToken(TableMethodDef, row))
	case *MethodRef:
		idx, ok := w.mod.Refs.MethodIndex(v)
		if !ok {
			return fmt.Errorf("method %s is not in the reference table", v)
		}
		w.u32(MakeToken(TableMemberRef, idx+1))
	case *GenericInstanceMethod:
		idx, ok := w.mod.Refs.SpecIndex(v)
		if !ok {
			return fmt.Errorf("instantiation %s is not in the reference table", v)
		}
		w.u32(MakeToken(TableMethodSpec, idx+1))
	case *TypeRef:
		idx, err := w.typeIndex(v)
		if err != nil {
			return err
		}
		w.u32(MakeToken(TableTypeRef, int(idx)+1))
	default:
		return fmt.Errorf("unsupported operand %T", v)
	}
	return nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
