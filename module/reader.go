package module

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Read decodes a module image produced by Write.
func Read(data []byte) (*Module, error) {
	r := &reader{data: data}
	return r.read()
}

type reader struct {
	data   []byte
	offset int

	strings []string
	types   []*TypeRef
	methods []*MethodRef
	specs   []*GenericInstanceMethod

	fields   []*FieldDecl  // FieldDef rows, 0-based
	defs     []*MethodDecl // MethodDef rows, 0-based
	rawCodes [][]byte      // encoded body per MethodDef row
}

// ---------------------------------------------------------------------------
// Primitive reads
// ---------------------------------------------------------------------------

func (r *reader) u8() (uint8, error) {
	if r.offset+1 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.offset+2 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

// str reads a string table index and returns the string.
func (r *reader) str() (string, error) {
	idx, err := r.u32()
	if err != nil {
		return "", err
	}
	if int(idx) >= len(r.strings) {
		return "", fmt.Errorf("%w: string index %d", ErrCorruptData, idx)
	}
	return r.strings[idx], nil
}

func (r *reader) typeAt(idx uint32) (*TypeRef, error) {
	if int(idx) >= len(r.types) {
		return nil, fmt.Errorf("%w: type index %d", ErrCorruptData, idx)
	}
	return r.types[idx], nil
}

// optType reads an index+1 encoded type reference.
func (r *reader) optType() (*TypeRef, error) {
	v, err := r.u32()
	if err != nil || v == 0 {
		return nil, err
	}
	return r.typeAt(v - 1)
}

func (r *reader) typeList() ([]*TypeRef, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	var ts []*TypeRef
	for i := 0; i < int(n); i++ {
		idx, err := r.u32()
		if err != nil {
			return nil, err
		}
		t, err := r.typeAt(idx)
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}
	return ts, nil
}

// ---------------------------------------------------------------------------
// Sections
// ---------------------------------------------------------------------------

func (r *reader) read() (*Module, error) {
	if len(r.data) < HeaderSize {
		return nil, fmt.Errorf("%w: module is %d bytes", ErrUnexpectedEOF, len(r.data))
	}
	if string(r.data[:4]) != string(Magic[:]) {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, r.data[:4])
	}
	r.offset = 4
	version, _ := r.u16()
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, FormatVersion, version)
	}
	if _, err := r.u16(); err != nil {
		return nil, err
	}
	mvid, err := uuid.FromBytes(r.data[r.offset : r.offset+16])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	r.offset += 16

	m := &Module{MVID: mvid, Refs: NewRefTable()}

	if err := r.readStrings(); err != nil {
		return nil, fmt.Errorf("failed to read string table: %w", err)
	}
	if m.Name, err = r.str(); err != nil {
		return nil, fmt.Errorf("failed to read module name: %w", err)
	}
	if err := r.readTypeRefs(m); err != nil {
		return nil, fmt.Errorf("failed to read type references: %w", err)
	}
	if err := r.readMemberRefs(m); err != nil {
		return nil, fmt.Errorf("failed to read member references: %w", err)
	}
	if err := r.readSpecs(m); err != nil {
		return nil, fmt.Errorf("failed to read method specs: %w", err)
	}
	if err := r.readTypeDefs(m); err != nil {
		return nil, fmt.Errorf("failed to read type definitions: %w", err)
	}
	if r.offset != len(r.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptData, len(r.data)-r.offset)
	}

	for i, md := range r.defs {
		body, err := r.decodeBody(r.rawCodes[i])
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", md, err)
		}
		md.Body = body
	}
	return m, nil
}

func (r *reader) readStrings() error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	r.strings = make([]string, 0, min(int(count), len(r.data)/4))
	for i := uint32(0); i < count; i++ {
		n, err := r.u32()
		if err != nil {
			return fmt.Errorf("string %d length: %w", i, err)
		}
		b, err := r.bytes(int(n))
		if err != nil {
			return fmt.Errorf("string %d: %w", i, err)
		}
		r.strings = append(r.strings, string(b))
	}
	return nil
}

func (r *reader) readTypeRefs(m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		kind, err := r.u8()
		if err != nil {
			return err
		}
		t := &TypeRef{Kind: TypeKind(kind)}
		if t.Scope, err = r.str(); err != nil {
			return err
		}
		if t.Name, err = r.str(); err != nil {
			return err
		}
		// Element types always precede their arrays.
		if t.Elem, err = r.optType(); err != nil {
			return fmt.Errorf("type %d element: %w", i, err)
		}
		gidx, err := r.u16()
		if err != nil {
			return err
		}
		t.Index = int(gidx)

		switch t.Kind {
		case KindArray:
			if t.Elem == nil {
				return fmt.Errorf("%w: array type %d without element", ErrCorruptData, i)
			}
		case KindNamed, KindGenericParam:
		default:
			return fmt.Errorf("%w: type %d has kind %d", ErrCorruptData, i, kind)
		}
		r.types = append(r.types, m.Refs.ImportType(t))
	}
	return nil
}

func (r *reader) readMemberRefs(m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		owner, err := r.u32()
		if err != nil {
			return err
		}
		mr := &MethodRef{}
		if mr.DeclaringType, err = r.typeAt(owner); err != nil {
			return err
		}
		if mr.Name, err = r.str(); err != nil {
			return err
		}
		this, err := r.u8()
		if err != nil {
			return err
		}
		mr.Instance = this != 0
		generic, err := r.u8()
		if err != nil {
			return err
		}
		mr.GenericParams = int(generic)
		if mr.Return, err = r.optType(); err != nil {
			return err
		}
		if mr.Params, err = r.typeList(); err != nil {
			return err
		}
		r.methods = append(r.methods, m.Refs.ImportMethod(mr))
	}
	return nil
}

func (r *reader) readSpecs(m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		midx, err := r.u32()
		if err != nil {
			return err
		}
		if int(midx) >= len(r.methods) {
			return fmt.Errorf("%w: spec %d references method %d", ErrCorruptData, i, midx)
		}
		argc, err := r.u8()
		if err != nil {
			return err
		}
		args := make([]*TypeRef, 0, argc)
		for j := 0; j < int(argc); j++ {
			aidx, err := r.u32()
			if err != nil {
				return err
			}
			a, err := r.typeAt(aidx)
			if err != nil {
				return err
			}
			args = append(args, a)
		}
		spec, err := m.Refs.Instantiate(r.methods[midx], args...)
		if err != nil {
			return fmt.Errorf("%w: spec %d: %v", ErrCorruptData, i, err)
		}
		r.specs = append(r.specs, spec)
	}
	return nil
}

func (r *reader) readDirectives() ([]Directive, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	var ds []Directive
	for i := 0; i < int(n); i++ {
		var d Directive
		if d.Name, err = r.str(); err != nil {
			return nil, err
		}
		argc, err := r.u16()
		if err != nil {
			return nil, err
		}
		for j := 0; j < int(argc); j++ {
			a, err := r.str()
			if err != nil {
				return nil, err
			}
			d.Args = append(d.Args, a)
		}
		ds = append(ds, d)
	}
	return ds, nil
}

func (r *reader) readTypeDefs(m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		t := &TypeDecl{}
		if t.Name, err = r.str(); err != nil {
			return err
		}
		if t.Base, err = r.optType(); err != nil {
			return err
		}
		m.AddType(t)

		nfields, err := r.u32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < nfields; j++ {
			f, err := r.readField()
			if err != nil {
				return fmt.Errorf("type %s field %d: %w", t.Name, j, err)
			}
			t.AddField(f)
			r.fields = append(r.fields, f)
		}

		nmethods, err := r.u32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < nmethods; j++ {
			md, code, err := r.readMethod()
			if err != nil {
				return fmt.Errorf("type %s method %d: %w", t.Name, j, err)
			}
			t.AddMethod(md)
			r.defs = append(r.defs, md)
			r.rawCodes = append(r.rawCodes, code)
		}
	}
	return nil
}

func (r *reader) readField() (*FieldDecl, error) {
	f := &FieldDecl{}
	var err error
	if f.Name, err = r.str(); err != nil {
		return nil, err
	}
	idx, err := r.u32()
	if err != nil {
		return nil, err
	}
	if f.Type, err = r.typeAt(idx); err != nil {
		return nil, err
	}
	attrs, err := r.u16()
	if err != nil {
		return nil, err
	}
	f.Attrs = FieldAttributes(attrs)
	if f.Directives, err = r.readDirectives(); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *reader) readMethod() (*MethodDecl, []byte, error) {
	md := &MethodDecl{}
	var err error
	if md.Name, err = r.str(); err != nil {
		return nil, nil, err
	}
	attrs, err := r.u16()
	if err != nil {
		return nil, nil, err
	}
	md.Attrs = MethodAttributes(attrs)
	initLocals, err := r.u8()
	if err != nil {
		return nil, nil, err
	}
	md.InitLocals = initLocals != 0
	generic, err := r.u8()
	if err != nil {
		return nil, nil, err
	}
	md.GenericParams = int(generic)
	if md.Return, err = r.optType(); err != nil {
		return nil, nil, err
	}
	if md.Params, err = r.typeList(); err != nil {
		return nil, nil, err
	}
	if md.Directives, err = r.readDirectives(); err != nil {
		return nil, nil, err
	}
	size, err := r.u32()
	if err != nil {
		return nil, nil, err
	}
	code, err := r.bytes(int(size))
	if err != nil {
		return nil, nil, err
	}
	return md, code, nil
}

// ---------------------------------------------------------------------------
// Bodies
// ---------------------------------------------------------------------------

// decodeBody decodes code into instructions. Branch targets are resolved in
// a second pass once every instruction offset is known.
func (r *reader) decodeBody(code []byte) ([]*Instruction, error) {
	var body []*Instruction
	byOffset := make(map[int]*Instruction)
	targets := make(map[*Instruction]int)

	for pos := 0; pos < len(code); {
		op := Opcode(code[pos])
		if !op.Valid() {
			return nil, fmt.Errorf("%w 0x%02X at IL_%04x", ErrInvalidOpcode, byte(op), pos)
		}
		if pos+op.InstructionLen() > len(code) {
			return nil, fmt.Errorf("%w: truncated %s at IL_%04x", ErrUnexpectedEOF, op, pos)
		}
		ins := &Instruction{Op: op, Offset: pos}
		var raw uint32
		if op.OperandKind() != OperandNone {
			raw = binary.BigEndian.Uint32(code[pos+1:])
		}
		next := pos + op.InstructionLen()

		switch op.OperandKind() {
		case OperandInt32:
			ins.Operand = int32(raw)
		case OperandBranch:
			targets[ins] = next + int(int32(raw))
		default:
			if op.OperandKind() != OperandNone {
				operand, err := r.resolveToken(op.OperandKind(), raw)
				if err != nil {
					return nil, fmt.Errorf("IL_%04x %s: %w", pos, op, err)
				}
				ins.Operand = operand
			}
		}

		body = append(body, ins)
		byOffset[pos] = ins
		pos = next
	}

	for ins, off := range targets {
		target, ok := byOffset[off]
		if !ok {
			return nil, fmt.Errorf("%w: IL_%04x -> IL_%04x", ErrBadBranch, ins.Offset, off)
		}
		ins.Operand = target
	}
	return body, nil
}

func (r *reader) resolveToken(kind OperandKind, tok uint32) (any, error) {
	table, row := SplitToken(tok)
	bad := func() (any, error) {
		return nil, fmt.Errorf("%w 0x%08X for %s operand", ErrInvalidToken, tok, kind)
	}
	if row == 0 {
		return bad()
	}
	switch {
	case kind == OperandString && table == TableString && row <= len(r.strings):
		return r.strings[row-1], nil
	case kind == OperandField && table == TableFieldDef && row <= len(r.fields):
		return r.fields[row-1], nil
	case kind == OperandType && table == TableTypeRef && row <= len(r.types):
		return r.types[row-1], nil
	case kind == OperandMethod && table == TableMethodDef && row <= len(r.defs):
		return r.defs[row-1], nil
	case kind == OperandMethod && table == TableMemberRef && row <= len(r.methods):
		return r.methods[row-1], nil
	case kind == OperandMethod && table == TableMethodSpec && row <= len(r.specs):
		return r.specs[row-1], nil
	}
	return bad()
}
