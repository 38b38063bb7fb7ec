// Package asm assembles text listings into modules. Listings are how test
// fixtures and hand-written inputs for the weaver are produced; the syntax
// follows what module.Disassemble prints, except that generic calls spell
// out the template signature.
package asm

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/google/uuid"

	"github.com/chazu/loom/module"
)

// ErrAssemble wraps every semantic error the assembler reports.
var ErrAssemble = errors.New("assembly error")

// Error is an assembly error at a position in the listing.
type Error struct {
	Pos lexer.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func (e *Error) Unwrap() error { return ErrAssemble }

// Assemble parses src and builds the module it describes. filename is used
// in error positions and, without its extension, as the module name when
// the listing has no .module entry.
func Assemble(filename string, src []byte) (*module.Module, error) {
	text := string(src)
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	lst, err := listingParser.ParseString(filename, text)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	a := &assembler{m: module.New(name)}
	if err := a.declare(lst.Entries); err != nil {
		return nil, err
	}
	if err := a.resolve(); err != nil {
		return nil, err
	}
	return a.m, nil
}

// MustAssemble is like Assemble but panics on error. It is meant for
// fixtures.
func MustAssemble(filename, src string) *module.Module {
	m, err := Assemble(filename, []byte(src))
	if err != nil {
		panic(err)
	}
	return m
}

type pending struct {
	ins    *module.Instruction
	entry  *instrEntry
	method *methodState
}

type methodState struct {
	md     *module.MethodDecl
	pos    lexer.Position
	labels map[string]*module.Instruction

	waitingLabels []string
	waitingPoint  *module.SequencePoint
	lastDocument  string
}

type assembler struct {
	m      *module.Module
	typ    *module.TypeDecl
	method *methodState
	code   []pending

	// bases are resolved once every type is declared.
	bases map[*module.TypeDecl]*entry
}

func errorf(pos lexer.Position, format string, args ...any) error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// declare walks the listing in order, creating types, fields, methods and
// instructions. Operands are resolved afterwards so that code may refer to
// members declared further down.
func (a *assembler) declare(entries []*entry) error {
	a.bases = make(map[*module.TypeDecl]*entry)
	for _, e := range entries {
		var err error
		switch {
		case e.Module != nil:
			a.m.Name = *e.Module
		case e.MVID != nil:
			id, perr := uuid.Parse(*e.MVID)
			if perr != nil {
				return errorf(e.Pos, "bad mvid: %v", perr)
			}
			a.m.MVID = id
		case e.Type != nil:
			err = a.declareType(e)
		case e.Field != nil:
			err = a.declareField(e)
		case e.Method != nil:
			err = a.declareMethod(e)
		case e.Locals != nil:
			err = a.declareLocals(e)
		case e.Line != nil, e.Hidden:
			err = a.declarePoint(e)
		case e.Label != nil:
			err = a.declareLabel(e)
		case e.Instr != nil:
			err = a.declareInstruction(e)
		}
		if err != nil {
			return err
		}
	}
	return a.finishMethod()
}

func (a *assembler) declareType(e *entry) error {
	if err := a.finishMethod(); err != nil {
		return err
	}
	if a.m.Type(e.Type.Name) != nil {
		return errorf(e.Pos, "type %s declared twice", e.Type.Name)
	}
	a.typ = a.m.AddType(&module.TypeDecl{Name: e.Type.Name})
	if e.Type.Base != nil {
		a.bases[a.typ] = e
	}
	return nil
}

func (a *assembler) declareField(e *entry) error {
	if a.typ == nil {
		return errorf(e.Pos, ".field outside a type")
	}
	if err := a.finishMethod(); err != nil {
		return err
	}
	if a.typ.Field(e.Field.Name) != nil {
		return errorf(e.Pos, "field %s declared twice on %s", e.Field.Name, a.typ.Name)
	}
	t, err := a.parseType(e.Pos, e.Field.Type)
	if err != nil {
		return err
	}
	if t == nil {
		return errorf(e.Pos, "field %s cannot be void", e.Field.Name)
	}
	f := &module.FieldDecl{
		Name:       e.Field.Name,
		Type:       a.m.Refs.ImportType(t),
		Attrs:      module.FieldPrivate,
		Directives: directives(e.Field.Directives),
	}
	if e.Field.Static {
		f.Attrs |= module.FieldStatic
	}
	a.typ.AddField(f)
	return nil
}

var methodFlags = map[string]module.MethodAttributes{
	"public":    module.MethodPublic,
	"private":   module.MethodPrivate,
	"hidebysig": module.MethodHideBySig,
	"virtual":   module.MethodVirtual,
	"abstract":  module.MethodAbstract,
}

func (a *assembler) declareMethod(e *entry) error {
	if a.typ == nil {
		return errorf(e.Pos, ".method outside a type")
	}
	if err := a.finishMethod(); err != nil {
		return err
	}
	me := e.Method
	if a.typ.Method(me.Name) != nil {
		return errorf(e.Pos, "method %s declared twice on %s", me.Name, a.typ.Name)
	}

	md := &module.MethodDecl{
		Name:          me.Name,
		GenericParams: me.Generic,
		Directives:    directives(me.Directives),
	}
	if me.Static {
		md.Attrs |= module.MethodStatic
	}
	for _, flag := range me.Flags {
		if flag == "initlocals" {
			md.InitLocals = true
			continue
		}
		attr, ok := methodFlags[flag]
		if !ok {
			return errorf(e.Pos, "unknown method flag %q", flag)
		}
		md.Attrs |= attr
	}
	for _, p := range me.Params {
		t, err := a.parseType(e.Pos, p)
		if err != nil {
			return err
		}
		md.Params = append(md.Params, a.m.Refs.ImportType(t))
	}
	ret, err := a.parseType(e.Pos, me.Return)
	if err != nil {
		return err
	}
	md.Return = a.m.Refs.ImportType(ret)

	a.typ.AddMethod(md)
	a.method = &methodState{md: md, pos: e.Pos, labels: make(map[string]*module.Instruction)}
	return nil
}

func (a *assembler) debugInfo() *module.DebugInfo {
	md := a.method.md
	if md.Debug == nil {
		md.Debug = &module.DebugInfo{}
	}
	return md.Debug
}

func (a *assembler) declareLocals(e *entry) error {
	if a.method == nil {
		return errorf(e.Pos, ".locals outside a method")
	}
	d := a.debugInfo()
	d.LocalNames = append(d.LocalNames, e.Locals...)
	return nil
}

func (a *assembler) declarePoint(e *entry) error {
	if a.method == nil {
		return errorf(e.Pos, "sequence point outside a method")
	}
	if a.method.waitingPoint != nil {
		return errorf(e.Pos, "two sequence points for one instruction")
	}
	sp := &module.SequencePoint{Hidden: e.Hidden, Document: a.method.lastDocument}
	if l := e.Line; l != nil {
		sp.Document = l.Document
		sp.StartLine, sp.StartColumn = l.Start.Line, l.Start.Column
		sp.EndLine, sp.EndColumn = l.Start.Line, l.Start.Column
		if l.End != nil {
			sp.EndLine, sp.EndColumn = l.End.Line, l.End.Column
		}
		a.method.lastDocument = l.Document
	}
	a.method.waitingPoint = sp
	return nil
}

func (a *assembler) declareLabel(e *entry) error {
	if a.method == nil {
		return errorf(e.Pos, "label %s outside a method", *e.Label)
	}
	if _, dup := a.method.labels[*e.Label]; dup {
		return errorf(e.Pos, "label %s defined twice", *e.Label)
	}
	for _, l := range a.method.waitingLabels {
		if l == *e.Label {
			return errorf(e.Pos, "label %s defined twice", *e.Label)
		}
	}
	a.method.waitingLabels = append(a.method.waitingLabels, *e.Label)
	return nil
}

func (a *assembler) declareInstruction(e *entry) error {
	if a.method == nil {
		return errorf(e.Pos, "instruction outside a method")
	}
	op, ok := module.LookupOpcode(e.Instr.Op)
	if !ok {
		return errorf(e.Pos, "unknown opcode %q", e.Instr.Op)
	}
	ins := a.method.md.Emit(op, nil)
	for _, l := range a.method.waitingLabels {
		a.method.labels[l] = ins
	}
	a.method.waitingLabels = nil
	if sp := a.method.waitingPoint; sp != nil {
		sp.Instruction = ins
		a.debugInfo().Points = append(a.debugInfo().Points, sp)
		a.method.waitingPoint = nil
	}
	a.code = append(a.code, pending{ins: ins, entry: e.Instr, method: a.method})
	return nil
}

// finishMethod checks that nothing is left dangling at the end of the
// current method.
func (a *assembler) finishMethod() error {
	ms := a.method
	if ms == nil {
		return nil
	}
	a.method = nil
	if len(ms.waitingLabels) > 0 {
		return errorf(ms.pos, "%s: label %s is not followed by an instruction", ms.md, ms.waitingLabels[0])
	}
	if ms.waitingPoint != nil {
		return errorf(ms.pos, "%s: sequence point is not followed by an instruction", ms.md)
	}
	return nil
}

// resolve binds base types and instruction operands once every
// declaration is known.
func (a *assembler) resolve() error {
	for _, t := range a.m.Types {
		e, ok := a.bases[t]
		if !ok {
			continue
		}
		base, err := a.parseType(e.Pos, e.Type.Base)
		if err != nil {
			return err
		}
		if base == nil || base.Kind != module.KindNamed {
			return errorf(e.Pos, "base of %s must be a named type", t.Name)
		}
		if t.Base, err = a.m.Import(base); err != nil {
			return errorf(e.Pos, "base of %s: %v", t.Name, err)
		}
	}
	for _, p := range a.code {
		operand, err := a.operand(p)
		if err != nil {
			return err
		}
		p.ins.Operand = operand
	}
	return nil
}

func (a *assembler) operand(p pending) (any, error) {
	pos, spec, op := p.entry.Pos, p.entry.Operand, p.ins.Op
	kind := op.OperandKind()

	if kind == module.OperandNone {
		if spec != nil {
			return nil, errorf(pos, "%s takes no operand", op)
		}
		return nil, nil
	}
	if spec == nil {
		return nil, errorf(pos, "%s expects a %s operand", op, kind)
	}

	switch kind {
	case module.OperandInt32:
		if spec.Int == nil {
			return nil, errorf(pos, "%s expects an integer", op)
		}
		return *spec.Int, nil
	case module.OperandString:
		if spec.Str == nil {
			return nil, errorf(pos, "%s expects a string", op)
		}
		return *spec.Str, nil
	}

	ref := spec.Ref
	if ref == nil {
		return nil, errorf(pos, "%s expects a %s operand", op, kind)
	}
	switch kind {
	case module.OperandBranch:
		if ref.Member != nil || ref.Static || len(ref.Type.Arrays) > 0 {
			return nil, errorf(pos, "%s expects a label", op)
		}
		target, ok := p.method.labels[ref.Type.Name]
		if !ok {
			return nil, errorf(pos, "undefined label %s in %s", ref.Type.Name, p.method.md)
		}
		return target, nil
	case module.OperandType:
		if ref.Member != nil {
			return nil, errorf(pos, "%s expects a type", op)
		}
		t, err := a.parseType(pos, ref.Type)
		if err != nil {
			return nil, err
		}
		if t, err = a.m.Import(t); err != nil {
			return nil, errorf(pos, "%v", err)
		}
		return t, nil
	case module.OperandField:
		return a.fieldOperand(pos, ref)
	case module.OperandMethod:
		return a.methodOperand(pos, ref)
	}
	return nil, errorf(pos, "%s: unsupported operand kind %s", op, kind)
}

func (a *assembler) fieldOperand(pos lexer.Position, ref *refSpec) (*module.FieldDecl, error) {
	if ref.Member == nil || ref.Member.Signature != nil || len(ref.Member.Args) > 0 {
		return nil, errorf(pos, "expected Type::field")
	}
	owner := a.m.Type(ref.Type.String())
	if owner == nil {
		return nil, errorf(pos, "fields of %s are not declared in this module", ref.Type)
	}
	f := owner.Field(ref.Member.Name)
	if f == nil {
		return nil, errorf(pos, "%s has no field %s", owner.Name, ref.Member.Name)
	}
	return f, nil
}

func (a *assembler) methodOperand(pos lexer.Position, ref *refSpec) (module.Method, error) {
	mem := ref.Member
	if mem == nil {
		return nil, errorf(pos, "expected Type::Method")
	}
	owner, err := a.parseType(pos, ref.Type)
	if err != nil {
		return nil, err
	}
	if owner == nil || owner.Kind != module.KindNamed {
		return nil, errorf(pos, "%s cannot declare methods", ref.Type)
	}

	if owner.IsLocal() {
		t := a.m.Type(owner.Name)
		if t == nil {
			return nil, errorf(pos, "type %s is not declared in this module", owner.Name)
		}
		md := t.Method(mem.Name)
		if md == nil {
			return nil, errorf(pos, "%s has no method %s", t.Name, mem.Name)
		}
		return md, nil
	}

	if mem.Signature == nil {
		return nil, errorf(pos, "call to %s::%s needs a signature", owner, mem.Name)
	}
	mr := &module.MethodRef{
		DeclaringType: owner,
		Name:          mem.Name,
		Instance:      !ref.Static,
		GenericParams: len(mem.Args),
	}
	for _, p := range mem.Signature.Params {
		t, err := a.parseType(pos, p)
		if err != nil {
			return nil, err
		}
		mr.Params = append(mr.Params, t)
	}
	if mr.Return, err = a.parseType(pos, mem.Signature.Return); err != nil {
		return nil, err
	}
	if !mr.IsGeneric() {
		return a.m.Refs.ImportMethod(mr), nil
	}

	args := make([]*module.TypeRef, 0, len(mem.Args))
	for _, spec := range mem.Args {
		t, err := a.parseType(pos, spec)
		if err != nil {
			return nil, err
		}
		if t, err = a.m.Import(t); err != nil {
			return nil, errorf(pos, "generic argument of %s: %v", mem.Name, err)
		}
		args = append(args, t)
	}
	g, err := a.m.Refs.Instantiate(mr, args...)
	if err != nil {
		return nil, errorf(pos, "%v", err)
	}
	return g, nil
}

func (a *assembler) parseType(pos lexer.Position, spec *typeSpec) (*module.TypeRef, error) {
	t, err := module.ParseType(spec.String())
	if err != nil {
		return nil, errorf(pos, "%v", err)
	}
	return t, nil
}

func directives(specs []*directiveSpec) []module.Directive {
	var out []module.Directive
	for _, d := range specs {
		out = append(out, module.Directive{Name: strings.TrimPrefix(d.Name, "@"), Args: d.Args})
	}
	return out
}
