package module

import "fmt"

// Validate checks m for every structural problem that would make the
// encoded image unloadable: operands that do not match their opcode,
// references that were never imported, malformed generic instantiations,
// branches leaving their body, bodies without a terminator and unbalanced
// evaluation stacks. It returns a *ValidationError listing all of them.
func Validate(m *Module) error {
	v := &validator{
		mod:    m,
		fields: make(map[*FieldDecl]bool),
	}
	for _, t := range m.Types {
		for _, f := range t.Fields {
			v.fields[f] = true
		}
	}

	for _, t := range m.Types {
		if t.Base != nil {
			v.checkType(t.Base, t.Name+" base")
		}
		for _, f := range t.Fields {
			v.checkType(f.Type, f.FullName())
			if f.Type.IsOpen() {
				v.fail("%s: field type %s is an open generic", f.FullName(), f.Type)
			}
		}
		for _, md := range t.Methods {
			for i, p := range md.Params {
				v.checkType(p, fmt.Sprintf("%s param %d", md, i))
			}
			if md.Return != nil {
				v.checkType(md.Return, md.String()+" return")
			}
			v.checkBody(md)
		}
	}

	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}
	return nil
}

type validator struct {
	mod      *Module
	fields   map[*FieldDecl]bool
	problems []string
}

func (v *validator) fail(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) checkType(t *TypeRef, where string) {
	if t == nil {
		v.fail("%s: missing type", where)
		return
	}
	if _, ok := v.mod.Refs.TypeIndex(t); !ok {
		v.fail("%s: type %s is not imported", where, t)
	}
}

// checkDeclared fails for module-local names without a declaration. It
// applies to types code actually uses; declarations may keep dangling
// references, which only fail once something instantiates or loads them.
func (v *validator) checkDeclared(t *TypeRef, where string) bool {
	for cur := t; cur != nil; cur = cur.Elem {
		if cur.IsLocal() && v.mod.Type(cur.Name) == nil {
			v.fail("%s: type %s is not declared in %s", where, cur.Name, v.mod.Name)
			return false
		}
	}
	return true
}

func (v *validator) checkBody(md *MethodDecl) {
	if len(md.Body) == 0 {
		if md.Attrs&MethodAbstract == 0 {
			v.fail("%s: empty body", md)
		}
		return
	}
	Layout(md.Body)

	index := make(map[*Instruction]int, len(md.Body))
	for i, ins := range md.Body {
		index[ins] = i
	}

	ok := true
	for _, ins := range md.Body {
		if !v.checkOperand(md, ins, index) {
			ok = false
		}
	}
	if last := md.Body[len(md.Body)-1]; !last.Op.IsTerminator() {
		v.fail("%s: body ends with %s instead of a terminator", md, last.Op)
		ok = false
	}
	if ok {
		v.checkStack(md, index)
	}
}

func (v *validator) checkOperand(md *MethodDecl, ins *Instruction, index map[*Instruction]int) bool {
	where := fmt.Sprintf("%s IL_%04x", md, ins.Offset)
	if !ins.Op.Valid() {
		v.fail("%s: %v", where, fmt.Errorf("%w 0x%02X", ErrInvalidOpcode, byte(ins.Op)))
		return false
	}

	kind := ins.Op.OperandKind()
	bad := func() bool {
		v.fail("%s: %s expects a %s operand, got %T", where, ins.Op, kind, ins.Operand)
		return false
	}

	switch kind {
	case OperandNone:
		if ins.Operand != nil {
			return bad()
		}
		if ins.Op == OpLdArg0 && !md.HasThis() {
			v.fail("%s: ldarg.0 in static method has no receiver", where)
			return false
		}
	case OperandInt32:
		n, ok := ins.Operand.(int32)
		if !ok {
			return bad()
		}
		if ins.Op == OpLdArg {
			argc := len(md.Params)
			if md.HasThis() {
				argc++
			}
			if n < 0 || int(n) >= argc {
				v.fail("%s: argument %d out of range", where, n)
				return false
			}
		}
	case OperandString:
		if _, ok := ins.Operand.(string); !ok {
			return bad()
		}
	case OperandBranch:
		target, ok := ins.Operand.(*Instruction)
		if !ok {
			return bad()
		}
		if _, ok := index[target]; !ok {
			v.fail("%s: branch target outside the method body", where)
			return false
		}
	case OperandField:
		f, ok := ins.Operand.(*FieldDecl)
		if !ok {
			return bad()
		}
		if !v.fields[f] {
			v.fail("%s: field %s is not declared in %s", where, f.FullName(), v.mod.Name)
			return false
		}
		if f.IsStatic() {
			v.fail("%s: %s on static field %s", where, ins.Op, f.FullName())
			return false
		}
	case OperandMethod:
		return v.checkMethodOperand(where, ins)
	case OperandType:
		t, ok := ins.Operand.(*TypeRef)
		if !ok {
			return bad()
		}
		if _, ok := v.mod.Refs.TypeIndex(t); !ok {
			v.fail("%s: type %s is not imported", where, t)
			return false
		}
		if !v.checkDeclared(t, where) {
			return false
		}
	}
	return true
}

func (v *validator) checkMethodOperand(where string, ins *Instruction) bool {
	switch m := ins.Operand.(type) {
	case *MethodDecl:
		if m.DeclaringType == nil || m.DeclaringType.Module != v.mod {
			v.fail("%s: method %s is not declared in %s", where, m, v.mod.Name)
			return false
		}
	case *MethodRef:
		if _, ok := v.mod.Refs.MethodIndex(m); !ok {
			v.fail("%s: method %s is not imported", where, m)
			return false
		}
		if m.IsGeneric() {
			v.fail("%s: generic method %s called without instantiation", where, m)
			return false
		}
	case *GenericInstanceMethod:
		if _, ok := v.mod.Refs.SpecIndex(m); !ok {
			v.fail("%s: instantiation %s is not imported", where, m)
			return false
		}
		if len(m.Args) != m.Method.GenericParams {
			v.fail("%s: %v", where, fmt.Errorf("%w: %s", ErrGenericArity, m))
			return false
		}
		for _, a := range m.Args {
			if a.IsOpen() {
				v.fail("%s: open generic argument %s in %s", where, a, m.Method.Name)
				return false
			}
			if !v.checkDeclared(a, where) {
				return false
			}
		}
	default:
		v.fail("%s: %s expects a method operand, got %T", where, ins.Op, ins.Operand)
		return false
	}
	return true
}

// stackEffect returns how many values ins pops and pushes.
func stackEffect(ins *Instruction) (pop, push int) {
	if ins.Op.IsCall() {
		m := ins.Operand.(Method)
		pop = m.ParamCount()
		if m.HasThis() {
			pop++
		}
		if m.ReturnsValue() {
			push = 1
		}
		return pop, push
	}
	info := GetOpcodeInfo(ins.Op)
	return info.StackPop, info.StackPush
}

// checkStack walks every reachable path and verifies the evaluation stack
// never underflows, agrees at merge points and holds exactly the return
// value at each ret.
func (v *validator) checkStack(md *MethodDecl, index map[*Instruction]int) {
	depth := make([]int, len(md.Body))
	for i := range depth {
		depth[i] = -1
	}
	want := 0
	if md.ReturnsValue() {
		want = 1
	}

	work := []int{0}
	depth[0] = 0
	merge := func(from *Instruction, to, d int) bool {
		switch {
		case depth[to] == -1:
			depth[to] = d
			work = append(work, to)
		case depth[to] != d:
			v.fail("%s IL_%04x: stack depth %d does not match %d at IL_%04x",
				md, from.Offset, d, depth[to], md.Body[to].Offset)
			return false
		}
		return true
	}

	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		ins := md.Body[i]

		pop, push := stackEffect(ins)
		if depth[i] < pop {
			v.fail("%s IL_%04x: %s needs %d stack values, has %d", md, ins.Offset, ins.Op, pop, depth[i])
			return
		}
		d := depth[i] - pop + push

		switch {
		case ins.Op == OpRet:
			if d != want {
				v.fail("%s IL_%04x: ret with stack depth %d, want %d", md, ins.Offset, d, want)
				return
			}
		case ins.Op == OpThrow:
		case ins.Op.IsBranch():
			if !merge(ins, index[ins.Operand.(*Instruction)], d) {
				return
			}
			if ins.Op != OpBr && !merge(ins, i+1, d) {
				return
			}
		default:
			if i+1 >= len(md.Body) {
				v.fail("%s IL_%04x: control falls off the end of the body", md, ins.Offset)
				return
			}
			if !merge(ins, i+1, d) {
				return
			}
		}
	}
}
