package weaver

import (
	"github.com/chazu/loom/diag"
	"github.com/chazu/loom/module"
	"github.com/chazu/loom/rules"
)

// WovenMarker is the directive attached to every method the weaver has
// injected code into. A method carrying it is never injected into again.
const WovenMarker = "loom.woven"

// Injection records one populated field.
type Injection struct {
	Type       string
	Field      string
	Method     string
	Directive  rules.DirectiveKind
	Collection bool
	Call       string // the instantiated template
}

// Result summarises what Weave did to one type.
type Result struct {
	Injections []Injection
	Methods    []*module.MethodDecl // methods that received code, in order
	Created    int                  // how many of them were synthesized
}

// BuildBlock returns the instructions that populate the fields in bucket,
// scalar fields first and then collection fields, each in declaration
// order. Every field contributes
//
//	ldarg.0
//	ldarg.0            (only when the rule passes the receiver)
//	call Template<T>
//	stfld field
//
// where T is the field type for scalars and the element type for
// collections. Fields whose generic argument cannot be imported are
// reported as malformed and left out.
func BuildBlock(m *module.Module, t *module.TypeDecl, b *Bound, bucket *Bucket, diags *diag.List) ([]*module.Instruction, []Injection) {
	var block []*module.Instruction
	var injected []Injection

	emit := func(f *module.FieldDecl, template *module.MethodRef, arg *module.TypeRef, collection bool) {
		argRef, err := m.Import(arg)
		if err != nil {
			diags.Errorf(diag.MalformedField, t.Name, f.Name,
				"cannot bind %s to %s: %v; field skipped", template.Name, f.Type, err)
			return
		}
		call, err := m.Refs.Instantiate(template, argRef)
		if err != nil {
			diags.Errorf(diag.MalformedField, t.Name, f.Name,
				"cannot instantiate %s<%s>: %v; field skipped", template.Name, argRef, err)
			return
		}

		block = append(block, module.NewInstruction(module.OpLdArg0, nil))
		if b.Rule.ReceiverArg {
			block = append(block, module.NewInstruction(module.OpLdArg0, nil))
		}
		block = append(block,
			module.NewInstruction(module.OpCall, call),
			module.NewInstruction(module.OpStFld, f),
		)
		injected = append(injected, Injection{
			Type:       t.Name,
			Field:      f.Name,
			Method:     b.Rule.Target,
			Directive:  b.Rule.Directive,
			Collection: collection,
			Call:       call.String(),
		})
	}

	for _, f := range bucket.Scalars {
		emit(f, b.Scalar, f.Type, false)
	}
	for _, f := range bucket.Collections {
		emit(f, b.Collection, f.Type.ElementType(), true)
	}
	return block, injected
}

type targetPlan struct {
	name       string
	block      []*module.Instruction
	injections []Injection
}

// Weave injects the blocks of every bound rule into the type's target
// methods. Blocks aimed at the same method are concatenated in rule order
// and spliced at the head of the body in one step, so all injected code
// runs before the original instructions. Rules that failed to bind leave
// their fields untouched.
func Weave(m *module.Module, ts TypeScan, bounds []*Bound, diags *diag.List) Result {
	var res Result
	t := ts.Type

	var order []*targetPlan
	plans := make(map[string]*targetPlan)
	skipped := make(map[string]bool)

	for i, b := range bounds {
		bucket := ts.Buckets[i]
		if b == nil || bucket.Empty() {
			continue
		}
		name := b.Rule.Target
		if skipped[name] {
			continue
		}
		if plans[name] == nil {
			if !checkTarget(t, name, diags) {
				skipped[name] = true
				continue
			}
			plans[name] = &targetPlan{name: name}
			order = append(order, plans[name])
		}
		block, injected := BuildBlock(m, t, b, bucket, diags)
		p := plans[name]
		p.block = append(p.block, block...)
		p.injections = append(p.injections, injected...)
	}

	for _, p := range order {
		if len(p.block) == 0 {
			continue
		}
		md, created := LocateOrCreate(t, p.name)
		md.SpliceHead(p.block)
		md.Directives = append(md.Directives, module.Directive{Name: WovenMarker})
		if created {
			res.Created++
		}
		res.Methods = append(res.Methods, md)
		res.Injections = append(res.Injections, p.injections...)
		diags.Infof(diag.Woven, t.Name, "", "injected %d field(s) into %s (%d instructions)",
			len(p.injections), md, len(p.block))
	}
	return res
}

// checkTarget reports whether code may be injected into the method called
// name on t. A missing method is fine; it will be synthesized.
func checkTarget(t *module.TypeDecl, name string, diags *diag.List) bool {
	md := t.Method(name)
	switch {
	case md == nil:
		return true
	case md.HasDirective(WovenMarker):
		diags.Infof(diag.AlreadyWoven, t.Name, "", "%s was already woven; nothing to do", md)
		return false
	case !md.HasThis():
		diags.Errorf(diag.InvalidTarget, t.Name, "", "%s is static and has no receiver to populate", md)
		return false
	case len(md.Body) == 0:
		diags.Errorf(diag.InvalidTarget, t.Name, "", "%s has no body", md)
		return false
	}
	return true
}
