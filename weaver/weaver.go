// Package weaver rewrites compiled modules so that fields carrying
// injection directives are populated at the head of a lifecycle method.
//
// A run binds every rule against the template registry, classifies the
// fields of each type, builds one instruction block per rule and splices
// the blocks into the target methods. The module and its debug symbols are
// then validated and serialized again.
package weaver

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/loom/diag"
	"github.com/chazu/loom/module"
	"github.com/chazu/loom/rules"
	"github.com/chazu/loom/symbols"
)

var log = commonlog.GetLogger("loom.weaver")

// Weaver applies a fixed, ordered rule list. It holds no per-module state,
// so one Weaver may process many modules, including concurrently.
type Weaver struct {
	rules    []rules.Rule
	registry *rules.Registry
}

// New checks rs and returns a Weaver that resolves templates in reg.
func New(rs []rules.Rule, reg *rules.Registry) (*Weaver, error) {
	if reg == nil {
		return nil, errors.New("weaver: nil registry")
	}
	if err := rules.ValidateAll(rs); err != nil {
		return nil, err
	}
	return &Weaver{rules: append([]rules.Rule(nil), rs...), registry: reg}, nil
}

// Rules returns the rules in evaluation order.
func (w *Weaver) Rules() []rules.Rule {
	return w.rules
}

// Input is one module to weave. Symbols may be nil.
type Input struct {
	Name    string
	Module  []byte
	Symbols []byte
}

// Output is the result of Process. Module and Symbols are nil when the run
// failed; Symbols is also nil when the input carried none.
type Output struct {
	Name        string // module name, or the input name when unreadable
	MVID        string // empty when the module could not be read
	Module      []byte
	Symbols     []byte
	Diagnostics []diag.Diagnostic
	Summary     Summary
}

// Summary counts what one run changed.
type Summary struct {
	Types      int // types declared in the module
	Matched    int // types with at least one directive-marked field
	Woven      int // types that received injected code
	Fields     int // fields populated
	Created    int // methods synthesized
	Injections []Injection
}

func (s Summary) String() string {
	return fmt.Sprintf("%d/%d types woven, %d field(s) injected, %d method(s) created",
		s.Woven, s.Types, s.Fields, s.Created)
}

// WeaveModule binds the rules, then scans and weaves every type of m in
// place. Recovered problems are appended to diags.
func (w *Weaver) WeaveModule(m *module.Module, diags *diag.List) Summary {
	sum := Summary{Types: len(m.Types)}

	bounds := Bind(m, w.registry, w.rules, diags)
	scans := Scan(m, w.rules, diags)
	sum.Matched = len(scans)

	for _, ts := range scans {
		res := Weave(m, ts, bounds, diags)
		if len(res.Methods) > 0 {
			sum.Woven++
		}
		sum.Fields += len(res.Injections)
		sum.Created += res.Created
		sum.Injections = append(sum.Injections, res.Injections...)
	}
	log.Debugf("%s: %s", m.Name, sum)
	return sum
}

// Process reads in, weaves it and serializes the result. The returned
// Output always carries the diagnostics. A non-nil error means the run was
// fatal and no buffers were produced.
func (w *Weaver) Process(in Input) (*Output, error) {
	var diags diag.List
	out := &Output{Name: in.Name}
	fail := func(code diag.Code, err error) (*Output, error) {
		diags.Errorf(code, "", "", "%s: %v", in.Name, err)
		out.Module, out.Symbols = nil, nil
		out.Diagnostics = diags.All()
		return out, fmt.Errorf("weave %s: %w", in.Name, err)
	}

	m, err := module.Read(in.Module)
	if err != nil {
		return fail(diag.Input, err)
	}
	if m.Name == "" {
		m.Name = in.Name
	}
	out.Name, out.MVID = m.Name, m.MVID.String()
	if in.Symbols != nil {
		if err := symbols.Attach(m, in.Symbols); err != nil {
			return fail(diag.Input, err)
		}
	}

	out.Summary = w.WeaveModule(m, &diags)

	if out.Module, err = module.Write(m); err != nil {
		return fail(diag.Serialization, err)
	}
	if in.Symbols != nil {
		if out.Symbols, err = symbols.Write(m); err != nil {
			return fail(diag.Serialization, err)
		}
	}

	log.Infof("%s: %s (%s)", in.Name, out.Summary, diag.Summary(diags.All()))
	out.Diagnostics = diags.All()
	return out, nil
}
