package weaver

import (
	"github.com/chazu/loom/diag"
	"github.com/chazu/loom/module"
	"github.com/chazu/loom/rules"
)

// Bound is a rule whose templates have been resolved and imported into a
// module's reference table.
type Bound struct {
	Rule       rules.Rule
	Index      int
	Scalar     *module.MethodRef // canonical pointer in the module's RefTable
	Collection *module.MethodRef
}

// Bind resolves every rule once against reg and imports both templates
// into m. The result is indexed like rs; a rule that failed to resolve is
// nil and has been reported as a directive-resolution error.
func Bind(m *module.Module, reg *rules.Registry, rs []rules.Rule, diags *diag.List) []*Bound {
	out := make([]*Bound, len(rs))
	for i, r := range rs {
		b, err := reg.Resolve(i, r)
		if err != nil {
			diags.Errorf(diag.DirectiveResolution, "", "", "%v; rule skipped", err)
			continue
		}
		out[i] = &Bound{
			Rule:       r,
			Index:      i,
			Scalar:     m.Refs.ImportMethod(b.Scalar),
			Collection: m.Refs.ImportMethod(b.Collection),
		}
	}
	return out
}
