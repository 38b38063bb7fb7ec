package weaver

import (
	"github.com/chazu/loom/diag"
	"github.com/chazu/loom/module"
	"github.com/chazu/loom/rules"
)

// Bucket holds the fields of one type that one rule matched, split by
// shape and kept in declaration order.
type Bucket struct {
	Rule        int // index into the rule list
	Scalars     []*module.FieldDecl
	Collections []*module.FieldDecl
}

// Empty reports whether no field matched.
func (b *Bucket) Empty() bool {
	return b == nil || len(b.Scalars)+len(b.Collections) == 0
}

// TypeScan is the classification of one type. Buckets is allocated per
// type and never shared.
type TypeScan struct {
	Type    *module.TypeDecl
	Buckets map[int]*Bucket
}

// Scan classifies the fields of every type in m against rs.
func Scan(m *module.Module, rs []rules.Rule, diags *diag.List) []TypeScan {
	var out []TypeScan
	for _, t := range m.Types {
		ts := ScanType(m, t, rs, diags)
		if len(ts.Buckets) > 0 {
			out = append(out, ts)
		}
	}
	return out
}

// ScanType classifies the fields of t. A rule applies to t when it has no
// base filter or t derives from the rule's base type. For each field only
// the first directive that names an applicable rule counts. Static fields
// carrying such a directive are reported and skipped.
func ScanType(m *module.Module, t *module.TypeDecl, rs []rules.Rule, diags *diag.List) TypeScan {
	ts := TypeScan{Type: t, Buckets: make(map[int]*Bucket)}

	applies := make([]bool, len(rs))
	applicable := false
	for i, r := range rs {
		applies[i] = r.BaseType == "" || m.InheritsFrom(t, r.BaseType)
		applicable = applicable || applies[i]
	}
	if !applicable {
		return ts
	}

	for _, f := range t.Fields {
		idx, ok := matchField(f, rs, applies)
		if !ok {
			continue
		}
		if f.IsStatic() {
			diags.Warnf(diag.StaticField, t.Name, f.Name,
				"static field carries @%s; only instance fields are injected", rs[idx].Directive)
			continue
		}
		b := ts.Buckets[idx]
		if b == nil {
			b = &Bucket{Rule: idx}
			ts.Buckets[idx] = b
		}
		if f.Type.IsArray() {
			b.Collections = append(b.Collections, f)
		} else {
			b.Scalars = append(b.Scalars, f)
		}
	}
	return ts
}

func matchField(f *module.FieldDecl, rs []rules.Rule, applies []bool) (int, bool) {
	for _, d := range f.Directives {
		for i, r := range rs {
			if applies[i] && r.Matches(d.Name) {
				return i, true
			}
		}
	}
	return 0, false
}
