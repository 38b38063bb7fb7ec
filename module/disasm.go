package module

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the whole module.
func Disassemble(m *Module) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; module %s\n", m.Name))
	sb.WriteString(fmt.Sprintf("; mvid %s\n", m.MVID))
	sb.WriteString(fmt.Sprintf("; references: %d types, %d methods, %d instantiations\n",
		len(m.Refs.Types()), len(m.Refs.Methods()), len(m.Refs.Specs())))

	for _, t := range m.Types {
		sb.WriteString("\n")
		sb.WriteString(".type " + t.Name)
		if t.Base != nil {
			sb.WriteString(" : " + t.Base.String())
		}
		sb.WriteString("\n")

		for _, f := range t.Fields {
			sb.WriteString("  .field ")
			if f.IsStatic() {
				sb.WriteString("static ")
			}
			sb.WriteString(f.Name + " : " + f.Type.String())
			sb.WriteString(directiveList(f.Directives))
			sb.WriteString("\n")
		}
		for _, md := range t.Methods {
			sb.WriteString(DisassembleMethod(md))
		}
	}
	return sb.String()
}

// DisassembleMethod returns the listing of a single method.
func DisassembleMethod(md *MethodDecl) string {
	var sb strings.Builder

	sb.WriteString("  .method ")
	if !md.HasThis() {
		sb.WriteString("static ")
	}
	sb.WriteString(md.Name + paramList(md.Params) + " : " + md.Return.String())
	if flags := methodFlags(md); flags != "" {
		sb.WriteString(" [" + flags + "]")
	}
	sb.WriteString(directiveList(md.Directives))
	sb.WriteString("\n")

	points := make(map[*Instruction]*SequencePoint)
	if md.Debug != nil {
		for _, sp := range md.Debug.Points {
			points[sp.Instruction] = sp
		}
	}

	Layout(md.Body)
	for _, ins := range md.Body {
		if sp, ok := points[ins]; ok {
			if sp.Hidden {
				sb.WriteString("    ; hidden\n")
			} else {
				sb.WriteString(fmt.Sprintf("    ; %s:%d:%d\n", sp.Document, sp.StartLine, sp.StartColumn))
			}
		}
		sb.WriteString(fmt.Sprintf("    IL_%04x: %s\n", ins.Offset, ins))
	}
	return sb.String()
}

func methodFlags(md *MethodDecl) string {
	var flags []string
	names := []struct {
		flag MethodAttributes
		name string
	}{
		{MethodPublic, "public"},
		{MethodPrivate, "private"},
		{MethodHideBySig, "hidebysig"},
		{MethodVirtual, "virtual"},
		{MethodAbstract, "abstract"},
	}
	for _, n := range names {
		if md.Attrs&n.flag != 0 {
			flags = append(flags, n.name)
		}
	}
	if md.InitLocals {
		flags = append(flags, "initlocals")
	}
	return strings.Join(flags, " ")
}

func directiveList(ds []Directive) string {
	var sb strings.Builder
	for _, d := range ds {
		sb.WriteString(" @" + d.Name)
		if len(d.Args) > 0 {
			quoted := make([]string, len(d.Args))
			for i, a := range d.Args {
				quoted[i] = fmt.Sprintf("%q", a)
			}
			sb.WriteString("(" + strings.Join(quoted, ", ") + ")")
		}
	}
	return sb.String()
}
