// Package diag collects the severity-tagged messages a weaving run reports
// to its caller.
package diag

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Severity of a diagnostic.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Code classifies a diagnostic.
type Code string

const (
	DirectiveResolution Code = "directive-resolution"
	MalformedField      Code = "malformed-field"
	Serialization       Code = "serialization"
	Input               Code = "input"
	InvalidTarget       Code = "invalid-target"
	StaticField         Code = "static-field"
	AlreadyWoven        Code = "already-woven"
	Woven               Code = "woven"
)

// Diagnostic is one message. Type and Field locate it when known.
type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Type     string
	Field    string
}

func (d Diagnostic) location() string {
	switch {
	case d.Type != "" && d.Field != "":
		return d.Type + "::" + d.Field
	case d.Type != "":
		return d.Type
	}
	return ""
}

func (d Diagnostic) String() string {
	var sb strings.Builder
	sb.WriteString(d.Severity.String())
	sb.WriteString(" [" + string(d.Code) + "]")
	if loc := d.location(); loc != "" {
		sb.WriteString(" " + loc)
	}
	sb.WriteString(": " + d.Message)
	return sb.String()
}

// List is an ordered collection of diagnostics. The zero value is ready to
// use.
type List struct {
	items []Diagnostic
}

// Add appends d.
func (l *List) Add(d Diagnostic) {
	l.items = append(l.items, d)
}

// Infof appends an informational diagnostic.
func (l *List) Infof(code Code, typ, field, format string, args ...any) {
	l.Add(Diagnostic{Severity: Info, Code: code, Type: typ, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Warnf appends a warning.
func (l *List) Warnf(code Code, typ, field, format string, args ...any) {
	l.Add(Diagnostic{Severity: Warning, Code: code, Type: typ, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Errorf appends an error.
func (l *List) Errorf(code Code, typ, field, format string, args ...any) {
	l.Add(Diagnostic{Severity: Error, Code: code, Type: typ, Field: field, Message: fmt.Sprintf(format, args...)})
}

// All returns the diagnostics in the order they were added.
func (l *List) All() []Diagnostic {
	return l.items
}

// Len returns the number of diagnostics.
func (l *List) Len() int { return len(l.items) }

// HasErrors reports whether any diagnostic has error severity.
func (l *List) HasErrors() bool {
	return l.Count(Error) > 0
}

// Count returns the number of diagnostics with severity s.
func (l *List) Count(s Severity) int {
	return Count(l.items, s)
}

// Count returns the number of diagnostics in ds with severity s.
func Count(ds []Diagnostic, s Severity) int {
	n := 0
	for _, d := range ds {
		if d.Severity == s {
			n++
		}
	}
	return n
}

// WithCode returns the diagnostics carrying code c.
func (l *List) WithCode(c Code) []Diagnostic {
	var out []Diagnostic
	for _, d := range l.items {
		if d.Code == c {
			out = append(out, d)
		}
	}
	return out
}

// Render writes the diagnostics at or above threshold to w, one per line, with a
// colored severity marker. Colors follow color.NoColor, so output to a
// non-terminal is plain.
func Render(w io.Writer, ds []Diagnostic, threshold Severity) {
	marks := map[Severity]*color.Color{
		Info:    color.New(color.FgCyan),
		Warning: color.New(color.FgYellow, color.Bold),
		Error:   color.New(color.FgRed, color.Bold),
	}
	glyphs := map[Severity]string{Info: "i", Warning: "!", Error: "x"}

	for _, d := range ds {
		if d.Severity < threshold {
			continue
		}
		marks[d.Severity].Fprint(w, glyphs[d.Severity]+" ")
		if loc := d.location(); loc != "" {
			fmt.Fprintf(w, "%s: ", loc)
		}
		fmt.Fprintf(w, "%s [%s]\n", d.Message, d.Code)
	}
}

// Summary returns a one-line count such as "2 errors, 1 warning".
func Summary(ds []Diagnostic) string {
	counts := map[Severity]int{}
	for _, d := range ds {
		counts[d.Severity]++
	}
	plural := func(n int, word string) string {
		if n == 1 {
			return fmt.Sprintf("%d %s", n, word)
		}
		return fmt.Sprintf("%d %ss", n, word)
	}
	return strings.Join([]string{
		plural(counts[Error], "error"),
		plural(counts[Warning], "warning"),
		plural(counts[Info], "info message"),
	}, ", ")
}
