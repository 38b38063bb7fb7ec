package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/loom/rules"
)

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with a loom.toml
	dir := t.TempDir()
	tomlContent := `
[project]
name = "game"
version = "0.1.0"

[weave]
output = "out/game.lmod"
strict = true
report = "runs.db"
base-type = "Engine.MonoBehaviour"

[[rule]]
directive = "find-any-instance"
target = "Start"
scalar = "FindObjectOfType"
collection = "FindObjectsOfType"
capability = "Engine.Object"

[[rule]]
directive = "get-self-component"
target = "Awake"
scalar = "GetComponent"
collection = "GetComponents"
capability = "Engine.Component"
receiver = true
base = "Game.Actor"

[[capability]]
type = "[Engine.Core]Engine.Component"
templates = ["GetComponent<1>() : !!0", "GetComponents<1>() : !!0[]"]

[[capability]]
type = "[Engine.Core]Engine.Object"
templates = ["static FindObjectOfType<1>() : !!0", "static FindObjectsOfType<1>() : !!0[]"]
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "game" {
		t.Errorf("project name = %q, want game", m.Project.Name)
	}
	if !m.Weave.Strict {
		t.Error("weave strict = false, want true")
	}
	if got := m.OutputPath(); got != filepath.Join(m.Dir, "out/game.lmod") {
		t.Errorf("OutputPath() = %q", got)
	}
	if got := m.ReportPath(); got != filepath.Join(m.Dir, "runs.db") {
		t.Errorf("ReportPath() = %q", got)
	}

	rs, err := m.InjectionRules()
	if err != nil {
		t.Fatalf("InjectionRules: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("rules count = %d, want 2", len(rs))
	}
	// File order is evaluation order.
	if rs[0].Directive != rules.FindAnyInstance || rs[1].Directive != rules.GetSelfComponent {
		t.Errorf("rule order = %s, %s", rs[0].Directive, rs[1].Directive)
	}
	if rs[0].BaseType != "Engine.MonoBehaviour" {
		t.Errorf("rule 0 base = %q, want the weave default", rs[0].BaseType)
	}
	if rs[1].BaseType != "Game.Actor" {
		t.Errorf("rule 1 base = %q, want Game.Actor", rs[1].BaseType)
	}
	if rs[0].ReceiverArg || !rs[1].ReceiverArg {
		t.Error("receiver flags not carried over")
	}

	reg, err := m.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	for i, r := range rs {
		if _, err := reg.Resolve(i, r); err != nil {
			t.Errorf("Resolve(%s): %v", r.Directive, err)
		}
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[project]
name = "minimal"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Without [[rule]] tables the reference rules apply.
	rs, err := m.InjectionRules()
	if err != nil {
		t.Fatalf("InjectionRules: %v", err)
	}
	if len(rs) != 3 {
		t.Fatalf("default rules = %d, want 3", len(rs))
	}
	for i, want := range rules.Default() {
		if rs[i] != want {
			t.Errorf("rule %d = %+v, want %+v", i, rs[i], want)
		}
	}
	reg, err := m.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if names := reg.Names(); len(names) != 2 {
		t.Errorf("default capabilities = %v", names)
	}
	if m.OutputPath() != "" || m.ReportPath() != "" {
		t.Error("output and report should be unset by default")
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "unknown directive",
			content: `[[rule]]
directive = "inject-all"
target = "Awake"
scalar = "A"
collection = "B"
capability = "Engine.Component"
`,
			want: "directive",
		},
		{
			name: "misspelled key",
			content: `[weave]
stirct = true
`,
			want: "stirct",
		},
		{
			name: "missing template list",
			content: `[[capability]]
type = "[Engine.Core]Engine.Component"
templates = []
`,
			want: "templates",
		},
		{
			name: "unscoped capability",
			content: `[[capability]]
type = "Engine.Component"
templates = ["Get<1>() : !!0"]
`,
			want: "type",
		},
		{
			name: "empty target",
			content: `[[rule]]
directive = "get-self-component"
target = ""
scalar = "A"
collection = "B"
capability = "Engine.Component"
`,
			want: "target",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if !errors.Is(err, ErrSchema) {
				t.Fatalf("err = %v, want ErrSchema", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseRejectsDuplicateDirectives(t *testing.T) {
	rule := `[[rule]]
directive = "get-self-component"
target = "Awake"
scalar = "GetComponent"
collection = "GetComponents"
capability = "Engine.Component"
`
	_, err := Parse([]byte(rule + rule))
	if !errors.Is(err, rules.ErrInvalidRule) {
		t.Errorf("err = %v, want ErrInvalidRule", err)
	}
}

func TestParseRejectsBadTypeNames(t *testing.T) {
	content := `[[rule]]
directive = "get-self-component"
target = "Awake"
scalar = "GetComponent"
collection = "GetComponents"
capability = "Engine..Component"
`
	if _, err := Parse([]byte(content)); err == nil {
		t.Error("expected an error for an empty name segment")
	}
}

func TestScopedTypeNames(t *testing.T) {
	content := `[weave]
base-type = "[Engine.Core]Engine.MonoBehaviour"

[[rule]]
directive = "get-self-component"
target = "Awake"
scalar = "GetComponent"
collection = "GetComponents"
capability = "[Engine.Core]Engine.Component"
receiver = true

[[rule]]
directive = "find-any-instance"
target = "Awake"
scalar = "FindObjectOfType"
collection = "FindObjectsOfType"
capability = "[Elsewhere]Engine.Object"
`
	m, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rs, err := m.InjectionRules()
	if err != nil {
		t.Fatalf("InjectionRules: %v", err)
	}
	if rs[0].BaseType != "[Engine.Core]Engine.MonoBehaviour" {
		t.Errorf("BaseType = %q", rs[0].BaseType)
	}
	reg, err := m.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if _, err := reg.Resolve(0, rs[0]); err != nil {
		t.Errorf("scoped capability should resolve: %v", err)
	}
	if _, err := reg.Resolve(1, rs[1]); err == nil {
		t.Error("a capability in another scope should not resolve")
	}
}

func TestValidTypeName(t *testing.T) {
	for _, ok := range []string{"Engine.Component", "[Engine.Core]Engine.Object", "Game_2.X"} {
		if err := ValidTypeName(ok); err != nil {
			t.Errorf("ValidTypeName(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "Engine.", "[Engine.Core", "2Game", "Game.Pla yer"} {
		if err := ValidTypeName(bad); err == nil {
			t.Errorf("ValidTypeName(%q) should fail", bad)
		}
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `[project]
name = "found-project"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no loom.toml exists")
	}
}

func TestDefault(t *testing.T) {
	m := Default()
	rs, err := m.InjectionRules()
	if err != nil {
		t.Fatalf("InjectionRules: %v", err)
	}
	if len(rs) != 3 || rs[0].Target != "Awake" {
		t.Errorf("Default() rules = %+v", rs)
	}
}
