// Package manifest handles loom.toml weaver configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/loom/rules"
)

// FileName is the name of the configuration file.
const FileName = "loom.toml"

// Manifest represents a loom.toml configuration.
type Manifest struct {
	Project      Project            `toml:"project"`
	Weave        WeaveConfig        `toml:"weave"`
	Rules        []RuleConfig       `toml:"rule"`
	Capabilities []CapabilityConfig `toml:"capability"`

	// Dir is the directory containing the loom.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// WeaveConfig configures a weaving run.
type WeaveConfig struct {
	Output string `toml:"output"`
	Strict bool   `toml:"strict"`
	Report string `toml:"report"`

	// BaseType is applied to every rule that does not name its own base.
	BaseType string `toml:"base-type"`
}

// RuleConfig is one [[rule]] table. Order in the file is evaluation order.
type RuleConfig struct {
	Directive  string `toml:"directive"`
	Target     string `toml:"target"`
	Scalar     string `toml:"scalar"`
	Collection string `toml:"collection"`
	Capability string `toml:"capability"`
	Receiver   bool   `toml:"receiver"`
	Base       string `toml:"base"`
}

// CapabilityConfig is one [[capability]] table: a scoped type name and the
// signatures of the templates it declares.
type CapabilityConfig struct {
	Type      string   `toml:"type"`
	Templates []string `toml:"templates"`
}

// Default returns the reference configuration: the three built-in
// directives populating fields in Awake, resolved against the built-in
// engine capabilities.
func Default() *Manifest {
	m := &Manifest{Project: Project{Name: "loom"}}
	for _, r := range rules.Default() {
		m.Rules = append(m.Rules, RuleConfig{
			Directive:  r.Directive.String(),
			Target:     r.Target,
			Scalar:     r.ScalarTemplate,
			Collection: r.CollectionTemplate,
			Capability: r.Capability,
			Receiver:   r.ReceiverArg,
			Base:       r.BaseType,
		})
	}
	return m
}

// Load parses and validates a loom.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates configuration text. A file without any
// [[rule]] tables gets the reference rules.
func Parse(data []byte) (*Manifest, error) {
	raw := map[string]any{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	// Defaults
	if len(m.Rules) == 0 {
		m.Rules = Default().Rules
	}
	if _, err := m.InjectionRules(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a loom.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// InjectionRules converts the [[rule]] tables into validated rules, in
// file order.
func (m *Manifest) InjectionRules() ([]rules.Rule, error) {
	var out []rules.Rule
	for i, rc := range m.Rules {
		kind, err := rules.ParseDirectiveKind(rc.Directive)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		base := rc.Base
		if base == "" {
			base = m.Weave.BaseType
		}
		for _, name := range []string{rc.Capability, base} {
			if name == "" {
				continue
			}
			if err := ValidTypeName(name); err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
		}
		out = append(out, rules.Rule{
			Directive:          kind,
			Target:             rc.Target,
			ScalarTemplate:     rc.Scalar,
			CollectionTemplate: rc.Collection,
			Capability:         rc.Capability,
			ReceiverArg:        rc.Receiver,
			BaseType:           base,
		})
	}
	if err := rules.ValidateAll(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Registry builds the template registry. Without [[capability]] tables the
// built-in engine capabilities are used.
func (m *Manifest) Registry() (*rules.Registry, error) {
	if len(m.Capabilities) == 0 {
		return rules.DefaultRegistry(), nil
	}
	reg := rules.NewRegistry()
	for i, cc := range m.Capabilities {
		c, err := rules.ParseCapability(cc.Type, cc.Templates)
		if err != nil {
			return nil, fmt.Errorf("capability %d: %w", i, err)
		}
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("capability %d: %w", i, err)
		}
	}
	return reg, nil
}

// OutputPath returns the configured output path relative to the manifest
// directory, or "" when none is configured.
func (m *Manifest) OutputPath() string {
	if m.Weave.Output == "" {
		return ""
	}
	if filepath.IsAbs(m.Weave.Output) {
		return m.Weave.Output
	}
	return filepath.Join(m.Dir, m.Weave.Output)
}

// ReportPath returns the run-log database path, or "" when disabled.
func (m *Manifest) ReportPath() string {
	if m.Weave.Report == "" {
		return ""
	}
	if filepath.IsAbs(m.Weave.Report) {
		return m.Weave.Report
	}
	return filepath.Join(m.Dir, m.Weave.Report)
}
