// Package rulepack loads a declarative YAML manifest naming which
// already-registered rules make up a running rule pack, in the teacher's
// apoc/config.go style of a YAML-declared plugin/procedure manifest
// repointed at rule registration instead of APOC function toggles.
//
// A manifest never carries rule logic itself — matcher/footprint/executor
// are Go closures registered in code — it only names which {name, version}
// pairs belong to the pack and in what order, so a deployment can declare
// "this is rule pack v3" without recompiling the registration call sites.
package rulepack

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/warpcore/pkg/rule"
)

// RuleRef names one rule a pack activates, by its registered name+version.
type RuleRef struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Manifest is a named, versioned collection of rule references.
type Manifest struct {
	Name    string    `yaml:"name"`
	Version string    `yaml:"version"`
	Rules   []RuleRef `yaml:"rules"`
}

// Load parses a rule pack manifest from r.
func Load(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("rulepack: decode: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("rulepack: manifest missing name")
	}
	return &m, nil
}

// LoadFile reads and parses a rule pack manifest from path.
func LoadFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rulepack: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Resolve looks up every rule reference in the manifest against registry,
// in manifest order, and returns the resolved rules. It fails closed: a
// missing rule or a version mismatch is an error, not a skipped entry —
// a rule pack that can't be fully resolved must not run partially.
func Resolve(m *Manifest, registry *rule.Registry) ([]rule.Rule, error) {
	out := make([]rule.Rule, 0, len(m.Rules))
	for _, ref := range m.Rules {
		reg, err := registry.Lookup(ref.Name)
		if err != nil {
			return nil, fmt.Errorf("rulepack %s@%s: %w", m.Name, m.Version, err)
		}
		if reg.Version != ref.Version {
			return nil, fmt.Errorf("rulepack %s@%s: rule %q registered as version %q, manifest wants %q",
				m.Name, m.Version, ref.Name, reg.Version, ref.Version)
		}
		out = append(out, reg)
	}
	return out, nil
}
