package rulepack

import (
	"strings"
	"testing"

	"github.com/orneryd/warpcore/pkg/footprint"
	"github.com/orneryd/warpcore/pkg/graph"
	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/rule"
)

func noopRule(r *rule.Registry, name, version string) rule.Rule {
	reg, err := r.Register(name, version,
		func(graph.View, ident.NodeKey) bool { return true },
		func(graph.View, ident.NodeKey) footprint.Footprint { return footprint.NewBuilder(1).Build() },
		func(graph.View, ident.NodeKey, rule.Emitter) error { return nil },
		rule.User,
	)
	if err != nil {
		panic(err)
	}
	return reg
}

const manifestYAML = `
name: demo-pack
version: v1
rules:
  - name: alpha
    version: v1
  - name: beta
    version: v2
`

func TestLoadParsesManifest(t *testing.T) {
	m, err := Load(strings.NewReader(manifestYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Name != "demo-pack" || m.Version != "v1" || len(m.Rules) != 2 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestLoadRejectsMissingName(t *testing.T) {
	if _, err := Load(strings.NewReader("version: v1\nrules: []\n")); err == nil {
		t.Fatalf("expected an error for a manifest with no name")
	}
}

func TestResolveReturnsRulesInManifestOrder(t *testing.T) {
	r := rule.NewRegistry()
	noopRule(r, "beta", "v2")
	noopRule(r, "alpha", "v1")

	m, err := Load(strings.NewReader(manifestYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	resolved, err := Resolve(m, r)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 2 || resolved[0].Name != "alpha" || resolved[1].Name != "beta" {
		t.Fatalf("expected [alpha beta], got %+v", resolved)
	}
}

func TestResolveFailsClosedOnMissingRule(t *testing.T) {
	r := rule.NewRegistry()
	noopRule(r, "alpha", "v1")

	m, err := Load(strings.NewReader(manifestYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := Resolve(m, r); err == nil {
		t.Fatalf("expected an error since beta is not registered")
	}
}

func TestResolveFailsClosedOnVersionMismatch(t *testing.T) {
	r := rule.NewRegistry()
	noopRule(r, "alpha", "v1")
	noopRule(r, "beta", "v1") // manifest wants v2

	m, err := Load(strings.NewReader(manifestYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := Resolve(m, r); err == nil {
		t.Fatalf("expected an error for a version mismatch")
	}
}
