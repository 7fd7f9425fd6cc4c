package selectorconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadResolvesInheritanceAndTemplates(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "_context.yaml"), `
wait_strategy: load
timeout_ms: 9000
retry_count: 3
templates:
  heading:
    kind: css
    params:
      selector: "h1"
    weight: 0.9
`)
	writeFile(t, filepath.Join(root, "match", "_context.yaml"), `
timeout_ms: 5000
`)
	writeFile(t, filepath.Join(root, "match", "header.yaml"), `
home_team:
  description: home team name
  strategies:
    - template: heading
    - kind: xpath
      params:
        expression: "//h1"
      weight: 0.5
`)

	snap, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	d, ok := snap.Get("match.header.home_team", "")
	if !ok {
		t.Fatal("expected descriptor match.header.home_team")
	}
	if d.TimeoutMs != 5000 {
		t.Fatalf("timeout_ms = %d, want 5000 (nearest scope wins)", d.TimeoutMs)
	}
	if d.RetryCount != 3 {
		t.Fatalf("retry_count = %d, want 3 (inherited from root)", d.RetryCount)
	}
	if len(d.Strategies) != 2 {
		t.Fatalf("strategies = %d, want 2", len(d.Strategies))
	}
	if d.Strategies[0].Kind != KindCSS || d.Strategies[0].Params["selector"] != "h1" {
		t.Fatalf("template expansion failed: %+v", d.Strategies[0])
	}
	if d.Strategies[0].Weight != 0.9 {
		t.Fatalf("template weight = %v, want 0.9", d.Strategies[0].Weight)
	}
}

func TestLoadRejectsDuplicateName(t *testing.T) {
	root := t.TempDir()
	// "header.yaml" at root defines "header.dup"; "header/_global.yaml"
	// resolves to the same dotted scope ("header") via the _global
	// marker and redefines "dup" under it. Same resolved name, must be
	// rejected.
	writeFile(t, filepath.Join(root, "header.yaml"), `
dup:
  strategies:
    - kind: css
      params: {selector: "#a"}
      weight: 1
`)
	writeFile(t, filepath.Join(root, "header", "_global.yaml"), `
dup:
  strategies:
    - kind: css
      params: {selector: "#b"}
      weight: 1
`)

	if _, err := Load(root); err == nil {
		t.Fatal("expected duplicate semantic name error")
	}
}

func TestLoadRejectsUnknownStrategyKind(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.yaml"), `
x:
  strategies:
    - kind: not_a_kind
      weight: 1
`)
	if _, err := Load(root); err == nil {
		t.Fatal("expected schema validation error")
	}
}

func TestGetFallsBackThroughContextScope(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "match", "header.yaml"), `
home_team:
  strategies:
    - kind: css
      params: {selector: ".home"}
      weight: 1
`)
	snap, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snap.Get("header.home_team", "match"); !ok {
		t.Fatal("expected Get to resolve unqualified name against context scope")
	}
}
