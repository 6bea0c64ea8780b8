package analyzers

import (
	"context"
	"encoding/json"
	"testing"

	"repolens/internal/analysis"
	"repolens/internal/stage"
)

func inputFor(t *testing.T, root string) stage.Input {
	t.Helper()
	inv, err := BuildInventory(root, 0)
	if err != nil {
		t.Fatalf("BuildInventory() error = %v", err)
	}
	return stage.Input{LocalPath: root, Files: inv.Files}
}

func runTechStack(t *testing.T, s stage.Strategy, in stage.Input) analysis.TechStackPayload {
	t.Helper()
	raw, err := s.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var payload analysis.TechStackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	return payload
}

func depNames(deps []analysis.Dependency) map[string]analysis.Dependency {
	m := map[string]analysis.Dependency{}
	for _, d := range deps {
		m[d.Name] = d
	}
	return m
}

func TestManifestStrategyGoMod(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", `module example

go 1.24

require (
	github.com/spf13/cobra v1.8.1
	github.com/google/uuid v1.6.0 // indirect
)
`)
	writeFile(t, root, "main.go", "package main\n")

	s := NewManifestStrategy()
	in := inputFor(t, root)
	if !s.Available(in) {
		t.Fatal("manifest strategy should be available with a go.mod")
	}

	payload := runTechStack(t, s, in)
	deps := depNames(payload.Dependencies)

	cobra, ok := deps["github.com/spf13/cobra"]
	if !ok || cobra.Version != "v1.8.1" || cobra.PackageManager != "go" {
		t.Errorf("cobra dep = %+v", cobra)
	}
	if uuid, ok := deps["github.com/google/uuid"]; !ok || !uuid.Dev {
		t.Errorf("indirect dep should be marked dev: %+v", uuid)
	}
	if len(payload.PackageManagers) != 1 || payload.PackageManagers[0] != "go" {
		t.Errorf("PackageManagers = %v", payload.PackageManagers)
	}
	found := false
	for _, fw := range payload.Frameworks {
		if fw == "Cobra" {
			found = true
		}
	}
	if !found {
		t.Errorf("Frameworks = %v, want Cobra detected", payload.Frameworks)
	}
}

func TestManifestStrategyPackageJSON(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{
  "dependencies": {"react": "^18.2.0", "express": "4.18.2"},
  "devDependencies": {"jest": "^29.0.0"}
}`)
	writeFile(t, root, "index.js", "console.log('hi')\n")

	payload := runTechStack(t, NewManifestStrategy(), inputFor(t, root))
	deps := depNames(payload.Dependencies)

	if d, ok := deps["react"]; !ok || d.Dev {
		t.Errorf("react = %+v", d)
	}
	if d, ok := deps["jest"]; !ok || !d.Dev {
		t.Errorf("jest = %+v", d)
	}

	wantFw := map[string]bool{}
	for _, fw := range payload.Frameworks {
		wantFw[fw] = true
	}
	if !wantFw["React"] || !wantFw["Express"] {
		t.Errorf("Frameworks = %v", payload.Frameworks)
	}
}

func TestManifestStrategyPython(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "requirements.txt", `# comment
fastapi==0.110.0
uvicorn[standard]>=0.27
requests
`)
	writeFile(t, root, "app.py", "import fastapi\n")

	payload := runTechStack(t, NewManifestStrategy(), inputFor(t, root))
	deps := depNames(payload.Dependencies)

	if d, ok := deps["fastapi"]; !ok || d.Version != "==0.110.0" {
		t.Errorf("fastapi = %+v", d)
	}
	if _, ok := deps["uvicorn"]; !ok {
		t.Errorf("extras should be stripped from the name: %v", payload.Dependencies)
	}
	if d, ok := deps["requests"]; !ok || d.Version != "" {
		t.Errorf("requests = %+v", d)
	}

	found := false
	for _, fw := range payload.Frameworks {
		if fw == "FastAPI" {
			found = true
		}
	}
	if !found {
		t.Errorf("Frameworks = %v", payload.Frameworks)
	}
}

func TestManifestStrategyCargoToml(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Cargo.toml", `[package]
name = "demo"

[dependencies]
serde = "1.0"
axum = { version = "0.7", features = ["macros"] }

[dev-dependencies]
criterion = "0.5"
`)
	writeFile(t, root, "src/main.rs", "fn main() {}\n")

	payload := runTechStack(t, NewManifestStrategy(), inputFor(t, root))
	deps := depNames(payload.Dependencies)

	if d, ok := deps["serde"]; !ok || d.Version != "1.0" {
		t.Errorf("serde = %+v", d)
	}
	if d, ok := deps["axum"]; !ok || d.Version != "0.7" {
		t.Errorf("axum table version not extracted: %+v", d)
	}
	if d, ok := deps["criterion"]; !ok || !d.Dev {
		t.Errorf("criterion = %+v", d)
	}
}

func TestManifestStrategyPubspec(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pubspec.yaml", `name: demo
dependencies:
  flutter:
    sdk: flutter
  http: ^1.2.0
dev_dependencies:
  lints: ^3.0.0
`)
	writeFile(t, root, "lib/main.dart", "void main() {}\n")

	payload := runTechStack(t, NewManifestStrategy(), inputFor(t, root))
	deps := depNames(payload.Dependencies)

	if _, ok := deps["flutter"]; !ok {
		t.Errorf("flutter dep missing: %v", payload.Dependencies)
	}
	if d, ok := deps["http"]; !ok || d.Version != "^1.2.0" {
		t.Errorf("http = %+v", d)
	}

	found := false
	for _, fw := range payload.Frameworks {
		if fw == "Flutter" {
			found = true
		}
	}
	if !found {
		t.Errorf("Frameworks = %v", payload.Frameworks)
	}
}

func TestManifestStrategyUnavailableWithoutManifests(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")

	s := NewManifestStrategy()
	if s.Available(inputFor(t, root)) {
		t.Error("manifest strategy should be unavailable without manifests")
	}
}

func TestExtensionStrategy(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.ts", "export {}\n")
	writeFile(t, root, "notes.txt", "hello\n")

	s := NewExtensionStrategy()
	in := inputFor(t, root)
	if !s.Available(in) {
		t.Fatal("extension strategy must always be available")
	}

	payload := runTechStack(t, s, in)
	if len(payload.Languages) != 2 || payload.Languages[0] != "Go" || payload.Languages[1] != "TypeScript" {
		t.Errorf("Languages = %v", payload.Languages)
	}
	if len(payload.Dependencies) != 0 {
		t.Errorf("extension strategy reports no dependencies, got %v", payload.Dependencies)
	}
}
