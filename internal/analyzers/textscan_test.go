package analyzers

import (
	"context"
	"encoding/json"
	"testing"

	"repolens/internal/analysis"
)

func TestTextScanStrategy(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", `package main

func main() {
}

func helper() int {
	return 1
}

type server struct {
	addr string
}
`)
	writeFile(t, root, "app.py", `class App:
    def run(self):
        pass

def main():
    pass
`)

	s := NewTextScanStrategy()
	in := inputFor(t, root)
	if !s.Available(in) {
		t.Fatal("textscan must always be available")
	}

	raw, err := s.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var payload analysis.StructuralPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}

	// main.go: two funcs + one struct type; app.py: one class + two defs.
	if payload.TotalSymbols != 6 {
		t.Errorf("TotalSymbols = %d, want 6", payload.TotalSymbols)
	}
	if payload.SymbolCounts["declaration"] != 6 {
		t.Errorf("SymbolCounts = %v", payload.SymbolCounts)
	}
	if payload.FilesParsed != 2 {
		t.Errorf("FilesParsed = %d, want 2", payload.FilesParsed)
	}
	if payload.LanguageLines["Go"] == 0 || payload.LanguageLines["Python"] == 0 {
		t.Errorf("LanguageLines = %v", payload.LanguageLines)
	}
}

func TestTextScanSkipsUnknownLanguages(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "data.txt", "func main() {\n")

	raw, err := NewTextScanStrategy().Run(context.Background(), inputFor(t, root))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var payload analysis.StructuralPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.TotalSymbols != 0 || payload.FilesParsed != 0 {
		t.Errorf("payload = %+v, want empty", payload)
	}
}

func TestTextScanCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewTextScanStrategy().Run(ctx, inputFor(t, root)); err == nil {
		t.Error("Run() should fail on a cancelled context")
	}
}
