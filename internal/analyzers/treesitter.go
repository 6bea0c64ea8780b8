//go:build cgo

package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"repolens/internal/analysis"
	"repolens/internal/stage"
)

// TreeSitterStrategy is the primary structural strategy: full AST parsing
// of every supported source file via tree-sitter. The strategy holds no
// parser state; a TSParser is single-thread-only and one strategy instance
// serves every worker, so each Run builds its own parser.
type TreeSitterStrategy struct{}

// NewTreeSitterStrategy creates the tree-sitter structural strategy.
func NewTreeSitterStrategy() *TreeSitterStrategy {
	return &TreeSitterStrategy{}
}

// Name implements stage.Strategy.
func (s *TreeSitterStrategy) Name() string { return "treesitter" }

// Available implements stage.Strategy. Tree-sitter is compiled in on cgo
// builds.
func (s *TreeSitterStrategy) Available(stage.Input) bool { return true }

// Run parses every supported file and aggregates symbol counts per kind
// and line counts per language.
func (s *TreeSitterStrategy) Run(ctx context.Context, in stage.Input) (json.RawMessage, error) {
	payload := analysis.StructuralPayload{
		SymbolCounts:  map[string]int{},
		LanguageLines: map[string]int{},
	}
	parser := sitter.NewParser()
	var parseErrs int

	for _, f := range in.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lang := LanguageForPath(f.Path)
		if lang == "" {
			continue
		}
		tsLang, ok := treeSitterLanguage(lang)
		if !ok {
			continue
		}
		if in.MaxFileSizeBytes > 0 && f.Size > in.MaxFileSizeBytes {
			continue
		}

		source, err := os.ReadFile(filepath.Join(in.LocalPath, filepath.FromSlash(f.Path)))
		if err != nil {
			parseErrs++
			continue
		}

		parser.SetLanguage(tsLang)
		tree, err := parser.ParseCtx(ctx, nil, source)
		if err != nil {
			parseErrs++
			continue
		}

		counts := countSymbols(tree.RootNode(), lang)
		tree.Close()
		for kind, n := range counts {
			payload.SymbolCounts[kind] += n
			payload.TotalSymbols += n
		}
		payload.LanguageLines[lang.DisplayName()] += f.Lines
		payload.FilesParsed++
	}

	if payload.FilesParsed == 0 && parseErrs > 0 {
		return nil, fmt.Errorf("tree-sitter parsed no files (%d failures)", parseErrs)
	}

	return json.Marshal(payload)
}

func treeSitterLanguage(lang Language) (*sitter.Language, bool) {
	switch lang {
	case LangGo:
		return golang.GetLanguage(), true
	case LangJavaScript:
		return javascript.GetLanguage(), true
	case LangTypeScript:
		return typescript.GetLanguage(), true
	case LangTSX:
		return tsx.GetLanguage(), true
	case LangPython:
		return python.GetLanguage(), true
	case LangRust:
		return rust.GetLanguage(), true
	case LangJava:
		return java.GetLanguage(), true
	case LangKotlin:
		return kotlin.GetLanguage(), true
	default:
		return nil, false
	}
}

// countSymbols walks the AST counting declarations by kind.
func countSymbols(root *sitter.Node, lang Language) map[string]int {
	functionTypes := functionNodeTypes(lang)
	classTypes := classNodeTypes(lang)

	counts := map[string]int{}
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		t := node.Type()
		switch {
		case containsString(functionTypes, t):
			counts["function"]++
		case containsString(classTypes, t):
			counts["type"]++
		}
		for i := uint32(0); i < node.ChildCount(); i++ {
			walk(node.Child(int(i)))
		}
	}
	walk(root)
	return counts
}

func functionNodeTypes(lang Language) []string {
	switch lang {
	case LangGo:
		return []string{"function_declaration", "method_declaration"}
	case LangJavaScript, LangTypeScript, LangTSX:
		return []string{"function_declaration", "arrow_function", "method_definition", "generator_function_declaration"}
	case LangPython:
		return []string{"function_definition"}
	case LangRust:
		return []string{"function_item"}
	case LangJava:
		return []string{"method_declaration", "constructor_declaration"}
	case LangKotlin:
		return []string{"function_declaration"}
	default:
		return nil
	}
}

func classNodeTypes(lang Language) []string {
	switch lang {
	case LangGo:
		return []string{"type_declaration"}
	case LangJavaScript, LangTypeScript, LangTSX:
		return []string{"class_declaration", "interface_declaration"}
	case LangPython:
		return []string{"class_definition"}
	case LangRust:
		return []string{"struct_item", "enum_item", "trait_item"}
	case LangJava:
		return []string{"class_declaration", "interface_declaration", "enum_declaration"}
	case LangKotlin:
		return []string{"class_declaration", "interface_declaration", "object_declaration"}
	default:
		return nil
	}
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
