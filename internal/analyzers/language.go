// Package analyzers provides the concrete stage strategies of the analysis
// pipeline: structural extraction (tree-sitter, SCIP index, text scan) and
// tech-stack extraction (manifest parsing, extension heuristic), plus the
// file inventory walker that feeds them.
package analyzers

import "path/filepath"

// Language identifies a programming language for parsing purposes.
type Language string

const (
	LangGo         Language = "go"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangPython     Language = "python"
	LangRust       Language = "rust"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
	LangRuby       Language = "ruby"
	LangDart       Language = "dart"
)

// LanguageFromExtension returns the Language for a file extension.
func LanguageFromExtension(ext string) (Language, bool) {
	switch ext {
	case ".go":
		return LangGo, true
	case ".js", ".mjs", ".cjs":
		return LangJavaScript, true
	case ".ts", ".mts", ".cts":
		return LangTypeScript, true
	case ".tsx":
		return LangTSX, true
	case ".jsx":
		return LangJavaScript, true // JSX uses JS parser
	case ".py", ".pyw":
		return LangPython, true
	case ".rs":
		return LangRust, true
	case ".java":
		return LangJava, true
	case ".kt", ".kts":
		return LangKotlin, true
	case ".rb":
		return LangRuby, true
	case ".dart":
		return LangDart, true
	default:
		return "", false
	}
}

// LanguageForPath detects the language of a file path, or "".
func LanguageForPath(path string) Language {
	if lang, ok := LanguageFromExtension(filepath.Ext(path)); ok {
		return lang
	}
	return ""
}

// DisplayName returns the human-readable language name used in summaries
// and correlation evidence.
func (l Language) DisplayName() string {
	switch l {
	case LangGo:
		return "Go"
	case LangJavaScript:
		return "JavaScript"
	case LangTypeScript, LangTSX:
		return "TypeScript"
	case LangPython:
		return "Python"
	case LangRust:
		return "Rust"
	case LangJava:
		return "Java"
	case LangKotlin:
		return "Kotlin"
	case LangRuby:
		return "Ruby"
	case LangDart:
		return "Dart"
	default:
		return string(l)
	}
}
