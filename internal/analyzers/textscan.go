package analyzers

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"repolens/internal/analysis"
	"repolens/internal/stage"
)

// declarationPatterns are line-anchored heuristics for top-level
// declarations, keyed by language. Far coarser than a real parse, but
// dependency-free.
var declarationPatterns = map[Language][]*regexp.Regexp{
	LangGo: {
		regexp.MustCompile(`^func\s+`),
		regexp.MustCompile(`^type\s+\w+\s+(struct|interface)\b`),
	},
	LangJavaScript: {
		regexp.MustCompile(`^\s*(export\s+)?(async\s+)?function\s+\w`),
		regexp.MustCompile(`^\s*(export\s+)?class\s+\w`),
	},
	LangTypeScript: {
		regexp.MustCompile(`^\s*(export\s+)?(async\s+)?function\s+\w`),
		regexp.MustCompile(`^\s*(export\s+)?(abstract\s+)?class\s+\w`),
		regexp.MustCompile(`^\s*(export\s+)?interface\s+\w`),
	},
	LangPython: {
		regexp.MustCompile(`^\s*(async\s+)?def\s+\w`),
		regexp.MustCompile(`^\s*class\s+\w`),
	},
	LangRust: {
		regexp.MustCompile(`^\s*(pub\s+)?(async\s+)?fn\s+\w`),
		regexp.MustCompile(`^\s*(pub\s+)?(struct|enum|trait)\s+\w`),
	},
	LangJava: {
		regexp.MustCompile(`^\s*(public|private|protected)?\s*(static\s+)?(final\s+)?(class|interface|enum)\s+\w`),
	},
	LangRuby: {
		regexp.MustCompile(`^\s*def\s+\w`),
		regexp.MustCompile(`^\s*(class|module)\s+[A-Z]`),
	},
}

// TextScanStrategy is the fallback structural strategy: line-oriented
// regex matching of declaration keywords. It never needs external
// tooling, so it is always available.
type TextScanStrategy struct{}

// NewTextScanStrategy creates the text-scan structural strategy.
func NewTextScanStrategy() *TextScanStrategy { return &TextScanStrategy{} }

// Name implements stage.Strategy.
func (s *TextScanStrategy) Name() string { return "textscan" }

// Available implements stage.Strategy.
func (s *TextScanStrategy) Available(stage.Input) bool { return true }

// Run scans each supported file line by line, counting declaration-like
// lines as symbols.
func (s *TextScanStrategy) Run(ctx context.Context, in stage.Input) (json.RawMessage, error) {
	payload := analysis.StructuralPayload{
		SymbolCounts:  map[string]int{},
		LanguageLines: map[string]int{},
	}

	for _, f := range in.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lang := LanguageForPath(f.Path)
		if lang == "" {
			continue
		}
		patterns := patternsFor(lang)
		if len(patterns) == 0 {
			continue
		}
		if in.MaxFileSizeBytes > 0 && f.Size > in.MaxFileSizeBytes {
			continue
		}

		matched, err := scanFile(filepath.Join(in.LocalPath, filepath.FromSlash(f.Path)), patterns)
		if err != nil {
			continue
		}

		payload.SymbolCounts["declaration"] += matched
		payload.TotalSymbols += matched
		payload.LanguageLines[lang.DisplayName()] += f.Lines
		payload.FilesParsed++
	}

	return json.Marshal(payload)
}

func patternsFor(lang Language) []*regexp.Regexp {
	// TSX and JSX share their base language's patterns.
	switch lang {
	case LangTSX:
		return declarationPatterns[LangTypeScript]
	default:
		return declarationPatterns[lang]
	}
}

func scanFile(path string, patterns []*regexp.Regexp) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	matched := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, re := range patterns {
			if re.MatchString(line) {
				matched++
				break
			}
		}
	}
	return matched, scanner.Err()
}
