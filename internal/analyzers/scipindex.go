package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	"repolens/internal/analysis"
	"repolens/internal/stage"
)

// SCIPStrategy reads a pre-built SCIP index from the repository instead of
// parsing sources itself. Only useful for repositories whose build already
// produces one, so it is opt-in via stage configuration.
type SCIPStrategy struct {
	// IndexPath is the index location relative to the repository root.
	IndexPath string
}

// NewSCIPStrategy creates a SCIP-backed structural strategy.
func NewSCIPStrategy(indexPath string) *SCIPStrategy {
	if indexPath == "" {
		indexPath = "index.scip"
	}
	return &SCIPStrategy{IndexPath: indexPath}
}

// Name implements stage.Strategy.
func (s *SCIPStrategy) Name() string { return "scip" }

// Available implements stage.Strategy. The strategy only applies when the
// checked-out repository carries an index file.
func (s *SCIPStrategy) Available(in stage.Input) bool {
	_, err := os.Stat(filepath.Join(in.LocalPath, s.IndexPath))
	return err == nil
}

// Run loads the index and aggregates symbol counts from its documents.
func (s *SCIPStrategy) Run(ctx context.Context, in stage.Input) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(in.LocalPath, s.IndexPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SCIP index %s: %w", s.IndexPath, err)
	}

	var index scippb.Index
	if err := proto.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse SCIP index %s: %w", s.IndexPath, err)
	}

	payload := analysis.StructuralPayload{
		SymbolCounts:  map[string]int{},
		LanguageLines: map[string]int{},
	}

	lineCounts := lineCountsByPath(in.Files)
	for _, doc := range index.Documents {
		for _, sym := range doc.Symbols {
			payload.SymbolCounts[symbolKind(sym)]++
			payload.TotalSymbols++
		}
		if lang := LanguageForPath(doc.RelativePath); lang != "" {
			payload.LanguageLines[lang.DisplayName()] += lineCounts[doc.RelativePath]
		}
		payload.FilesParsed++
	}

	if payload.FilesParsed == 0 {
		return nil, fmt.Errorf("SCIP index %s contains no documents", s.IndexPath)
	}

	return json.Marshal(payload)
}

func lineCountsByPath(files []analysis.FileInfo) map[string]int {
	counts := make(map[string]int, len(files))
	for _, f := range files {
		counts[f.Path] = f.Lines
	}
	return counts
}

func symbolKind(sym *scippb.SymbolInformation) string {
	if sym.Kind == scippb.SymbolInformation_UnspecifiedKind {
		return "symbol"
	}
	return strings.ToLower(sym.Kind.String())
}
