// Package correlate builds the cross-repository relationship graph of a
// batch. It is a pure function of completed analysis records: no I/O, no
// clock, deterministic output for a given input order.
package correlate

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"repolens/internal/analysis"
)

// minConfidence is the floor below which an edge is not worth emitting.
const minConfidence = 0.1

// maxEvidence caps the evidence list carried on one edge.
const maxEvidence = 10

// repoFacts is the per-repository material the heuristics work from,
// extracted once per record.
type repoFacts struct {
	name          string
	dependencies  map[string]bool
	technologies  map[string]bool
	languageLines map[string]int
}

// BuildGraph correlates the completed records of a batch. Records are
// expected in batch order; output node and edge order follows it, so the
// graph is reproducible run to run.
func BuildGraph(records []*analysis.Record) analysis.CorrelationGraph {
	graph := analysis.CorrelationGraph{Edges: []analysis.Edge{}}

	facts := make([]repoFacts, 0, len(records))
	for _, rec := range records {
		f := extractFacts(rec)
		facts = append(facts, f)
		graph.Nodes = append(graph.Nodes, f.name)
	}

	for i := 0; i < len(facts); i++ {
		for j := i + 1; j < len(facts); j++ {
			graph.Edges = append(graph.Edges, pairEdges(facts[i], facts[j])...)
		}
	}
	return graph
}

func pairEdges(a, b repoFacts) []analysis.Edge {
	var edges []analysis.Edge

	if conf, shared := jaccard(a.dependencies, b.dependencies); conf >= minConfidence {
		edges = append(edges, analysis.Edge{
			RepoA:      a.name,
			RepoB:      b.name,
			Kind:       analysis.RelationSharedDependency,
			Confidence: round(conf),
			Evidence:   capEvidence(shared),
		})
	}

	if conf, shared := overlap(a.technologies, b.technologies); conf >= minConfidence {
		edges = append(edges, analysis.Edge{
			RepoA:      a.name,
			RepoB:      b.name,
			Kind:       analysis.RelationSharedTechnology,
			Confidence: round(conf),
			Evidence:   capEvidence(shared),
		})
	}

	if conf := cosine(a.languageLines, b.languageLines); conf >= minConfidence {
		edges = append(edges, analysis.Edge{
			RepoA:      a.name,
			RepoB:      b.name,
			Kind:       analysis.RelationStructuralSimilarity,
			Confidence: round(conf),
			Evidence:   []string{fmt.Sprintf("language profile cosine %.2f", conf)},
		})
	}

	return edges
}

func extractFacts(rec *analysis.Record) repoFacts {
	f := repoFacts{
		name:          rec.Repository.Name(),
		dependencies:  map[string]bool{},
		technologies:  map[string]bool{},
		languageLines: map[string]int{},
	}

	if sr := rec.StageResultFor(analysis.StageTechStack); sr != nil && sr.Status != analysis.StageFailed {
		var payload analysis.TechStackPayload
		if err := json.Unmarshal(sr.Payload, &payload); err == nil {
			for _, d := range payload.Dependencies {
				f.dependencies[d.Name] = true
			}
			for _, l := range payload.Languages {
				f.technologies[l] = true
			}
			for _, fw := range payload.Frameworks {
				f.technologies[fw] = true
			}
		}
	}

	if sr := rec.StageResultFor(analysis.StageStructural); sr != nil && sr.Status != analysis.StageFailed {
		var payload analysis.StructuralPayload
		if err := json.Unmarshal(sr.Payload, &payload); err == nil {
			for lang, lines := range payload.LanguageLines {
				f.languageLines[lang] = lines
			}
		}
	}

	return f
}

// jaccard computes |A∩B| / |A∪B| and returns the intersection sorted.
func jaccard(a, b map[string]bool) (float64, []string) {
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}
	var shared []string
	for k := range a {
		if b[k] {
			shared = append(shared, k)
		}
	}
	if len(shared) == 0 {
		return 0, nil
	}
	sort.Strings(shared)
	union := len(a) + len(b) - len(shared)
	return float64(len(shared)) / float64(union), shared
}

// overlap computes |A∩B| / min(|A|,|B|), which rewards a small stack fully
// contained in a larger one.
func overlap(a, b map[string]bool) (float64, []string) {
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}
	var shared []string
	for k := range a {
		if b[k] {
			shared = append(shared, k)
		}
	}
	if len(shared) == 0 {
		return 0, nil
	}
	sort.Strings(shared)
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(len(shared)) / float64(smaller), shared
}

// cosine computes cosine similarity of the two language line-count
// vectors.
func cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for lang, lines := range a {
		normA += float64(lines) * float64(lines)
		if other, ok := b[lang]; ok {
			dot += float64(lines) * float64(other)
		}
	}
	for _, lines := range b {
		normB += float64(lines) * float64(lines)
	}
	if dot == 0 || normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func capEvidence(evidence []string) []string {
	if len(evidence) > maxEvidence {
		return evidence[:maxEvidence]
	}
	return evidence
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
