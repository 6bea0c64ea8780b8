// Package analysis defines the shared data model for the analysis engine:
// repository identity, fingerprints, analysis records, stage results, and
// batch results. The same types flow through the orchestrator, the store,
// and the HTTP surface; the persistence adapter is the only place they are
// converted to another representation.
package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RepositoryRef identifies a repository/branch pair. It is the identity key
// for caching and must not change once a job has started.
type RepositoryRef struct {
	URL    string `json:"url"`
	Branch string `json:"branch"`
}

// Key returns the canonical cache key for this reference.
func (r RepositoryRef) Key() string {
	return r.URL + "@" + r.Branch
}

// Name derives a short display name from the repository URL.
func (r RepositoryRef) Name() string {
	path := strings.TrimSuffix(r.URL, ".git")
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexAny(path, "/:"); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return "unknown"
	}
	return path
}

// Validate checks that the reference is usable as a cache key.
func (r RepositoryRef) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("repository url is empty")
	}
	if strings.TrimSpace(r.Branch) == "" {
		return fmt.Errorf("repository branch is empty")
	}
	return nil
}

// Fingerprint is the content-identity token for a repository state. Two
// fingerprints are equal iff their commit hashes match; an absent commit
// hash means the fingerprint is unknown, never "unchanged".
type Fingerprint struct {
	CommitHash string    `json:"commitHash,omitempty"`
	CommitTime time.Time `json:"commitTime,omitzero"`
	Author     string    `json:"author,omitempty"`
}

// Known reports whether the fingerprint carries a commit hash.
func (f Fingerprint) Known() bool {
	return f.CommitHash != ""
}

// Equal reports whether two fingerprints identify the same content.
// Unknown fingerprints are never equal to anything, including each other.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Known() && other.Known() && f.CommitHash == other.CommitHash
}

// Status represents the lifecycle state of an analysis record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true for completed and failed states.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StageStatus is the outcome of a single pipeline stage.
type StageStatus string

const (
	// StageSuccess means the primary strategy produced the result.
	StageSuccess StageStatus = "success"
	// StageDegraded means a fallback strategy produced the result after the
	// primary failed. Consumers must treat the payload as lower fidelity.
	StageDegraded StageStatus = "degraded"
	// StageFailed means every configured strategy failed.
	StageFailed StageStatus = "failed"
)

// StrategyKind tells which slot of the strategy order produced a result.
type StrategyKind string

const (
	StrategyPrimary  StrategyKind = "primary"
	StrategyFallback StrategyKind = "fallback"
)

// Stage names used by the default pipeline.
const (
	StageStructural = "structural"
	StageTechStack  = "techstack"
)

// StageResult records the outcome of one stage of one analysis job.
// ErrorDetail is non-empty whenever any strategy failed, including the
// degraded case where a fallback later succeeded.
type StageResult struct {
	Stage        string          `json:"stage"`
	StrategyUsed StrategyKind    `json:"strategyUsed,omitempty"`
	Strategy     string          `json:"strategy,omitempty"`
	Status       StageStatus     `json:"status"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ErrorDetail  string          `json:"errorDetail,omitempty"`
	DurationMs   int64           `json:"durationMs"`
}

// FileInfo describes one file of a materialized repository.
type FileInfo struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Language string `json:"language,omitempty"`
	Lines    int    `json:"lines"`
}

// Dependency is one declared dependency found by the tech-stack stage.
type Dependency struct {
	Name           string `json:"name"`
	Version        string `json:"version,omitempty"`
	PackageManager string `json:"packageManager,omitempty"`
	Dev            bool   `json:"dev,omitempty"`
}

// TechStackPayload is the payload shape of the tech-stack stage.
type TechStackPayload struct {
	Languages       []string     `json:"languages,omitempty"`
	Frameworks      []string     `json:"frameworks,omitempty"`
	PackageManagers []string     `json:"packageManagers,omitempty"`
	Dependencies    []Dependency `json:"dependencies,omitempty"`
}

// StructuralPayload is the payload shape of the structural stage.
type StructuralPayload struct {
	TotalSymbols  int            `json:"totalSymbols"`
	SymbolCounts  map[string]int `json:"symbolCounts,omitempty"`
	LanguageLines map[string]int `json:"languageLines,omitempty"`
	FilesParsed   int            `json:"filesParsed"`
}

// RepoSummary aggregates per-repository facts that do not belong to any
// single stage: the file inventory roll-up plus collected documentation
// and configuration files.
type RepoSummary struct {
	FilesCount         int      `json:"filesCount"`
	LinesOfCode        int      `json:"linesOfCode"`
	Languages          []string `json:"languages,omitempty"`
	Frameworks         []string `json:"frameworks,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
	DocumentationFiles []string `json:"documentationFiles,omitempty"`
	ConfigFiles        []string `json:"configFiles,omitempty"`
}

// Record is one versioned analysis result: the unit of caching and reuse.
// For a (repository, fingerprint) pair at most one completed record is
// canonical; the most recently completed one wins when duplicates exist.
type Record struct {
	AnalysisID   string        `json:"analysisId"`
	Repository   RepositoryRef `json:"repository"`
	Fingerprint  Fingerprint   `json:"fingerprint"`
	Status       Status        `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
	StageResults []StageResult `json:"stageResults,omitempty"`
	Summary      RepoSummary   `json:"summary"`
	Error        string        `json:"error,omitempty"`
}

// NewRecord creates a pending record for a fresh analysis job.
func NewRecord(ref RepositoryRef, fp Fingerprint) *Record {
	return &Record{
		AnalysisID:  uuid.New().String(),
		Repository:  ref,
		Fingerprint: fp,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// MarkRunning transitions the record to running. Terminal states are
// immutable; calling this on a terminal record is a no-op.
func (r *Record) MarkRunning() {
	if r.Status.IsTerminal() || r.Status == StatusRunning {
		return
	}
	now := time.Now().UTC()
	r.Status = StatusRunning
	r.StartedAt = &now
}

// MarkCompleted transitions the record to completed.
func (r *Record) MarkCompleted() {
	if r.Status.IsTerminal() {
		return
	}
	now := time.Now().UTC()
	r.Status = StatusCompleted
	r.CompletedAt = &now
}

// MarkFailed transitions the record to failed with the causing error.
func (r *Record) MarkFailed(err error) {
	if r.Status.IsTerminal() {
		return
	}
	now := time.Now().UTC()
	r.Status = StatusFailed
	r.CompletedAt = &now
	if err != nil {
		r.Error = err.Error()
	}
}

// AddStageResult appends a stage result. Results are visible in dispatch
// order so callers can inspect partial progress.
func (r *Record) AddStageResult(res StageResult) {
	r.StageResults = append(r.StageResults, res)
}

// StageResultFor returns the result of the named stage, or nil.
func (r *Record) StageResultFor(stage string) *StageResult {
	for i := range r.StageResults {
		if r.StageResults[i].Stage == stage {
			return &r.StageResults[i]
		}
	}
	return nil
}

// BatchRequest is a submission of one or more repositories that share a
// correlation step. The include flags mirror the analyze API; correlation
// additionally requires at least two completed repositories.
type BatchRequest struct {
	Repositories       []RepositoryRef `json:"repositories"`
	IncludeStructural  bool            `json:"includeStructural"`
	IncludeTechStack   bool            `json:"includeTechStack"`
	IncludeCorrelation bool            `json:"includeCorrelation"`
}

// DefaultBatchRequest returns a request for the given refs with all
// analysis kinds enabled.
func DefaultBatchRequest(refs ...RepositoryRef) BatchRequest {
	return BatchRequest{
		Repositories:       refs,
		IncludeStructural:  true,
		IncludeTechStack:   true,
		IncludeCorrelation: true,
	}
}

// RepoOutcome is the per-repository entry of a batch result.
type RepoOutcome struct {
	Repository RepositoryRef `json:"repository"`
	AnalysisID string        `json:"analysisId"`
	Status     Status        `json:"status"`
	Reused     bool          `json:"reused"`
	Record     *Record       `json:"record,omitempty"`
}

// RelationKind is the closed set of correlation edge kinds.
type RelationKind string

const (
	RelationSharedDependency     RelationKind = "shared-dependency"
	RelationSharedTechnology     RelationKind = "shared-technology"
	RelationStructuralSimilarity RelationKind = "structural-similarity"
)

// Edge is one cross-repository relationship with a confidence in [0,1].
type Edge struct {
	RepoA      string       `json:"repoA"`
	RepoB      string       `json:"repoB"`
	Kind       RelationKind `json:"kind"`
	Confidence float64      `json:"confidence"`
	Evidence   []string     `json:"evidence,omitempty"`
}

// CorrelationGraph relates the completed repositories of a batch. Failed
// repositories never appear in edges but are still listed in the batch
// result itself.
type CorrelationGraph struct {
	Nodes []string `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// BatchResult aggregates one outcome per requested repository plus the
// correlation graph over the completed subset.
type BatchResult struct {
	BatchID      string           `json:"batchId"`
	Status       Status           `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
	Repositories []RepoOutcome    `json:"repositories"`
	Graph        CorrelationGraph `json:"graph"`
}

// CompletedRecords returns the records of completed repositories, in
// batch order.
func (b *BatchResult) CompletedRecords() []*Record {
	var out []*Record
	for _, o := range b.Repositories {
		if o.Status == StatusCompleted && o.Record != nil {
			out = append(out, o.Record)
		}
	}
	return out
}
