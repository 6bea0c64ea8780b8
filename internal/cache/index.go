// Package cache decides whether a repository needs a fresh analysis or an
// existing completed record can be reused, based on commit fingerprints.
package cache

import (
	"repolens/internal/analysis"
	"repolens/internal/logging"
)

// Lookup is the slice of the record store the index needs.
type Lookup interface {
	FindLatestCompleted(ref analysis.RepositoryRef) (*analysis.Record, error)
}

// DecisionKind is the outcome of a cache decision.
type DecisionKind string

const (
	// ReuseExisting means the stored completed record is authoritative.
	ReuseExisting DecisionKind = "reuse-existing"
	// RunNew means a fresh analysis job is required.
	RunNew DecisionKind = "run-new"
)

// Decision carries the reuse decision and, for reuse, the record it names.
type Decision struct {
	Kind       DecisionKind
	AnalysisID string
	Record     *analysis.Record
	Reason     string
}

// Index answers reuse-vs-recompute questions against the record store.
//
// Reuse under an unchanged fingerprint accepts the staleness risk of
// history rewrites that keep the commit hash: a force-push producing the
// same hash is not detected, by decision.
type Index struct {
	store  Lookup
	logger *logging.Logger
}

// NewIndex creates a cache index over a record store.
func NewIndex(store Lookup, logger *logging.Logger) *Index {
	return &Index{
		store:  store,
		logger: logger.Component("cache"),
	}
}

// Decide applies the reuse algorithm:
//
//  1. no completed record for the ref -> RunNew
//  2. new fingerprint unknown (probe failed) -> ReuseExisting (fail-safe:
//     avoid redundant work when change status is unknowable)
//  3. stored record's fingerprint unknown -> RunNew (equivalence cannot
//     be proven from absent data)
//  4. fingerprints differ -> RunNew
//  5. fingerprints match -> ReuseExisting
//
// The asymmetry between 2 and 3 is deliberate: an unknown new fingerprint
// favors reuse, an unknown stored fingerprint favors recompute.
func (i *Index) Decide(ref analysis.RepositoryRef, fp analysis.Fingerprint) (Decision, error) {
	stored, err := i.store.FindLatestCompleted(ref)
	if err != nil {
		return Decision{}, err
	}

	if stored == nil {
		return i.decided(ref, Decision{Kind: RunNew, Reason: "no completed record"}), nil
	}
	if !fp.Known() {
		return i.decided(ref, Decision{
			Kind:       ReuseExisting,
			AnalysisID: stored.AnalysisID,
			Record:     stored,
			Reason:     "probe failed, reusing latest completed record",
		}), nil
	}
	if !stored.Fingerprint.Known() {
		return i.decided(ref, Decision{Kind: RunNew, Reason: "stored record has no fingerprint"}), nil
	}
	if !stored.Fingerprint.Equal(fp) {
		return i.decided(ref, Decision{Kind: RunNew, Reason: "fingerprint changed"}), nil
	}
	return i.decided(ref, Decision{
		Kind:       ReuseExisting,
		AnalysisID: stored.AnalysisID,
		Record:     stored,
		Reason:     "fingerprint unchanged",
	}), nil
}

func (i *Index) decided(ref analysis.RepositoryRef, d Decision) Decision {
	i.logger.Debug("Cache decision", map[string]interface{}{
		"repo":     ref.URL,
		"branch":   ref.Branch,
		"decision": d.Kind,
		"reason":   d.Reason,
	})
	return d
}
