package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"repolens/internal/analysis"
	"repolens/internal/cache"
	"repolens/internal/logging"
	"repolens/internal/stage"
)

// fakeGit serves fingerprints and checkouts from memory.
type fakeGit struct {
	mu              sync.Mutex
	fingerprints    map[string]analysis.Fingerprint
	probeErr        error
	cloneErr        map[string]error
	materializeWait bool
	checkouts       int
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		fingerprints: map[string]analysis.Fingerprint{},
		cloneErr:     map[string]error{},
	}
}

func (g *fakeGit) LatestFingerprint(ctx context.Context, ref analysis.RepositoryRef) (analysis.Fingerprint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.probeErr != nil {
		return analysis.Fingerprint{}, g.probeErr
	}
	return g.fingerprints[ref.Key()], nil
}

func (g *fakeGit) Materialize(ctx context.Context, ref analysis.RepositoryRef) (string, error) {
	g.mu.Lock()
	if g.materializeWait {
		g.mu.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := g.cloneErr[ref.Key()]; err != nil {
		g.mu.Unlock()
		return "", err
	}
	g.checkouts++
	n := g.checkouts
	g.mu.Unlock()

	dir, err := os.MkdirTemp("", fmt.Sprintf("fakegit-%d-", n))
	if err != nil {
		return "", err
	}
	content := []byte("package main\n\nfunc main() {}\n")
	if err := os.WriteFile(filepath.Join(dir, "main.go"), content, 0644); err != nil {
		return "", err
	}
	return dir, nil
}

func (g *fakeGit) Cleanup(path string) error {
	return os.RemoveAll(path)
}

// fakeStore is an in-memory engine.Store.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*analysis.Record
	batches map[string]*analysis.BatchResult
	creates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: map[string]*analysis.Record{},
		batches: map[string]*analysis.BatchResult{},
	}
}

func (s *fakeStore) CreateRecord(rec *analysis.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	clone := *rec
	s.records[rec.AnalysisID] = &clone
	return nil
}

func (s *fakeStore) UpdateRecord(rec *analysis.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.AnalysisID]; !ok {
		return errors.New("record not found")
	}
	clone := *rec
	s.records[rec.AnalysisID] = &clone
	return nil
}

func (s *fakeStore) GetRecord(analysisID string) (*analysis.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[analysisID], nil
}

func (s *fakeStore) SaveBatch(batch *analysis.BatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *batch
	s.batches[batch.BatchID] = &clone
	return nil
}

func (s *fakeStore) GetBatch(batchID string) (*analysis.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[batchID], nil
}

// FindLatestCompleted makes fakeStore usable as a cache.Lookup.
func (s *fakeStore) FindLatestCompleted(ref analysis.RepositoryRef) (*analysis.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *analysis.Record
	for _, rec := range s.records {
		if rec.Repository != ref || rec.Status != analysis.StatusCompleted {
			continue
		}
		if latest == nil || rec.CompletedAt.After(*latest.CompletedAt) {
			latest = rec
		}
	}
	return latest, nil
}

// stubStrategy returns a fixed payload, optionally blocking until
// released.
type stubStrategy struct {
	name    string
	payload string
	block   chan struct{}
}

func (s *stubStrategy) Name() string              { return s.name }
func (s *stubStrategy) Available(stage.Input) bool { return true }
func (s *stubStrategy) Run(ctx context.Context, in stage.Input) (json.RawMessage, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return json.RawMessage(s.payload), nil
}

type testRig struct {
	git   *fakeGit
	store *fakeStore
	orch  *Orchestrator
}

func newTestRig(t *testing.T, structuralStrat, techStrat stage.Strategy) *testRig {
	return newTestRigWorkers(t, 4, structuralStrat, techStrat)
}

func newTestRigWorkers(t *testing.T, workers int, structuralStrat, techStrat stage.Strategy) *testRig {
	t.Helper()
	logger := logging.Discard()

	if structuralStrat == nil {
		structuralStrat = &stubStrategy{name: "textscan", payload: `{"totalSymbols":1,"filesParsed":1}`}
	}
	if techStrat == nil {
		techStrat = &stubStrategy{name: "manifest", payload: `{"languages":["Go"],"dependencies":[{"name":"github.com/spf13/cobra"}]}`}
	}
	structural := stage.NewExecutor(analysis.StageStructural, true, time.Minute, logger, structuralStrat)
	techstack := stage.NewExecutor(analysis.StageTechStack, true, time.Minute, logger, techStrat)

	git := newFakeGit()
	st := newFakeStore()
	idx := cache.NewIndex(st, logger)

	orch := New(git, st, idx, structural, techstack, Config{Workers: workers, QueueSize: 16}, logger)
	orch.Start(workers)
	t.Cleanup(orch.Stop)

	return &testRig{git: git, store: st, orch: orch}
}

func repoRef(name string) analysis.RepositoryRef {
	return analysis.RepositoryRef{URL: "https://github.com/acme/" + name, Branch: "main"}
}

func TestSubmitSingleRepo(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ref := repoRef("widgets")
	rig.git.fingerprints[ref.Key()] = analysis.Fingerprint{CommitHash: "sha-1"}

	batch, err := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if batch.Status != analysis.StatusCompleted {
		t.Errorf("batch Status = %v", batch.Status)
	}
	if len(batch.Repositories) != 1 {
		t.Fatalf("Repositories len = %d", len(batch.Repositories))
	}
	outcome := batch.Repositories[0]
	if outcome.Status != analysis.StatusCompleted || outcome.Reused {
		t.Errorf("outcome = %+v", outcome)
	}

	rec, _ := rig.store.GetRecord(outcome.AnalysisID)
	if rec == nil {
		t.Fatal("record not persisted")
	}
	if rec.Status != analysis.StatusCompleted {
		t.Errorf("record Status = %v", rec.Status)
	}
	if len(rec.StageResults) != 2 {
		t.Errorf("StageResults len = %d, want 2", len(rec.StageResults))
	}
	if rec.Summary.FilesCount == 0 {
		t.Error("summary should include the file inventory")
	}

	if rig.orch.InFlightCount() != 0 {
		t.Error("registry should be empty after the batch")
	}
}

func TestSubmitValidation(t *testing.T) {
	rig := newTestRig(t, nil, nil)

	if _, err := rig.orch.Submit(context.Background(), analysis.BatchRequest{}); err == nil {
		t.Error("empty batch should be rejected")
	}
	req := analysis.DefaultBatchRequest(analysis.RepositoryRef{URL: "", Branch: "main"})
	if _, err := rig.orch.Submit(context.Background(), req); err == nil {
		t.Error("invalid repository should be rejected")
	}
}

func TestSubmitReusesUnchangedRepo(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ref := repoRef("widgets")
	rig.git.fingerprints[ref.Key()] = analysis.Fingerprint{CommitHash: "sha-1"}

	first, err := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref))
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	firstID := first.Repositories[0].AnalysisID

	second, err := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref))
	if err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}

	outcome := second.Repositories[0]
	if !outcome.Reused {
		t.Error("unchanged repository should be served from cache")
	}
	if outcome.AnalysisID != firstID {
		t.Errorf("reused AnalysisID = %q, want %q", outcome.AnalysisID, firstID)
	}
	if rig.store.creates != 1 {
		t.Errorf("CreateRecord calls = %d, want 1", rig.store.creates)
	}
}

func TestSubmitRerunsChangedRepo(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ref := repoRef("widgets")
	rig.git.fingerprints[ref.Key()] = analysis.Fingerprint{CommitHash: "sha-1"}

	if _, err := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref)); err != nil {
		t.Fatal(err)
	}

	rig.git.mu.Lock()
	rig.git.fingerprints[ref.Key()] = analysis.Fingerprint{CommitHash: "sha-2"}
	rig.git.mu.Unlock()

	second, err := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref))
	if err != nil {
		t.Fatal(err)
	}
	if second.Repositories[0].Reused {
		t.Error("changed fingerprint must trigger a fresh analysis")
	}
	if rig.store.creates != 2 {
		t.Errorf("CreateRecord calls = %d, want 2", rig.store.creates)
	}
}

func TestConcurrentSubmitsShareOneJob(t *testing.T) {
	block := make(chan struct{})
	rig := newTestRig(t, &stubStrategy{name: "textscan", payload: `{}`, block: block}, nil)
	ref := repoRef("widgets")
	rig.git.fingerprints[ref.Key()] = analysis.Fingerprint{CommitHash: "sha-1"}

	results := make(chan *analysis.BatchResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			batch, err := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref))
			if err != nil {
				t.Errorf("Submit() error = %v", err)
			}
			results <- batch
		}()
	}

	// Let both submissions reach the registry before releasing the job.
	deadline := time.After(5 * time.Second)
	for rig.orch.InFlightCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no job ever started")
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(block)

	a := <-results
	b := <-results
	idA := a.Repositories[0].AnalysisID
	idB := b.Repositories[0].AnalysisID
	if idA != idB {
		t.Errorf("concurrent submissions ran separate jobs: %q vs %q", idA, idB)
	}
	if rig.store.creates != 1 {
		t.Errorf("CreateRecord calls = %d, want 1", rig.store.creates)
	}
}

func TestSubmitPartialFailure(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	good := repoRef("good")
	bad := repoRef("bad")
	rig.git.fingerprints[good.Key()] = analysis.Fingerprint{CommitHash: "g-1"}
	rig.git.fingerprints[bad.Key()] = analysis.Fingerprint{CommitHash: "b-1"}
	rig.git.cloneErr[bad.Key()] = errors.New("remote hung up")

	batch, err := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(good, bad))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if batch.Status != analysis.StatusCompleted {
		t.Errorf("batch Status = %v; per-repo failures must not fail the batch", batch.Status)
	}

	byName := map[string]analysis.RepoOutcome{}
	for _, o := range batch.Repositories {
		byName[o.Repository.Name()] = o
	}
	if byName["good"].Status != analysis.StatusCompleted {
		t.Errorf("good outcome = %+v", byName["good"])
	}
	if byName["bad"].Status != analysis.StatusFailed {
		t.Errorf("bad outcome = %+v", byName["bad"])
	}
	if byName["bad"].Record == nil || byName["bad"].Record.Error == "" {
		t.Error("failed outcome should carry the error")
	}

	// Correlation needs two completed repositories.
	if len(batch.Graph.Edges) != 0 {
		t.Errorf("Edges = %v, want none with a single completed repo", batch.Graph.Edges)
	}
}

func TestSubmitCorrelatesCompletedRepos(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	a := repoRef("alpha")
	b := repoRef("beta")
	rig.git.fingerprints[a.Key()] = analysis.Fingerprint{CommitHash: "a-1"}
	rig.git.fingerprints[b.Key()] = analysis.Fingerprint{CommitHash: "b-1"}

	batch, err := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(a, b))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if len(batch.Graph.Nodes) != 2 {
		t.Errorf("Nodes = %v", batch.Graph.Nodes)
	}
	// Both repos share the cobra dependency and the Go language, so at
	// least one edge must appear.
	if len(batch.Graph.Edges) == 0 {
		t.Error("identical stacks should correlate")
	}
}

func TestCancelInFlight(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	rig := newTestRig(t, &stubStrategy{name: "textscan", payload: `{}`, block: block}, nil)
	ref := repoRef("widgets")
	rig.git.fingerprints[ref.Key()] = analysis.Fingerprint{CommitHash: "sha-1"}

	done := make(chan *analysis.BatchResult, 1)
	go func() {
		batch, _ := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref))
		done <- batch
	}()

	var analysisID string
	deadline := time.After(5 * time.Second)
	for analysisID == "" {
		select {
		case <-deadline:
			t.Fatal("job never appeared in the registry")
		case <-time.After(10 * time.Millisecond):
			rig.store.mu.Lock()
			for id := range rig.store.records {
				analysisID = id
			}
			rig.store.mu.Unlock()
		}
	}

	if !rig.orch.Cancel(analysisID) {
		t.Fatal("Cancel() should find the in-flight job")
	}

	batch := <-done
	outcome := batch.Repositories[0]
	if outcome.Status != analysis.StatusFailed {
		t.Errorf("outcome Status = %v, want failed after cancel", outcome.Status)
	}

	t.Run("cancel is idempotent", func(t *testing.T) {
		if rig.orch.Cancel(analysisID) {
			t.Error("Cancel() on a finished job should report false")
		}
	})
}

func TestCancelDuringMaterialize(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	rig.git.materializeWait = true
	ref := repoRef("widgets")
	rig.git.fingerprints[ref.Key()] = analysis.Fingerprint{CommitHash: "sha-1"}

	done := make(chan *analysis.BatchResult, 1)
	go func() {
		batch, _ := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref))
		done <- batch
	}()

	var analysisID string
	deadline := time.After(5 * time.Second)
	for analysisID == "" {
		select {
		case <-deadline:
			t.Fatal("job never appeared")
		case <-time.After(10 * time.Millisecond):
			rig.store.mu.Lock()
			for id := range rig.store.records {
				analysisID = id
			}
			rig.store.mu.Unlock()
		}
	}
	if !rig.orch.Cancel(analysisID) {
		t.Fatal("Cancel() should find the in-flight job")
	}

	batch := <-done
	rec := batch.Repositories[0].Record
	if rec == nil || rec.Status != analysis.StatusFailed {
		t.Fatalf("record = %+v, want failed", rec)
	}
	// A cancel arriving mid-clone is a cancel, not a repository fault.
	if !strings.Contains(rec.Error, "JOB_CANCELLED") {
		t.Errorf("Error = %q, want the cancelled kind", rec.Error)
	}
	if strings.Contains(rec.Error, "REPO_UNAVAILABLE") {
		t.Errorf("Error = %q; cancellation must not masquerade as repo unavailability", rec.Error)
	}
}

func TestStopSettlesQueuedJobs(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	rig := newTestRigWorkers(t, 1, &stubStrategy{name: "textscan", payload: `{}`, block: block}, nil)
	a := repoRef("alpha")
	b := repoRef("beta")
	rig.git.fingerprints[a.Key()] = analysis.Fingerprint{CommitHash: "a-1"}
	rig.git.fingerprints[b.Key()] = analysis.Fingerprint{CommitHash: "b-1"}

	results := make(chan *analysis.BatchResult, 2)
	for _, ref := range []analysis.RepositoryRef{a, b} {
		ref := ref
		go func() {
			batch, _ := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref))
			results <- batch
		}()
	}

	// One job is running in the only worker, the other sits in the queue.
	deadline := time.After(5 * time.Second)
	for {
		rig.store.mu.Lock()
		n := rig.store.creates
		rig.store.mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("jobs never dispatched")
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond)

	rig.orch.Stop()

	for i := 0; i < 2; i++ {
		select {
		case batch := <-results:
			outcome := batch.Repositories[0]
			if outcome.Status != analysis.StatusFailed {
				t.Errorf("%s outcome = %+v, want failed after shutdown", outcome.Repository.Name(), outcome)
			}
			if outcome.Record == nil || !strings.Contains(outcome.Record.Error, "JOB_CANCELLED") {
				t.Errorf("%s record = %+v, want a cancelled error", outcome.Repository.Name(), outcome.Record)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Submit never returned after Stop; queued job was abandoned")
		}
	}

	if rig.orch.InFlightCount() != 0 {
		t.Errorf("registry still holds %d jobs after Stop", rig.orch.InFlightCount())
	}
}

func TestProbeFailureWithoutCacheRunsNew(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	rig.git.probeErr = errors.New("network down")
	ref := repoRef("widgets")

	batch, err := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	outcome := batch.Repositories[0]
	if outcome.Reused {
		t.Error("nothing to reuse, so the repo must be analyzed")
	}
	if outcome.Status != analysis.StatusCompleted {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestProbeFailureWithCacheReuses(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ref := repoRef("widgets")
	rig.git.fingerprints[ref.Key()] = analysis.Fingerprint{CommitHash: "sha-1"}

	if _, err := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref)); err != nil {
		t.Fatal(err)
	}

	rig.git.mu.Lock()
	rig.git.probeErr = errors.New("network down")
	rig.git.mu.Unlock()

	batch, err := rig.orch.Submit(context.Background(), analysis.DefaultBatchRequest(ref))
	if err != nil {
		t.Fatal(err)
	}
	if !batch.Repositories[0].Reused {
		t.Error("probe failure with a cached record should reuse it")
	}
}
