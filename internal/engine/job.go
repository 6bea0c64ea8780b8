package engine

import (
	"context"
	"sync"

	"repolens/internal/analysis"
)

// Job is one in-flight repository analysis. Several batches may wait on
// the same job when they request the same repository at the same commit;
// only the batch that created it owns cancellation.
type Job struct {
	ref analysis.RepositoryRef

	mu     sync.Mutex
	record *analysis.Record

	ctx        context.Context
	cancelFunc context.CancelFunc
	cancelOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
}

func newJob(ref analysis.RepositoryRef, fp analysis.Fingerprint) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		ref:        ref,
		record:     analysis.NewRecord(ref, fp),
		ctx:        ctx,
		cancelFunc: cancel,
		done:       make(chan struct{}),
	}
}

// AnalysisID returns the identifier of the record this job produces.
func (j *Job) AnalysisID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.record.AnalysisID
}

// Repository returns the repository this job analyzes.
func (j *Job) Repository() analysis.RepositoryRef { return j.ref }

// Done is closed once the job reaches a terminal state and its record has
// been persisted.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel requests cancellation. Safe to call multiple times and after
// completion; a finished job is unaffected.
func (j *Job) Cancel() {
	j.cancelOnce.Do(j.cancelFunc)
}

// Record returns a snapshot of the job's record. Stable only after Done
// is closed.
func (j *Job) Record() *analysis.Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	snapshot := *j.record
	return &snapshot
}

// update mutates the record under the job lock.
func (j *Job) update(fn func(*analysis.Record)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(j.record)
}

func (j *Job) finish() {
	j.doneOnce.Do(func() { close(j.done) })
	j.cancelOnce.Do(j.cancelFunc)
}
