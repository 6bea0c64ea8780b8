package engine

import (
	"sync"

	"repolens/internal/analysis"
)

// jobKey identifies a unit of analysis work. Two requests for the same
// repository, branch, and commit are the same work and share one job.
type jobKey struct {
	url    string
	branch string
	commit string
}

func keyFor(ref analysis.RepositoryRef, fp analysis.Fingerprint) jobKey {
	return jobKey{url: ref.URL, branch: ref.Branch, commit: fp.CommitHash}
}

// Registry tracks in-flight jobs so concurrent requests for the same work
// attach to the existing job instead of starting a duplicate.
type Registry struct {
	mu   sync.Mutex
	jobs map[jobKey]*Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[jobKey]*Job)}
}

// AcquireOrAttach returns the in-flight job for the key, or invokes make
// to create and register one. The boolean reports whether a new job was
// created; lookup and registration happen under one lock so two callers
// can never both create.
func (r *Registry) AcquireOrAttach(ref analysis.RepositoryRef, fp analysis.Fingerprint, make func() *Job) (*Job, bool) {
	key := keyFor(ref, fp)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.jobs[key]; ok {
		return existing, false
	}
	job := make()
	r.jobs[key] = job
	return job, true
}

// InFlight returns the in-flight job for the key, if any.
func (r *Registry) InFlight(ref analysis.RepositoryRef, fp analysis.Fingerprint) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[keyFor(ref, fp)]
	return job, ok
}

// FindByAnalysisID returns the in-flight job producing the given record.
func (r *Registry) FindByAnalysisID(analysisID string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.AnalysisID() == analysisID {
			return job, true
		}
	}
	return nil, false
}

// Jobs returns a snapshot of every in-flight job.
func (r *Registry) Jobs() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	return out
}

// Release removes a finished job. The job must be released only after its
// record is persisted, so late attachers read the result from the store.
func (r *Registry) Release(ref analysis.RepositoryRef, fp analysis.Fingerprint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, keyFor(ref, fp))
}

// Len reports the number of in-flight jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
