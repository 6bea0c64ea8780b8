package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"repolens/internal/analysis"
	"repolens/internal/cache"
	"repolens/internal/correlate"
	"repolens/internal/errors"
	"repolens/internal/gitrepo"
	"repolens/internal/logging"
	"repolens/internal/stage"
)

// Store is the persistence surface the orchestrator depends on.
type Store interface {
	CreateRecord(rec *analysis.Record) error
	UpdateRecord(rec *analysis.Record) error
	GetRecord(analysisID string) (*analysis.Record, error)
	SaveBatch(batch *analysis.BatchResult) error
	GetBatch(batchID string) (*analysis.BatchResult, error)
}

// Config contains orchestrator tuning knobs.
type Config struct {
	Workers          int
	QueueSize        int
	MaxFileSizeBytes int64
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		QueueSize:        64,
		MaxFileSizeBytes: 1 << 20,
	}
}

// task is one unit of queued work: a job plus the request flags and the
// fingerprint its registry key was built from.
type task struct {
	job *Job
	fp  analysis.Fingerprint
	req analysis.BatchRequest
}

// Orchestrator coordinates batches: fingerprint probing, cache decisions,
// deduplicated execution over a bounded worker pool, and the correlation
// barrier.
type Orchestrator struct {
	git      gitrepo.Client
	store    Store
	index    *cache.Index
	registry *Registry
	pipe     *pipeline
	logger   *logging.Logger

	queue    chan *task
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an orchestrator. Call Start before submitting batches and
// Stop on shutdown.
func New(git gitrepo.Client, st Store, idx *cache.Index, structural, techstack *stage.Executor, cfg Config, logger *logging.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	return &Orchestrator{
		git:      git,
		store:    st,
		index:    idx,
		registry: NewRegistry(),
		pipe: &pipeline{
			git:         git,
			store:       st,
			structural:  structural,
			techstack:   techstack,
			maxFileSize: cfg.MaxFileSizeBytes,
			logger:      logger.Component("pipeline"),
		},
		logger: logger.Component("orchestrator"),
		queue:  make(chan *task, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the worker pool.
func (o *Orchestrator) Start(workers int) {
	if workers <= 0 {
		workers = DefaultConfig().Workers
	}
	o.logger.Info("Starting analysis workers", map[string]interface{}{
		"workers": workers,
	})
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
}

// Stop shuts the pool down. Running jobs are cancelled, and tasks still
// sitting in the queue are failed as cancelled so every job reaches a
// terminal state and awaiting batches settle. Safe to call more than once.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(o.stop)
}

func (o *Orchestrator) stop() {
	close(o.done)
	for _, job := range o.registry.Jobs() {
		job.Cancel()
	}
	o.wg.Wait()

	for {
		select {
		case t := <-o.queue:
			o.failQueued(t)
		default:
			return
		}
	}
}

func (o *Orchestrator) failQueued(t *task) {
	rec := failedRecord(t.job, errors.New(errors.JobCancelled, "orchestrator stopped before dispatch"))
	if err := o.store.UpdateRecord(rec); err != nil {
		o.logger.Error("Persist cancelled record failed", map[string]interface{}{
			"analysisId": t.job.AnalysisID(),
			"error":      err.Error(),
		})
	}
	o.registry.Release(t.job.ref, t.fp)
	t.job.finish()
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case t := <-o.queue:
			o.runTask(t)
		}
	}
}

func (o *Orchestrator) runTask(t *task) {
	o.pipe.execute(t.job, t.req)
	// Persisted before release: late arrivals find the result in the
	// store instead of the registry.
	o.registry.Release(t.job.ref, t.fp)
	t.job.finish()
}

// pendingEntry tracks one repository of a batch that is waiting on a job.
type pendingEntry struct {
	idx     int
	job     *Job
	created bool
}

// Submit runs a batch to completion: every repository reaches a terminal
// outcome, then correlation runs over the completed subset. Per-repository
// failures are recorded in the result, not returned as errors.
func (o *Orchestrator) Submit(ctx context.Context, req analysis.BatchRequest) (*analysis.BatchResult, error) {
	batch, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, batch, req), nil
}

// SubmitAsync validates and registers a batch, then runs it in the
// background. The returned batch identifier is immediately queryable.
func (o *Orchestrator) SubmitAsync(req analysis.BatchRequest) (string, error) {
	batch, err := o.prepare(req)
	if err != nil {
		return "", err
	}
	go o.run(context.Background(), batch, req)
	return batch.BatchID, nil
}

// prepare validates the request and persists the initial batch row.
func (o *Orchestrator) prepare(req analysis.BatchRequest) (*analysis.BatchResult, error) {
	if len(req.Repositories) == 0 {
		return nil, errors.New(errors.InvalidRequest, "batch contains no repositories")
	}
	for _, ref := range req.Repositories {
		if err := ref.Validate(); err != nil {
			return nil, errors.Wrap(errors.InvalidRequest, "invalid repository", err)
		}
	}

	batch := &analysis.BatchResult{
		BatchID:      uuid.New().String(),
		Status:       analysis.StatusRunning,
		CreatedAt:    time.Now().UTC(),
		Repositories: make([]analysis.RepoOutcome, len(req.Repositories)),
	}
	for i, ref := range req.Repositories {
		batch.Repositories[i] = analysis.RepoOutcome{Repository: ref, Status: analysis.StatusPending}
	}
	if err := o.store.SaveBatch(batch); err != nil {
		return nil, errors.Wrap(errors.StoreUnavailable, "persist batch", err)
	}
	return batch, nil
}

func (o *Orchestrator) run(ctx context.Context, batch *analysis.BatchResult, req analysis.BatchRequest) *analysis.BatchResult {
	log := o.logger.With(map[string]interface{}{"batchId": batch.BatchID})
	log.Info("Batch submitted", map[string]interface{}{
		"repositories": len(req.Repositories),
	})

	var pending []pendingEntry
	for i, ref := range req.Repositories {
		entry, outcome := o.dispatch(ctx, ref, req, log)
		if entry != nil {
			entry.idx = i
			pending = append(pending, *entry)
			batch.Repositories[i].AnalysisID = entry.job.AnalysisID()
			batch.Repositories[i].Status = analysis.StatusRunning
			continue
		}
		batch.Repositories[i] = *outcome
	}

	o.await(ctx, batch, pending)

	completed := batch.CompletedRecords()
	if req.IncludeCorrelation && len(completed) >= 2 {
		batch.Graph = correlate.BuildGraph(completed)
	}

	now := time.Now().UTC()
	batch.CompletedAt = &now
	if ctx.Err() != nil {
		batch.Status = analysis.StatusFailed
	} else {
		batch.Status = analysis.StatusCompleted
	}

	if err := o.store.SaveBatch(batch); err != nil {
		log.Error("Persist batch result failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	log.Info("Batch finished", map[string]interface{}{
		"status":    string(batch.Status),
		"completed": len(completed),
		"edges":     len(batch.Graph.Edges),
	})
	return batch
}

// dispatch resolves one repository of a batch: reuse a stored record,
// attach to an in-flight job, or create and enqueue a new one. Exactly one
// of the return values is non-nil.
func (o *Orchestrator) dispatch(ctx context.Context, ref analysis.RepositoryRef, req analysis.BatchRequest, log *logging.Logger) (*pendingEntry, *analysis.RepoOutcome) {
	fp, err := o.git.LatestFingerprint(ctx, ref)
	if err != nil {
		// Unknown fingerprint feeds the cache decision, which prefers
		// reuse over a blind re-run.
		log.Warn("Fingerprint probe failed", map[string]interface{}{
			"repository": ref.Name(),
			"error":      err.Error(),
		})
		fp = analysis.Fingerprint{}
	}

	// A job already running for this exact work serves every requester.
	if job, ok := o.registry.InFlight(ref, fp); ok {
		return &pendingEntry{job: job}, nil
	}

	decision, err := o.index.Decide(ref, fp)
	if err != nil {
		log.Warn("Cache lookup failed, running fresh analysis", map[string]interface{}{
			"repository": ref.Name(),
			"error":      err.Error(),
		})
		decision = cache.Decision{Kind: cache.RunNew}
	}
	if decision.Kind == cache.ReuseExisting {
		return nil, &analysis.RepoOutcome{
			Repository: ref,
			AnalysisID: decision.Record.AnalysisID,
			Status:     analysis.StatusCompleted,
			Reused:     true,
			Record:     decision.Record,
		}
	}

	job, created := o.registry.AcquireOrAttach(ref, fp, func() *Job {
		return newJob(ref, fp)
	})
	if !created {
		return &pendingEntry{job: job}, nil
	}

	if err := o.store.CreateRecord(job.Record()); err != nil {
		o.registry.Release(ref, fp)
		job.finish()
		return nil, &analysis.RepoOutcome{
			Repository: ref,
			AnalysisID: job.AnalysisID(),
			Status:     analysis.StatusFailed,
			Record:     failedRecord(job, errors.Wrap(errors.StoreUnavailable, "persist analysis record", err)),
		}
	}

	t := &task{job: job, fp: fp, req: req}
	select {
	case o.queue <- t:
	case <-ctx.Done():
		o.registry.Release(ref, fp)
		cancelErr := errors.Wrap(errors.JobCancelled, "batch cancelled before dispatch", ctx.Err())
		rec := failedRecord(job, cancelErr)
		if uerr := o.store.UpdateRecord(rec); uerr != nil {
			log.Error("Persist cancelled record failed", map[string]interface{}{
				"error": uerr.Error(),
			})
		}
		job.finish()
		return nil, &analysis.RepoOutcome{
			Repository: ref,
			AnalysisID: job.AnalysisID(),
			Status:     analysis.StatusFailed,
			Record:     rec,
		}
	}
	return &pendingEntry{job: job, created: true}, nil
}

// await is the batch barrier: it blocks until every pending job is
// terminal. Context cancellation cancels the jobs this batch created and
// still waits for them to settle.
func (o *Orchestrator) await(ctx context.Context, batch *analysis.BatchResult, pending []pendingEntry) {
	for _, entry := range pending {
		select {
		case <-entry.job.Done():
		case <-ctx.Done():
			for _, e := range pending {
				if e.created {
					e.job.Cancel()
				}
			}
			<-entry.job.Done()
		}

		rec := entry.job.Record()
		batch.Repositories[entry.idx].Status = rec.Status
		batch.Repositories[entry.idx].Record = rec
	}
}

// Cancel requests cancellation of an in-flight analysis. Returns false
// when no in-flight job produces the given record.
func (o *Orchestrator) Cancel(analysisID string) bool {
	job, ok := o.registry.FindByAnalysisID(analysisID)
	if !ok {
		return false
	}
	job.Cancel()
	return true
}

// InFlightCount reports the number of jobs currently registered.
func (o *Orchestrator) InFlightCount() int {
	return o.registry.Len()
}

func failedRecord(job *Job, cause error) *analysis.Record {
	job.update(func(r *analysis.Record) { r.MarkFailed(cause) })
	return job.Record()
}
