package engine

import (
	"context"
	"encoding/json"

	"repolens/internal/analysis"
	"repolens/internal/analyzers"
	"repolens/internal/errors"
	"repolens/internal/gitrepo"
	"repolens/internal/logging"
	"repolens/internal/stage"
)

// recordStore is the slice of the store the pipeline needs.
type recordStore interface {
	CreateRecord(rec *analysis.Record) error
	UpdateRecord(rec *analysis.Record) error
}

// pipeline runs the full sequence for one job: materialize, inventory,
// stages, summary. It persists the record after every transition so the
// store always reflects current progress.
type pipeline struct {
	git        gitrepo.Client
	store      recordStore
	structural *stage.Executor
	techstack  *stage.Executor

	maxFileSize int64
	logger      *logging.Logger
}

// execute drives the job to a terminal state. It never returns an error;
// failures land on the record.
func (p *pipeline) execute(job *Job, req analysis.BatchRequest) {
	ctx := job.ctx
	log := p.logger.With(map[string]interface{}{
		"analysisId": job.AnalysisID(),
		"repository": job.ref.Name(),
	})

	// A job can sit in the queue past its cancellation.
	if err := ctx.Err(); err != nil {
		p.fail(job, log, errors.Wrap(errors.JobCancelled, "analysis cancelled", err))
		return
	}

	job.update(func(r *analysis.Record) { r.MarkRunning() })
	p.persist(job, log)

	path, err := p.git.Materialize(ctx, job.ref)
	if err != nil {
		if ctx.Err() != nil {
			p.fail(job, log, errors.Wrap(errors.JobCancelled, "analysis cancelled", ctx.Err()))
			return
		}
		p.fail(job, log, errors.Wrap(errors.RepoUnavailable, "materialize repository", err))
		return
	}
	defer func() {
		if cerr := p.git.Cleanup(path); cerr != nil {
			log.Warn("Checkout cleanup failed", map[string]interface{}{"error": cerr.Error()})
		}
	}()

	p.enrichFingerprint(ctx, job, path)

	inv, err := analyzers.BuildInventory(path, p.maxFileSize)
	if err != nil {
		p.fail(job, log, errors.Wrap(errors.Internal, "build file inventory", err))
		return
	}

	in := stage.Input{
		Repository:       job.ref,
		LocalPath:        path,
		Files:            inv.Files,
		MaxFileSizeBytes: p.maxFileSize,
	}

	for _, exec := range p.selectStages(req) {
		result := exec.Run(ctx, in)
		job.update(func(r *analysis.Record) { r.AddStageResult(result) })
		p.persist(job, log)

		if err := ctx.Err(); err != nil {
			p.fail(job, log, errors.Wrap(errors.JobCancelled, "analysis cancelled", err))
			return
		}
		if result.Status == analysis.StageFailed && exec.Required() {
			p.fail(job, log, errors.New(errors.StageFailed, "required stage "+exec.Name()+" failed: "+result.ErrorDetail))
			return
		}
	}

	job.update(func(r *analysis.Record) {
		r.Summary = buildSummary(inv, r)
		r.MarkCompleted()
	})
	p.persist(job, log)
	log.Info("Analysis completed", map[string]interface{}{
		"stages": len(job.Record().StageResults),
	})
}

func (p *pipeline) selectStages(req analysis.BatchRequest) []*stage.Executor {
	var execs []*stage.Executor
	if req.IncludeStructural && p.structural != nil {
		execs = append(execs, p.structural)
	}
	if req.IncludeTechStack && p.techstack != nil {
		execs = append(execs, p.techstack)
	}
	return execs
}

// enrichFingerprint fills commit time and author from the checkout when
// the probe only produced a hash. Best effort.
func (p *pipeline) enrichFingerprint(ctx context.Context, job *Job, path string) {
	rec := job.Record()
	if rec.Fingerprint.Known() && !rec.Fingerprint.CommitTime.IsZero() {
		return
	}
	head, err := gitrepo.HeadFingerprint(ctx, path)
	if err != nil {
		return
	}
	job.update(func(r *analysis.Record) {
		if r.Fingerprint.CommitHash == "" {
			r.Fingerprint.CommitHash = head.CommitHash
		}
		if r.Fingerprint.CommitHash == head.CommitHash {
			r.Fingerprint.CommitTime = head.CommitTime
			r.Fingerprint.Author = head.Author
		}
	})
}

func (p *pipeline) fail(job *Job, log *logging.Logger, cause error) {
	job.update(func(r *analysis.Record) { r.MarkFailed(cause) })
	p.persist(job, log)
	log.Warn("Analysis failed", map[string]interface{}{
		"code":  string(errors.CodeOf(cause)),
		"error": cause.Error(),
	})
}

func (p *pipeline) persist(job *Job, log *logging.Logger) {
	if err := p.store.UpdateRecord(job.Record()); err != nil {
		log.Error("Persist analysis record failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// buildSummary rolls the inventory and the tech-stack payload into the
// record summary.
func buildSummary(inv *analyzers.Inventory, rec *analysis.Record) analysis.RepoSummary {
	summary := inv.Summarize()

	if sr := rec.StageResultFor(analysis.StageTechStack); sr != nil && sr.Status != analysis.StageFailed {
		var payload analysis.TechStackPayload
		if err := json.Unmarshal(sr.Payload, &payload); err == nil {
			if len(payload.Languages) > 0 {
				summary.Languages = payload.Languages
			}
			summary.Frameworks = payload.Frameworks
			for _, d := range payload.Dependencies {
				summary.Dependencies = append(summary.Dependencies, d.Name)
			}
		}
	}
	return summary
}
