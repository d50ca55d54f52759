package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mathvizai/mathviz/constants"
	"github.com/mathvizai/mathviz/internal/artifact"
	"github.com/mathvizai/mathviz/internal/common"
	"github.com/mathvizai/mathviz/internal/job"
	"github.com/mathvizai/mathviz/internal/store"
)

// Orchestrator runs jobs through the pipeline definition. Cross-job
// concurrency is bounded by a worker semaphore; within a job, stages run
// strictly in order. All job mutation goes through the store's atomic Update,
// and no lock is held across a stage's external call.
type Orchestrator struct {
	store     store.Store
	artifacts *artifact.Store
	defn      *Definition
	cfg       common.PipelineConfig
	log       *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func NewOrchestrator(st store.Store, art *artifact.Store, defn *Definition, cfg common.PipelineConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cap := cfg.ConcurrencyCap
	if cap < 1 {
		cap = 1
	}
	return &Orchestrator{
		store:     st,
		artifacts: art,
		defn:      defn,
		cfg:       cfg,
		log:       logger,
		sem:       make(chan struct{}, cap),
		cancels:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Dispatch schedules the job asynchronously. Admission control: the run waits
// for a worker slot, so excess jobs queue instead of spawning unbounded
// concurrent external calls.
func (o *Orchestrator) Dispatch(jobID uuid.UUID) {
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, jobID)
			o.mu.Unlock()
			cancel()
		}()

		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-ctx.Done():
			o.markCancelled(jobID)
			return
		}
		o.run(ctx, jobID)
	}()
}

// Cancel signals the job's run to stop at the next stage boundary (or inside
// an in-flight external call, via context). Reports whether a run was found.
func (o *Orchestrator) Cancel(jobID uuid.UUID) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until all dispatched runs finish. Used on shutdown and by the
// one-shot CLI.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// run executes the pipeline for one job to completion, failure, or cancellation.
func (o *Orchestrator) run(ctx context.Context, jobID uuid.UUID) {
	j, err := o.store.Get(ctx, jobID)
	if err != nil {
		o.log.Error("orchestrator.load_failed", "job_id", jobID, "error", err)
		return
	}
	if j.IsTerminal() {
		o.log.Warn("orchestrator.already_terminal", "job_id", jobID, "status", j.Status)
		return
	}

	rc := &RunContext{JobID: jobID, Config: o.cfg, Logger: o.log}
	start := time.Now()
	o.log.Info("orchestrator.start", "job_id", jobID, "stages", o.defn.Len())

	var current any = j.Input
	for k := 0; k < o.defn.Len(); k++ {
		// Cancellation is observed between stages.
		if ctx.Err() != nil {
			o.markCancelled(jobID)
			return
		}

		spec := o.defn.Spec(k)
		name := spec.Stage.Name()

		updated, err := o.store.Update(ctx, jobID, func(jb *job.Job) {
			_ = jb.MarkRunning(k, name)
		})
		if err != nil {
			o.log.Error("orchestrator.update_failed", "job_id", jobID, "stage", name, "error", err)
			return
		}
		// A stale run must not advance a job that was terminated externally.
		if updated.IsTerminal() {
			o.log.Warn("orchestrator.terminated_externally", "job_id", jobID, "status", updated.Status)
			return
		}

		out, attempts, stageErr := o.runStage(ctx, rc, spec, current)
		if stageErr != nil {
			if ctx.Err() != nil && stageErr.Kind != constants.ErrKindInvalidInput {
				o.markCancelled(jobID)
				return
			}
			o.log.Error("orchestrator.stage.failed",
				"job_id", jobID, "stage", name, "kind", stageErr.Kind,
				"attempts", attempts, "error", stageErr.Message)
			_, _ = o.store.Update(context.Background(), jobID, func(jb *job.Job) {
				_ = jb.MarkFailed(stageErr)
			})
			return
		}

		payload, err := json.Marshal(out)
		if err != nil {
			// Stage outputs are for traceability; a payload that cannot be
			// serialized still advances the pipeline.
			o.log.Warn("orchestrator.stage.trace_encode_failed", "job_id", jobID, "stage", name, "error", err)
			payload = nil
		}
		_, err = o.store.Update(ctx, jobID, func(jb *job.Job) {
			jb.AppendOutput(job.StageOutput{
				Stage:      name,
				Payload:    payload,
				Attempts:   attempts,
				FinishedAt: time.Now().UTC(),
			})
		})
		if err != nil {
			o.log.Error("orchestrator.update_failed", "job_id", jobID, "stage", name, "error", err)
			return
		}
		o.log.Info("orchestrator.stage.ok", "job_id", jobID, "stage", name, "index", k, "attempts", attempts)
		current = out
	}

	final, ok := current.(Artifacter)
	if !ok {
		_, _ = o.store.Update(context.Background(), jobID, func(jb *job.Job) {
			_ = jb.MarkFailed(job.NewStageError(constants.ErrKindInternal,
				o.defn.Spec(o.defn.Len()-1).Stage.Name(),
				"final stage produced no artifact", false))
		})
		return
	}
	ref, err := o.artifacts.Put(jobID, final.ArtifactBytes())
	if err != nil {
		_, _ = o.store.Update(context.Background(), jobID, func(jb *job.Job) {
			_ = jb.MarkFailed(job.NewStageError(constants.ErrKindInternal,
				o.defn.Spec(o.defn.Len()-1).Stage.Name(),
				"commit artifact: "+err.Error(), false))
		})
		return
	}
	_, _ = o.store.Update(ctx, jobID, func(jb *job.Job) {
		_ = jb.MarkSucceeded(ref)
	})
	o.log.Info("orchestrator.succeeded", "job_id", jobID, "artifact_ref", ref,
		"elapsed_ms", time.Since(start).Milliseconds())
}

// runStage invokes one stage with its timeout, retrying retryable failures
// within the stage's budget using capped exponential backoff. Returns the
// output, the number of attempts made, and the final failure if any.
func (o *Orchestrator) runStage(ctx context.Context, rc *RunContext, spec StageSpec, input any) (any, int, *job.StageError) {
	name := spec.Stage.Name()
	attempts := 0

	for {
		attempts++

		stageCtx := ctx
		var cancel context.CancelFunc
		if spec.Timeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		}
		out, err := spec.Stage.Execute(stageCtx, rc, input)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return out, attempts, nil
		}

		stageErr := o.classify(err, name, spec)
		if stageErr.Retryable && attempts <= spec.MaxRetries && ctx.Err() == nil {
			delay := backoff(o.cfg.BackoffBase, o.cfg.BackoffCap, attempts)
			o.log.Warn("orchestrator.stage.retry",
				"job_id", rc.JobID, "stage", name, "attempt", attempts,
				"backoff_ms", delay.Milliseconds(), "error", stageErr.Message)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, attempts, stageErr
			}
			continue
		}
		return nil, attempts, stageErr
	}
}

// classify converts an arbitrary stage failure into a structured StageError.
// Stage timeouts count as transient upstream failures when the stage carries a
// retry budget, internal otherwise.
func (o *Orchestrator) classify(err error, stage string, spec StageSpec) *job.StageError {
	var se *job.StageError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if spec.MaxRetries > 0 {
			return job.NewStageError(constants.ErrKindTransientUpstream, stage,
				"stage timed out after "+spec.Timeout.String(), true)
		}
		return job.NewStageError(constants.ErrKindInternal, stage,
			"stage timed out after "+spec.Timeout.String(), false)
	}
	return job.NewStageError(constants.ErrKindInternal, stage, err.Error(), false)
}

func (o *Orchestrator) markCancelled(jobID uuid.UUID) {
	_, err := o.store.Update(context.Background(), jobID, func(jb *job.Job) {
		_ = jb.MarkCancelled()
	})
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		o.log.Error("orchestrator.cancel_update_failed", "job_id", jobID, "error", err)
	}
	o.log.Info("orchestrator.cancelled", "job_id", jobID)
}

// backoff returns base * 2^(attempt-1), capped.
func backoff(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if cap > 0 && d >= cap {
			return cap
		}
	}
	if cap > 0 && d > cap {
		return cap
	}
	return d
}
