package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	cgotel "github.com/Strob0t/ChangeGuard/internal/adapter/otel"
	"github.com/Strob0t/ChangeGuard/internal/config"
	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/event"
	"github.com/Strob0t/ChangeGuard/internal/domain/policy"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
	"github.com/Strob0t/ChangeGuard/internal/domain/webhook"
	"github.com/Strob0t/ChangeGuard/internal/logger"
	"github.com/Strob0t/ChangeGuard/internal/port/database"
	"github.com/Strob0t/ChangeGuard/internal/port/eventstore"
	"github.com/Strob0t/ChangeGuard/internal/port/llm"
	"github.com/Strob0t/ChangeGuard/internal/port/scm"
)

// finalizeTimeout bounds the writes after the pipeline ended, which run on
// a context detached from the evaluation deadline.
const finalizeTimeout = 15 * time.Second

// EvaluationService turns pull request events into evaluation runs. It owns
// keying, claiming, stage sequencing and the terminal write of every run.
type EvaluationService struct {
	store      database.Store
	events     eventstore.Store
	policies   *PolicyService
	fetcher    scm.EvidenceFetcher
	publisher  scm.Publisher
	projection *ProjectionService
	metrics    *cgotel.Metrics
	cfg        config.Evaluation

	classifier   llm.RiskClassifier
	maxDiffBytes int

	group singleflight.Group
	sem   *semaphore.Weighted
	runs  *runRegistry
	now   func() time.Time
}

// NewEvaluationService creates an EvaluationService.
func NewEvaluationService(
	store database.Store,
	events eventstore.Store,
	policies *PolicyService,
	fetcher scm.EvidenceFetcher,
	publisher scm.Publisher,
	projection *ProjectionService,
	cfg config.Evaluation,
) *EvaluationService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &EvaluationService{
		store:      store,
		events:     events,
		policies:   policies,
		fetcher:    fetcher,
		publisher:  publisher,
		projection: projection,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		runs:       newRunRegistry(),
		now:        time.Now,
	}
}

// SetClassifier enables the LLM risk stage. maxDiffBytes bounds the diff
// evidence handed to c.
func (s *EvaluationService) SetClassifier(c llm.RiskClassifier, maxDiffBytes int) {
	s.classifier = c
	s.maxDiffBytes = maxDiffBytes
}

// SetMetrics sets the OTEL metrics instruments.
func (s *EvaluationService) SetMetrics(m *cgotel.Metrics) { s.metrics = m }

// Submit evaluates ev and returns the outcome. Submissions of a key that is
// already being evaluated or already completed report that run with
// Duplicate set. Submit never returns an error; failures are ERROR outcomes.
func (s *EvaluationService) Submit(ctx context.Context, ev *webhook.PullRequestEvent) evaluation.Outcome {
	if err := ev.Validate(); err != nil {
		slog.WarnContext(ctx, "rejecting invalid event", "delivery_id", ev.DeliveryID, "error", err)
		s.metrics.RecordSubmit(ctx, cgotel.SubmitRejected)
		return evaluation.ErrorOutcome("", evaluation.ReasonInvalidEvent)
	}

	repo := ev.PR.RepoFullName
	version, versionErr := s.policies.CurrentVersion(ctx, repo)
	if versionErr != nil {
		version = policy.UnresolvedVersion
		slog.WarnContext(ctx, "policy version unresolved", "repo", repo, "error", versionErr)
	}
	key := snapshot.Key{
		PR:            ev.PR,
		HeadSHA:       ev.HeadSHA,
		BodyHash:      snapshot.HashBody(ev.Body),
		PolicyVersion: version,
	}
	ref := scm.PullRef{PR: ev.PR, InstallationID: ev.InstallationID}
	ctx = logger.WithEvaluationKey(ctx, key.String())

	ran := false
	v, _, _ := s.group.Do(key.String(), func() (any, error) {
		ran = true
		return s.execute(ctx, ref, key, versionErr), nil
	})
	out := v.(evaluation.Outcome)
	out.ReasonCodes = slices.Clone(out.ReasonCodes)
	if !ran {
		out.Duplicate = true
	}
	s.recordSubmit(ctx, out)
	return out
}

func (s *EvaluationService) recordSubmit(ctx context.Context, out evaluation.Outcome) {
	switch {
	case out.Duplicate && out.Status == evaluation.StatusProcessing:
		s.metrics.RecordSubmit(ctx, cgotel.SubmitProcessing)
	case out.Duplicate:
		s.metrics.RecordSubmit(ctx, cgotel.SubmitDuplicate)
	default:
		s.metrics.RecordSubmit(ctx, cgotel.SubmitExecuted)
	}
}

// execute claims the next attempt for key and runs the pipeline if the
// claim succeeds. Admission and the pipeline each get cfg.Timeout.
func (s *EvaluationService) execute(parent context.Context, ref scm.PullRef, key snapshot.Key, versionErr error) evaluation.Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.Timeout)
	defer cancel()

	if err := s.store.EnsurePullRequest(ctx, key.PR); err != nil {
		slog.ErrorContext(ctx, "ensure pull request", "error", err)
		return evaluation.ErrorOutcome(key.String(), evaluation.ReasonPersistenceFailed)
	}

	attempt, prior, err := s.nextAttempt(ctx, key)
	if err != nil {
		slog.ErrorContext(ctx, "read latest run", "error", err)
		return evaluation.ErrorOutcome(key.String(), evaluation.ReasonPersistenceFailed)
	}
	if prior != nil {
		out := prior.Outcome()
		out.Duplicate = true
		return out
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		slog.WarnContext(ctx, "evaluation capacity exhausted", "max_concurrent", s.cfg.MaxConcurrent)
		return evaluation.ErrorOutcome(key.String(), evaluation.ReasonCapacityExceeded)
	}
	defer s.sem.Release(1)

	// The wait for a slot does not count against the run's own budget.
	ctx, cancelRun := context.WithTimeout(context.WithoutCancel(parent), s.cfg.Timeout)
	defer cancelRun()

	run := evaluation.NewRun(uuid.NewString(), key, attempt, s.now())
	claimed, err := s.store.ClaimRun(ctx, &run)
	if err != nil {
		slog.ErrorContext(ctx, "claim run", "attempt", attempt, "error", err)
		return evaluation.ErrorOutcome(key.String(), evaluation.ReasonPersistenceFailed)
	}
	if !claimed {
		return s.lostClaim(ctx, key)
	}

	s.metrics.RecordInFlight(ctx, 1)
	defer s.metrics.RecordInFlight(ctx, -1)
	return s.runPipeline(ctx, ref, &run, versionErr)
}

// nextAttempt decides which attempt a submission of key would run. prior is
// set when the stored state of key must be reported instead.
func (s *EvaluationService) nextAttempt(ctx context.Context, key snapshot.Key) (int, *evaluation.Run, error) {
	latest, err := s.store.LatestRun(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return 1, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}

	if latest.Status == evaluation.StatusProcessing {
		if s.now().Sub(latest.StartedAt) < 2*s.cfg.Timeout {
			return 0, latest, nil
		}
		latest, err = s.abandon(ctx, latest)
		if err != nil {
			return 0, nil, err
		}
	}
	if latest.Status != evaluation.StatusError || latest.Attempt >= s.cfg.MaxAttempts {
		return 0, latest, nil
	}
	return latest.Attempt + 1, nil, nil
}

// abandon completes a run whose executor vanished as ERROR so that the key
// can be retried. It returns the stored terminal run.
func (s *EvaluationService) abandon(ctx context.Context, r *evaluation.Run) (*evaluation.Run, error) {
	ended := s.now()
	r.Status = evaluation.StatusError
	r.ReasonCodes = []evaluation.ReasonCode{evaluation.ReasonPersistenceFailed}
	r.ErrorDetail = "run abandoned after timeout"
	r.EndedAt = &ended

	err := s.store.CompleteRun(ctx, r)
	switch {
	case err == nil:
		slog.WarnContext(ctx, "abandoned run completed as error", "run_id", r.ID, "attempt", r.Attempt)
		s.appendEvent(ctx, r, event.TypeRunCompleted, "", evaluation.ReasonPersistenceFailed, nil)
		return r, nil
	case errors.Is(err, domain.ErrConflict):
		return s.store.LatestRun(ctx, r.Key)
	default:
		return nil, err
	}
}

// lostClaim reports the run of the submission that won the claim race.
func (s *EvaluationService) lostClaim(ctx context.Context, key snapshot.Key) evaluation.Outcome {
	latest, err := s.store.LatestRun(ctx, key)
	if err != nil {
		out := evaluation.Outcome{EvaluationKey: key.String(), Status: evaluation.StatusProcessing, ReasonCodes: []evaluation.ReasonCode{}}
		out.Duplicate = true
		return out
	}
	out := latest.Outcome()
	out.Duplicate = true
	return out
}

// runPipeline executes the ordered stages for a claimed run and writes its
// terminal state.
func (s *EvaluationService) runPipeline(ctx context.Context, ref scm.PullRef, run *evaluation.Run, versionErr error) evaluation.Outcome {
	ctx, span := cgotel.StartEvaluationSpan(ctx, run.EvaluationKey, run.Attempt)
	defer span.End()

	flag := &cancelFlag{key: run.EvaluationKey}
	defer s.runs.release(run.Key.PR, flag)

	slog.InfoContext(ctx, "evaluation started", "run_id", run.ID, "attempt", run.Attempt)
	s.appendEvent(ctx, run, event.TypeRunStarted, "", "", nil)

	st := State{
		Ref:        ref,
		Key:        run.Key,
		RunID:      run.ID,
		Attempt:    run.Attempt,
		versionErr: versionErr,
		cancel:     flag,
	}
	var err error
	for _, stage := range buildStages(s) {
		if flag.isSet() {
			err = evaluation.ErrSuperseded
			break
		}
		st, err = s.runStage(ctx, run, stage, st)
		if err != nil {
			break
		}
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	return s.finalize(fctx, run, st, err)
}

// runStage runs one stage with its span, trail events and metrics.
func (s *EvaluationService) runStage(ctx context.Context, run *evaluation.Run, stage Stage, st State) (State, error) {
	name := stage.Name()
	sctx, span := cgotel.StartStageSpan(ctx, name)
	s.appendEvent(ctx, run, event.TypeStageStarted, name, "", nil)
	s.projection.StageProgress(ctx, run, name, event.TypeStageStarted, "")

	start := time.Now()
	next, err := stage.Run(sctx, st)

	var (
		reason evaluation.ReasonCode
		se     *evaluation.StageError
	)
	switch {
	case err == nil:
	case errors.Is(err, evaluation.ErrSuperseded):
		reason = evaluation.ReasonSnapshotSuperseded
	case errors.As(err, &se):
		reason = se.Code
	default:
		err = evaluation.NewStageError(name, stage.FailureCode(), err)
		reason = stage.FailureCode()
	}
	cgotel.EndSpan(span, err)
	s.metrics.RecordStage(ctx, name, string(reason), time.Since(start))

	if err != nil {
		slog.WarnContext(ctx, "stage failed", "stage", name, "reason", reason, "error", err)
		s.appendEvent(ctx, run, event.TypeStageFailed, name, reason, map[string]string{"error": err.Error()})
		s.projection.StageProgress(ctx, run, name, event.TypeStageFailed, reason)
		return next, err
	}
	s.appendEvent(ctx, run, event.TypeStageCompleted, name, "", nil)
	s.projection.StageProgress(ctx, run, name, event.TypeStageCompleted, "")
	return next, nil
}

// finalize derives the terminal state of run from the pipeline result,
// writes it and updates the projection.
func (s *EvaluationService) finalize(ctx context.Context, run *evaluation.Run, st State, err error) evaluation.Outcome {
	fillRun(run, st)

	var se *evaluation.StageError
	switch {
	case err == nil && st.Freshness == evaluation.Stale:
		run.ComputedStatus = st.Decision.Status
		run.Status = evaluation.StatusStale
		run.ReasonCodes = evaluation.AppendReason(st.Decision.ReasonCodes, evaluation.ReasonSnapshotSuperseded)
	case err == nil:
		run.Status = st.Decision.Status
		run.ReasonCodes = slices.Clone(st.Decision.ReasonCodes)
	case errors.Is(err, evaluation.ErrSuperseded):
		run.ComputedStatus = st.Decision.Status
		run.Status = evaluation.StatusStale
		run.ReasonCodes = evaluation.AppendReason(st.Decision.ReasonCodes, evaluation.ReasonSnapshotSuperseded)
		slog.InfoContext(ctx, "evaluation superseded", "run_id", run.ID)
		s.appendEvent(ctx, run, event.TypeRunCancelled, "", evaluation.ReasonSnapshotSuperseded, nil)
	case errors.As(err, &se):
		run.Status = evaluation.StatusError
		run.ReasonCodes = []evaluation.ReasonCode{se.Code}
		run.ErrorDetail = err.Error()
		if se.Code != evaluation.ReasonPublishFailed {
			s.publishError(ctx, st, run)
		}
	default:
		run.Status = evaluation.StatusError
		run.ReasonCodes = []evaluation.ReasonCode{evaluation.ReasonPersistenceFailed}
		run.ErrorDetail = err.Error()
	}
	if run.ReasonCodes == nil {
		run.ReasonCodes = []evaluation.ReasonCode{}
	}
	ended := s.now()
	run.EndedAt = &ended

	if cerr := s.store.CompleteRun(ctx, run); cerr != nil {
		slog.ErrorContext(ctx, "complete run", "run_id", run.ID, "error", cerr)
		if errors.Is(cerr, domain.ErrConflict) {
			return s.lostClaim(ctx, run.Key)
		}
		return evaluation.ErrorOutcome(run.EvaluationKey, evaluation.ReasonPersistenceFailed)
	}
	s.appendEvent(ctx, run, event.TypeRunCompleted, "", "", map[string]string{"status": string(run.Status)})

	if _, perr := s.projection.Apply(ctx, run); perr != nil {
		slog.ErrorContext(ctx, "apply projection", "run_id", run.ID, "error", perr)
	}
	s.metrics.RecordCompletion(ctx, string(run.Status), run.Attempt, ended.Sub(run.StartedAt))
	slog.InfoContext(ctx, "evaluation completed",
		"run_id", run.ID,
		"attempt", run.Attempt,
		"status", run.Status,
		"reason_codes", run.ReasonCodes,
	)
	return run.Outcome()
}

// publishError makes an infrastructure failure visible on the evaluated
// head. Failures are logged only; the run is already ERROR.
func (s *EvaluationService) publishError(ctx context.Context, st State, run *evaluation.Run) {
	pub := publication(st)
	pub.Status = evaluation.StatusError
	pub.ComputedStatus = ""
	pub.ReasonCodes = run.ReasonCodes
	if err := s.publisher.Publish(ctx, st.Ref, pub); err != nil {
		slog.WarnContext(ctx, "publish error result failed", "run_id", run.ID, "error", err)
	}
}

// fillRun copies the stage results that were reached onto run.
func fillRun(run *evaluation.Run, st State) {
	run.PolicyRisk = st.PolicyRisk
	run.SystemRisk = st.Decision.SystemRisk
	run.UserRisk = st.Declaration.UserRisk
	run.TicketKey = st.TicketKey
	run.Findings = st.Findings
	if a := st.Assessment; a != nil {
		run.LLMRisk = a.Risk
		run.LLMModel = a.Model
		run.PromptVersion = a.PromptVersion
		run.LLMRationale = a.Rationale
		run.LLMConfidence = a.Confidence
	}
}

// appendEvent records a trail entry. Trail writes never fail a run.
func (s *EvaluationService) appendEvent(ctx context.Context, run *evaluation.Run, typ event.Type, stage string, reason evaluation.ReasonCode, payload map[string]string) {
	if s.events == nil {
		return
	}
	ev := &event.StageEvent{
		EvaluationKey: run.EvaluationKey,
		Attempt:       run.Attempt,
		Type:          typ,
		Stage:         stage,
		ReasonCode:    string(reason),
		RequestID:     logger.RequestID(ctx),
		CreatedAt:     s.now(),
	}
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err == nil {
			ev.Payload = data
		}
	}
	if err := s.events.Append(ctx, ev); err != nil {
		slog.WarnContext(ctx, "append stage event", "type", typ, "stage", stage, "error", err)
	}
}
