package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/evidence"
	"github.com/Strob0t/ChangeGuard/internal/domain/policy"
	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
	"github.com/Strob0t/ChangeGuard/internal/domain/template"
	"github.com/Strob0t/ChangeGuard/internal/port/database"
	"github.com/Strob0t/ChangeGuard/internal/port/llm"
	"github.com/Strob0t/ChangeGuard/internal/port/scm"
)

// Stage names, in pipeline order.
const (
	StageFetchEvidence   = "fetch_evidence"
	StageSupersede       = "supersede"
	StagePersistSnapshot = "persist_snapshot"
	StageLoadPolicy      = "load_policy"
	StageTicketCheck     = "ticket_check"
	StagePolicyMatch     = "policy_match"
	StageTemplateParse   = "template_parse"
	StageLLMRisk         = "llm_risk"
	StageReconcile       = "reconcile"
	StageStaleness       = "staleness"
	StagePublish         = "publish"
)

// State is the value threaded through the pipeline. Stages receive a copy
// and return the next value; slices and pointers they set are never
// mutated afterwards.
type State struct {
	Ref     scm.PullRef
	Key     snapshot.Key
	RunID   string
	Attempt int

	Snapshot *snapshot.Snapshot
	Diff     string

	Rules       *policy.Rules
	TicketKey   string
	TicketFound bool
	PolicyRisk  risk.Level
	Findings    []policy.Finding
	Declaration template.Declaration
	Assessment  *llm.Assessment
	Decision    evaluation.Decision

	Freshness evaluation.Freshness
	Current   *scm.Evidence

	// versionErr is set when the current policy version could not be
	// resolved; load_policy fails with it.
	versionErr error
	cancel     *cancelFlag
}

// Stage is one step of the evaluation pipeline.
type Stage interface {
	Name() string
	// FailureCode is the reason code a run ends with when Run fails with
	// an error that is not already a StageError.
	FailureCode() evaluation.ReasonCode
	Run(ctx context.Context, st State) (State, error)
}

// cancelFlag is the cooperative cancellation flag of one executing run.
type cancelFlag struct {
	key       string
	cancelled atomic.Bool
}

func (f *cancelFlag) set()        { f.cancelled.Store(true) }
func (f *cancelFlag) isSet() bool { return f != nil && f.cancelled.Load() }

// runRegistry tracks the newest verified run per pull request.
type runRegistry struct {
	mu     sync.Mutex
	active map[snapshot.PRIdentity]*cancelFlag
}

func newRunRegistry() *runRegistry {
	return &runRegistry{active: make(map[snapshot.PRIdentity]*cancelFlag)}
}

// supersede makes flag the active run of pr and cancels the run it
// replaces when that run evaluates a different key.
func (r *runRegistry) supersede(pr snapshot.PRIdentity, flag *cancelFlag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.active[pr]; old != nil && old != flag && old.key != flag.key {
		old.set()
	}
	r.active[pr] = flag
}

// release forgets flag if it is still the active run of pr.
func (r *runRegistry) release(pr snapshot.PRIdentity, flag *cancelFlag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[pr] == flag {
		delete(r.active, pr)
	}
}

// fetchEvidenceStage reads the PR and aborts as superseded when the live
// head or body already differ from the key.
type fetchEvidenceStage struct {
	fetcher  scm.EvidenceFetcher
	withDiff bool
	now      func() time.Time
}

func (fetchEvidenceStage) Name() string                       { return StageFetchEvidence }
func (fetchEvidenceStage) FailureCode() evaluation.ReasonCode { return evaluation.ReasonGitHubAPIFailed }

func (s fetchEvidenceStage) Run(ctx context.Context, st State) (State, error) {
	ev, err := s.fetcher.FetchEvidence(ctx, st.Ref, s.withDiff)
	if err != nil {
		return st, evaluation.NewStageError(StageFetchEvidence, evaluation.ReasonGitHubAPIFailed, err)
	}
	live := snapshot.KeyFields{HeadSHA: ev.HeadSHA, BodyHash: snapshot.HashBody(ev.Body)}
	if evaluation.CheckFreshness(st.Key.Fields(), live) == evaluation.Stale {
		st.Current = ev
		return st, evaluation.ErrSuperseded
	}
	st.Snapshot = &snapshot.Snapshot{
		ID:           uuid.NewString(),
		Key:          st.Key,
		Title:        ev.Title,
		Body:         ev.Body,
		ChangedFiles: ev.Files,
		CreatedAt:    s.now(),
	}
	st.Diff = ev.Diff
	return st, nil
}

// supersedeStage marks older runs of the same PR as cancelled once the
// fetched evidence confirmed that this key is the live one.
type supersedeStage struct {
	runs *runRegistry
}

func (supersedeStage) Name() string                       { return StageSupersede }
func (supersedeStage) FailureCode() evaluation.ReasonCode { return evaluation.ReasonSnapshotSuperseded }

func (s supersedeStage) Run(_ context.Context, st State) (State, error) {
	s.runs.supersede(st.Key.PR, st.cancel)
	return st, nil
}

type persistSnapshotStage struct {
	store database.SnapshotStore
}

func (persistSnapshotStage) Name() string                       { return StagePersistSnapshot }
func (persistSnapshotStage) FailureCode() evaluation.ReasonCode { return evaluation.ReasonPersistenceFailed }

func (s persistSnapshotStage) Run(ctx context.Context, st State) (State, error) {
	if _, err := s.store.PutSnapshot(ctx, st.Snapshot); err != nil {
		return st, evaluation.NewStageError(StagePersistSnapshot, evaluation.ReasonPersistenceFailed, err)
	}
	stored, err := s.store.GetSnapshot(ctx, st.Key)
	if err != nil {
		return st, evaluation.NewStageError(StagePersistSnapshot, evaluation.ReasonPersistenceFailed, err)
	}
	st.Snapshot = stored
	return st, nil
}

type loadPolicyStage struct {
	policies *PolicyService
}

func (loadPolicyStage) Name() string                       { return StageLoadPolicy }
func (loadPolicyStage) FailureCode() evaluation.ReasonCode { return evaluation.ReasonPolicyLoadFailed }

func (s loadPolicyStage) Run(ctx context.Context, st State) (State, error) {
	if st.versionErr != nil {
		return st, evaluation.NewStageError(StageLoadPolicy, evaluation.ReasonPolicyLoadFailed, st.versionErr)
	}
	rules, err := s.policies.Load(ctx, st.Key.PR.RepoFullName, st.Key.PolicyVersion)
	if err != nil {
		return st, evaluation.NewStageError(StageLoadPolicy, evaluation.ReasonPolicyLoadFailed, err)
	}
	st.Rules = rules
	return st, nil
}

// localStage gives stages that make no external call a neutral failure
// code.
type localStage struct{}

func (localStage) FailureCode() evaluation.ReasonCode { return evaluation.ReasonInternalError }

type ticketCheckStage struct{ localStage }

func (ticketCheckStage) Name() string { return StageTicketCheck }

func (ticketCheckStage) Run(_ context.Context, st State) (State, error) {
	st.TicketKey, st.TicketFound = st.Rules.TicketKey(st.Snapshot.Title)
	return st, nil
}

type policyMatchStage struct{ localStage }

func (policyMatchStage) Name() string { return StagePolicyMatch }

func (policyMatchStage) Run(_ context.Context, st State) (State, error) {
	paths := st.Snapshot.Paths()
	st.PolicyRisk = policy.Match(paths, st.Rules)
	st.Findings = policy.Explain(paths, st.Rules)
	return st, nil
}

type templateParseStage struct{ localStage }

func (templateParseStage) Name() string { return StageTemplateParse }

func (templateParseStage) Run(_ context.Context, st State) (State, error) {
	st.Declaration = template.Parse(st.Snapshot.Body)
	return st, nil
}

// llmRiskStage asks the classifier for a second opinion on the bounded
// diff. It is left out of the pipeline when no classifier is configured.
type llmRiskStage struct {
	classifier   llm.RiskClassifier
	maxDiffBytes int
}

func (llmRiskStage) Name() string                       { return StageLLMRisk }
func (llmRiskStage) FailureCode() evaluation.ReasonCode { return evaluation.ReasonLLMCallFailed }

func (s llmRiskStage) Run(ctx context.Context, st State) (State, error) {
	bounded, err := evidence.Bound(st.Diff, s.maxDiffBytes)
	if err != nil {
		return st, evaluation.NewStageError(StageLLMRisk, evaluation.ReasonLLMCallFailed, fmt.Errorf("bound diff: %w", err))
	}
	a, err := s.classifier.Classify(ctx, &llm.Evidence{
		Title:        st.Snapshot.Title,
		Files:        st.Snapshot.ChangedFiles,
		Diff:         bounded.Diff,
		Truncated:    bounded.Truncated,
		OmittedFiles: bounded.OmittedFiles,
		ChangeTypes:  st.Rules.ChangeTypes,
	})
	if err != nil {
		return st, evaluation.NewStageError(StageLLMRisk, evaluation.ReasonLLMCallFailed, err)
	}
	if !a.Risk.IsDetermined() {
		return st, evaluation.NewStageError(StageLLMRisk, evaluation.ReasonLLMCallFailed,
			fmt.Errorf("classifier returned risk %q", a.Risk))
	}
	st.Assessment = a
	return st, nil
}

type reconcileStage struct{ localStage }

func (reconcileStage) Name() string { return StageReconcile }

func (reconcileStage) Run(_ context.Context, st State) (State, error) {
	in := evaluation.Inputs{
		TicketFound: st.TicketFound,
		PolicyRisk:  st.PolicyRisk,
		Declaration: st.Declaration,
	}
	if st.Assessment != nil {
		in.LLMRisk = st.Assessment.Risk
	}
	st.Decision = evaluation.Reconcile(in)
	return st, nil
}

// stalenessStage re-reads the live head and body right before publishing.
type stalenessStage struct {
	fetcher scm.EvidenceFetcher
}

func (stalenessStage) Name() string                       { return StageStaleness }
func (stalenessStage) FailureCode() evaluation.ReasonCode { return evaluation.ReasonGitHubAPIFailed }

func (s stalenessStage) Run(ctx context.Context, st State) (State, error) {
	cur, err := s.fetcher.CurrentState(ctx, st.Ref)
	if err != nil {
		return st, evaluation.NewStageError(StageStaleness, evaluation.ReasonGitHubAPIFailed, err)
	}
	live := snapshot.KeyFields{HeadSHA: cur.HeadSHA, BodyHash: snapshot.HashBody(cur.Body)}
	st.Current = cur
	st.Freshness = evaluation.CheckFreshness(st.Key.Fields(), live)
	return st, nil
}

// publishStage posts the result. A stale result is published as neutral
// on the evaluated head sha.
type publishStage struct {
	publisher scm.Publisher
}

func (publishStage) Name() string                       { return StagePublish }
func (publishStage) FailureCode() evaluation.ReasonCode { return evaluation.ReasonPublishFailed }

func (s publishStage) Run(ctx context.Context, st State) (State, error) {
	if err := s.publisher.Publish(ctx, st.Ref, publication(st)); err != nil {
		return st, evaluation.NewStageError(StagePublish, evaluation.ReasonPublishFailed, err)
	}
	return st, nil
}

// publication renders the externally visible result of st.
func publication(st State) *scm.Publication {
	pub := &scm.Publication{
		Key:               st.Key,
		HeadSHA:           st.Key.HeadSHA,
		Status:            st.Decision.Status,
		ReasonCodes:       st.Decision.ReasonCodes,
		PolicyRisk:        st.PolicyRisk,
		SystemRisk:        st.Decision.SystemRisk,
		UserRisk:          st.Declaration.UserRisk,
		Findings:          st.Findings,
		EvaluatedHeadSHA:  st.Key.HeadSHA,
		EvaluatedBodyHash: st.Key.BodyHash,
		PolicyVersion:     st.Key.PolicyVersion,
	}
	if st.Assessment != nil {
		pub.LLMRisk = st.Assessment.Risk
		pub.LLMRationale = st.Assessment.Rationale
	}
	if st.Freshness == evaluation.Stale {
		pub.ComputedStatus = st.Decision.Status
		pub.Status = evaluation.StatusStale
		pub.ReasonCodes = evaluation.AppendReason(st.Decision.ReasonCodes, evaluation.ReasonSnapshotSuperseded)
		if st.Snapshot != nil {
			pub.EvaluatedBody = st.Snapshot.Body
		}
		if st.Current != nil {
			pub.CurrentHeadSHA = st.Current.HeadSHA
			pub.CurrentBody = st.Current.Body
		}
	}
	return pub
}

// buildStages returns the ordered pipeline. The LLM stage is included only
// when a classifier is configured.
func buildStages(s *EvaluationService) []Stage {
	stages := []Stage{
		fetchEvidenceStage{fetcher: s.fetcher, withDiff: s.classifier != nil, now: s.now},
		supersedeStage{runs: s.runs},
		persistSnapshotStage{store: s.store},
		loadPolicyStage{policies: s.policies},
		ticketCheckStage{},
		policyMatchStage{},
		templateParseStage{},
	}
	if s.classifier != nil {
		stages = append(stages, llmRiskStage{classifier: s.classifier, maxDiffBytes: s.maxDiffBytes})
	}
	return append(stages,
		reconcileStage{},
		stalenessStage{fetcher: s.fetcher},
		publishStage{publisher: s.publisher},
	)
}
