package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/policy"
	"github.com/Strob0t/ChangeGuard/internal/domain/projection"
	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Pull requests & snapshots ---

func (s *Store) EnsurePullRequest(ctx context.Context, pr snapshot.PRIdentity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pull_requests (repo_full_name, pr_number) VALUES ($1, $2)
		 ON CONFLICT (repo_full_name, pr_number) DO NOTHING`,
		pr.RepoFullName, pr.Number)
	if err != nil {
		return fmt.Errorf("ensure pull request %s: %w", pr, err)
	}
	return nil
}

func (s *Store) PutSnapshot(ctx context.Context, snap *snapshot.Snapshot) (bool, error) {
	files, err := json.Marshal(orEmpty(snap.ChangedFiles))
	if err != nil {
		return false, fmt.Errorf("marshal changed files: %w", err)
	}
	k := snap.Key
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO pr_snapshots
		 (id, evaluation_key, repo_full_name, pr_number, head_sha, pr_body_hash, policy_version, pr_title, pr_body, changed_files, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (evaluation_key) DO NOTHING`,
		snap.ID, k.String(), k.PR.RepoFullName, k.PR.Number, k.HeadSHA, k.BodyHash, k.PolicyVersion,
		snap.Title, snap.Body, files, snap.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("put snapshot %s: %w", k, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetSnapshot(ctx context.Context, key snapshot.Key) (*snapshot.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, pr_title, pr_body, changed_files, created_at
		 FROM pr_snapshots WHERE evaluation_key = $1`, key.String())

	snap := snapshot.Snapshot{Key: key}
	var files []byte
	if err := row.Scan(&snap.ID, &snap.Title, &snap.Body, &files, &snap.CreatedAt); err != nil {
		return nil, notFoundWrap(err, "get snapshot %s", key)
	}
	if err := json.Unmarshal(files, &snap.ChangedFiles); err != nil {
		return nil, fmt.Errorf("unmarshal changed files: %w", err)
	}
	return &snap, nil
}

// --- Evaluation runs ---

const runColumns = `id, evaluation_key, attempt, repo_full_name, pr_number, head_sha, pr_body_hash, policy_version,
	status, computed_status, reason_codes, policy_risk, llm_risk, system_risk, user_risk, ticket_key, findings,
	llm_model, llm_prompt_version, llm_rationale, llm_confidence, error_detail, started_at, ended_at`

func (s *Store) ClaimRun(ctx context.Context, r *evaluation.Run) (bool, error) {
	findings, err := json.Marshal(orEmpty(r.Findings))
	if err != nil {
		return false, fmt.Errorf("marshal findings: %w", err)
	}
	k := r.Key
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO evaluation_runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		 ON CONFLICT (evaluation_key, attempt) DO NOTHING`,
		r.ID, r.EvaluationKey, r.Attempt, k.PR.RepoFullName, k.PR.Number, k.HeadSHA, k.BodyHash, k.PolicyVersion,
		string(r.Status), string(r.ComputedStatus), reasonArray(r.ReasonCodes),
		string(r.PolicyRisk), string(r.LLMRisk), string(r.SystemRisk), string(r.UserRisk), r.TicketKey, findings,
		r.LLMModel, r.PromptVersion, r.LLMRationale, r.LLMConfidence, r.ErrorDetail, r.StartedAt, nullTime(r.EndedAt))
	if err != nil {
		return false, fmt.Errorf("claim run %s attempt %d: %w", r.EvaluationKey, r.Attempt, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) LatestRun(ctx context.Context, key snapshot.Key) (*evaluation.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM evaluation_runs
		 WHERE evaluation_key = $1 ORDER BY attempt DESC LIMIT 1`, key.String())
	r, err := scanRun(row)
	if err != nil {
		return nil, notFoundWrap(err, "latest run %s", key)
	}
	return &r, nil
}

func (s *Store) CompleteRun(ctx context.Context, r *evaluation.Run) error {
	findings, err := json.Marshal(orEmpty(r.Findings))
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE evaluation_runs SET
		   status = $3, computed_status = $4, reason_codes = $5, policy_risk = $6, llm_risk = $7,
		   system_risk = $8, user_risk = $9, ticket_key = $10, findings = $11, llm_model = $12,
		   llm_prompt_version = $13, llm_rationale = $14, llm_confidence = $15, error_detail = $16, ended_at = $17
		 WHERE evaluation_key = $1 AND attempt = $2 AND status = 'PROCESSING'`,
		r.EvaluationKey, r.Attempt,
		string(r.Status), string(r.ComputedStatus), reasonArray(r.ReasonCodes), string(r.PolicyRisk), string(r.LLMRisk),
		string(r.SystemRisk), string(r.UserRisk), r.TicketKey, findings, r.LLMModel,
		r.PromptVersion, r.LLMRationale, r.LLMConfidence, r.ErrorDetail, nullTime(r.EndedAt))
	if err != nil {
		return fmt.Errorf("complete run %s attempt %d: %w", r.EvaluationKey, r.Attempt, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM evaluation_runs WHERE evaluation_key = $1 AND attempt = $2)`,
		r.EvaluationKey, r.Attempt).Scan(&exists); err != nil {
		return fmt.Errorf("complete run %s attempt %d: %w", r.EvaluationKey, r.Attempt, err)
	}
	if exists {
		return fmt.Errorf("complete run %s attempt %d: already terminal: %w", r.EvaluationKey, r.Attempt, domain.ErrConflict)
	}
	return fmt.Errorf("complete run %s attempt %d: %w", r.EvaluationKey, r.Attempt, domain.ErrNotFound)
}

func (s *Store) ListRuns(ctx context.Context, pr snapshot.PRIdentity, limit, offset int) ([]evaluation.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM evaluation_runs
		 WHERE repo_full_name = $1 AND pr_number = $2
		 ORDER BY started_at DESC, attempt DESC LIMIT $3 OFFSET $4`,
		pr.RepoFullName, pr.Number, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs %s: %w", pr, err)
	}
	defer rows.Close()

	runs := []evaluation.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs %s: %w", pr, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row scannable) (evaluation.Run, error) {
	var (
		r                                     evaluation.Run
		status, computed                      string
		policyRisk, llmRisk, sysRisk, usrRisk string
		codes                                 []string
		findings                              []byte
	)
	err := row.Scan(
		&r.ID, &r.EvaluationKey, &r.Attempt,
		&r.Key.PR.RepoFullName, &r.Key.PR.Number, &r.Key.HeadSHA, &r.Key.BodyHash, &r.Key.PolicyVersion,
		&status, &computed, &codes, &policyRisk, &llmRisk, &sysRisk, &usrRisk, &r.TicketKey, &findings,
		&r.LLMModel, &r.PromptVersion, &r.LLMRationale, &r.LLMConfidence, &r.ErrorDetail, &r.StartedAt, &r.EndedAt,
	)
	if err != nil {
		return r, err
	}
	r.Status = evaluation.Status(status)
	r.ComputedStatus = evaluation.Status(computed)
	r.ReasonCodes = reasonCodes(codes)
	r.PolicyRisk = risk.Level(policyRisk)
	r.LLMRisk = risk.Level(llmRisk)
	r.SystemRisk = risk.Level(sysRisk)
	r.UserRisk = risk.Level(usrRisk)
	if len(findings) > 0 {
		var fs []policy.Finding
		if err := json.Unmarshal(findings, &fs); err != nil {
			return r, fmt.Errorf("unmarshal findings: %w", err)
		}
		if len(fs) > 0 {
			r.Findings = fs
		}
	}
	return r, nil
}

// --- Run state projection ---

func (s *Store) UpsertRunState(ctx context.Context, st *projection.RunState) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO run_states (repo_full_name, pr_number, latest_evaluation_key, status, reason_codes, system_risk, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (repo_full_name, pr_number) DO UPDATE SET
		   latest_evaluation_key = EXCLUDED.latest_evaluation_key,
		   status = EXCLUDED.status,
		   reason_codes = EXCLUDED.reason_codes,
		   system_risk = EXCLUDED.system_risk,
		   updated_at = EXCLUDED.updated_at
		 WHERE run_states.updated_at <= EXCLUDED.updated_at
		   AND (EXCLUDED.status <> 'STALE' OR run_states.latest_evaluation_key = EXCLUDED.latest_evaluation_key)`,
		st.PR.RepoFullName, st.PR.Number, st.LatestEvaluationKey, string(st.Status),
		reasonArray(st.ReasonCodes), string(st.SystemRisk), st.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("upsert run state %s: %w", st.PR, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetRunState(ctx context.Context, pr snapshot.PRIdentity) (*projection.RunState, error) {
	var (
		st             = projection.RunState{PR: pr}
		status, sysRsk string
		codes          []string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT latest_evaluation_key, status, reason_codes, system_risk, updated_at
		 FROM run_states WHERE repo_full_name = $1 AND pr_number = $2`,
		pr.RepoFullName, pr.Number).Scan(&st.LatestEvaluationKey, &status, &codes, &sysRsk, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get run state %s: %w", pr, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get run state %s: %w", pr, err)
	}
	st.Status = evaluation.Status(status)
	st.ReasonCodes = reasonCodes(codes)
	st.SystemRisk = risk.Level(sysRsk)
	return &st, nil
}
