package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/ports"
)

// PipelineRepository stores runs, findings and verification results.
// The mutex serialises read-modify-write cycles inside one process; separate
// processes sharing a store are not coordinated.
type PipelineRepository struct {
	mu            sync.Mutex
	runs          Collection[domain.PipelineRun]
	findings      Collection[domain.ResearchFinding]
	verifications Collection[domain.VerificationResult]
}

var _ ports.PipelineStore = (*PipelineRepository)(nil)

// NewPipelineRepository binds the three pipeline collections to a store.
func NewPipelineRepository(store DocumentStore) *PipelineRepository {
	return &PipelineRepository{
		runs:          NewCollection[domain.PipelineRun](store, CollectionRuns),
		findings:      NewCollection[domain.ResearchFinding](store, CollectionFindings),
		verifications: NewCollection[domain.VerificationResult](store, CollectionVerifications),
	}
}

// SaveRun upserts the full run record.
func (r *PipelineRepository) SaveRun(ctx context.Context, run domain.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs.Upsert(ctx, run)
}

// GetRun returns the run or an error wrapping domain.ErrNotFound.
func (r *PipelineRepository) GetRun(ctx context.Context, id string) (domain.PipelineRun, error) {
	runs, err := r.runs.ReadAll(ctx)
	if err != nil {
		return domain.PipelineRun{}, err
	}
	for _, run := range runs {
		if run.ID == id {
			return run, nil
		}
	}
	return domain.PipelineRun{}, fmt.Errorf("pipeline run %s: %w", id, domain.ErrNotFound)
}

// ListRuns returns runs newest first by start time.
func (r *PipelineRepository) ListRuns(ctx context.Context) ([]domain.PipelineRun, error) {
	runs, err := r.runs.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	// Runs inserted later with the same start time count as newer.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// LatestRun returns the most recently started run, if any.
func (r *PipelineRepository) LatestRun(ctx context.Context) (domain.PipelineRun, bool, error) {
	runs, err := r.ListRuns(ctx)
	if err != nil {
		return domain.PipelineRun{}, false, err
	}
	if len(runs) == 0 {
		return domain.PipelineRun{}, false, nil
	}
	return runs[0], true, nil
}

// SaveFindings upserts findings by id.
func (r *PipelineRepository) SaveFindings(ctx context.Context, findings []domain.ResearchFinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findings.UpsertMany(ctx, findings...)
}

// ListFindings returns findings in stored order; an empty runID returns all.
func (r *PipelineRepository) ListFindings(ctx context.Context, runID string) ([]domain.ResearchFinding, error) {
	all, err := r.findings.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return all, nil
	}
	out := make([]domain.ResearchFinding, 0, len(all))
	for _, f := range all {
		if f.PipelineRunID == runID {
			out = append(out, f)
		}
	}
	return out, nil
}

// UpdateFindingStatus sets status on the given findings. Implemented findings
// are never changed again.
func (r *PipelineRepository) UpdateFindingStatus(ctx context.Context, status domain.FindingStatus, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.findings.ReadAll(ctx)
	if err != nil {
		return err
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for i := range all {
		if _, ok := wanted[all[i].ID]; !ok {
			continue
		}
		if all[i].Status == domain.FindingImplemented {
			continue
		}
		all[i].Status = status
	}
	return r.findings.WriteAll(ctx, all)
}

// SaveVerifications upserts verification results by id.
func (r *PipelineRepository) SaveVerifications(ctx context.Context, results []domain.VerificationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verifications.UpsertMany(ctx, results...)
}

// ListVerifications returns results in stored order; an empty runID returns all.
func (r *PipelineRepository) ListVerifications(ctx context.Context, runID string) ([]domain.VerificationResult, error) {
	all, err := r.verifications.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return all, nil
	}
	out := make([]domain.VerificationResult, 0, len(all))
	for _, v := range all {
		if v.PipelineRunID == runID {
			out = append(out, v)
		}
	}
	return out, nil
}

// PolicyRepository is the policy dataset.
type PolicyRepository struct {
	mu       sync.Mutex
	policies Collection[domain.Policy]
}

var _ ports.PolicyStore = (*PolicyRepository)(nil)

// NewPolicyRepository binds the policies collection to a store.
func NewPolicyRepository(store DocumentStore) *PolicyRepository {
	return &PolicyRepository{policies: NewCollection[domain.Policy](store, CollectionPolicies)}
}

// ListPolicies returns the dataset in stored order.
func (r *PolicyRepository) ListPolicies(ctx context.Context) ([]domain.Policy, error) {
	return r.policies.ReadAll(ctx)
}

// ReplacePolicies writes the full dataset in one batch.
func (r *PolicyRepository) ReplacePolicies(ctx context.Context, policies []domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policies.WriteAll(ctx, policies)
}
