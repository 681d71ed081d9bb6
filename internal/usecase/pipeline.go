package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/implementation"
	"PolicyWatch/internal/logging"
	"PolicyWatch/internal/metrics"
	"PolicyWatch/internal/ports"
	"PolicyWatch/internal/research"
	"PolicyWatch/internal/sources"
	"PolicyWatch/internal/verification"
)

// PipelineDeps wires the stages and driven adapters into the state machine.
type PipelineDeps struct {
	Store          ports.PipelineStore
	Policies       ports.PolicyStore
	Research       *research.Stage
	Verification   *verification.Stage
	Implementation *implementation.Stage
	Sources        []sources.Source
	Notifier       ports.Notifier
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
	Clock          func() time.Time
	NewRunID       func(time.Time) string
}

// ApproveInput is the operator's approval of a run at the review gate.
type ApproveInput struct {
	ApprovedBy         string   `json:"approvedBy"`
	Notes              string   `json:"notes,omitempty"`
	ApprovedFindingIDs []string `json:"approvedFindingIds,omitempty"`
}

// RejectInput is the operator's rejection of a run at the review gate.
type RejectInput struct {
	RejectedBy string `json:"rejectedBy"`
	Notes      string `json:"notes,omitempty"`
}

// Approval is the outcome of an approved run.
type Approval struct {
	Run            domain.PipelineRun    `json:"run"`
	Implementation implementation.Result `json:"implementation"`
}

// Pipeline drives runs through research, verification, the human review
// gate and implementation. It allows one executing run per process and
// refuses to start while the latest run awaits a decision.
type Pipeline struct {
	store          ports.PipelineStore
	policies       ports.PolicyStore
	research       *research.Stage
	verification   *verification.Stage
	implementation *implementation.Stage
	sources        []sources.Source
	notifier       ports.Notifier
	metrics        *metrics.Recorder
	logger         *slog.Logger
	now            func() time.Time
	newRunID       func(time.Time) string

	mu      sync.Mutex
	running bool
	// decisions serialises approve and reject so a run is decided once.
	decisions sync.Mutex
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewRunID
	if newID == nil {
		newID = defaultRunID
	}
	return &Pipeline{
		store:          deps.Store,
		policies:       deps.Policies,
		research:       deps.Research,
		verification:   deps.Verification,
		implementation: deps.Implementation,
		sources:        deps.Sources,
		notifier:       deps.Notifier,
		metrics:        deps.Metrics,
		logger:         logging.OrDiscard(deps.Logger).With("component", "pipeline"),
		now:            clock,
		newRunID:       newID,
	}
}

func defaultRunID(t time.Time) string {
	return fmt.Sprintf("run-%d-%s", t.UnixMilli(), uuid.NewString()[:8])
}

// Start opens a run and executes it up to the review gate. Failures inside
// the run are recorded on the returned run rather than returned; the error
// is non-nil only when the run could not be opened.
func (p *Pipeline) Start(ctx context.Context, existingTitles []string) (domain.PipelineRun, error) {
	run, err := p.Open(ctx)
	if err != nil {
		return domain.PipelineRun{}, err
	}
	return p.Execute(ctx, run, existingTitles), nil
}

// Open creates and persists a new run at the research stage. The caller must
// follow up with Execute, which releases the single-run guard.
func (p *Pipeline) Open(ctx context.Context) (domain.PipelineRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return domain.PipelineRun{}, domain.ErrRunInProgress
	}

	latest, ok, err := p.store.LatestRun(ctx)
	if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("load latest run: %w", err)
	}
	if ok && latest.Stage == domain.StageHITLReview {
		return domain.PipelineRun{}, fmt.Errorf("run %s: %w", latest.ID, domain.ErrRunAwaitingReview)
	}

	now := p.now().UTC()
	run := domain.PipelineRun{
		ID:             p.newRunID(now),
		StartedAt:      now,
		Stage:          domain.StageResearch,
		SourcesScanned: []string{},
		HITLRequired:   true,
	}
	if err := p.store.SaveRun(ctx, run); err != nil {
		return domain.PipelineRun{}, fmt.Errorf("persist run: %w", err)
	}
	p.metrics.StageTransition(string(domain.StageResearch))
	p.running = true

	p.logger.Info("pipeline run opened", "run_id", run.ID)
	return run, nil
}

func (p *Pipeline) release() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// Execute runs research and verification for an opened run and stops at the
// review gate. Any failure moves the run to failed.
func (p *Pipeline) Execute(ctx context.Context, run domain.PipelineRun, existingTitles []string) domain.PipelineRun {
	defer p.release()
	log := p.logger.With("run_id", run.ID)

	res, err := p.research.Run(ctx, run.ID, p.sources, existingTitles)
	run.SourcesScanned = res.SourcesScanned
	run.ResearchErrors = res.Errors
	p.metrics.SetResearchErrors(len(res.Errors))
	if err != nil {
		return p.fail(ctx, run, fmt.Errorf("research: %w", err))
	}

	run.FindingsCount = len(res.Findings)
	if err := p.advance(ctx, &run, domain.StageResearchComplete); err != nil {
		return p.fail(ctx, run, err)
	}

	if run.FindingsCount == 0 {
		completed := p.now().UTC()
		run.CompletedAt = &completed
		if err := p.advance(ctx, &run, domain.StageComplete); err != nil {
			return p.fail(ctx, run, err)
		}
		p.metrics.RunOutcome(metrics.OutcomeUpToDate)
		log.Info("pipeline run complete, nothing new found", "sources", len(run.SourcesScanned))
		return run
	}

	if err := p.advance(ctx, &run, domain.StageVerification); err != nil {
		return p.fail(ctx, run, err)
	}

	vres, err := p.verification.Run(ctx, run.ID)
	if err != nil {
		return p.fail(ctx, run, fmt.Errorf("verification: %w", err))
	}
	run.VerifiedCount = vres.Verified
	run.RejectedCount = vres.Rejected
	p.metrics.Findings(string(domain.FindingVerified), vres.Verified)
	p.metrics.Findings(string(domain.FindingRejected), vres.Rejected)
	p.metrics.Findings(string(domain.FindingDiscovered), vres.Unverifiable)

	if err := p.advance(ctx, &run, domain.StageVerificationComplete); err != nil {
		return p.fail(ctx, run, err)
	}
	if err := p.advance(ctx, &run, domain.StageHITLReview); err != nil {
		return p.fail(ctx, run, err)
	}

	p.metrics.RunOutcome(metrics.OutcomeAwaitingReview)
	log.Info("pipeline run awaiting review",
		"findings", run.FindingsCount,
		"verified", run.VerifiedCount,
		"rejected", run.RejectedCount,
	)
	p.notifyReview(ctx, run)
	return run
}

// Approve implements the verified findings of a run waiting at the review
// gate. approvedFindingIds narrows the set; empty means every verified
// finding. An implementation failure fails the run and is returned.
func (p *Pipeline) Approve(ctx context.Context, runID string, in ApproveInput) (Approval, error) {
	if strings.TrimSpace(in.ApprovedBy) == "" {
		return Approval{}, fmt.Errorf("approvedBy is required: %w", domain.ErrInvalidInput)
	}

	p.decisions.Lock()
	defer p.decisions.Unlock()

	run, err := p.reviewable(ctx, runID)
	if err != nil {
		return Approval{}, err
	}
	log := p.logger.With("run_id", run.ID)

	now := p.now().UTC()
	run.HITLDecision = domain.DecisionApproved
	run.HITLApprovedAt = &now
	run.HITLApprovedBy = in.ApprovedBy
	run.HITLNotes = in.Notes
	if err := p.advance(ctx, &run, domain.StageImplementation); err != nil {
		return Approval{Run: p.fail(ctx, run, err)}, err
	}

	findings, verifications, err := p.approvedSet(ctx, run.ID, in.ApprovedFindingIDs)
	if err != nil {
		return Approval{Run: p.fail(ctx, run, err)}, err
	}

	res, err := p.implementation.Run(ctx, findings, verifications)
	if err != nil {
		err = fmt.Errorf("implementation: %w", err)
		return Approval{Run: p.fail(ctx, run, err), Implementation: res}, err
	}

	run.ImplementedCount = res.Implemented()
	completed := p.now().UTC()
	run.CompletedAt = &completed
	if err := p.advance(ctx, &run, domain.StageComplete); err != nil {
		return Approval{Run: p.fail(ctx, run, err), Implementation: res}, err
	}

	p.metrics.RunOutcome(metrics.OutcomeApproved)
	p.metrics.Implementation(string(implementation.ActionCreated), res.Created)
	p.metrics.Implementation(string(implementation.ActionUpdated), res.Updated)
	p.metrics.Implementation(string(implementation.ActionSkipped), res.Skipped)
	log.Info("pipeline run approved",
		"approved_by", in.ApprovedBy,
		"selected", len(findings),
		"implemented", run.ImplementedCount,
	)
	return Approval{Run: run, Implementation: res}, nil
}

// Reject closes a run waiting at the review gate without touching findings.
func (p *Pipeline) Reject(ctx context.Context, runID string, in RejectInput) (domain.PipelineRun, error) {
	if strings.TrimSpace(in.RejectedBy) == "" {
		return domain.PipelineRun{}, fmt.Errorf("rejectedBy is required: %w", domain.ErrInvalidInput)
	}

	p.decisions.Lock()
	defer p.decisions.Unlock()

	run, err := p.reviewable(ctx, runID)
	if err != nil {
		return domain.PipelineRun{}, err
	}

	now := p.now().UTC()
	run.HITLDecision = domain.DecisionRejected
	run.HITLRejectedAt = &now
	run.HITLRejectedBy = in.RejectedBy
	run.HITLNotes = in.Notes
	run.ImplementedCount = 0
	run.CompletedAt = &now
	if err := p.advance(ctx, &run, domain.StageComplete); err != nil {
		return domain.PipelineRun{}, err
	}

	p.metrics.RunOutcome(metrics.OutcomeRejected)
	p.logger.Info("pipeline run rejected", "run_id", run.ID, "rejected_by", in.RejectedBy)
	return run, nil
}

// reviewable loads a run and checks it sits at the review gate.
func (p *Pipeline) reviewable(ctx context.Context, runID string) (domain.PipelineRun, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return domain.PipelineRun{}, err
	}
	if run.Stage != domain.StageHITLReview {
		return domain.PipelineRun{}, fmt.Errorf("run %s is at %s: %w", run.ID, run.Stage, domain.ErrInvalidState)
	}
	return run, nil
}

func (p *Pipeline) approvedSet(ctx context.Context, runID string, ids []string) ([]domain.ResearchFinding, []domain.VerificationResult, error) {
	findings, err := p.store.ListFindings(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("load findings: %w", err)
	}
	verifications, err := p.store.ListVerifications(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("load verifications: %w", err)
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	selected := make([]domain.ResearchFinding, 0, len(findings))
	for _, f := range findings {
		if f.Status != domain.FindingVerified {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[f.ID]; !ok {
				continue
			}
		}
		selected = append(selected, f)
	}
	return selected, verifications, nil
}

// advance moves the run forward and persists it before returning.
func (p *Pipeline) advance(ctx context.Context, run *domain.PipelineRun, next domain.Stage) error {
	if !run.Stage.CanAdvanceTo(next) {
		return fmt.Errorf("illegal transition %s -> %s", run.Stage, next)
	}
	prev := run.Stage
	run.Stage = next
	if err := p.store.SaveRun(ctx, *run); err != nil {
		run.Stage = prev
		return fmt.Errorf("persist run at %s: %w", next, err)
	}
	p.metrics.StageTransition(string(next))
	return nil
}

// fail records err on the run and persists it at the failed stage. A
// persistence failure here is logged; the caller still gets the failed run.
func (p *Pipeline) fail(ctx context.Context, run domain.PipelineRun, cause error) domain.PipelineRun {
	run.Error = cause.Error()
	run.Stage = domain.StageFailed

	saveCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := p.store.SaveRun(saveCtx, run); err != nil {
		p.logger.Error("persist failed run", "run_id", run.ID, "error", err)
	}

	p.metrics.StageTransition(string(domain.StageFailed))
	p.metrics.RunOutcome(metrics.OutcomeFailed)
	p.logger.Error("pipeline run failed", "run_id", run.ID, "error", cause)
	return run
}

func (p *Pipeline) notifyReview(ctx context.Context, run domain.PipelineRun) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.PublishDigest(ctx, buildReviewMessage(run)); err != nil {
		p.logger.Warn("review notification failed", "run_id", run.ID, "error", err)
	}
}

func buildReviewMessage(run domain.PipelineRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PolicyWatch run %s is waiting for review\n", run.ID)
	fmt.Fprintf(&b, "Sources scanned: %d\n", len(run.SourcesScanned))
	fmt.Fprintf(&b, "Findings: %d (verified %d, rejected %d)\n", run.FindingsCount, run.VerifiedCount, run.RejectedCount)
	if n := len(run.ResearchErrors); n > 0 {
		fmt.Fprintf(&b, "Research errors: %d\n", n)
	}
	return strings.TrimSpace(b.String())
}

// ListRuns returns every run, newest first.
func (p *Pipeline) ListRuns(ctx context.Context) ([]domain.PipelineRun, error) {
	return p.store.ListRuns(ctx)
}

// LatestRun returns the newest run or domain.ErrNotFound.
func (p *Pipeline) LatestRun(ctx context.Context) (domain.PipelineRun, error) {
	run, ok, err := p.store.LatestRun(ctx)
	if err != nil {
		return domain.PipelineRun{}, err
	}
	if !ok {
		return domain.PipelineRun{}, fmt.Errorf("latest run: %w", domain.ErrNotFound)
	}
	return run, nil
}

func (p *Pipeline) GetRun(ctx context.Context, runID string) (domain.PipelineRun, error) {
	return p.store.GetRun(ctx, runID)
}

// Findings lists findings, optionally restricted to one run.
func (p *Pipeline) Findings(ctx context.Context, runID string) ([]domain.ResearchFinding, error) {
	return p.store.ListFindings(ctx, runID)
}

// Verifications lists verification results, optionally restricted to one run.
func (p *Pipeline) Verifications(ctx context.Context, runID string) ([]domain.VerificationResult, error) {
	return p.store.ListVerifications(ctx, runID)
}

// Policies returns the current policy dataset.
func (p *Pipeline) Policies(ctx context.Context) ([]domain.Policy, error) {
	if p.policies == nil {
		return []domain.Policy{}, nil
	}
	return p.policies.ListPolicies(ctx)
}

// ExistingPolicyTitles lists titles of the tracked policies, used to hint the
// classifier about updates to known policies.
func (p *Pipeline) ExistingPolicyTitles(ctx context.Context) ([]string, error) {
	policies, err := p.Policies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	titles := make([]string, 0, len(policies))
	for _, pol := range policies {
		titles = append(titles, pol.Title)
	}
	return titles, nil
}

// IsGuardError reports errors that mean a run could not start because
// another one is pending or executing.
func IsGuardError(err error) bool {
	return errors.Is(err, domain.ErrRunAwaitingReview) || errors.Is(err, domain.ErrRunInProgress)
}
