package implementation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/logging"
	"PolicyWatch/internal/ports"
	"PolicyWatch/internal/textutil"
)

const (
	policyContentLimit = 5000
	minConfidence      = 0.5
)

// Skip reasons reported for data-quality problems.
const (
	ReasonLowConfidence = "Insufficient verification confidence"
	ReasonDuplicateID   = "Policy with this ID already exists"
)

// Action is what happened to a finding during implementation.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
)

// FindingResult records the per-finding outcome.
type FindingResult struct {
	FindingID string `json:"findingId"`
	Action    Action `json:"action"`
	PolicyID  string `json:"policyId,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Result summarises one implementation pass.
type Result struct {
	Created int             `json:"created"`
	Updated int             `json:"updated"`
	Skipped int             `json:"skipped"`
	Results []FindingResult `json:"results"`
	Errors  []string        `json:"errors"`
}

// Implemented counts findings that produced a policy write.
func (r Result) Implemented() int {
	return r.Created + r.Updated
}

// Stage maps approved findings onto the policy dataset.
type Stage struct {
	policies ports.PolicyStore
	findings ports.FindingStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewStage wires the policy dataset and the finding store.
func NewStage(policies ports.PolicyStore, findings ports.FindingStore, logger *slog.Logger, clock func() time.Time) *Stage {
	if clock == nil {
		clock = time.Now
	}
	return &Stage{
		policies: policies,
		findings: findings,
		logger:   logging.OrDiscard(logger),
		now:      clock,
	}
}

var errEmptySlug = errors.New("title does not produce a usable policy id")

// Run applies each finding in order against an in-memory copy of the policy
// dataset, writes the dataset back once, then marks applied findings
// implemented. A failing finding is skipped; storage failures abort.
func (s *Stage) Run(ctx context.Context, findings []domain.ResearchFinding, verifications []domain.VerificationResult) (Result, error) {
	existing, err := s.policies.ListPolicies(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load policies: %w", err)
	}

	byFinding := make(map[string]domain.VerificationResult, len(verifications))
	for _, v := range verifications {
		byFinding[v.FindingID] = v
	}

	ds := newDataset(existing)
	now := s.now().UTC()

	var (
		res     Result
		applied []string
	)
	for _, f := range findings {
		outcome := s.apply(ds, f, byFinding, now)
		res.Results = append(res.Results, outcome)
		switch outcome.Action {
		case ActionCreated:
			res.Created++
			applied = append(applied, f.ID)
		case ActionUpdated:
			res.Updated++
			applied = append(applied, f.ID)
		default:
			res.Skipped++
			if outcome.Error != "" {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", f.ID, outcome.Error))
			}
		}
	}

	if len(applied) == 0 {
		return res, nil
	}

	if err := s.policies.ReplacePolicies(ctx, ds.list); err != nil {
		return res, fmt.Errorf("write policies: %w", err)
	}
	if err := s.findings.UpdateFindingStatus(ctx, domain.FindingImplemented, applied...); err != nil {
		return res, fmt.Errorf("mark findings implemented: %w", err)
	}

	s.logger.Info("implementation complete",
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
	)
	return res, nil
}

func (s *Stage) apply(ds *dataset, f domain.ResearchFinding, byFinding map[string]domain.VerificationResult, now time.Time) FindingResult {
	out := FindingResult{FindingID: f.ID, Action: ActionSkipped}

	v, ok := byFinding[f.ID]
	if !ok || v.ConfidenceScore < minConfidence {
		out.Reason = ReasonLowConfidence
		return out
	}

	candidate := buildPolicy(f, v)

	if !f.IsNewPolicy {
		if idx, found := ds.match(f); found {
			ds.list[idx] = merge(ds.list[idx], candidate, now)
			out.Action = ActionUpdated
			out.PolicyID = ds.list[idx].ID
			return out
		}
	}

	id := Slug(f.Title)
	if id == "" {
		out.Error = errEmptySlug.Error()
		s.logger.Warn("finding skipped", "finding_id", f.ID, "error", errEmptySlug)
		return out
	}
	if ds.hasID(id) {
		out.PolicyID = id
		out.Reason = ReasonDuplicateID
		return out
	}

	candidate.ID = id
	candidate.CreatedAt = now
	candidate.UpdatedAt = now
	ds.add(candidate)

	out.Action = ActionCreated
	out.PolicyID = id
	return out
}

// buildPolicy maps finding fields directly to a policy without further classification.
func buildPolicy(f domain.ResearchFinding, v domain.VerificationResult) domain.Policy {
	jurisdiction := strings.TrimSpace(f.SuggestedJurisdiction)
	if jurisdiction == "" || v.HasCorrection(domain.CorrectionMissingJurisdiction) {
		jurisdiction = domain.DefaultJurisdiction
	}
	policyType := strings.TrimSpace(f.SuggestedType)
	if policyType == "" || v.HasCorrection(domain.CorrectionMissingType) {
		policyType = domain.DefaultPolicyType
	}
	effective := ""
	if len(f.KeyDates) > 0 {
		effective = f.KeyDates[0]
	}

	return domain.Policy{
		Title:         f.Title,
		Description:   f.Summary,
		Jurisdiction:  jurisdiction,
		Type:          policyType,
		Status:        domain.PolicyStatusActive,
		EffectiveDate: effective,
		Agencies:      textutil.UnionFold(nil, f.Agencies),
		SourceURL:     f.SourceURL,
		Content:       textutil.Truncate(f.SourceContent, policyContentLimit),
		AISummary:     f.Summary,
		Tags:          textutil.UnionFold(nil, f.Tags),
	}
}

// merge refreshes an existing policy from a candidate, keeping identity and creation time.
func merge(existing, candidate domain.Policy, now time.Time) domain.Policy {
	existing.Tags = textutil.UnionFold(existing.Tags, candidate.Tags)
	existing.Agencies = textutil.UnionFold(existing.Agencies, candidate.Agencies)
	existing.Description = candidate.Description
	existing.AISummary = candidate.AISummary
	existing.UpdatedAt = now
	return existing
}

type dataset struct {
	list []domain.Policy
	ids  map[string]struct{}
}

func newDataset(policies []domain.Policy) *dataset {
	ds := &dataset{
		list: make([]domain.Policy, len(policies)),
		ids:  make(map[string]struct{}, len(policies)),
	}
	copy(ds.list, policies)
	for _, p := range policies {
		ds.ids[p.ID] = struct{}{}
	}
	return ds
}

func (d *dataset) hasID(id string) bool {
	_, ok := d.ids[id]
	return ok
}

func (d *dataset) add(p domain.Policy) {
	d.list = append(d.list, p)
	d.ids[p.ID] = struct{}{}
}

// match finds the policy a non-new finding refers to: by explicit id, then
// case-insensitive title, then exact source URL.
func (d *dataset) match(f domain.ResearchFinding) (int, bool) {
	if f.ExistingPolicyID != "" {
		for i, p := range d.list {
			if p.ID == f.ExistingPolicyID {
				return i, true
			}
		}
	}
	for i, p := range d.list {
		if strings.EqualFold(strings.TrimSpace(p.Title), strings.TrimSpace(f.Title)) {
			return i, true
		}
	}
	if f.SourceURL != "" {
		for i, p := range d.list {
			if p.SourceURL == f.SourceURL {
				return i, true
			}
		}
	}
	return 0, false
}
