package implementation

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"PolicyWatch/internal/domain"
)

var (
	created = time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	now     = time.Date(2025, time.May, 5, 12, 0, 0, 0, time.UTC)
)

type memoryPolicies struct {
	policies []domain.Policy
	writes   int
	err      error
}

func (m *memoryPolicies) ListPolicies(context.Context) ([]domain.Policy, error) {
	out := make([]domain.Policy, len(m.policies))
	copy(out, m.policies)
	return out, nil
}

func (m *memoryPolicies) ReplacePolicies(_ context.Context, p []domain.Policy) error {
	if m.err != nil {
		return m.err
	}
	m.writes++
	m.policies = p
	return nil
}

type statusRecorder struct {
	updates map[string]domain.FindingStatus
}

func (s *statusRecorder) SaveFindings(context.Context, []domain.ResearchFinding) error { return nil }

func (s *statusRecorder) ListFindings(context.Context, string) ([]domain.ResearchFinding, error) {
	return nil, nil
}

func (s *statusRecorder) UpdateFindingStatus(_ context.Context, status domain.FindingStatus, ids ...string) error {
	if s.updates == nil {
		s.updates = map[string]domain.FindingStatus{}
	}
	for _, id := range ids {
		s.updates[id] = status
	}
	return nil
}

func verified(id string, confidence float64, corrections ...string) domain.VerificationResult {
	return domain.VerificationResult{
		ID:                   "verification-" + id,
		FindingID:            id,
		ConfidenceScore:      confidence,
		Outcome:              domain.OutcomeConfirmed,
		SuggestedCorrections: corrections,
	}
}

func newStage(p *memoryPolicies, r *statusRecorder) *Stage {
	return NewStage(p, r, nil, func() time.Time { return now })
}

func TestSlug(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"AI Ethics Framework":                    "ai-ethics-framework",
		"  Policy for the responsible use of AI!": "policy-for-the-responsible-use-of-ai",
		"Privacy Act 1988 -- Review (2023)":       "privacy-act-1988-review-2023",
		"???":                                    "",
		strings.Repeat("word ", 20):              "word-word-word-word-word-word-word-word-word-word-word-word",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUpdateExistingPolicy(t *testing.T) {
	t.Parallel()

	policies := &memoryPolicies{policies: []domain.Policy{{
		ID:        "ai-ethics-framework",
		Title:     "AI Ethics Framework",
		Tags:      []string{"ethics"},
		Agencies:  []string{"DISR"},
		CreatedAt: created,
		UpdatedAt: created,
	}}}
	recorder := &statusRecorder{}

	f := domain.ResearchFinding{
		ID:       "f1",
		Title:    "ai ethics framework",
		Summary:  "Refreshed principles",
		Tags:     []string{"Ethics", "principles"},
		Agencies: []string{"DTA"},
	}

	res, err := newStage(policies, recorder).Run(context.Background(),
		[]domain.ResearchFinding{f}, []domain.VerificationResult{verified("f1", 0.9)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Updated != 1 || res.Created != 0 || res.Implemented() != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	got := policies.policies[0]
	if got.ID != "ai-ethics-framework" || !got.CreatedAt.Equal(created) {
		t.Fatalf("identity changed: %+v", got)
	}
	if !reflect.DeepEqual(got.Tags, []string{"ethics", "principles"}) {
		t.Fatalf("tags not unioned: %v", got.Tags)
	}
	if !reflect.DeepEqual(got.Agencies, []string{"DISR", "DTA"}) {
		t.Fatalf("agencies not unioned: %v", got.Agencies)
	}
	if got.Description != "Refreshed principles" || got.AISummary != "Refreshed principles" {
		t.Fatalf("description not refreshed: %+v", got)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Fatalf("updatedAt not bumped: %v", got.UpdatedAt)
	}
	if recorder.updates["f1"] != domain.FindingImplemented {
		t.Fatalf("finding not marked implemented: %v", recorder.updates)
	}
}

func TestCreateNewPolicy(t *testing.T) {
	t.Parallel()

	policies := &memoryPolicies{policies: []domain.Policy{{ID: "ai-ethics-framework", Title: "AI Ethics Framework"}}}
	recorder := &statusRecorder{}

	f := domain.ResearchFinding{
		ID:                    "f2",
		Title:                 "National Framework for AI Assurance",
		Summary:               "Assurance approach for governments",
		SourceURL:             "https://www.finance.gov.au/ai-assurance",
		SourceContent:         strings.Repeat("c", 6000),
		SuggestedType:         "framework",
		SuggestedJurisdiction: "state",
		KeyDates:              []string{"2024-06-21", "2025-01-01"},
		Agencies:              []string{"Finance"},
		Tags:                  []string{"assurance"},
		IsNewPolicy:           true,
	}

	res, err := newStage(policies, recorder).Run(context.Background(),
		[]domain.ResearchFinding{f}, []domain.VerificationResult{verified("f2", 0.8)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Created != 1 || res.Results[0].PolicyID != "national-framework-for-ai-assurance" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(policies.policies) != 2 || policies.writes != 1 {
		t.Fatalf("expected a single batch write with 2 policies, got %d writes, %d policies", policies.writes, len(policies.policies))
	}

	p := policies.policies[1]
	if p.Jurisdiction != "state" || p.Type != "framework" || p.Status != domain.PolicyStatusActive {
		t.Fatalf("unexpected classification fields %+v", p)
	}
	if p.EffectiveDate != "2024-06-21" {
		t.Fatalf("unexpected effective date %s", p.EffectiveDate)
	}
	if len(p.Content) != 5000 {
		t.Fatalf("content should be truncated to 5000, got %d", len(p.Content))
	}
	if !p.CreatedAt.Equal(now) || !p.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps not set: %+v", p)
	}
}

func TestCorrectionsFallBackToDefaults(t *testing.T) {
	t.Parallel()

	policies := &memoryPolicies{}
	f := domain.ResearchFinding{ID: "f", Title: "Digital Strategy", IsNewPolicy: true}
	v := verified("f", 0.6, domain.CorrectionMissingType, domain.CorrectionMissingJurisdiction)

	if _, err := newStage(policies, &statusRecorder{}).Run(context.Background(), []domain.ResearchFinding{f}, []domain.VerificationResult{v}); err != nil {
		t.Fatalf("run: %v", err)
	}
	p := policies.policies[0]
	if p.Jurisdiction != domain.DefaultJurisdiction || p.Type != domain.DefaultPolicyType {
		t.Fatalf("expected defaults, got %s/%s", p.Jurisdiction, p.Type)
	}
	if p.Tags == nil || p.Agencies == nil {
		t.Fatal("slices should not be nil")
	}
}

func TestSkips(t *testing.T) {
	t.Parallel()

	policies := &memoryPolicies{policies: []domain.Policy{{ID: "ai-ethics-framework", Title: "Another title"}}}
	recorder := &statusRecorder{}

	findings := []domain.ResearchFinding{
		{ID: "no-verification", Title: "Something"},
		{ID: "low", Title: "Low confidence"},
		{ID: "dup", Title: "AI Ethics Framework", IsNewPolicy: true},
		{ID: "empty", Title: "!!!", IsNewPolicy: true},
	}
	verifications := []domain.VerificationResult{
		verified("low", 0.49),
		verified("dup", 0.9),
		verified("empty", 0.9),
	}

	res, err := newStage(policies, recorder).Run(context.Background(), findings, verifications)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped != 4 || res.Implemented() != 0 {
		t.Fatalf("expected all skipped, got %+v", res)
	}
	if res.Results[0].Reason != ReasonLowConfidence || res.Results[1].Reason != ReasonLowConfidence {
		t.Fatalf("unexpected reasons %+v", res.Results)
	}
	if res.Results[2].Reason != ReasonDuplicateID || res.Results[2].PolicyID != "ai-ethics-framework" {
		t.Fatalf("expected duplicate id skip, got %+v", res.Results[2])
	}
	if res.Results[3].Error == "" || len(res.Errors) != 1 {
		t.Fatalf("expected error entry for empty slug, got %+v / %v", res.Results[3], res.Errors)
	}
	if policies.writes != 0 {
		t.Fatalf("no policy write expected, got %d", policies.writes)
	}
	if len(recorder.updates) != 0 {
		t.Fatalf("no finding should be marked, got %v", recorder.updates)
	}
}

func TestMatchBySourceURLAndExistingID(t *testing.T) {
	t.Parallel()

	policies := &memoryPolicies{policies: []domain.Policy{
		{ID: "p1", Title: "One", SourceURL: "https://a.gov.au/one"},
		{ID: "p2", Title: "Two", SourceURL: "https://a.gov.au/two"},
	}}

	findings := []domain.ResearchFinding{
		{ID: "by-url", Title: "Renamed", SourceURL: "https://a.gov.au/one", Tags: []string{"x"}},
		{ID: "by-id", Title: "Different", ExistingPolicyID: "p2", Tags: []string{"y"}},
	}
	res, err := newStage(policies, &statusRecorder{}).Run(context.Background(), findings,
		[]domain.VerificationResult{verified("by-url", 0.7), verified("by-id", 0.7)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Updated != 2 {
		t.Fatalf("expected 2 updates, got %+v", res)
	}
	if res.Results[0].PolicyID != "p1" || res.Results[1].PolicyID != "p2" {
		t.Fatalf("unexpected matches %+v", res.Results)
	}
}

func TestWriteFailureIsReturned(t *testing.T) {
	t.Parallel()

	policies := &memoryPolicies{err: errors.New("read-only")}
	recorder := &statusRecorder{}
	f := domain.ResearchFinding{ID: "f", Title: "New policy", IsNewPolicy: true}

	_, err := newStage(policies, recorder).Run(context.Background(), []domain.ResearchFinding{f}, []domain.VerificationResult{verified("f", 0.9)})
	if err == nil {
		t.Fatal("expected write error")
	}
	if len(recorder.updates) != 0 {
		t.Fatal("findings must not be marked implemented when the policy write fails")
	}
}
