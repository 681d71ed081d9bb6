package domain

import "time"

// Stage is one named step of the pipeline state machine.
type Stage string

const (
	StageResearch             Stage = "research"
	StageResearchComplete     Stage = "research_complete"
	StageVerification         Stage = "verification"
	StageVerificationComplete Stage = "verification_complete"
	StageHITLReview           Stage = "hitl_review"
	StageImplementation       Stage = "implementation"
	StageComplete             Stage = "complete"
	StageFailed               Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageResearch:             0,
	StageResearchComplete:     1,
	StageVerification:         2,
	StageVerificationComplete: 3,
	StageHITLReview:           4,
	StageImplementation:       5,
	StageComplete:             6,
}

// Order returns the position of the stage in the linear order.
// Failed and unknown stages report -1.
func (s Stage) Order() int {
	if order, ok := stageOrder[s]; ok {
		return order
	}
	return -1
}

// Terminal reports whether no further transition can happen.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the run monotonic.
// Failed is reachable from any non-terminal stage.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	return next.Order() > s.Order()
}

// HITLDecision records the outcome of the human review gate.
type HITLDecision string

const (
	DecisionApproved HITLDecision = "approved"
	DecisionRejected HITLDecision = "rejected"
)

// PipelineRun is one execution of the discovery pipeline.
type PipelineRun struct {
	ID               string       `json:"id"`
	StartedAt        time.Time    `json:"startedAt"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
	Stage            Stage        `json:"stage"`
	SourcesScanned   []string     `json:"sourcesScanned"`
	FindingsCount    int          `json:"findingsCount"`
	VerifiedCount    int          `json:"verifiedCount"`
	RejectedCount    int          `json:"rejectedCount"`
	ImplementedCount int          `json:"implementedCount"`
	HITLRequired     bool         `json:"hitlRequired"`
	HITLDecision     HITLDecision `json:"hitlDecision,omitempty"`
	HITLApprovedAt   *time.Time   `json:"hitlApprovedAt,omitempty"`
	HITLApprovedBy   string       `json:"hitlApprovedBy,omitempty"`
	HITLRejectedAt   *time.Time   `json:"hitlRejectedAt,omitempty"`
	HITLRejectedBy   string       `json:"hitlRejectedBy,omitempty"`
	HITLNotes        string       `json:"hitlNotes,omitempty"`
	ResearchErrors   []string     `json:"researchErrors,omitempty"`
	Error            string       `json:"error,omitempty"`
}

// DocumentID identifies the run inside the pipeline store.
func (r PipelineRun) DocumentID() string { return r.ID }

// FindingStatus tracks a finding through verification and implementation.
type FindingStatus string

const (
	FindingDiscovered  FindingStatus = "discovered"
	FindingVerified    FindingStatus = "verified"
	FindingRejected    FindingStatus = "rejected"
	FindingImplemented FindingStatus = "implemented"
)

// ResearchFinding is a candidate policy fact discovered from one page.
type ResearchFinding struct {
	ID                    string        `json:"id"`
	PipelineRunID         string        `json:"pipelineRunId"`
	Title                 string        `json:"title"`
	Summary               string        `json:"summary"`
	SourceURL             string        `json:"sourceUrl"`
	SourceContent         string        `json:"sourceContent"`
	DiscoveredAt          time.Time     `json:"discoveredAt"`
	RelevanceScore        float64       `json:"relevanceScore"`
	SuggestedType         string        `json:"suggestedType,omitempty"`
	SuggestedJurisdiction string        `json:"suggestedJurisdiction,omitempty"`
	Tags                  []string      `json:"tags"`
	Agencies              []string      `json:"agencies"`
	KeyDates              []string      `json:"keyDates"`
	RelatedTopics         []string      `json:"relatedTopics"`
	IsNewPolicy           bool          `json:"isNewPolicy"`
	ExistingPolicyID      string        `json:"existingPolicyId,omitempty"`
	ChangeDescription     string        `json:"changeDescription,omitempty"`
	Status                FindingStatus `json:"status"`
}

func (f ResearchFinding) DocumentID() string { return f.ID }

// VerificationOutcome classifies a verification judgment.
type VerificationOutcome string

const (
	OutcomeConfirmed          VerificationOutcome = "confirmed"
	OutcomePartiallyConfirmed VerificationOutcome = "partially_confirmed"
	OutcomeContradicted       VerificationOutcome = "contradicted"
	OutcomeUnverifiable       VerificationOutcome = "unverifiable"
)

// Corrections emitted by verification and recognised by implementation.
const (
	CorrectionMissingType         = "Policy type should be specified"
	CorrectionMissingJurisdiction = "Jurisdiction should be specified"
)

// VerificationResult is the single verification judgment for a finding.
type VerificationResult struct {
	ID                     string              `json:"id"`
	FindingID              string              `json:"findingId"`
	PipelineRunID          string              `json:"pipelineRunId"`
	VerifiedAt             time.Time           `json:"verifiedAt"`
	Outcome                VerificationOutcome `json:"outcome"`
	ConfidenceScore        float64             `json:"confidenceScore"`
	SourcesCrossReferenced []string            `json:"sourcesCrossReferenced"`
	VerificationNotes      string              `json:"verificationNotes"`
	FactualIssues          []string            `json:"factualIssues"`
	SuggestedCorrections   []string            `json:"suggestedCorrections"`
}

func (v VerificationResult) DocumentID() string { return v.ID }

// HasCorrection reports whether the verification suggested the given correction.
func (v VerificationResult) HasCorrection(correction string) bool {
	for _, c := range v.SuggestedCorrections {
		if c == correction {
			return true
		}
	}
	return false
}
