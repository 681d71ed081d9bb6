package ports

import (
	"context"
	"time"

	"PolicyWatch/internal/domain"
)

// PageFetcher downloads a page and reduces it to text and links.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (domain.Page, error)
}

// Classifier turns page text into candidate findings. Malformed model output
// yields an empty classification, transport failures yield an error.
type Classifier interface {
	Classify(ctx context.Context, req domain.ClassifyRequest) (domain.Classification, error)
}

// RunStore persists pipeline runs.
type RunStore interface {
	SaveRun(ctx context.Context, run domain.PipelineRun) error
	GetRun(ctx context.Context, id string) (domain.PipelineRun, error)
	ListRuns(ctx context.Context) ([]domain.PipelineRun, error)
	LatestRun(ctx context.Context) (domain.PipelineRun, bool, error)
}

// FindingStore persists research findings.
type FindingStore interface {
	SaveFindings(ctx context.Context, findings []domain.ResearchFinding) error
	ListFindings(ctx context.Context, runID string) ([]domain.ResearchFinding, error)
	UpdateFindingStatus(ctx context.Context, status domain.FindingStatus, ids ...string) error
}

// VerificationStore persists verification results.
type VerificationStore interface {
	SaveVerifications(ctx context.Context, results []domain.VerificationResult) error
	ListVerifications(ctx context.Context, runID string) ([]domain.VerificationResult, error)
}

// PipelineStore is the single durable owner of runs, findings and verifications.
type PipelineStore interface {
	RunStore
	FindingStore
	VerificationStore
}

// PolicyStore reads and batch-writes the policy dataset.
type PolicyStore interface {
	ListPolicies(ctx context.Context) ([]domain.Policy, error)
	ReplacePolicies(ctx context.Context, policies []domain.Policy) error
}

// Notifier tells operators that a run needs a decision.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
