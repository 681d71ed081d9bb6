package verification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/logging"
	"PolicyWatch/internal/ports"
)

// Result aggregates the verification of one run.
type Result struct {
	Verified     int
	Rejected     int
	Unverifiable int
}

// Stage loads a run's findings, judges them and persists the verdicts.
type Stage struct {
	findings      ports.FindingStore
	verifications ports.VerificationStore
	logger        *slog.Logger
	now           func() time.Time
}

// NewStage wires the stores; clock defaults to time.Now.
func NewStage(findings ports.FindingStore, verifications ports.VerificationStore, logger *slog.Logger, clock func() time.Time) *Stage {
	if clock == nil {
		clock = time.Now
	}
	return &Stage{
		findings:      findings,
		verifications: verifications,
		logger:        logging.OrDiscard(logger),
		now:           clock,
	}
}

// Run verifies every finding stored for runID, in stored order.
func (s *Stage) Run(ctx context.Context, runID string) (Result, error) {
	findings, err := s.findings.ListFindings(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("load findings: %w", err)
	}

	judgments := Evaluate(findings, s.now().UTC())

	results := make([]domain.VerificationResult, 0, len(judgments))
	byStatus := map[domain.FindingStatus][]string{}
	var res Result
	for _, j := range judgments {
		results = append(results, j.Result)
		byStatus[j.Status] = append(byStatus[j.Status], j.Result.FindingID)
		switch j.Status {
		case domain.FindingVerified:
			res.Verified++
		case domain.FindingRejected:
			res.Rejected++
		default:
			res.Unverifiable++
		}
	}

	if len(results) > 0 {
		if err := s.verifications.SaveVerifications(ctx, results); err != nil {
			return Result{}, fmt.Errorf("persist verifications: %w", err)
		}
	}
	for _, status := range []domain.FindingStatus{domain.FindingVerified, domain.FindingRejected} {
		ids := byStatus[status]
		if len(ids) == 0 {
			continue
		}
		if err := s.findings.UpdateFindingStatus(ctx, status, ids...); err != nil {
			return Result{}, fmt.Errorf("update finding status %s: %w", status, err)
		}
	}

	s.logger.Info("verification complete",
		"run_id", runID,
		"findings", len(findings),
		"verified", res.Verified,
		"rejected", res.Rejected,
		"held", res.Unverifiable,
	)
	return res, nil
}
