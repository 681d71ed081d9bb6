package verification

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"PolicyWatch/internal/domain"
)

const (
	untrustedSourcePenalty = 0.2
	corroborationBonus     = 0.1
	maxCorroborations      = 3
	shortSummaryPenalty    = 0.1
	missingFieldPenalty    = 0.05
	minSummaryLength       = 20
	titlePrefixWords       = 3

	confirmedThreshold = 0.7
	partialThreshold   = 0.5
)

// governmentSuffixes are host suffixes treated as authoritative sources.
var governmentSuffixes = []string{".gov.au", ".csiro.au", ".edu.au"}

// Judgment is the deterministic verdict on one finding.
type Judgment struct {
	Result domain.VerificationResult
	Status domain.FindingStatus
}

// Evaluate judges every finding against the snapshot it belongs to. It makes
// no external calls and returns the same output for the same input.
func Evaluate(findings []domain.ResearchFinding, verifiedAt time.Time) []Judgment {
	out := make([]Judgment, 0, len(findings))
	for i := range findings {
		out = append(out, judge(i, findings, verifiedAt))
	}
	return out
}

func judge(idx int, all []domain.ResearchFinding, verifiedAt time.Time) Judgment {
	f := all[idx]
	confidence := f.RelevanceScore
	issues := []string{}
	corrections := []string{}

	official := IsGovernmentSource(f.SourceURL)
	if !official {
		confidence -= untrustedSourcePenalty
		issues = append(issues, "Source URL is not on a recognised government domain")
	}

	crossRefs := corroborating(idx, all)
	confidence += corroborationBonus * float64(len(crossRefs))

	if len([]rune(strings.TrimSpace(f.Summary))) < minSummaryLength {
		confidence -= shortSummaryPenalty
		issues = append(issues, "Summary is too short to describe the policy")
	}
	if strings.TrimSpace(f.SuggestedType) == "" {
		confidence -= missingFieldPenalty
		corrections = append(corrections, domain.CorrectionMissingType)
	}
	if strings.TrimSpace(f.SuggestedJurisdiction) == "" {
		confidence -= missingFieldPenalty
		corrections = append(corrections, domain.CorrectionMissingJurisdiction)
	}

	confidence = round4(clamp01(confidence))
	outcome := classify(confidence, len(issues) > 0)

	return Judgment{
		Result: domain.VerificationResult{
			ID:                     "verification-" + f.ID,
			FindingID:              f.ID,
			PipelineRunID:          f.PipelineRunID,
			VerifiedAt:             verifiedAt,
			Outcome:                outcome,
			ConfidenceScore:        confidence,
			SourcesCrossReferenced: crossRefs,
			VerificationNotes:      notes(f.RelevanceScore, official, len(crossRefs), issues),
			FactualIssues:          issues,
			SuggestedCorrections:   corrections,
		},
		Status: statusFor(outcome, confidence),
	}
}

// corroborating returns source URLs of up to three other findings from a
// different source that share a title prefix or a tag with all[idx].
func corroborating(idx int, all []domain.ResearchFinding) []string {
	f := all[idx]
	title := strings.ToLower(f.Title)
	tags := tagSet(f.Tags)

	refs := []string{}
	for i, other := range all {
		if len(refs) >= maxCorroborations {
			break
		}
		if i == idx || other.SourceURL == f.SourceURL {
			continue
		}
		prefix := leadingWords(other.Title, titlePrefixWords)
		titleMatch := prefix != "" && strings.Contains(title, prefix)
		if !titleMatch && !intersects(tags, other.Tags) {
			continue
		}
		refs = append(refs, other.SourceURL)
	}
	return refs
}

func classify(confidence float64, hasIssues bool) domain.VerificationOutcome {
	switch {
	case confidence >= confirmedThreshold:
		return domain.OutcomeConfirmed
	case confidence >= partialThreshold:
		return domain.OutcomePartiallyConfirmed
	case hasIssues:
		return domain.OutcomeContradicted
	default:
		return domain.OutcomeUnverifiable
	}
}

// statusFor maps an outcome to the finding status. Unverifiable findings stay
// discovered so a human can judge them.
func statusFor(outcome domain.VerificationOutcome, confidence float64) domain.FindingStatus {
	switch {
	case outcome == domain.OutcomeUnverifiable:
		return domain.FindingDiscovered
	case outcome == domain.OutcomeContradicted || confidence < partialThreshold:
		return domain.FindingRejected
	default:
		return domain.FindingVerified
	}
}

func notes(relevance float64, official bool, corroborations int, issues []string) string {
	parts := []string{fmt.Sprintf("Original relevance score: %.2f", relevance)}
	if official {
		parts = append(parts, "Source is an official government domain")
	} else {
		parts = append(parts, "Source is not an official government domain")
	}
	if corroborations > 0 {
		parts = append(parts, fmt.Sprintf("Corroborated by %d other finding(s)", corroborations))
	} else {
		parts = append(parts, "No corroborating findings from other sources")
	}
	if len(issues) > 0 {
		parts = append(parts, "Issues: "+strings.Join(issues, "; "))
	}
	return strings.Join(parts, ". ")
}

// IsGovernmentSource reports whether the URL host ends in a trusted suffix.
func IsGovernmentSource(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, suffix := range governmentSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func leadingWords(title string, n int) string {
	words := strings.Fields(strings.ToLower(title))
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func tagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if t := strings.ToLower(strings.TrimSpace(tag)); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

func intersects(set map[string]struct{}, tags []string) bool {
	for _, tag := range tags {
		if _, ok := set[strings.ToLower(strings.TrimSpace(tag))]; ok {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
