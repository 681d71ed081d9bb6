package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/logging"
	"PolicyWatch/internal/ports"
	"PolicyWatch/internal/sources"
	"PolicyWatch/internal/textutil"
)

const (
	defaultMaxLinks     = 15
	defaultMaxPages     = 5
	defaultMinRelevance = 0.5
	sourceContentLimit  = 2000
)

// Options bounds how much of each source is crawled and what gets admitted.
type Options struct {
	MaxLinksPerSource int
	MaxPagesPerSource int
	MinRelevance      float64
}

// Deps wires the collaborators the stage drives.
type Deps struct {
	Fetcher    ports.PageFetcher
	Classifier ports.Classifier
	Store      ports.FindingStore
	Pacer      *Pacer
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Result is the run-level outcome of the research stage.
type Result struct {
	SourcesScanned []string
	Findings       []domain.ResearchFinding
	Errors         []string
}

// Stage crawls sources, classifies pages and emits deduplicated findings.
// Calls are strictly sequential and spaced by the pacer.
type Stage struct {
	fetcher    ports.PageFetcher
	classifier ports.Classifier
	store      ports.FindingStore
	pacer      *Pacer
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// NewStage builds a research stage, filling zero options with defaults.
func NewStage(deps Deps, opts Options) *Stage {
	if opts.MaxLinksPerSource <= 0 {
		opts.MaxLinksPerSource = defaultMaxLinks
	}
	if opts.MaxPagesPerSource <= 0 {
		opts.MaxPagesPerSource = defaultMaxPages
	}
	// Configuration may raise the relevance floor but never lower it.
	if opts.MinRelevance < defaultMinRelevance {
		opts.MinRelevance = defaultMinRelevance
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Stage{
		fetcher:    deps.Fetcher,
		classifier: deps.Classifier,
		store:      deps.Store,
		pacer:      deps.Pacer,
		opts:       opts,
		logger:     logging.OrDiscard(deps.Logger),
		now:        clock,
	}
}

// Run scans every source in order. Per-page and per-source failures are
// collected in Result.Errors; only cancellation and persistence failures
// abort the stage.
func (s *Stage) Run(ctx context.Context, runID string, srcs []sources.Source, existingTitles []string) (Result, error) {
	result := Result{
		SourcesScanned: make([]string, 0, len(srcs)),
		Findings:       []domain.ResearchFinding{},
	}
	if s.fetcher == nil || s.classifier == nil {
		return result, fmt.Errorf("research stage is missing fetcher or classifier")
	}

	log := s.logger.With("run_id", runID)
	var collected []domain.ResearchFinding

	for _, src := range srcs {
		if err := s.pacer.Wait(ctx, CallSource); err != nil {
			return result, fmt.Errorf("wait before source %s: %w", src.ID, err)
		}
		result.SourcesScanned = append(result.SourcesScanned, src.ID)

		found, errs, err := s.scanSource(ctx, src, existingTitles)
		if err != nil {
			return result, err
		}
		// The next source waits a full interval from the end of this one.
		s.pacer.Mark(CallSource)
		for _, e := range errs {
			log.Warn("research error", "source", src.ID, "error", e)
		}
		log.Info("source scanned", "source", src.ID, "findings", len(found), "errors", len(errs))

		collected = append(collected, found...)
		result.Errors = append(result.Errors, errs...)
	}

	findings := Deduplicate(collected)
	for i := range findings {
		findings[i].ID = fmt.Sprintf("%s-finding-%03d", runID, i+1)
		findings[i].PipelineRunID = runID
	}

	if s.store != nil && len(findings) > 0 {
		if err := s.store.SaveFindings(ctx, findings); err != nil {
			return result, fmt.Errorf("persist findings: %w", err)
		}
	}

	result.Findings = findings
	log.Info("research complete",
		"sources", len(result.SourcesScanned),
		"raw_findings", len(collected),
		"findings", len(findings),
		"errors", len(result.Errors),
	)
	return result, nil
}

// scanSource fetches the root page and up to MaxPagesPerSource candidate
// pages, classifying each. The returned error is non-nil only on cancellation.
func (s *Stage) scanSource(ctx context.Context, src sources.Source, titles []string) ([]domain.ResearchFinding, []string, error) {
	var (
		findings []domain.ResearchFinding
		errs     []string
	)

	root, err := s.fetch(ctx, src.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, []string{fmt.Sprintf("%s: fetch %s: %v", src.ID, src.URL, err)}, nil
	}

	links := candidateLinks(root, s.opts.MaxLinksPerSource)
	pages := []domain.Page{root}

	for i, link := range links {
		if i >= s.opts.MaxPagesPerSource {
			break
		}
		page, err := s.fetch(ctx, link.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			errs = append(errs, fmt.Sprintf("%s: fetch %s: %v", src.ID, link.URL, err))
			continue
		}
		pages = append(pages, page)
	}

	for _, page := range pages {
		found, err := s.classify(ctx, page, titles)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			errs = append(errs, fmt.Sprintf("%s: classify %s: %v", src.ID, page.URL, err))
			continue
		}
		findings = append(findings, found...)
	}

	return findings, errs, nil
}

func (s *Stage) fetch(ctx context.Context, url string) (domain.Page, error) {
	if err := s.pacer.Wait(ctx, CallPageFetch); err != nil {
		return domain.Page{}, err
	}
	page, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return domain.Page{}, err
	}
	if page.URL == "" {
		page.URL = url
	}
	return page, nil
}

func (s *Stage) classify(ctx context.Context, page domain.Page, titles []string) ([]domain.ResearchFinding, error) {
	if strings.TrimSpace(page.Text) == "" {
		return nil, nil
	}
	if err := s.pacer.Wait(ctx, CallClassify); err != nil {
		return nil, err
	}

	classification, err := s.classifier.Classify(ctx, domain.ClassifyRequest{
		PageText:       page.Text,
		SourceURL:      page.URL,
		ExistingTitles: titles,
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	content := textutil.Truncate(page.Text, sourceContentLimit)

	var out []domain.ResearchFinding
	for _, raw := range classification.Findings {
		title := strings.TrimSpace(raw.Title)
		if NormalizeTitle(title) == "" {
			continue
		}
		score := clamp01(raw.RelevanceScore)
		if score < s.opts.MinRelevance {
			continue
		}
		out = append(out, domain.ResearchFinding{
			Title:                 title,
			Summary:               strings.TrimSpace(raw.Summary),
			SourceURL:             page.URL,
			SourceContent:         content,
			DiscoveredAt:          now,
			RelevanceScore:        score,
			SuggestedType:         strings.TrimSpace(raw.SuggestedType),
			SuggestedJurisdiction: strings.TrimSpace(raw.SuggestedJurisdiction),
			Tags:                  nonNil(raw.Tags),
			Agencies:              nonNil(raw.Agencies),
			KeyDates:              nonNil(raw.KeyDates),
			RelatedTopics:         nonNil(raw.RelatedTopics),
			IsNewPolicy:           raw.IsNewPolicy,
			ExistingPolicyID:      strings.TrimSpace(raw.ExistingPolicyID),
			ChangeDescription:     strings.TrimSpace(raw.ChangeDescription),
			Status:                domain.FindingDiscovered,
		})
	}
	return out, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
