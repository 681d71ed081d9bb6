package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/sources"
)

type fakeFetcher struct {
	pages map[string]domain.Page
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (domain.Page, error) {
	f.calls = append(f.calls, url)
	page, ok := f.pages[url]
	if !ok {
		return domain.Page{}, fmt.Errorf("404 for %s", url)
	}
	return page, nil
}

type fakeClassifier struct {
	byURL map[string]domain.Classification
	fail  map[string]bool
	calls []domain.ClassifyRequest
}

func (c *fakeClassifier) Classify(_ context.Context, req domain.ClassifyRequest) (domain.Classification, error) {
	c.calls = append(c.calls, req)
	if c.fail[req.SourceURL] {
		return domain.Classification{}, errors.New("model unavailable")
	}
	return c.byURL[req.SourceURL], nil
}

type fakeFindingStore struct {
	saved []domain.ResearchFinding
	err   error
}

func (s *fakeFindingStore) SaveFindings(_ context.Context, findings []domain.ResearchFinding) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, findings...)
	return nil
}

func (s *fakeFindingStore) ListFindings(context.Context, string) ([]domain.ResearchFinding, error) {
	return s.saved, nil
}

func (s *fakeFindingStore) UpdateFindingStatus(context.Context, domain.FindingStatus, ...string) error {
	return nil
}

func fixedClock() time.Time {
	return time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
}

func newTestStage(f *fakeFetcher, c *fakeClassifier, store *fakeFindingStore) *Stage {
	return NewStage(Deps{
		Fetcher:    f,
		Classifier: c,
		Store:      store,
		Pacer:      NewPacer(Intervals{}),
		Clock:      fixedClock,
	}, Options{})
}

func TestDeduplicateKeepsHighestRelevance(t *testing.T) {
	t.Parallel()

	in := []domain.ResearchFinding{
		{Title: "AI Ethics Framework", RelevanceScore: 0.6, SourceURL: "a"},
		{Title: "Privacy Act Review", RelevanceScore: 0.7, SourceURL: "b"},
		{Title: "ai ethics  framework!", RelevanceScore: 0.9, SourceURL: "c"},
		{Title: "AI-Ethics Framework", RelevanceScore: 0.9, SourceURL: "d"},
	}

	out := Deduplicate(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(out))
	}
	if out[0].SourceURL != "c" {
		t.Fatalf("expected highest, first-seen duplicate to win, got %s", out[0].SourceURL)
	}
	if out[1].SourceURL != "b" {
		t.Fatalf("unexpected second finding %s", out[1].SourceURL)
	}
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	t.Parallel()

	in := []domain.ResearchFinding{
		{Title: "A", RelevanceScore: 0.5},
		{Title: "a", RelevanceScore: 0.8},
		{Title: "B", RelevanceScore: 0.6},
		{Title: "b.", RelevanceScore: 0.6},
	}
	once := Deduplicate(in)
	twice := Deduplicate(once)
	if len(once) != len(twice) {
		t.Fatalf("dedupe not idempotent: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Title != twice[i].Title || once[i].RelevanceScore != twice[i].RelevanceScore {
			t.Fatalf("dedupe changed result at %d: %+v vs %+v", i, once[i], twice[i])
		}
	}
	if once[0].RelevanceScore != 0.8 || once[1].Title != "B" {
		t.Fatalf("unexpected survivors: %+v", once)
	}
}

func TestMatchesKeyword(t *testing.T) {
	t.Parallel()

	cases := []struct {
		link domain.Link
		want bool
	}{
		{domain.Link{URL: "https://x.gov.au/about/ai", Text: "Read"}, true},
		{domain.Link{URL: "https://x.gov.au/contact", Text: "Email us"}, false},
		{domain.Link{URL: "https://x.gov.au/main", Text: "Home"}, false},
		{domain.Link{URL: "https://x.gov.au/x", Text: "Data and Digital Strategy"}, true},
		{domain.Link{URL: "https://x.gov.au/artificial-intelligence", Text: ""}, true},
		{domain.Link{URL: "https://x.gov.au/news", Text: "Safe and responsible AI"}, true},
	}
	for _, tc := range cases {
		if got := matchesKeyword(tc.link); got != tc.want {
			t.Fatalf("matchesKeyword(%+v) = %v, want %v", tc.link, got, tc.want)
		}
	}
}

func TestCandidateLinksFiltersAndCaps(t *testing.T) {
	t.Parallel()

	page := domain.Page{URL: "https://x.gov.au/"}
	page.Links = append(page.Links,
		domain.Link{URL: "https://x.gov.au", Text: "Digital home"},
		domain.Link{URL: "mailto:policy@x.gov.au", Text: "policy"},
		domain.Link{URL: "https://x.gov.au/careers", Text: "Careers"},
	)
	for i := 0; i < 20; i++ {
		page.Links = append(page.Links, domain.Link{URL: fmt.Sprintf("https://x.gov.au/policy/%d", i), Text: "Policy"})
	}
	page.Links = append(page.Links, domain.Link{URL: "https://x.gov.au/policy/0#top", Text: "Policy again"})

	got := candidateLinks(page, 15)
	if len(got) != 15 {
		t.Fatalf("expected 15 candidates, got %d", len(got))
	}
	if got[0].URL != "https://x.gov.au/policy/0" {
		t.Fatalf("unexpected first candidate %s", got[0].URL)
	}
	for _, l := range got {
		if strings.HasPrefix(l.URL, "mailto:") || strings.HasSuffix(l.URL, "careers") {
			t.Fatalf("unexpected candidate %s", l.URL)
		}
	}
}

func TestStageRunCollectsFindingsInOrder(t *testing.T) {
	t.Parallel()

	longText := strings.Repeat("x", 3000)
	fetcher := &fakeFetcher{pages: map[string]domain.Page{
		"https://a.gov.au/": {
			URL:  "https://a.gov.au/",
			Text: "root text about AI",
			Links: []domain.Link{
				{URL: "https://a.gov.au/ai-policy", Text: "AI policy"},
				{URL: "https://a.gov.au/broken-policy", Text: "Policy"},
				{URL: "https://a.gov.au/careers", Text: "Careers"},
			},
		},
		"https://a.gov.au/ai-policy": {URL: "https://a.gov.au/ai-policy", Text: longText},
		"https://b.gov.au/":          {URL: "https://b.gov.au/", Text: "b root"},
	}}
	classifier := &fakeClassifier{byURL: map[string]domain.Classification{
		"https://a.gov.au/": {Findings: []domain.RawFinding{
			{Title: "Low relevance note", RelevanceScore: 0.2},
			{Title: "AI Ethics Framework", Summary: "Eight principles", RelevanceScore: 0.6, Tags: []string{"ethics"}},
		}},
		"https://a.gov.au/ai-policy": {Findings: []domain.RawFinding{
			{Title: "Policy for responsible use of AI in government", RelevanceScore: 1.4},
		}},
		"https://b.gov.au/": {Findings: []domain.RawFinding{
			{Title: "AI ethics framework", Summary: "Updated principles", RelevanceScore: 0.8},
			{Title: "   ", RelevanceScore: 0.9},
		}},
	}}
	store := &fakeFindingStore{}

	stage := newTestStage(fetcher, classifier, store)
	srcs := []sources.Source{
		{ID: "a", URL: "https://a.gov.au/"},
		{ID: "down", URL: "https://down.gov.au/"},
		{ID: "b", URL: "https://b.gov.au/"},
	}

	res, err := stage.Run(context.Background(), "run-1", srcs, []string{"Existing"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if strings.Join(res.SourcesScanned, ",") != "a,down,b" {
		t.Fatalf("unexpected sources scanned %v", res.SourcesScanned)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 errors (broken link, unreachable source), got %v", res.Errors)
	}
	if len(res.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %+v", res.Findings)
	}

	first := res.Findings[0]
	if first.ID != "run-1-finding-001" || first.PipelineRunID != "run-1" {
		t.Fatalf("unexpected identity %s/%s", first.ID, first.PipelineRunID)
	}
	if first.SourceURL != "https://b.gov.au/" || first.RelevanceScore != 0.8 {
		t.Fatalf("dedupe should keep higher relevance duplicate, got %+v", first)
	}

	second := res.Findings[1]
	if second.RelevanceScore != 1 {
		t.Fatalf("relevance should be clamped to 1, got %v", second.RelevanceScore)
	}
	if len([]rune(second.SourceContent)) != 2000 {
		t.Fatalf("source content should be truncated to 2000 chars, got %d", len(second.SourceContent))
	}
	if second.Status != domain.FindingDiscovered || !second.DiscoveredAt.Equal(fixedClock()) {
		t.Fatalf("unexpected status/time %+v", second)
	}
	if second.Tags == nil || second.Agencies == nil {
		t.Fatal("slices should never be nil")
	}

	if len(store.saved) != 2 {
		t.Fatalf("expected findings persisted, got %d", len(store.saved))
	}
	for _, call := range classifier.calls {
		if len(call.ExistingTitles) != 1 || call.ExistingTitles[0] != "Existing" {
			t.Fatalf("existing titles not forwarded: %+v", call)
		}
	}
}

func TestStageRunCapsFetchedPages(t *testing.T) {
	t.Parallel()

	root := domain.Page{URL: "https://a.gov.au/", Text: "root"}
	pages := map[string]domain.Page{}
	for i := 0; i < 10; i++ {
		u := fmt.Sprintf("https://a.gov.au/policy-%d", i)
		root.Links = append(root.Links, domain.Link{URL: u, Text: "policy"})
		pages[u] = domain.Page{URL: u, Text: "text"}
	}
	pages[root.URL] = root

	fetcher := &fakeFetcher{pages: pages}
	classifier := &fakeClassifier{}
	stage := newTestStage(fetcher, classifier, &fakeFindingStore{})

	if _, err := stage.Run(context.Background(), "run", []sources.Source{{ID: "a", URL: root.URL}}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fetcher.calls) != 6 {
		t.Fatalf("expected root + 5 fetches, got %d", len(fetcher.calls))
	}
	if len(classifier.calls) != 6 {
		t.Fatalf("expected 6 classifications, got %d", len(classifier.calls))
	}
}

func TestStageRunClassifierFailureIsRecorded(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]domain.Page{
		"https://a.gov.au/": {URL: "https://a.gov.au/", Text: "root"},
	}}
	classifier := &fakeClassifier{fail: map[string]bool{"https://a.gov.au/": true}}

	res, err := newTestStage(fetcher, classifier, &fakeFindingStore{}).
		Run(context.Background(), "run", []sources.Source{{ID: "a", URL: "https://a.gov.au/"}}, nil)
	if err != nil {
		t.Fatalf("classifier failure should not abort the stage: %v", err)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "classify") {
		t.Fatalf("expected classify error, got %v", res.Errors)
	}
	if len(res.Findings) != 0 {
		t.Fatalf("expected no findings, got %d", len(res.Findings))
	}
}

func TestStageRunEmptyIsNotAnError(t *testing.T) {
	t.Parallel()

	res, err := newTestStage(&fakeFetcher{}, &fakeClassifier{}, &fakeFindingStore{}).
		Run(context.Background(), "run", []sources.Source{{ID: "a", URL: "https://a.gov.au/"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Findings) != 0 || len(res.SourcesScanned) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStageRunPersistenceFailureAborts(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]domain.Page{
		"https://a.gov.au/": {URL: "https://a.gov.au/", Text: "root"},
	}}
	classifier := &fakeClassifier{byURL: map[string]domain.Classification{
		"https://a.gov.au/": {Findings: []domain.RawFinding{{Title: "Finding", RelevanceScore: 0.9}}},
	}}
	store := &fakeFindingStore{err: errors.New("disk full")}

	_, err := newTestStage(fetcher, classifier, store).
		Run(context.Background(), "run", []sources.Source{{ID: "a", URL: "https://a.gov.au/"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestStageRunStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stage := NewStage(Deps{
		Fetcher:    &fakeFetcher{},
		Classifier: &fakeClassifier{},
		Pacer:      NewPacer(Intervals{Source: time.Hour}),
	}, Options{})

	if _, err := stage.Run(ctx, "run", []sources.Source{{ID: "a", URL: "https://a.gov.au/"}}, nil); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestPacerSpacesCalls(t *testing.T) {
	t.Parallel()

	pacer := NewPacer(Intervals{Classify: 40 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := pacer.Wait(ctx, CallClassify); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Fatalf("expected calls to be spaced, elapsed %v", elapsed)
	}

	start = time.Now()
	for i := 0; i < 5; i++ {
		if err := pacer.Wait(ctx, CallPageFetch); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Fatalf("zero interval should not wait, elapsed %v", elapsed)
	}
}

type timedCall struct {
	kind string
	url  string
	at   time.Time
}

type timedFetcher struct {
	pages map[string]domain.Page
	log   *[]timedCall
}

func (f timedFetcher) Fetch(_ context.Context, url string) (domain.Page, error) {
	*f.log = append(*f.log, timedCall{kind: "fetch", url: url, at: time.Now()})
	return f.pages[url], nil
}

type timedClassifier struct {
	log *[]timedCall
}

func (c timedClassifier) Classify(_ context.Context, req domain.ClassifyRequest) (domain.Classification, error) {
	*c.log = append(*c.log, timedCall{kind: "classify", url: req.SourceURL, at: time.Now()})
	return domain.Classification{}, nil
}

func TestStageRunWaitsBetweenSourcesAfterLastCall(t *testing.T) {
	t.Parallel()

	pages := map[string]domain.Page{}
	for _, host := range []string{"a", "b"} {
		root := domain.Page{URL: "https://" + host + ".gov.au/", Text: "root"}
		for i := 0; i < 3; i++ {
			u := fmt.Sprintf("https://%s.gov.au/policy-%d", host, i)
			root.Links = append(root.Links, domain.Link{URL: u, Text: "policy"})
			pages[u] = domain.Page{URL: u, Text: "text"}
		}
		pages[root.URL] = root
	}

	var log []timedCall
	intervals := Intervals{
		PageFetch: 10 * time.Millisecond,
		Classify:  5 * time.Millisecond,
		Source:    60 * time.Millisecond,
	}
	stage := NewStage(Deps{
		Fetcher:    timedFetcher{pages: pages, log: &log},
		Classifier: timedClassifier{log: &log},
		Pacer:      NewPacer(intervals),
	}, Options{})

	srcs := []sources.Source{
		{ID: "a", URL: "https://a.gov.au/"},
		{ID: "b", URL: "https://b.gov.au/"},
	}
	if _, err := stage.Run(context.Background(), "run", srcs, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	var lastOfA, firstOfB time.Time
	for _, call := range log {
		if strings.HasPrefix(call.url, "https://a.gov.au/") {
			lastOfA = call.at
		}
		if call.url == "https://b.gov.au/" && call.kind == "fetch" && firstOfB.IsZero() {
			firstOfB = call.at
		}
	}
	if lastOfA.IsZero() || firstOfB.IsZero() {
		t.Fatalf("missing calls in log %+v", log)
	}
	if gap := firstOfB.Sub(lastOfA); gap < intervals.Source {
		t.Fatalf("expected at least %v between sources, got %v", intervals.Source, gap)
	}
}

func TestStageRunRelevanceFloor(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]domain.Page{
		"https://a.gov.au/": {URL: "https://a.gov.au/", Text: "root"},
	}}
	classifier := &fakeClassifier{byURL: map[string]domain.Classification{
		"https://a.gov.au/": {Findings: []domain.RawFinding{
			{Title: "At the floor", RelevanceScore: 0.5},
			{Title: "Just below", RelevanceScore: 0.4999},
			{Title: "Configured too low", RelevanceScore: 0.3},
		}},
	}}

	stage := NewStage(Deps{
		Fetcher:    fetcher,
		Classifier: classifier,
		Pacer:      NewPacer(Intervals{}),
		Clock:      fixedClock,
	}, Options{MinRelevance: 0.2})

	res, err := stage.Run(context.Background(), "run", []sources.Source{{ID: "a", URL: "https://a.gov.au/"}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Findings) != 1 || res.Findings[0].Title != "At the floor" {
		t.Fatalf("expected only the 0.5 finding, got %+v", res.Findings)
	}
}

func TestPacerMarkRestartsInterval(t *testing.T) {
	t.Parallel()

	pacer := NewPacer(Intervals{Source: 50 * time.Millisecond})
	ctx := context.Background()

	if err := pacer.Wait(ctx, CallSource); err != nil {
		t.Fatalf("wait: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	pacer.Mark(CallSource)

	start := time.Now()
	if err := pacer.Wait(ctx, CallSource); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected a full interval after mark, waited %v", elapsed)
	}

	var nilPacer *Pacer
	nilPacer.Mark(CallSource)
}
