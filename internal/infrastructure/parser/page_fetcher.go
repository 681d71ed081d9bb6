package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/ports"
	"PolicyWatch/internal/textutil"
)

const (
	defaultUserAgent = "PolicyWatch/1.0"
	maxBodyBytes     = 4 << 20
)

// Elements that carry navigation chrome rather than page content.
var strippedSelectors = "script, style, noscript, nav, footer, header, iframe, svg"

// PageFetcher downloads HTML pages and reduces them to text and links.
type PageFetcher struct {
	client    *http.Client
	userAgent string
}

var _ ports.PageFetcher = (*PageFetcher)(nil)

// NewPageFetcher wires an HTTP client; a nil client gets a 20s timeout.
func NewPageFetcher(client *http.Client, userAgent string) *PageFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}
	return &PageFetcher{client: client, userAgent: userAgent}
}

// Fetch retrieves pageURL. Non-2xx responses are errors.
func (f *PageFetcher) Fetch(ctx context.Context, pageURL string) (domain.Page, error) {
	doc, finalURL, err := f.fetchDocument(ctx, pageURL)
	if err != nil {
		return domain.Page{}, err
	}
	return extractPage(doc, finalURL), nil
}

func (f *PageFetcher) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, resp.Request.URL, nil
}

func extractPage(doc *goquery.Document, base *url.URL) domain.Page {
	page := domain.Page{
		URL:   base.String(),
		Title: textutil.CollapseSpace(doc.Find("title").First().Text()),
	}

	page.Links = extractLinks(doc, base)

	doc.Find(strippedSelectors).Remove()
	body := doc.Find("main")
	if body.Length() == 0 {
		body = doc.Find("body")
	}
	page.Text = textutil.CollapseSpace(body.Text())

	return page
}

// extractLinks resolves anchors against base and keeps unique http(s) targets.
// Links are read before chrome is stripped so navigation menus still feed
// candidate discovery.
func extractLinks(doc *goquery.Document, base *url.URL) []domain.Link {
	var links []domain.Link
	seen := map[string]struct{}{}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		key := abs.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		links = append(links, domain.Link{URL: key, Text: textutil.CollapseSpace(a.Text())})
	})

	return links
}
