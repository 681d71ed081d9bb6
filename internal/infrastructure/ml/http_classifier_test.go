package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"PolicyWatch/internal/domain"
)

func TestClassifyDecodesFindings(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/classify" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing auth header")
		}
		var req domain.ClassifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.SourceURL != "https://www.oaic.gov.au/ai" {
			t.Errorf("unexpected source url %q", req.SourceURL)
		}
		_, _ = w.Write([]byte(`{"findings":[{"title":"Privacy guidance on AI","relevanceScore":0.8,"isNewPolicy":true}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, "secret", 0, nil)
	out, err := c.Classify(context.Background(), domain.ClassifyRequest{PageText: "text", SourceURL: "https://www.oaic.gov.au/ai"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(out.Findings) != 1 || out.Findings[0].RelevanceScore != 0.8 {
		t.Fatalf("unexpected findings: %+v", out.Findings)
	}
}

func TestClassifyMalformedBodyIsEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	out, err := NewHTTPClassifier(srv.URL, "", 0, nil).Classify(context.Background(), domain.ClassifyRequest{})
	if err != nil {
		t.Fatalf("malformed body must not be an error: %v", err)
	}
	if out.Findings == nil || len(out.Findings) != 0 {
		t.Fatalf("expected empty findings, got %#v", out.Findings)
	}
}

func TestClassifyClientErrorStopsImmediately(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := NewHTTPClassifier(srv.URL, "", 0, nil).Classify(context.Background(), domain.ClassifyRequest{}); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one attempt, got %d", got)
	}
}
