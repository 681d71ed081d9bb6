package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/logging"
	"PolicyWatch/internal/ports"
	"PolicyWatch/pkg/retry"
)

// HTTPClassifier talks to an external classification service that speaks
// the Classification JSON contract on POST /classify.
type HTTPClassifier struct {
	endpoint string
	apiKey   string
	http     *http.Client
	retry    retry.Config
	logger   *slog.Logger
}

var _ ports.Classifier = (*HTTPClassifier)(nil)

// NewHTTPClassifier creates a reusable HTTP client.
func NewHTTPClassifier(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger = logging.OrDiscard(logger).With("component", "http_classifier")
	cfg := retry.DefaultConfig()
	cfg.Logger = logger
	return &HTTPClassifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
		retry:    cfg,
		logger:   logger,
	}
}

// Classify posts the request. A body that does not decode yields no findings.
func (c *HTTPClassifier) Classify(ctx context.Context, req domain.ClassifyRequest) (domain.Classification, error) {
	raw, err := retry.DoWithResult(ctx, c.retry, func() ([]byte, error) {
		return c.post(ctx, "/classify", req)
	})
	if err != nil {
		return domain.Classification{}, err
	}

	var out domain.Classification
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("malformed classifier response", "source_url", req.SourceURL, "error", err)
		return domain.Classification{Findings: []domain.RawFinding{}}, nil
	}
	if out.Findings == nil {
		out.Findings = []domain.RawFinding{}
	}
	return out, nil
}

func (c *HTTPClassifier) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &retry.Permanent{Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, &retry.Permanent{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &retry.Permanent{Err: statusErr}
		}
		return nil, statusErr
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return raw, nil
}
