package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"PolicyWatch/internal/config"
	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/logging"
	"PolicyWatch/internal/ports"
	"PolicyWatch/internal/textutil"
	"PolicyWatch/pkg/retry"
)

const (
	pageTextLimit   = 8000
	maxTitlesInHint = 100
)

const defaultSystemPrompt = "You analyse Australian government web pages for AI policy content. Reply with JSON only."

const contractPrompt = `Identify AI policies, frameworks, guidelines, standards or legislation described on the page below.
Return a JSON object of the form:
{"findings":[{"title":"","summary":"","relevanceScore":0.0,"suggestedType":"","suggestedJurisdiction":"",
"tags":[],"agencies":[],"keyDates":[],"relatedTopics":[],"isNewPolicy":true,"existingPolicyId":"","changeDescription":""}]}
relevanceScore is between 0 and 1. Set isNewPolicy to false when the page describes one of the known policies listed below.
Return {"findings":[]} when the page has no AI policy content.`

// OpenAIClassifier classifies pages with a chat completion model.
type OpenAIClassifier struct {
	client       *openai.Client
	model        string
	systemPrompt string
	timeout      time.Duration
	retry        retry.Config
	logger       *slog.Logger
}

var _ ports.Classifier = (*OpenAIClassifier)(nil)

// NewOpenAIClassifier builds a classifier from configuration. A non-empty
// Endpoint replaces the OpenAI base URL, which covers compatible gateways.
func NewOpenAIClassifier(cfg config.ClassifierConfig, logger *slog.Logger) *OpenAIClassifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}

	logger = logging.OrDiscard(logger).With("component", "openai_classifier")
	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = logger

	prompt := strings.TrimSpace(cfg.SystemPrompt)
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	return &OpenAIClassifier{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: prompt,
		timeout:      cfg.Timeout,
		retry:        retryCfg,
		logger:       logger,
	}
}

// Classify sends the page to the model. Transport failures are returned;
// an unparseable reply is logged and yields no findings.
func (c *OpenAIClassifier) Classify(ctx context.Context, req domain.ClassifyRequest) (domain.Classification, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
	}

	reply, err := retry.DoWithResult(ctx, c.retry, func() (string, error) {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			if permanent(err) {
				return "", &retry.Permanent{Err: err}
			}
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		c.logger.Debug("classification generated",
			"source_url", req.SourceURL,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("chat completion: %w", err)
	}

	out, ok := ParseClassification(reply)
	if !ok {
		c.logger.Warn("unparseable classifier reply", "source_url", req.SourceURL, "reply", textutil.Truncate(reply, 200))
	}
	return out, nil
}

func userPrompt(req domain.ClassifyRequest) string {
	var b strings.Builder
	b.WriteString(contractPrompt)
	b.WriteString("\n\nKnown policies:\n")
	titles := req.ExistingTitles
	if len(titles) > maxTitlesInHint {
		titles = titles[:maxTitlesInHint]
	}
	if len(titles) == 0 {
		b.WriteString("(none)\n")
	}
	for _, t := range titles {
		b.WriteString("- ")
		b.WriteString(t)
		b.WriteString("\n")
	}
	b.WriteString("\nSource URL: ")
	b.WriteString(req.SourceURL)
	b.WriteString("\n\nPage text:\n")
	b.WriteString(textutil.Truncate(req.PageText, pageTextLimit))
	return b.String()
}

// permanent reports client errors that retrying cannot fix.
func permanent(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.HTTPStatusCode
		return code >= http.StatusBadRequest && code < http.StatusInternalServerError && code != http.StatusTooManyRequests
	}
	return false
}
