package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/osteele/liquid"
	"github.com/tidwall/gjson"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/formula"
	"github.com/leadforge/leadforge/pkg/logger"
	"github.com/leadforge/leadforge/pkg/tracing"
)

// Limits for prompt templates
const (
	DefaultPromptRenderTimeout = 5 * time.Second
	MaxPromptTemplateSize      = 100 * 1024
	maxEnrichmentResponseBytes = 1 << 20
)

// Enricher computes the value of an ai_enrichment column for one lead
type Enricher interface {
	Enrich(ctx context.Context, column *domain.CalculatedColumn, leadData map[string]interface{}) (interface{}, error)
}

// EnrichmentClient renders a column's Liquid prompt against the lead and asks
// an external provider to answer it. The provider is opaque: it receives
// {prompt, column, result_type} and replies with {result}.
type EnrichmentClient struct {
	endpoint      string
	apiKey        string
	httpClient    *http.Client
	engine        *liquid.Engine
	renderTimeout time.Duration
	logger        logger.Logger
}

// NewEnrichmentClient creates a client. An empty endpoint makes every Enrich call fail.
func NewEnrichmentClient(endpoint, apiKey string, timeout time.Duration, logger logger.Logger) *EnrichmentClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &EnrichmentClient{
		endpoint:      endpoint,
		apiKey:        apiKey,
		httpClient:    tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
		engine:        liquid.NewEngine(),
		renderTimeout: DefaultPromptRenderTimeout,
		logger:        logger,
	}
}

// ValidatePromptTemplate checks that prompt parses as a Liquid template.
func ValidatePromptTemplate(prompt string) error {
	if len(prompt) > MaxPromptTemplateSize {
		return fmt.Errorf("prompt template size (%d bytes) exceeds maximum allowed size (%d bytes)", len(prompt), MaxPromptTemplateSize)
	}
	if _, err := liquid.NewEngine().ParseString(prompt); err != nil {
		return fmt.Errorf("invalid prompt template: %s", err.Error())
	}
	return nil
}

// RenderPrompt renders the template with the lead bound to "lead". Rendering
// runs in its own goroutine so a runaway template cannot hold the caller.
func (c *EnrichmentClient) RenderPrompt(prompt string, leadData map[string]interface{}) (string, error) {
	if len(prompt) > MaxPromptTemplateSize {
		return "", fmt.Errorf("prompt template size (%d bytes) exceeds maximum allowed size (%d bytes)", len(prompt), MaxPromptTemplateSize)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.renderTimeout)
	defer cancel()

	resultChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errorChan <- fmt.Errorf("panic during prompt rendering: %v", r)
			}
		}()

		rendered, err := c.engine.ParseAndRenderString(prompt, map[string]interface{}{"lead": leadData})
		if err != nil {
			errorChan <- fmt.Errorf("prompt rendering failed: %s", err.Error())
			return
		}
		resultChan <- rendered
	}()

	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errorChan:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("prompt rendering timeout after %v", c.renderTimeout)
	}
}

type enrichmentRequest struct {
	Prompt     string            `json:"prompt"`
	Column     string            `json:"column"`
	ResultType domain.ResultType `json:"result_type"`
}

// Enrich renders the prompt and calls the provider. Every failure is an
// EvaluationError so callers treat it like any other per-lead failure.
func (c *EnrichmentClient) Enrich(ctx context.Context, column *domain.CalculatedColumn, leadData map[string]interface{}) (interface{}, error) {
	if c.endpoint == "" {
		return nil, &formula.EvaluationError{Message: "enrichment provider is not configured"}
	}

	ctx, span := tracing.StartServiceSpan(ctx, "EnrichmentClient", "Enrich")
	defer span.End()
	tracing.AddAttribute(ctx, "column_id", column.ID)

	prompt, err := c.RenderPrompt(column.Formula, leadData)
	if err != nil {
		return nil, &formula.EvaluationError{Message: err.Error()}
	}

	body, err := json.Marshal(enrichmentRequest{
		Prompt:     prompt,
		Column:     column.ColumnName,
		ResultType: column.ResultType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal enrichment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create enrichment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"column_id": column.ID,
			"error":     err.Error(),
		}).Warn("Enrichment provider request failed")
		return nil, &formula.EvaluationError{Message: fmt.Sprintf("enrichment request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxEnrichmentResponseBytes))
	if err != nil {
		return nil, &formula.EvaluationError{Message: fmt.Sprintf("failed to read enrichment response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &formula.EvaluationError{Message: fmt.Sprintf("enrichment provider returned status %d", resp.StatusCode)}
	}

	if !gjson.ValidBytes(respBody) {
		return nil, &formula.EvaluationError{Message: "enrichment provider returned invalid JSON"}
	}
	return gjson.GetBytes(respBody, "result").Value(), nil
}
