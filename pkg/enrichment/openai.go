package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/apperrors"
	"github.com/dealmatch/matchengine/pkg/cache"
	"github.com/dealmatch/matchengine/pkg/models"
)

const systemPrompt = `You are a research assistant for a lower-middle-market M&A data team.
Given a company, research its public footprint and answer with a single JSON object:
{
  "revenue": {"value": number or null, "confidence": "high"|"medium"|"low", "inferred": bool},
  "ebitda": {"value": number or null, "confidence": "high"|"medium"|"low", "inferred": bool},
  "industry": string or null,
  "locations": [string],
  "employee_count": number or null,
  "owner_goals": string or null,
  "summary": string or null,
  "website": string or null,
  "thesis": string or null
}
Figures are annual USD. Mark a figure "inferred" when derived from headcount,
fleet size, or similar secondary signals rather than stated numbers.
Omit fields you cannot establish; never guess a website.`

// OpenAIConfig configures the OpenAI-backed lookup.
type OpenAIConfig struct {
	Endpoint    string
	Model       string
	APIKey      string
	Temperature float64
	CacheTTL    time.Duration
}

// OpenAILookup researches entities through an OpenAI-compatible endpoint,
// fronted by the response cache so identical prompts inside the TTL never
// reach the provider twice.
type OpenAILookup struct {
	client *openai.Client
	model  string
	temp   float64
	ttl    time.Duration
	cache  cache.Service
	logger *zap.Logger
}

// NewOpenAILookup creates the provider. responses may be nil to disable
// caching.
func NewOpenAILookup(cfg OpenAIConfig, responses cache.Service, logger *zap.Logger) (*OpenAILookup, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &OpenAILookup{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		temp:   cfg.Temperature,
		ttl:    cfg.CacheTTL,
		cache:  responses,
		logger: logger.Named("openai-lookup"),
	}, nil
}

var _ Lookup = (*OpenAILookup)(nil)

func (l *OpenAILookup) Enrich(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	prompt := buildPrompt(req)
	key := cache.Key("openai", l.model, prompt)

	if l.cache != nil {
		if payload, ok, err := l.cache.Get(ctx, key); err != nil {
			// A broken cache degrades to a provider call, it never blocks one.
			l.logger.Warn("cache read failed", zap.Error(err))
		} else if ok {
			return parseLookupResult(string(payload))
		}
	}

	start := time.Now()
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: float32(l.temp),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		l.logger.Error("lookup request failed",
			zap.String("entity", req.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, classifyProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.AsTransient(fmt.Errorf("empty completion for %q", req.Name))
	}

	content := resp.Choices[0].Message.Content
	result, err := parseLookupResult(content)
	if err != nil {
		// Malformed output is worth one more attempt at a later time; the
		// model is not deterministic.
		return nil, apperrors.AsTransient(err)
	}

	l.logger.Info("lookup completed",
		zap.String("entity", req.Name),
		zap.String("work_type", string(req.WorkType)),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))

	if l.cache != nil {
		if err := l.cache.Put(ctx, key, []byte(content), l.ttl); err != nil {
			l.logger.Warn("cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

func buildPrompt(req LookupRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", req.Name)
	if req.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", req.Website)
	}
	fmt.Fprintf(&b, "Record type: %s\n", req.EntityType)
	switch req.WorkType {
	case models.WorkTypeBuyerEnrichment:
		b.WriteString("Focus on acquisition thesis and descriptive fields; skip financial research.\n")
	default:
		b.WriteString("Prioritize revenue and EBITDA with stated confidence.\n")
	}
	return b.String()
}

// classifyProviderError maps API failures onto the retry taxonomy. Auth and
// request-shape problems will fail again identically; everything
// infrastructure-flavored deserves a retry.
func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return apperrors.AsPermanent(err)
		case apiErr.HTTPStatusCode == 400 || apiErr.HTTPStatusCode == 404:
			return apperrors.AsPermanent(err)
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return apperrors.AsTransient(err)
		}
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "deadline exceeded") {
		return apperrors.AsTransient(err)
	}
	return apperrors.AsPermanent(err)
}
