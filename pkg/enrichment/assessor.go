package enrichment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/apperrors"
	"github.com/dealmatch/matchengine/pkg/cache"
)

const assessorPrompt = `You judge how well a business seller's stated goals match a buyer's stated preference.
Answer with a single integer from 0 to 100. 100 means the goals align exactly,
50 means neutral or unrelated, 0 means they directly conflict.
Answer with the number only, no prose.`

// OwnerGoalsAssessor scores seller-motivation fit through the same
// OpenAI-compatible endpoint the lookup uses. Results are cached; the pair
// of texts fully determines the answer we want.
type OwnerGoalsAssessor struct {
	client *openai.Client
	model  string
	ttl    time.Duration
	cache  cache.Service
	logger *zap.Logger
}

// NewOwnerGoalsAssessor creates the assessor. responses may be nil to
// disable caching.
func NewOwnerGoalsAssessor(cfg OpenAIConfig, responses cache.Service, logger *zap.Logger) (*OwnerGoalsAssessor, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &OwnerGoalsAssessor{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		ttl:    cfg.CacheTTL,
		cache:  responses,
		logger: logger.Named("goals-assessor"),
	}, nil
}

// AssessOwnerGoals returns a 0-100 alignment score for the two texts.
func (a *OwnerGoalsAssessor) AssessOwnerGoals(ctx context.Context, dealGoals, buyerPreference string) (float64, error) {
	prompt := fmt.Sprintf("Seller goals: %s\nBuyer preference: %s", dealGoals, buyerPreference)
	key := cache.Key("goals", a.model, prompt)

	if a.cache != nil {
		if payload, ok, err := a.cache.Get(ctx, key); err != nil {
			a.logger.Warn("cache read failed", zap.Error(err))
		} else if ok {
			return parseAssessment(string(payload))
		}
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: assessorPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return 0, classifyProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return 0, apperrors.AsTransient(fmt.Errorf("empty assessment completion"))
	}

	content := resp.Choices[0].Message.Content
	score, err := parseAssessment(content)
	if err != nil {
		return 0, apperrors.AsTransient(err)
	}

	if a.cache != nil {
		if err := a.cache.Put(ctx, key, []byte(content), a.ttl); err != nil {
			a.logger.Warn("cache write failed", zap.Error(err))
		}
	}
	return score, nil
}

// parseAssessment pulls the first integer out of the response and bounds
// it to [0,100].
func parseAssessment(content string) (float64, error) {
	fields := strings.FieldsFunc(content, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if len(fields) == 0 {
		return 0, fmt.Errorf("no score in assessment %q", strings.TrimSpace(content))
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("unparseable assessment %q", fields[0])
	}
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return float64(n), nil
}
