package llmservice

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"swap-assistant/internal/config"
	"swap-assistant/internal/models"
)

var thinkRe = regexp.MustCompile(models.ThinkTag)

// Generator is the part of llms.Model the responder needs.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// NewLLM creates the chat model described by llmConfig.
func NewLLM(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("model", llmConfig.Model).Msg("Creating chat model")
	switch llmConfig.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		return openai.New(opts...)
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown chat provider %q", models.ErrInvalidConfiguration, llmConfig.Provider)
	}
}

// GenerateContent calls the model once and returns the first choice with any
// <think> block removed. Every failure, timeouts included, is an
// ErrGenerationProvider.
func GenerateContent(ctx context.Context, llm Generator, llmConfig *config.LLMConfig, messages []llms.MessageContent) (string, error) {
	if llmConfig.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, llmConfig.Timeout)
		defer cancel()
	}

	opts := []llms.CallOption{llms.WithTemperature(llmConfig.Temperature)}
	if llmConfig.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(llmConfig.MaxTokens))
	}

	start := time.Now()
	res, err := llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrGenerationProvider, err)
	}
	if res == nil || len(res.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", models.ErrGenerationProvider)
	}
	log.Debug().Dur("took", time.Since(start)).Str("stop_reason", res.Choices[0].StopReason).Msg("Generated content")

	return strings.TrimSpace(thinkRe.ReplaceAllString(res.Choices[0].Content, "")), nil
}
