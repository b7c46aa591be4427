package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/studyforge-backend/internal/platform/envutil"
	"github.com/yungbote/studyforge-backend/internal/platform/gemini"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
	"github.com/yungbote/studyforge-backend/internal/platform/openai"
)

// Generator is the structured-generation collaborator: one model call
// constrained to a JSON schema, returning the parsed object.
type Generator interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

// Embedder turns texts into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Client is what a resolved provider exposes to the pipelines.
type Client interface {
	Generator
	Embedder
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config selects the provider and carries its credentials. It is
// loaded once at startup and resolved explicitly per task invocation;
// nothing in the pipelines reads provider state from the environment.
type Config struct {
	Provider string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	OpenAIEmbedModel string

	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiModel      string
	GeminiEmbedModel string

	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	return Config{
		Provider: strings.ToLower(envutil.String("LLM_PROVIDER", ProviderOpenAI)),

		OpenAIAPIKey:     envutil.String("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    envutil.String("OPENAI_BASE_URL", ""),
		OpenAIModel:      envutil.String("OPENAI_MODEL", ""),
		OpenAIEmbedModel: envutil.String("OPENAI_EMBED_MODEL", ""),

		GeminiAPIKey:     envutil.String("GEMINI_API_KEY", ""),
		GeminiBaseURL:    envutil.String("GEMINI_BASE_URL", ""),
		GeminiModel:      envutil.String("GEMINI_MODEL", ""),
		GeminiEmbedModel: envutil.String("GEMINI_EMBED_MODEL", ""),

		Timeout:    envutil.Duration("LLM_TIMEOUT", 180*time.Second),
		MaxRetries: envutil.Int("LLM_MAX_RETRIES", 4),
	}
}

// Factory resolves a provider client from config. Pipelines resolve at
// the start of every task run so a credential rotation takes effect
// without a restart, and a missing key fails the task with a
// classifiable "api key" error.
type Factory interface {
	Resolve(cfg Config, log *logger.Logger) (Client, error)
}

type factory struct{}

func NewFactory() Factory { return factory{} }

func (factory) Resolve(cfg Config, log *logger.Logger) (Client, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return openai.NewClient(openai.Options{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			EmbedModel: cfg.OpenAIEmbedModel,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}, log)
	case ProviderGemini:
		return gemini.NewClient(gemini.Options{
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			Model:      cfg.GeminiModel,
			EmbedModel: cfg.GeminiEmbedModel,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}, log)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
