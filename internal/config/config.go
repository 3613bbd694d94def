package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"swap-assistant/internal/models"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendFile     = "file"
	BackendPgvector = "pgvector"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	ChatLLM  LLMConfig      `yaml:"chat_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Index    IndexConfig    `yaml:"index"`
	Database DatabaseConfig `yaml:"database"`
	Memory   MemoryConfig   `yaml:"memory"`
	Prompt   PromptConfig   `yaml:"prompt"`
}

type AppConfig struct {
	Name string `yaml:"name"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowOrigins   []string      `yaml:"allow_origins"`
}

// LLMConfig describes one model endpoint. Key is never read from the YAML file
// in production, it comes from OPENAI_API_KEY.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Key         string        `yaml:"key"`
	Timeout     time.Duration `yaml:"timeout"`
	BatchSize   int           `yaml:"batch_size"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

type RAGConfig struct {
	ChunkSize      int      `yaml:"chunk_size"`
	ChunkOverlap   int      `yaml:"chunk_overlap"`
	TopK           int      `yaml:"top_k"`
	QuestionColumn string   `yaml:"question_column"`
	AnswerColumn   string   `yaml:"answer_column"`
	Documents      []string `yaml:"documents"`
}

type IndexConfig struct {
	Backend       string `yaml:"backend"`
	Dir           string `yaml:"dir"`
	Archive       string `yaml:"archive"`
	Collection    string `yaml:"collection"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
	Debug    bool   `yaml:"debug"`
}

type MemoryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxTurns    int           `yaml:"max_turns"`
	MaxTokens   int           `yaml:"max_tokens"`
	MaxSessions int           `yaml:"max_sessions"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
}

// PromptConfig is the versioned prompt contract. Template must contain the
// {context} and {question} placeholders.
type PromptConfig struct {
	Version  string `yaml:"version"`
	System   string `yaml:"system"`
	Template string `yaml:"template"`
}

const (
	defaultChunkSize    = 500
	defaultChunkOverlap = 50
	defaultTopK         = 4
	defaultBatchSize    = 64
	defaultTemperature  = 0.2
	defaultMaxSessions  = 1000
)

// Default returns a config with every default applied. Fields whose zero
// value is legal are seeded here rather than in applyDefaults, so an explicit
// zero in the YAML file survives loading.
func Default() *Config {
	cfg := &Config{
		ChatLLM: LLMConfig{Temperature: defaultTemperature},
		RAG:     RAGConfig{ChunkOverlap: defaultChunkOverlap},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the YAML file at path, applies defaults and environment
// overrides. It does not validate; call Validate before use.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrInvalidConfiguration, path, err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "Swap Assistent"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8501"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 90 * time.Second
	}

	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = ProviderOpenAI
	}
	if c.EmbedLLM.Model == "" {
		c.EmbedLLM.Model = "text-embedding-ada-002"
	}
	if c.EmbedLLM.Timeout == 0 {
		c.EmbedLLM.Timeout = 30 * time.Second
	}
	if c.EmbedLLM.BatchSize == 0 {
		c.EmbedLLM.BatchSize = defaultBatchSize
	}

	if c.ChatLLM.Provider == "" {
		c.ChatLLM.Provider = ProviderOpenAI
	}
	if c.ChatLLM.Model == "" {
		c.ChatLLM.Model = "gpt-3.5-turbo"
	}
	if c.ChatLLM.Timeout == 0 {
		c.ChatLLM.Timeout = 60 * time.Second
	}

	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = defaultChunkSize
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = defaultTopK
	}
	if c.RAG.QuestionColumn == "" {
		c.RAG.QuestionColumn = models.DefaultQuestionColumn
	}
	if c.RAG.AnswerColumn == "" {
		c.RAG.AnswerColumn = models.DefaultAnswerColumn
	}

	if c.Index.Backend == "" {
		c.Index.Backend = BackendFile
	}
	if c.Index.Dir == "" {
		c.Index.Dir = "./faq_index"
	}
	if c.Index.Collection == "" {
		c.Index.Collection = "klantvragen"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "pgdriver"
	}
	if c.Database.Table == "" {
		c.Database.Table = "faq_chunks"
	}

	if c.Memory.MaxTurns == 0 {
		c.Memory.MaxTurns = 10
	}
	if c.Memory.MaxSessions == 0 {
		c.Memory.MaxSessions = defaultMaxSessions
	}
	if c.Memory.SessionTTL == 0 {
		c.Memory.SessionTTL = 30 * time.Minute
	}

	if c.Prompt.Version == "" {
		c.Prompt.Version = "v1"
	}
	if c.Prompt.System == "" {
		c.Prompt.System = models.DefaultSystemPrompt
	}
	if c.Prompt.Template == "" {
		c.Prompt.Template = models.DefaultPromptTemplate
	}
}

func (c *Config) applyEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.EmbedLLM.Key == "" {
			c.EmbedLLM.Key = key
		}
		if c.ChatLLM.Key == "" {
			c.ChatLLM.Key = key
		}
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	if key := os.Getenv("INDEX_ENCRYPTION_KEY"); key != "" {
		c.Index.EncryptionKey = key
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// Validate rejects configurations that would fail later at request time.
func (c *Config) Validate() error {
	var problems []string
	if c.RAG.ChunkSize <= 0 {
		problems = append(problems, "rag.chunk_size must be > 0")
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		problems = append(problems, "rag.chunk_overlap must be >= 0 and < rag.chunk_size")
	}
	if c.RAG.TopK <= 0 {
		problems = append(problems, "rag.top_k must be > 0")
	}
	if c.EmbedLLM.BatchSize <= 0 {
		problems = append(problems, "embed_llm.batch_size must be > 0")
	}
	for _, p := range []string{c.EmbedLLM.Provider, c.ChatLLM.Provider} {
		if p != ProviderOpenAI && p != ProviderOllama {
			problems = append(problems, fmt.Sprintf("unknown provider %q", p))
		}
	}
	switch c.Index.Backend {
	case BackendFile:
		if k := len(c.Index.EncryptionKey); k != 0 && k != 32 {
			problems = append(problems, "index.encryption_key must be 32 bytes")
		}
	case BackendPgvector:
		if c.Database.DSN == "" {
			problems = append(problems, "database.dsn is required for the pgvector backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown index backend %q", c.Index.Backend))
	}
	if c.Memory.MaxTurns < 0 || c.Memory.MaxTokens < 0 || c.Memory.MaxSessions < 0 {
		problems = append(problems, "memory limits must be >= 0")
	}
	if !strings.Contains(c.Prompt.Template, "{context}") {
		problems = append(problems, "prompt.template is missing the {context} placeholder")
	}
	if !strings.Contains(c.Prompt.Template, "{question}") {
		problems = append(problems, "prompt.template is missing the {question} placeholder")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// RequireCredentials fails when a hosted provider is configured without an
// API key. Ollama endpoints run without one.
func (c *Config) RequireCredentials() error {
	if c.EmbedLLM.Provider == ProviderOpenAI && c.EmbedLLM.Key == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY for the embedding provider", models.ErrMissingCredential)
	}
	if c.ChatLLM.Provider == ProviderOpenAI && c.ChatLLM.Key == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY for the chat provider", models.ErrMissingCredential)
	}
	return nil
}
