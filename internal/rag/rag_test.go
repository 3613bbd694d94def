package rag

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"swap-assistant/internal/chromemdb"
	"swap-assistant/internal/config"
	"swap-assistant/internal/embedding"
	"swap-assistant/internal/memory"
	"swap-assistant/internal/models"
	"swap-assistant/internal/parser"
)

var keywords = []string{"leasecontract", "over", "kost", "auto"}

// keywordEmbedder maps text onto a small keyword space so related questions
// land close together.
type keywordEmbedder struct {
	queries  int
	failNext int
}

func (k *keywordEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(keywords))
	for i, kw := range keywords {
		v[i] = 0.1
		if strings.Contains(lower, kw) {
			v[i] = 1
		}
	}
	return v
}

func (k *keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = k.vector(text)
	}
	return out, nil
}

func (k *keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	k.queries++
	if k.failNext > 0 {
		k.failNext--
		return nil, errors.New("503 service unavailable")
	}
	return k.vector(text), nil
}

type stubLLM struct {
	calls    int
	reply    string
	err      error
	messages []llms.MessageContent
}

func (s *stubLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	s.calls++
	s.messages = messages
	if s.err != nil {
		return nil, s.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s.reply}}}, nil
}

var faq = []models.SourceRecord{
	{Source: "klantvragen.csv", Row: 1, Question: "Hoe draag ik mijn leasecontract over?", Answer: "Je plaatst een advertentie op ons platform en wij begeleiden de overname."},
	{Source: "klantvragen.csv", Row: 2, Question: "Wat kost een advertentie?", Answer: "Een advertentie kost eenmalig 95 euro."},
	{Source: "klantvragen.csv", Row: 3, Question: "Kan ik mijn auto inruilen?", Answer: "Nee, inruilen doen wij niet."},
}

func buildIndex(t *testing.T, embedder *keywordEmbedder) *chromemdb.VectorDBManager {
	t.Helper()
	ctx := context.Background()

	chunks, err := parser.ChunkRecords(faq, 500, 50)
	require.NoError(t, err)
	vectors, err := embedding.EmbedChunks(ctx, embedder, chunks, 8, 0)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "faq_index")
	manifest := models.Manifest{EmbeddingProvider: "stub", EmbeddingModel: "keywords", Dimension: len(keywords)}
	require.NoError(t, chromemdb.Save(ctx, dir, vectors, manifest, chromemdb.Options{Collection: "klantvragen", Compress: true}))

	idx, err := chromemdb.Load(ctx, dir, "")
	require.NoError(t, err)
	return idx
}

func newTestRAG(t *testing.T, embedder *keywordEmbedder, llm *stubLLM) *RAG {
	t.Helper()
	r, err := NewRAG(buildIndex(t, embedder), embedder, llm, config.Default())
	require.NoError(t, err)
	return r
}

func TestAskRetrievesRelatedQuestion(t *testing.T) {
	embedder := &keywordEmbedder{}
	llm := &stubLLM{reply: "Plaats een advertentie, wij regelen de rest."}
	r := newTestRAG(t, embedder, llm)

	answer, err := r.Ask(context.Background(), "  Hoe zet ik mijn leasecontract over?  ", nil)
	require.NoError(t, err)

	assert.Equal(t, "Hoe zet ik mijn leasecontract over?", answer.Query)
	assert.Equal(t, "Plaats een advertentie, wij regelen de rest.", answer.Content)
	assert.Equal(t, "v1", answer.PromptVersion)
	require.Len(t, answer.Sources, 3)
	assert.Equal(t, 1, answer.Sources[0].Row)
	assert.Contains(t, answer.Sources[0].Content, "Hoe draag ik mijn leasecontract over?")

	require.Len(t, llm.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, llm.messages[0].Role)
	prompt := llm.messages[1].Parts[0].(llms.TextContent).Text
	assert.Contains(t, prompt, "Vraag: Hoe zet ik mijn leasecontract over?")
	assert.Contains(t, prompt, models.ContextSeparator)
	assert.Less(t, strings.Index(prompt, "Hoe draag ik"), strings.Index(prompt, "Wat kost"))
}

func TestAskEmptyQueryMakesNoCalls(t *testing.T) {
	embedder := &keywordEmbedder{}
	llm := &stubLLM{reply: "x"}
	r := newTestRAG(t, embedder, llm)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := r.Ask(context.Background(), q, nil)
		assert.ErrorIs(t, err, models.ErrEmptyQuery)
	}
	assert.Equal(t, 0, embedder.queries)
	assert.Equal(t, 0, llm.calls)
}

func TestAskRecoversAfterEmbeddingFailure(t *testing.T) {
	embedder := &keywordEmbedder{}
	llm := &stubLLM{reply: "Een advertentie kost 95 euro."}
	r := newTestRAG(t, embedder, llm)

	embedder.failNext = 1
	_, err := r.Ask(context.Background(), "Wat kost een advertentie?", nil)
	require.ErrorIs(t, err, models.ErrEmbeddingProvider)
	assert.True(t, models.IsProviderError(err))
	assert.Equal(t, 0, llm.calls)

	answer, err := r.Ask(context.Background(), "Wat kost een advertentie?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Een advertentie kost 95 euro.", answer.Content)
	assert.Equal(t, 2, answer.Sources[0].Row)
}

func TestAskGenerationFailureLeavesMemoryUntouched(t *testing.T) {
	embedder := &keywordEmbedder{}
	llm := &stubLLM{err: errors.New("timeout")}
	r := newTestRAG(t, embedder, llm)
	conv := memory.NewConversation(10, 0, nil)

	_, err := r.Ask(context.Background(), "Wat kost een advertentie?", conv)
	require.ErrorIs(t, err, models.ErrGenerationProvider)
	assert.Equal(t, 0, conv.Len())
}

func TestAskUsesConversationHistory(t *testing.T) {
	embedder := &keywordEmbedder{}
	llm := &stubLLM{reply: "eerste antwoord"}
	r := newTestRAG(t, embedder, llm)
	conv := memory.NewConversation(10, 0, nil)

	_, err := r.Ask(context.Background(), "Hoe zet ik mijn leasecontract over?", conv)
	require.NoError(t, err)
	require.Equal(t, 1, conv.Len())

	llm.reply = "tweede antwoord"
	_, err = r.Ask(context.Background(), "En wat kost dat?", conv)
	require.NoError(t, err)

	// system, previous question, previous answer, new prompt
	require.Len(t, llm.messages, 4)
	assert.Equal(t, llms.TextContent{Text: "Hoe zet ik mijn leasecontract over?"}, llm.messages[1].Parts[0])
	assert.Equal(t, llms.TextContent{Text: "eerste antwoord"}, llm.messages[2].Parts[0])
	assert.Equal(t, []models.Turn{
		{Question: "Hoe zet ik mijn leasecontract over?", Answer: "eerste antwoord"},
		{Question: "En wat kost dat?", Answer: "tweede antwoord"},
	}, conv.Turns())
}

func TestNewRAGRejectsTemplateWithoutPlaceholders(t *testing.T) {
	embedder := &keywordEmbedder{}
	idx := buildIndex(t, embedder)

	for _, tmpl := range []string{"Vraag: {question}", "Context: {context}"} {
		cfg := config.Default()
		cfg.Prompt.Template = tmpl
		_, err := NewRAG(idx, embedder, &stubLLM{}, cfg)
		assert.ErrorIs(t, err, models.ErrInvalidConfiguration, tmpl)
	}
}

func TestPromptRender(t *testing.T) {
	p, err := NewPrompt(config.PromptConfig{Version: "v2", Template: "C:\n{context}\nQ: {question}"})
	require.NoError(t, err)

	out, err := p.Render([]string{"een", "twee"}, "waarom?")
	require.NoError(t, err)
	assert.Equal(t, "C:\neen\n---\ntwee\nQ: waarom?", out)
}
