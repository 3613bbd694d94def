package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-assistant/internal/config"
	"swap-assistant/internal/memory"
	"swap-assistant/internal/models"
)

type stubAsker struct {
	err   error
	calls int
	panic bool
}

func (s *stubAsker) Ask(_ context.Context, query string, conv *memory.Conversation) (*models.Answer, error) {
	s.calls++
	if s.panic {
		panic("boom")
	}
	if strings.TrimSpace(query) == "" {
		return nil, models.ErrEmptyQuery
	}
	if s.err != nil {
		return nil, s.err
	}
	content := fmt.Sprintf("antwoord %d", s.calls)
	if conv != nil {
		content = fmt.Sprintf("antwoord %d na %d beurten", s.calls, conv.Len())
		conv.Append(query, content)
	}
	return &models.Answer{
		Query:   query,
		Content: content,
		Sources: []models.ScoredChunk{{
			Chunk:    models.Chunk{ID: "chunk-000000", Content: "Vraag: ...", Source: "klantvragen.csv", Row: 2, ChunkID: 1},
			Distance: 0.12,
		}},
		PromptVersion: "v1",
	}, nil
}

func (s *stubAsker) PromptVersion() string { return "v1" }
func (s *stubAsker) IndexSize() int        { return 42 }

func newTestServer(asker Asker, sessions *memory.Store) http.Handler {
	cfg := &config.ServerConfig{AllowOrigins: []string{"http://localhost:8501"}}
	return New(cfg, NewHandler(asker, sessions, time.Second))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type askResponse struct {
	Answer        string `json:"answer"`
	SessionID     string `json:"session_id"`
	PromptVersion string `json:"prompt_version"`
	Sources       []struct {
		Source   string  `json:"source"`
		Row      int     `json:"row"`
		ChunkID  int     `json:"chunk_id"`
		Content  string  `json:"content"`
		Distance float32 `json:"distance"`
	} `json:"sources"`
}

func TestAskReturnsAnswerWithSources(t *testing.T) {
	h := newTestServer(&stubAsker{}, nil)

	rec := do(t, h, http.MethodPost, "/api/ask", `{"question":"Hoe zet ik mijn lease over?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "antwoord 1", res.Answer)
	assert.Empty(t, res.SessionID)
	assert.Equal(t, "v1", res.PromptVersion)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "klantvragen.csv", res.Sources[0].Source)
	assert.Equal(t, 2, res.Sources[0].Row)
	assert.InDelta(t, 0.12, res.Sources[0].Distance, 1e-6)
}

func TestAskBlankQuestionIsNoContent(t *testing.T) {
	h := newTestServer(&stubAsker{}, nil)
	rec := do(t, h, http.MethodPost, "/api/ask", `{"question":"   "}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestAskBlankQuestionOpensNoSession(t *testing.T) {
	sessions := memory.NewStore(config.MemoryConfig{MaxTurns: 10, SessionTTL: time.Hour}, nil)
	asker := &stubAsker{}
	h := newTestServer(asker, sessions)

	for i := 0; i < 100; i++ {
		rec := do(t, h, http.MethodPost, "/api/ask", `{"question":"   "}`)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	assert.Equal(t, 0, sessions.Len())
	assert.Equal(t, 0, asker.calls)
}

func TestAskProviderErrorIsFriendly(t *testing.T) {
	asker := &stubAsker{err: fmt.Errorf("%w: 429 rate limited", models.ErrGenerationProvider)}
	h := newTestServer(asker, nil)

	rec := do(t, h, http.MethodPost, "/api/ask", `{"question":"Wat kost het?"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), models.FriendlyErrorMessage)
	assert.NotContains(t, rec.Body.String(), "429")

	asker.err = nil
	rec = do(t, h, http.MethodPost, "/api/ask", `{"question":"Wat kost het?"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAskOtherErrorIsInternal(t *testing.T) {
	h := newTestServer(&stubAsker{err: errors.New("disk on fire")}, nil)
	rec := do(t, h, http.MethodPost, "/api/ask", `{"question":"Wat kost het?"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestAskBadBody(t *testing.T) {
	h := newTestServer(&stubAsker{}, nil)
	rec := do(t, h, http.MethodPost, "/api/ask", `{"question":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskRecoversFromPanic(t *testing.T) {
	h := newTestServer(&stubAsker{panic: true}, nil)
	rec := do(t, h, http.MethodPost, "/api/ask", `{"question":"hoi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSessionsKeepHistoryUntilEnded(t *testing.T) {
	sessions := memory.NewStore(config.MemoryConfig{MaxTurns: 10, SessionTTL: time.Hour}, nil)
	h := newTestServer(&stubAsker{}, sessions)

	var first askResponse
	rec := do(t, h, http.MethodPost, "/api/ask", `{"question":"eerste"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.NotEmpty(t, first.SessionID)

	var second askResponse
	rec = do(t, h, http.MethodPost, "/api/ask", fmt.Sprintf(`{"question":"tweede","session_id":%q}`, first.SessionID))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "antwoord 2 na 1 beurten", second.Answer)

	rec = do(t, h, http.MethodDelete, "/api/sessions/"+first.SessionID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, sessions.Len())
}

func TestHealth(t *testing.T) {
	h := newTestServer(&stubAsker{}, nil)
	rec := do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","chunks":42,"prompt_version":"v1"}`, rec.Body.String())
}
