package memory

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"swap-assistant/internal/config"
	"swap-assistant/internal/models"
)

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func TestConversationKeepsOrder(t *testing.T) {
	c := NewConversation(10, 0, nil)
	c.Append("vraag 1", "antwoord 1")
	c.Append("vraag 2", "antwoord 2")

	assert.Equal(t, []models.Turn{
		{Question: "vraag 1", Answer: "antwoord 1"},
		{Question: "vraag 2", Answer: "antwoord 2"},
	}, c.Turns())
}

func TestConversationEvictsByTurnCount(t *testing.T) {
	c := NewConversation(2, 0, nil)
	for i := 1; i <= 5; i++ {
		c.Append(fmt.Sprintf("vraag %d", i), fmt.Sprintf("antwoord %d", i))
	}

	turns := c.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "vraag 4", turns[0].Question)
	assert.Equal(t, "vraag 5", turns[1].Question)
}

func TestConversationEvictsByTokenBudget(t *testing.T) {
	c := NewConversation(100, 6, wordCount)
	c.Append("een twee", "drie vier")    // 4
	c.Append("vijf", "zes")              // 6
	c.Append("zeven acht negen", "tien") // 10 -> drop the first turn

	turns := c.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "vijf", turns[0].Question)
	assert.Equal(t, "zeven acht negen", turns[1].Question)
}

func TestConversationDropsTurnLargerThanBudget(t *testing.T) {
	c := NewConversation(100, 2, wordCount)
	c.Append("een twee drie", "vier")
	assert.Equal(t, 0, c.Len())
}

func TestConversationMessages(t *testing.T) {
	c := NewConversation(10, 0, nil)
	c.Append("Hoe zet ik mijn lease over?", "Via ons platform.")

	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, llms.ChatMessageTypeHuman, messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, messages[1].Role)
	assert.Equal(t, llms.TextContent{Text: "Via ons platform."}, messages[1].Parts[0])
}

func TestConversationConcurrentAppend(t *testing.T) {
	c := NewConversation(50, 0, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Append(fmt.Sprint(i), fmt.Sprint(i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, c.Len())
}

func TestStoreSessions(t *testing.T) {
	store := NewStore(config.MemoryConfig{MaxTurns: 3, SessionTTL: time.Minute}, nil)

	id, conv, err := store.Get("")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	conv.Append("q", "a")

	sameID, same, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, sameID)
	assert.Same(t, conv, same)
	assert.Equal(t, 1, same.Len())

	otherID, other, err := store.Get("unknown")
	require.NoError(t, err)
	assert.NotEqual(t, "unknown", otherID)
	assert.Equal(t, 0, other.Len())
	assert.Equal(t, 2, store.Len())

	assert.True(t, store.End(id))
	assert.False(t, store.End(id))
	assert.Equal(t, 1, store.Len())
}

func TestStoreExpiresIdleSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(config.MemoryConfig{MaxTurns: 3, SessionTTL: 30 * time.Minute}, nil)
	store.now = func() time.Time { return now }

	id, conv, err := store.Get("")
	require.NoError(t, err)
	conv.Append("q", "a")

	now = now.Add(31 * time.Minute)
	newID, fresh, err := store.Get(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)
	assert.Equal(t, 0, fresh.Len())
	assert.Equal(t, 1, store.Len())
}

func TestStoreEvictsLeastRecentlySeenAtCapacity(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(config.MemoryConfig{MaxTurns: 3, MaxSessions: 2, SessionTTL: time.Hour}, nil)
	store.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	first, _, err := store.Get("")
	require.NoError(t, err)
	second, _, err := store.Get("")
	require.NoError(t, err)

	// touching first makes second the least recently seen
	_, _, err = store.Get(first)
	require.NoError(t, err)

	third, _, err := store.Get("")
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	assert.True(t, store.End(first))
	assert.True(t, store.End(third))
	assert.False(t, store.End(second))
}

func TestStoreStaysWithinCapacity(t *testing.T) {
	store := NewStore(config.MemoryConfig{MaxTurns: 3, MaxSessions: 10, SessionTTL: time.Hour}, nil)
	for i := 0; i < 100; i++ {
		_, _, err := store.Get("")
		require.NoError(t, err)
	}
	assert.Equal(t, 10, store.Len())
}
