package memory

import (
	"sync"

	"github.com/tmc/langchaingo/llms"

	"swap-assistant/internal/models"
)

// TokenCounter returns the number of model tokens in text.
type TokenCounter func(text string) int

// Conversation is the append-only question/answer log of one session. It keeps
// at most maxTurns turns and, when maxTokens > 0, drops the oldest turns until
// the log fits the token budget.
type Conversation struct {
	mu        sync.Mutex
	turns     []models.Turn
	maxTurns  int
	maxTokens int
	count     TokenCounter
}

func NewConversation(maxTurns, maxTokens int, count TokenCounter) *Conversation {
	if count == nil {
		count = func(text string) int { return len([]rune(text)) / 4 }
	}
	return &Conversation{maxTurns: maxTurns, maxTokens: maxTokens, count: count}
}

// ModelTokenCounter counts tokens with the tokenizer of the given model.
func ModelTokenCounter(model string) TokenCounter {
	return func(text string) int {
		return llms.CountTokens(model, text)
	}
}

func (c *Conversation) Append(question, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, models.Turn{Question: question, Answer: answer})
	if c.maxTurns > 0 && len(c.turns) > c.maxTurns {
		c.turns = append([]models.Turn(nil), c.turns[len(c.turns)-c.maxTurns:]...)
	}
	if c.maxTokens > 0 {
		total := 0
		for _, t := range c.turns {
			total += c.count(t.Question) + c.count(t.Answer)
		}
		drop := 0
		for drop < len(c.turns) && total > c.maxTokens {
			total -= c.count(c.turns[drop].Question) + c.count(c.turns[drop].Answer)
			drop++
		}
		if drop > 0 {
			c.turns = append([]models.Turn(nil), c.turns[drop:]...)
		}
	}
}

// Turns returns a copy of the log, oldest first.
func (c *Conversation) Turns() []models.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Turn(nil), c.turns...)
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Messages renders the log as alternating human and AI chat messages.
func (c *Conversation) Messages() []llms.MessageContent {
	turns := c.Turns()
	messages := make([]llms.MessageContent, 0, 2*len(turns))
	for _, t := range turns {
		messages = append(messages,
			llms.TextParts(llms.ChatMessageTypeHuman, t.Question),
			llms.TextParts(llms.ChatMessageTypeAI, t.Answer),
		)
	}
	return messages
}
