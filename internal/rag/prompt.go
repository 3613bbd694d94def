package rag

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"swap-assistant/internal/config"
	"swap-assistant/internal/models"
)

const (
	contextVar  = "context"
	questionVar = "question"
)

// Prompt is the versioned instruction wrapped around retrieved context.
type Prompt struct {
	Version  string
	System   string
	template prompts.PromptTemplate
}

// NewPrompt compiles cfg and renders it once with sample values, so a broken
// template is caught at startup.
func NewPrompt(cfg config.PromptConfig) (*Prompt, error) {
	for _, v := range []string{contextVar, questionVar} {
		if !strings.Contains(cfg.Template, "{"+v+"}") {
			return nil, fmt.Errorf("%w: prompt %s is missing the {%s} placeholder", models.ErrInvalidConfiguration, cfg.Version, v)
		}
	}

	p := &Prompt{
		Version: cfg.Version,
		System:  cfg.System,
		template: prompts.PromptTemplate{
			Template:       cfg.Template,
			InputVariables: []string{contextVar, questionVar},
			TemplateFormat: prompts.TemplateFormatFString,
		},
	}
	if _, err := p.Render([]string{"context"}, "question"); err != nil {
		return nil, fmt.Errorf("%w: prompt %s: %v", models.ErrInvalidConfiguration, cfg.Version, err)
	}
	return p, nil
}

// Render fills the template with the retrieved chunks and the user question.
func (p *Prompt) Render(contexts []string, question string) (string, error) {
	return p.template.Format(map[string]any{
		contextVar:  strings.Join(contexts, models.ContextSeparator),
		questionVar: question,
	})
}
