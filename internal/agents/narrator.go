package agents

import (
	"context"
	"strings"

	"bizagents/internal/adapters/ai"
	"bizagents/pkg/errors"
	"bizagents/pkg/templates"
)

// narrator renders a prompt template and asks the LLM for prose.
// A nil provider disables narratives.
type narrator struct {
	provider  ai.ChatProvider
	templates *templates.Registry
	role      string
}

func newNarrator(provider ai.ChatProvider, tmpl *templates.Registry, role string) narrator {
	if tmpl == nil {
		tmpl = templates.Get()
	}
	return narrator{provider: provider, templates: tmpl, role: role}
}

func (n narrator) enabled() bool {
	return n.provider != nil
}

// narrate returns "" without error when narratives are disabled
func (n narrator) narrate(ctx context.Context, templateID string, data any) (string, error) {
	if !n.enabled() {
		return "", nil
	}

	system, err := n.templates.Render("agents/system", map[string]any{"Role": n.role, "MaxSentences": 5})
	if err != nil {
		return "", err
	}
	prompt, err := n.templates.Render(templateID, data)
	if err != nil {
		return "", err
	}

	resp, err := n.provider.Chat(ctx, ai.ChatRequest{
		System:   system,
		Messages: []ai.Message{ai.UserMessage(prompt)},
	})
	if err != nil {
		return "", errors.Wrapf(err, "%s narrative", n.role)
	}
	return strings.TrimSpace(resp.Content), nil
}
