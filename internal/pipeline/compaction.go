package pipeline

import (
	"context"
	"fmt"
	"strings"

	"autoclaude/internal/agent"
)

const maxCompactionWords = 500

// Compactor turns a phase's raw output files into a bounded-size bullet
// summary using a cheap model, per spec.md §4.5.2. Summarization failures
// never abort the phase — they fall back to a truncated raw excerpt.
type Compactor struct {
	agent agent.Client
	model string
}

// NewCompactor returns a Compactor that calls client with the given
// (typically cheaper/faster) model tag.
func NewCompactor(client agent.Client, model string) *Compactor {
	return &Compactor{agent: client, model: model}
}

// Compact summarizes artifacts (filename -> truncated content) for phase,
// returning ≤500 words of structured bullet notes.
func (c *Compactor) Compact(ctx context.Context, phase string, artifacts map[string][]byte) string {
	if len(artifacts) == 0 {
		return ""
	}

	var raw strings.Builder
	for name, data := range artifacts {
		fmt.Fprintf(&raw, "--- %s ---\n%s\n\n", name, data)
	}

	if c.agent == nil {
		return truncateWords(raw.String(), maxCompactionWords)
	}

	prompt := fmt.Sprintf(
		"Summarize the following %s phase output as concise bullet notes (max %d words). "+
			"Preserve concrete decisions, file paths, and any open risks; drop boilerplate.\n\n%s",
		phase, maxCompactionWords, raw.String(),
	)
	resp, err := c.agent.Run(ctx, agent.Request{
		Phase:  "compaction:" + phase,
		Model:  c.model,
		Prompt: prompt,
	})
	if err != nil {
		return truncateWords(raw.String(), maxCompactionWords)
	}
	return truncateWords(resp.Text, maxCompactionWords)
}

func truncateWords(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) <= limit {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[:limit], " ") + " …[truncated]"
}
