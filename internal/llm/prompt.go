package llm

import (
	"fmt"
	"strings"
)

const defaultSystemPrompt = "You write narration scripts that are meant to be listened to, not read."

const scriptTemplate = `Create a single-narrator audio summary of this academic paper.

FORMAT:
- One narrator speaking directly to the listener. No dialogue, no hosts, no speaker labels.
- Write for the ear: short sentences, verbal signposts, no parentheticals or nested clauses.
- Spell out abbreviations on first use. Never refer to tables or figures by number; describe what they show.
- Separate paragraphs with a blank line. Keep each paragraph to a single idea.

STRUCTURE:
1. Walk through the paper section by section, following the authors' structure. Explain methods and
   equations precisely and describe results in enough detail to stand without the figures.
2. Then shift explicitly to a critical look: key assumptions, limitations, and the questions an expert
   reviewer would ask.

Stay faithful to the paper. If you add context beyond it, say so.
Prefer "about 3 meters per year" over "approximately 3 m/yr".

TARGET LENGTH: about ten minutes read aloud.

Paper title: %s

Paper content:
%s

Generate the full narrated summary:`

// ScriptPrompt builds the narration prompt for a cleaned paper.
func ScriptPrompt(title, paperMarkdown string) string {
	return fmt.Sprintf(scriptTemplate, strings.TrimSpace(title), strings.TrimSpace(paperMarkdown))
}

// SystemPrompt returns the configured system prompt or the default one.
func SystemPrompt(configured string) string {
	if s := strings.TrimSpace(configured); s != "" {
		return s
	}
	return defaultSystemPrompt
}
