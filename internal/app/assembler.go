package app

import (
	"fmt"
	"sort"
	"strings"

	"assistantbot/internal/model"
	"assistantbot/internal/search"
)

const answerSystemPrompt = `You are a helpful assistant. Answer using the reference material below when it is relevant.
Cite facts from the references rather than inventing them. If the references do not cover the question, say so and answer from general knowledge.`

// Assembler builds the generation prompt from retrieved context under a
// character budget.
type Assembler struct {
	budget int
}

func NewAssembler(budget int) *Assembler {
	if budget <= 0 {
		budget = 6000
	}
	return &Assembler{budget: budget}
}

type contextSnippet struct {
	source   string
	external bool
	content  string
	score    float64
}

// Assemble merges local and external hits into a system prompt plus the
// source references to cite. Duplicate content is dropped, and when the
// combined snippets exceed the budget whole snippets are removed lowest
// score first.
func (a *Assembler) Assemble(localHits []ScoredChunk, externalHits []search.Result) (string, []model.SourceRef) {
	snippets := make([]contextSnippet, 0, len(localHits)+len(externalHits))
	seen := make(map[string]struct{})

	for _, hit := range localHits {
		key := normalizeKey(hit.Content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		snippets = append(snippets, contextSnippet{
			source:  hit.Source,
			content: hit.Content,
			score:   hit.Score,
		})
	}

	// External hits rank below every local hit; order within them is the
	// provider's relevance order.
	for i, hit := range externalHits {
		key := normalizeKey(hit.Snippet)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		content := hit.Snippet
		if hit.Title != "" {
			content = hit.Title + "\n" + content
		}
		snippets = append(snippets, contextSnippet{
			source:   hit.URL,
			external: true,
			content:  content,
			score:    -float64(i + 1),
		})
	}

	// Snippets are dropped whole, lowest score first, never cut mid-passage.
	// An oversized lone snippet is dropped too.
	for total(snippets) > a.budget && len(snippets) > 0 {
		lowest := 0
		for i, s := range snippets {
			if s.score < snippets[lowest].score {
				lowest = i
			}
		}
		snippets = append(snippets[:lowest], snippets[lowest+1:]...)
	}
	if len(snippets) == 0 {
		return answerSystemPrompt, nil
	}

	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].score > snippets[j].score
	})

	var prompt strings.Builder
	prompt.WriteString(answerSystemPrompt)
	prompt.WriteString("\n\nReference material:\n")
	refs := make([]model.SourceRef, 0, len(snippets))
	for i, s := range snippets {
		prompt.WriteString(fmt.Sprintf("\n[%d] (%s)\n%s\n", i+1, s.source, s.content))
		snippet := s.content
		if len([]rune(snippet)) > 200 {
			snippet = string([]rune(snippet)[:200])
		}
		refs = append(refs, model.SourceRef{
			Source:   s.source,
			External: s.external,
			Snippet:  snippet,
		})
	}
	return prompt.String(), refs
}

func total(snippets []contextSnippet) int {
	n := 0
	for _, s := range snippets {
		n += len([]rune(s.content))
	}
	return n
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
