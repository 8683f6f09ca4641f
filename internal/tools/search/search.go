// Package search implements a keyword-matching search tool over a
// caller-supplied in-memory document set, grounded on the shape of the
// teacher repository's internal/tools/websearch.WebSearchTool (Name,
// Description, Schema, Execute) but trimmed to a dependency-free backend
// appropriate for the orchestration core's own test fixtures and demos.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Document is one searchable unit.
type Document struct {
	ID      string
	Title   string
	Content string
}

// Tool performs substring/keyword search over a fixed document set.
type Tool struct {
	docs []Document
}

// New constructs a search tool over docs.
func New(docs []Document) *Tool {
	return &Tool{docs: docs}
}

func (t *Tool) Name() string        { return "search" }
func (t *Tool) Description() string { return "Searches the configured document set for a query string and returns matching titles and snippets." }

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["query"],
		"properties": {
			"query": {"type": "string", "minLength": 1},
			"limit": {"type": "integer", "minimum": 1, "maximum": 50}
		}
	}`)
}

type params struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type match struct {
	doc   Document
	score int
}

func (t *Tool) Invoke(_ context.Context, args json.RawMessage) (string, error) {
	var p params
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	if p.Limit <= 0 {
		p.Limit = 5
	}

	terms := strings.Fields(strings.ToLower(p.Query))
	var matches []match
	for _, d := range t.docs {
		haystack := strings.ToLower(d.Title + " " + d.Content)
		score := 0
		for _, term := range terms {
			score += strings.Count(haystack, term)
		}
		if score > 0 {
			matches = append(matches, match{doc: d, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].doc.ID < matches[j].doc.ID
	})
	if len(matches) > p.Limit {
		matches = matches[:p.Limit]
	}

	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s: %s\n", m.doc.Title, snippet(m.doc.Content, 200))
	}
	if b.Len() == 0 {
		return "no results", nil
	}
	return b.String(), nil
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
