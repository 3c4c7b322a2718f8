// Package retrieval provides the knowledge-lookup side of the
// conversation workflow: a Retriever turns a search query into a small
// set of passages the respond node can ground its answer on.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Passage is one retrieved unit of supporting text.
type Passage struct {
	// ID identifies the passage within its source collection.
	ID string `json:"id"`
	// Text is the passage body.
	Text string `json:"text"`
	// Source names where the passage came from (document, URL, collection).
	Source string `json:"source,omitempty"`
	// Score is the retriever's relevance score, higher is better.
	Score float64 `json:"score,omitempty"`
}

// Retriever finds passages relevant to a query.
//
// Implementations must be safe for concurrent use; the engine may run
// retrievals for different conversation threads in parallel.
type Retriever interface {
	// Retrieve returns up to topK passages ordered by descending relevance.
	// An empty result is not an error.
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}

// StaticRetriever serves a fixed corpus with naive term-overlap scoring.
// It backs tests and examples where no search infrastructure exists.
type StaticRetriever struct {
	passages []Passage
}

// NewStatic creates a retriever over a fixed set of passages.
func NewStatic(passages ...Passage) *StaticRetriever {
	return &StaticRetriever{passages: passages}
}

// Retrieve implements Retriever. Passages are scored by the fraction of
// query terms they contain.
func (r *StaticRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	scored := make([]Passage, 0, len(r.passages))
	for _, p := range r.passages {
		text := strings.ToLower(p.Text)
		hits := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		p.Score = float64(hits) / float64(len(terms))
		scored = append(scored, p)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// FormatPassages renders passages into the context block handed to the
// model. Returns "" for an empty result so callers can detect a miss.
func FormatPassages(passages []Passage) string {
	if len(passages) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if p.Source != "" {
			fmt.Fprintf(&b, "[%s] ", p.Source)
		}
		b.WriteString(strings.TrimSpace(p.Text))
	}
	return b.String()
}

// Compile-time interface check.
var _ Retriever = (*StaticRetriever)(nil)
