package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nanaosei/expertflow/pkg/expertflow/llm"
)

// Score thresholds for the heuristic scorer.
const (
	DefaultRelevancyThreshold    = 0.3
	DefaultFaithfulnessThreshold = 0.5
)

// HeuristicScorer scores samples with cheap lexical heuristics: term
// overlap between query and response for relevancy, and between response
// and retrieved context for faithfulness. It needs no model call, which
// keeps the background pool cheap enough to sample every turn.
type HeuristicScorer struct {
	// RelevancyThreshold is the minimum passing relevancy score.
	// Zero means DefaultRelevancyThreshold.
	RelevancyThreshold float64
	// FaithfulnessThreshold is the minimum passing faithfulness score.
	// Zero means DefaultFaithfulnessThreshold.
	FaithfulnessThreshold float64
}

// Score implements Scorer.
func (h *HeuristicScorer) Score(ctx context.Context, s Sample) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	relThreshold := h.RelevancyThreshold
	if relThreshold == 0 {
		relThreshold = DefaultRelevancyThreshold
	}
	faithThreshold := h.FaithfulnessThreshold
	if faithThreshold == 0 {
		faithThreshold = DefaultFaithfulnessThreshold
	}

	res := Result{
		Relevancy:    termOverlap(s.Query, s.Response),
		Faithfulness: 1,
	}
	if s.RetrievedContext != "" {
		res.Faithfulness = termOverlap(s.Response, s.RetrievedContext)
	}
	res.Passed = res.Relevancy >= relThreshold && res.Faithfulness >= faithThreshold
	return res, nil
}

// termOverlap returns the fraction of a's significant terms present in b.
func termOverlap(a, b string) float64 {
	terms := significantTerms(a)
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(b)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// significantTerms splits text into lowercase terms longer than three
// characters, dropping punctuation.
func significantTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 3 {
			out = append(out, f)
		}
	}
	return out
}

// judgePrompt asks the model for a strict-JSON verdict.
const judgePrompt = `You are evaluating an expert assistant's response.

User question:
%s

Retrieved context (may be empty):
%s

Assistant response:
%s

Rate the response on two axes, each from 0.0 to 1.0:
- relevancy: does the response address the question?
- faithfulness: does the response stay consistent with the retrieved context (1.0 if no context)?

Reply with only a JSON object: {"relevancy": <float>, "faithfulness": <float>, "detail": "<one sentence>"}`

// JudgeScorer delegates scoring to a model, in the style of an
// LLM-as-judge evaluator. Use it when heuristics are too coarse.
type JudgeScorer struct {
	client llm.Client

	// PassThreshold is the minimum score on both axes. Zero means 0.5.
	PassThreshold float64
}

// NewJudgeScorer creates a model-backed scorer.
func NewJudgeScorer(client llm.Client) *JudgeScorer {
	return &JudgeScorer{client: client}
}

// Score implements Scorer.
func (j *JudgeScorer) Score(ctx context.Context, s Sample) (Result, error) {
	prompt := fmt.Sprintf(judgePrompt, s.Query, s.RetrievedContext, s.Response)

	resp, err := j.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("judge completion: %w", err)
	}

	var verdict struct {
		Relevancy    float64 `json:"relevancy"`
		Faithfulness float64 `json:"faithfulness"`
		Detail       string  `json:"detail"`
	}
	raw := extractJSON(resp.Content)
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return Result{}, fmt.Errorf("parse judge verdict: %w", err)
	}

	threshold := j.PassThreshold
	if threshold == 0 {
		threshold = 0.5
	}

	return Result{
		Relevancy:    verdict.Relevancy,
		Faithfulness: verdict.Faithfulness,
		Passed:       verdict.Relevancy >= threshold && verdict.Faithfulness >= threshold,
		Detail:       verdict.Detail,
	}, nil
}

// extractJSON strips any prose around the first JSON object in text.
// Models occasionally wrap the verdict in markdown fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// Compile-time interface checks.
var (
	_ Scorer = (*HeuristicScorer)(nil)
	_ Scorer = (*JudgeScorer)(nil)
)
