package rlm

import (
	"fmt"
	"strings"
)

const (
	defaultCodePreviewLimit   = 2000
	defaultOutputPreviewLimit = 2000
)

// Exchange is one REPL iteration: the prompt sent to the root model,
// the code it produced, and the output that code generated.
type Exchange struct {
	Prompt string
	Code   string
	Output string
}

// oneLineSummary is what an Exchange degrades to once it falls outside
// the verbatim recent window (§4.7 "older summaries").
func (e Exchange) oneLineSummary() string {
	code := strings.ReplaceAll(strings.TrimSpace(e.Code), "\n", " ")
	if len(code) > 120 {
		code = code[:120] + "…"
	}
	return fmt.Sprintf("- ran: %s", code)
}

// History implements the conversation-history budget cascade of §4.7:
// keep the newest RecentCount exchanges verbatim (code/output truncated
// to a preview limit) plus one-line summaries of everything older, and
// when the rendered text still exceeds MaxTokens (estimated at
// chars/4), progressively shed detail — halve the preview limits (up to
// twice), then shrink RecentCount, then drop summaries entirely, then
// hard-truncate by characters. Grounded on the teacher's
// context/pruner.go and summarizer.go for the char-based
// token-counting idiom; the shedding order itself is spec-exact and
// does not reuse the teacher's importance-scoring selection.
type History struct {
	exchanges   []Exchange
	recentCount int
	maxTokens   int
}

// NewHistory builds an empty History with the given base recentCount
// and maxHistoryTokens budget (config defaults: 5 and 8000, §4.7).
func NewHistory(recentCount, maxHistoryTokens int) *History {
	if recentCount <= 0 {
		recentCount = 5
	}
	if maxHistoryTokens <= 0 {
		maxHistoryTokens = 8000
	}
	return &History{recentCount: recentCount, maxTokens: maxHistoryTokens}
}

// Append records one completed REPL iteration.
func (h *History) Append(ex Exchange) {
	h.exchanges = append(h.exchanges, ex)
}

// Render produces the conversation-history text to embed in the next
// continuation prompt, applying the budget cascade until it fits (or
// until every cascade step has been exhausted, at which point the last
// candidate is hard-truncated by characters).
func (h *History) Render() string {
	codeLimit := defaultCodePreviewLimit
	outputLimit := defaultOutputPreviewLimit
	recentCount := h.recentCount
	includeSummaries := true
	halvings := 0

	for {
		text := h.render(codeLimit, outputLimit, recentCount, includeSummaries)
		if h.withinBudget(text) {
			return text
		}

		switch {
		case halvings < 2:
			codeLimit /= 2
			outputLimit /= 2
			halvings++
		case recentCount > 1:
			recentCount--
		case includeSummaries:
			includeSummaries = false
		default:
			return hardTruncate(text, h.maxTokens*4)
		}
	}
}

func (h *History) withinBudget(text string) bool {
	return estimateTokens(text) <= h.maxTokens
}

func estimateTokens(text string) int {
	return len(text) / 4
}

func hardTruncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "\n[truncated]"
}

func (h *History) render(codeLimit, outputLimit, recentCount int, includeSummaries bool) string {
	if len(h.exchanges) == 0 {
		return ""
	}

	cut := len(h.exchanges) - recentCount
	if cut < 0 {
		cut = 0
	}

	var b strings.Builder
	if includeSummaries && cut > 0 {
		b.WriteString("Earlier steps:\n")
		for _, ex := range h.exchanges[:cut] {
			b.WriteString(ex.oneLineSummary())
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	for i, ex := range h.exchanges[cut:] {
		fmt.Fprintf(&b, "Step %d:\n", cut+i+1)
		fmt.Fprintf(&b, "Code:\n%s\n", truncatePreview(ex.Code, codeLimit))
		fmt.Fprintf(&b, "Output:\n%s\n\n", truncatePreview(ex.Output, outputLimit))
	}
	return b.String()
}

func truncatePreview(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "\n[truncated]"
}
