package rlm

import (
	"strings"
	"testing"
)

func TestHistory_RendersRecentExchangesVerbatim(t *testing.T) {
	h := NewHistory(2, 8000)
	h.Append(Exchange{Prompt: "p1", Code: "x = 1", Output: "ok"})
	h.Append(Exchange{Prompt: "p2", Code: "y = 2", Output: "ok"})

	text := h.Render()
	if !strings.Contains(text, "x = 1") || !strings.Contains(text, "y = 2") {
		t.Fatalf("expected both exchanges verbatim, got: %s", text)
	}
}

func TestHistory_OlderExchangesBecomeSummaries(t *testing.T) {
	h := NewHistory(1, 8000)
	h.Append(Exchange{Prompt: "p1", Code: "first_call()", Output: "ok"})
	h.Append(Exchange{Prompt: "p2", Code: "second_call()", Output: "ok"})

	text := h.Render()
	if !strings.Contains(text, "ran: first_call()") {
		t.Fatalf("expected a one-line summary of the older exchange, got: %s", text)
	}
	if !strings.Contains(text, "second_call()") {
		t.Fatalf("expected the newest exchange verbatim, got: %s", text)
	}
}

func TestHistory_CascadeShedsDetailUnderTightBudget(t *testing.T) {
	h := NewHistory(5, 10) // tiny budget forces the cascade all the way down
	for i := 0; i < 10; i++ {
		h.Append(Exchange{
			Prompt: "p",
			Code:   strings.Repeat("a", 500),
			Output: strings.Repeat("b", 500),
		})
	}

	text := h.Render()
	if len(text) == 0 {
		t.Fatal("expected non-empty rendered history even under a tiny budget")
	}
}

func TestHistory_EmptyHistoryRendersEmpty(t *testing.T) {
	h := NewHistory(5, 8000)
	if got := h.Render(); got != "" {
		t.Fatalf("expected empty string for empty history, got %q", got)
	}
}
