package phases

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/existential-birds/daydream-sub000/internal/driver"
	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
)

const (
	fetchPrFeedbackSkill   = "fetch-pr-feedback"
	respondPrFeedbackSkill = "respond-pr-feedback"
)

// FetchPrFeedback invokes the named skill to retrieve PR review
// comments as feedback items, reusing parseFeedback's issues schema
// (§4.5 fetchPrFeedback).
func FetchPrFeedback(ctx context.Context, d *driver.Driver, deps Deps, prNumber int) ([]FeedbackItem, error) {
	invocation := d.Backend.FormatSkillInvocation(fetchPrFeedbackSkill, fmt.Sprintf("%d", prNumber))
	out, err := d.Run(ctx, deps.Cwd, invocation, issuesSchema, nil)
	if err != nil {
		return nil, err
	}
	if len(out.StructuredOutput) == 0 {
		if isBlank([]byte(out.FinalOutput)) {
			return nil, nil
		}
		return nil, apperrors.NewParseFailure("PR feedback did not match the issues schema", nil)
	}
	var payload issuesPayload
	if err := json.Unmarshal(out.StructuredOutput, &payload); err != nil {
		return nil, apperrors.NewParseFailure("PR feedback did not match the issues schema", err)
	}
	return payload.Issues, nil
}

// RespondPrFeedback invokes the named skill to post a reply summarizing
// fixes, using only the successful subset of fix results (§4.5
// respondPrFeedback).
func RespondPrFeedback(ctx context.Context, d *driver.Driver, deps Deps, prNumber int, results []FixResult) error {
	successful := SuccessfulItems(results)
	summary := summarizeFixedItems(successful)
	invocation := d.Backend.FormatSkillInvocation(respondPrFeedbackSkill, fmt.Sprintf("%d", prNumber))
	prompt := fmt.Sprintf("%s\n\nSummarize the following resolved items in your reply:\n%s", invocation, summary)
	_, err := d.Run(ctx, deps.Cwd, prompt, nil, nil)
	return err
}

func summarizeFixedItems(items []FeedbackItem) string {
	if len(items) == 0 {
		return "(no items were successfully fixed)"
	}
	out := ""
	for _, item := range items {
		out += fmt.Sprintf("- [%d] %s (%s:%d)\n", item.ID, item.Description, item.File, item.Line)
	}
	return out
}
