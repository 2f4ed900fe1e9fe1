package review

import (
	"fmt"
	"strings"

	"github.com/seanmigrate/foreman/pkg/models"
)

// outputSample caps how much of the task's execution output is shown to
// the reviewer. Long transcripts drown the decision criteria.
const outputSample = 4000

const selfReviewSystemPrompt = `You are a software engineer reviewing your own completed work before
handing it off. Be honest about gaps. Respond with a single JSON object:

{"action": "complete" | "rework" | "add_tasks" | "redirect",
 "reason": "one or two sentences",
 "tasks": [{"title": "...", "description": "...", "priority": "P1".."P4",
            "affected_files": [], "acceptance_criteria": []}]}

The tasks array is only used for add_tasks. Choose complete when the
acceptance criteria are met, rework when the same engineer should fix
the output, add_tasks when follow-up work by someone is needed first,
and redirect when a different engineer is better suited.`

const managerReviewSystemPrompt = `You are an engineering manager reviewing a report's completed task.
Judge the work against its acceptance criteria, not its effort. Respond
with a single JSON object:

{"action": "complete" | "rework" | "add_tasks" | "redirect",
 "reason": "one or two sentences",
 "tasks": [{"title": "...", "description": "...", "priority": "P1".."P4",
            "affected_files": [], "acceptance_criteria": []}]}

The tasks array is only used for add_tasks. Choose complete when the
work is acceptable, rework to send it back to the same engineer with
your feedback, add_tasks when prerequisite follow-up work must be
created, and redirect to reassign it to someone else.`

func buildReviewPrompt(t *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
	}
	fmt.Fprintf(&b, "Type: %s  Priority: %s  Attempt: %d\n", t.Type, t.Priority, t.RetryCount+1)
	if len(t.AffectedFiles) > 0 {
		fmt.Fprintf(&b, "Affected files: %s\n", strings.Join(t.AffectedFiles, ", "))
	}
	if len(t.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, c := range t.AcceptanceCriteria {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
	}
	if t.LastError != "" {
		fmt.Fprintf(&b, "\nPrior feedback or failure: %s\n", t.LastError)
	}

	output := t.LastOutput
	if len(output) > outputSample {
		output = output[:outputSample] + "\n[output truncated]"
	}
	if output == "" {
		output = "(no recorded output)"
	}
	fmt.Fprintf(&b, "\nExecution output:\n%s\n", output)
	b.WriteString("\nReview the work and respond with your decision JSON.")
	return b.String()
}
