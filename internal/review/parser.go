package review

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Actions a reviewer may take on a task under review.
const (
	ActionComplete = "complete"
	ActionRework   = "rework"
	ActionAddTasks = "add_tasks"
	ActionRedirect = "redirect"
)

// FollowupTask is the JSON structure a reviewer returns per spawned task
// when the action is add_tasks.
type FollowupTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Priority           string   `json:"priority"`
	AffectedFiles      []string `json:"affected_files"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// Decision is a reviewer's verdict on a single task.
type Decision struct {
	Action string         `json:"action"`
	Reason string         `json:"reason"`
	Tasks  []FollowupTask `json:"tasks"`
}

// parseDecision extracts and validates the decision JSON from a raw
// review response. Any deviation from the schema fails the parse; the
// caller falls back to rework, which keeps the task moving without
// trusting malformed output.
func parseDecision(raw string) (*Decision, error) {
	jsonStart := strings.Index(raw, "{")
	jsonEnd := strings.LastIndex(raw, "}")
	if jsonStart == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no JSON object in review response")
	}

	var d Decision
	if err := json.Unmarshal([]byte(raw[jsonStart:jsonEnd+1]), &d); err != nil {
		return nil, fmt.Errorf("unmarshal review decision: %w", err)
	}
	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	switch d.Action {
	case ActionComplete, ActionRework, ActionAddTasks, ActionRedirect:
	case "":
		return nil, fmt.Errorf("review decision has no action")
	default:
		return nil, fmt.Errorf("unknown review action %q", d.Action)
	}
	if d.Action == ActionAddTasks && len(d.Tasks) == 0 {
		return nil, fmt.Errorf("add_tasks decision carries no tasks")
	}
	return &d, nil
}
