// Package gate validates task execution results through a short-circuit
// pipeline of checks and classifies failures as retryable or fatal.
package gate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seanmigrate/foreman/internal/brain"
	"github.com/seanmigrate/foreman/internal/protect"
	"github.com/seanmigrate/foreman/pkg/models"
)

// minOutputLength is the threshold below which an execution result is
// considered suspiciously short.
const minOutputLength = 10

// costBudgetFraction is the share of the daily cost limit a single
// execution may consume before the gate fails it fatally. Retrying a
// cost overrun would just spend the same amount again.
const costBudgetFraction = 10

// Verdict is the outcome of validating one execution result.
type Verdict struct {
	// Passed is true when every applicable check passed.
	Passed bool
	// ShouldRetry is false for failures that retrying cannot fix (cost
	// overruns); such tasks skip the retry counter and block directly.
	ShouldRetry bool
	// Reason describes the first failing check, empty on pass.
	Reason string
	// Warnings lists non-blocking findings.
	Warnings []string
}

// Tools runs the external lint and type-check processes. Implemented by
// ProcessTools; test doubles substitute their own.
type Tools interface {
	Lint(ctx context.Context, workDir string, files []string) (*ToolReport, error)
	Typecheck(ctx context.Context, workDir string, files []string) (*ToolReport, error)
}

// ToolReport is the structured outcome of one external tool run.
type ToolReport struct {
	// Passed is true when the tool exited cleanly.
	Passed bool
	// Errors and Warnings count the findings.
	Errors   int
	Warnings int
	// Output is the raw tool output.
	Output string
	// Skipped is true when the tool was not applicable (e.g. unknown
	// project type). Skipped runs never fail the gate.
	Skipped bool
}

// Config controls which optional checks run.
type Config struct {
	// LintEnabled enables the external lint check.
	LintEnabled bool
	// TypecheckEnabled enables the external type check.
	TypecheckEnabled bool
	// DailyCostLimitCents is the organization's daily spend cap.
	DailyCostLimitCents int64
}

// Gate validates execution results.
type Gate struct {
	cfg       Config
	tools     Tools
	sensitive *protect.Detector
}

// New creates a Gate. A nil tools implementation disables the lint and
// type-check stages regardless of config.
func New(cfg Config, tools Tools) *Gate {
	return &Gate{cfg: cfg, tools: tools, sensitive: protect.NewDetector()}
}

// errorPatterns recognize tool failure messages masquerading as results.
var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*error:`),
	regexp.MustCompile(`(?i)\bcommand not found\b`),
	regexp.MustCompile(`(?i)^\s*fatal:`),
	regexp.MustCompile(`(?m)^Traceback \(most recent call last\)`),
	regexp.MustCompile(`(?m)^panic:`),
}

// codeTokens are rough signals that an implementation result actually
// contains code.
var codeTokens = []string{"```", "func ", "def ", "class ", "import ", "package ", "=>", "return "}

// incompletionMarkers flag work the model left unfinished.
var incompletionMarkers = []string{"TODO", "FIXME", "XXX", "HACK"}

const (
	overlongLineLength = 200
	overlongLineBudget = 20
)

// Validate runs the check pipeline against one execution result,
// short-circuiting on the first failure. A task passes only if every
// applicable check passes.
func (g *Gate) Validate(ctx context.Context, task *models.Task, workDir string, res *brain.Result) (*Verdict, error) {
	verdict := &Verdict{}

	// Check 1: non-empty result.
	output := strings.TrimSpace(res.Output)
	if len(output) < minOutputLength {
		verdict.ShouldRetry = true
		verdict.Reason = fmt.Sprintf("execution output is empty or suspiciously short (%d chars)", len(output))
		return verdict, nil
	}

	// Check 2: format compliance.
	for _, p := range errorPatterns {
		if p.MatchString(output) {
			verdict.ShouldRetry = true
			verdict.Reason = fmt.Sprintf("output matches error pattern %q", p.String())
			return verdict, nil
		}
	}
	if task.Type == models.TaskTypeImplementation || task.Type == models.TaskTypeBugFix {
		if !containsAny(output, codeTokens) {
			// Non-blocking: some implementation results legitimately
			// describe changes rather than inline them.
			verdict.Warnings = append(verdict.Warnings, "no code-like content in implementation result")
			log.Warn().Str("task", task.ID).Msg("implementation result contains no code-like content")
		}
	}

	// Check 3: code-quality heuristics. Warnings only, never blocking.
	for _, marker := range incompletionMarkers {
		if n := strings.Count(output, marker); n > 0 {
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("%d %s marker(s) in output", n, marker))
		}
	}
	if n := countOverlongLines(output); n > overlongLineBudget {
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("%d lines exceed %d characters", n, overlongLineLength))
	}
	for _, flagged := range g.sensitive.Sensitive(task.AffectedFiles) {
		verdict.Warnings = append(verdict.Warnings, "touches sensitive area: "+flagged)
		log.Warn().Str("task", task.ID).Str("file", flagged).Msg("task touches sensitive area")
	}

	// Check 4: cost budget. Fatal: the cost recurs on retry, so retrying
	// is wasteful.
	if g.cfg.DailyCostLimitCents > 0 {
		budget := g.cfg.DailyCostLimitCents / costBudgetFraction
		if res.Cost.TotalCostCents > budget {
			verdict.ShouldRetry = false
			verdict.Reason = fmt.Sprintf("execution cost %d cents exceeds %d%% of daily limit (%d cents)",
				res.Cost.TotalCostCents, 100/costBudgetFraction, budget)
			return verdict, nil
		}
	}

	// Checks 5-6 apply only when the task lists affected files and the
	// project has a working directory.
	if g.tools != nil && len(task.AffectedFiles) > 0 && workDir != "" {
		if g.cfg.LintEnabled {
			report, err := g.tools.Lint(ctx, workDir, task.AffectedFiles)
			if err != nil {
				return nil, fmt.Errorf("run lint: %w", err)
			}
			if !report.Skipped && !report.Passed {
				verdict.ShouldRetry = true
				verdict.Reason = fmt.Sprintf("lint failed: %d error(s), %d warning(s)", report.Errors, report.Warnings)
				return verdict, nil
			}
		}

		if g.cfg.TypecheckEnabled {
			report, err := g.tools.Typecheck(ctx, workDir, task.AffectedFiles)
			if err != nil {
				return nil, fmt.Errorf("run typecheck: %w", err)
			}
			if !report.Skipped && !report.Passed {
				verdict.ShouldRetry = true
				verdict.Reason = fmt.Sprintf("typecheck failed: %s", firstLines(report.Output, 10))
				return verdict, nil
			}
		}
	}

	verdict.Passed = true
	return verdict, nil
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func countOverlongLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if len(line) > overlongLineLength {
			n++
		}
	}
	return n
}

// firstLines returns up to n lines of s joined by "; ".
func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "; ")
}
