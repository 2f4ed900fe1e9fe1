package gate

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ProcessTools runs lint and type-check as external processes over the
// task's affected files inside the project working directory. The tool
// chosen depends on the project type detected there.
type ProcessTools struct {
	timeout time.Duration
}

// NewProcessTools creates a ProcessTools runner. A zero timeout defaults
// to five minutes per tool invocation.
func NewProcessTools(timeout time.Duration) *ProcessTools {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ProcessTools{timeout: timeout}
}

// Lint implements Tools.
func (p *ProcessTools) Lint(ctx context.Context, workDir string, files []string) (*ToolReport, error) {
	switch detectProjectType(workDir) {
	case "go":
		if commandExists("golangci-lint") {
			return p.run(ctx, workDir, "golangci-lint", append([]string{"run"}, goPackagesFor(files)...)...)
		}
		return p.run(ctx, workDir, "go", append([]string{"vet"}, goPackagesFor(files)...)...)
	case "node":
		return p.run(ctx, workDir, "npx", append([]string{"eslint"}, files...)...)
	case "python":
		if commandExists("ruff") {
			return p.run(ctx, workDir, "ruff", append([]string{"check"}, files...)...)
		}
		if commandExists("flake8") {
			return p.run(ctx, workDir, "flake8", files...)
		}
		return &ToolReport{Skipped: true, Output: "no python linter found"}, nil
	default:
		return &ToolReport{Skipped: true, Output: "unknown project type"}, nil
	}
}

// Typecheck implements Tools.
func (p *ProcessTools) Typecheck(ctx context.Context, workDir string, files []string) (*ToolReport, error) {
	switch detectProjectType(workDir) {
	case "go":
		// Go type checking is covered by vet/build during lint.
		return &ToolReport{Skipped: true, Output: "go type checking handled by lint"}, nil
	case "node":
		if _, err := os.Stat(filepath.Join(workDir, "tsconfig.json")); err != nil {
			return &ToolReport{Skipped: true, Output: "not a typescript project"}, nil
		}
		return p.run(ctx, workDir, "npx", "tsc", "--noEmit")
	case "python":
		if commandExists("mypy") {
			return p.run(ctx, workDir, "mypy", files...)
		}
		return &ToolReport{Skipped: true, Output: "mypy not found"}, nil
	default:
		return &ToolReport{Skipped: true, Output: "unknown project type"}, nil
	}
}

// run executes one tool with a bounded timeout and derives finding counts
// from its output.
func (p *ProcessTools) run(ctx context.Context, workDir, name string, args ...string) (*ToolReport, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var combined strings.Builder
	combined.WriteString(stdout.String())
	if stderr.Len() > 0 {
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(stderr.String())
	}
	output := combined.String()

	if ctx.Err() == context.DeadlineExceeded {
		return &ToolReport{Passed: false, Errors: 1, Output: "tool timed out: " + output}, nil
	}

	report := &ToolReport{Output: output}
	if err == nil {
		report.Passed = true
		return report, nil
	}
	if _, ok := err.(*exec.ExitError); !ok {
		// The tool could not be started at all; do not block the task on
		// environment problems.
		return &ToolReport{Skipped: true, Output: "tool unavailable: " + err.Error()}, nil
	}

	report.Errors, report.Warnings = countFindings(output)
	if report.Errors == 0 {
		report.Errors = 1
	}
	return report, nil
}

func countFindings(output string) (errors, warnings int) {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error"):
			errors++
		case strings.Contains(lower, "warning"):
			warnings++
		}
	}
	return errors, warnings
}

// goPackagesFor maps affected files to their package directories for
// go vet, which operates on packages rather than files.
func goPackagesFor(files []string) []string {
	seen := make(map[string]bool)
	var pkgs []string
	for _, f := range files {
		dir := filepath.Dir(f)
		if dir == "" {
			dir = "."
		}
		pkg := "./" + filepath.ToSlash(dir)
		if !seen[pkg] {
			seen[pkg] = true
			pkgs = append(pkgs, pkg)
		}
	}
	if len(pkgs) == 0 {
		return []string{"./..."}
	}
	return pkgs
}

func detectProjectType(workDir string) string {
	if _, err := os.Stat(filepath.Join(workDir, "go.mod")); err == nil {
		return "go"
	}
	if _, err := os.Stat(filepath.Join(workDir, "package.json")); err == nil {
		return "node"
	}
	for _, marker := range []string{"setup.py", "pyproject.toml", "requirements.txt"} {
		if _, err := os.Stat(filepath.Join(workDir, marker)); err == nil {
			return "python"
		}
	}
	return "unknown"
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
