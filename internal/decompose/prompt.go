package decompose

import (
	"fmt"
	"strings"

	"github.com/seanmigrate/foreman/pkg/models"
)

// houseConventions is the fixed list of coding conventions included in
// every decomposition request so generated tasks stay consistent across
// goals.
var houseConventions = []string{
	"Small, reviewable changes: each task should produce one coherent change set",
	"Tests accompany implementation work in the same task or a dependent task",
	"Affected files must be listed exhaustively; overlapping file sets serialize tasks",
	"Prefer extending existing modules over creating parallel ones",
	"Public behavior changes require a documentation task",
}

// promptContext carries the organization context gathered before a
// decomposition call.
type promptContext struct {
	goal            *models.Goal
	recentProjects  []*models.Project
	teams           []*models.Team
	workerHeadcount int
}

// decompositionPrompt is the prompt template for goal decomposition.
const decompositionPrompt = `Break this goal into projects, each containing tasks sized for a single autonomous worker.

Goal: %s
%s
%s
Return ONLY a JSON object with this exact structure (no other text):
{
  "projects": [
    {
      "name": "Short project name",
      "description": "What this project delivers",
      "tasks": [
        {
          "title": "Short task title",
          "description": "Detailed task description",
          "priority": "P1|P2|P3|P4",
          "estimated_hours": 4,
          "required_skills": ["backend", "testing"],
          "affected_files": ["src/auth/login.go"],
          "depends_on": ["title of prerequisite task"],
          "acceptance_criteria": ["Criterion 1", "Criterion 2"]
        }
      ]
    }
  ]
}

Rules:
- affected_files MUST list every file the task will modify; overlapping sets serialize tasks
- Only add depends_on entries when task A genuinely must finish before task B; reference tasks by title within the same project
- Each task should be completable by one worker in one session
- acceptance_criteria entries must be specific and verifiable
- Use [] for depends_on and affected_files when empty`

// buildPrompt renders the decomposition prompt with gathered context.
func buildPrompt(pc promptContext) string {
	var details strings.Builder
	if pc.goal.Description != "" {
		fmt.Fprintf(&details, "Details: %s\n", pc.goal.Description)
	}
	if pc.goal.TargetDate != nil {
		fmt.Fprintf(&details, "Target date: %s\n", pc.goal.TargetDate.Format("2006-01-02"))
	}

	var ctx strings.Builder
	ctx.WriteString("\nOrganization context:\n")
	fmt.Fprintf(&ctx, "- Worker headcount: %d\n", pc.workerHeadcount)
	if len(pc.teams) > 0 {
		ctx.WriteString("- Teams:\n")
		for _, t := range pc.teams {
			skills := strings.Join(t.SkillTags, ", ")
			if skills == "" {
				skills = t.Description
			}
			fmt.Fprintf(&ctx, "  - %s: %s\n", t.Name, skills)
		}
	}
	if len(pc.recentProjects) > 0 {
		ctx.WriteString("- Recent projects:\n")
		for _, p := range pc.recentProjects {
			fmt.Fprintf(&ctx, "  - %s\n", p.Name)
		}
	}
	ctx.WriteString("- Coding conventions:\n")
	for _, c := range houseConventions {
		fmt.Fprintf(&ctx, "  - %s\n", c)
	}

	return fmt.Sprintf(decompositionPrompt, pc.goal.Title, details.String(), ctx.String())
}

// decompositionSystemPrompt frames the model's role for decomposition calls.
const decompositionSystemPrompt = `You are a planning assistant for a fleet of autonomous software-engineering workers. You translate goals into concrete, parallelizable work breakdowns. You respond with strict JSON only.`

// planningPrompt is the prompt template for breaking a team epic into
// executable work items.
const planningPrompt = `Break this team epic into tasks sized for a single autonomous worker. The epic body lists the work items routed to the team; refine them into concrete tasks, splitting or merging where sensible.

Epic: %s
Team: %s
Project: %s

%s
Return ONLY a JSON object with this exact structure (no other text):
{
  "tasks": [
    {
      "title": "Short task title",
      "description": "Detailed task description",
      "priority": "P1|P2|P3|P4",
      "estimated_hours": 4,
      "required_skills": ["backend", "testing"],
      "affected_files": ["src/auth/login.go"],
      "depends_on": ["title of prerequisite task"],
      "acceptance_criteria": ["Criterion 1", "Criterion 2"]
    }
  ]
}

Rules:
- affected_files MUST list every file the task will modify; overlapping sets serialize tasks
- Only add depends_on entries when task A genuinely must finish before task B; reference tasks by title within this epic
- Each task should be completable by one worker in one session
- acceptance_criteria entries must be specific and verifiable
- Use [] for depends_on and affected_files when empty`

// buildPlanningPrompt renders the epic-planning prompt.
func buildPlanningPrompt(epic *models.Task, project *models.Project, team *models.Team) string {
	teamName := epic.AssignedTeamID
	if team != nil {
		teamName = team.Name
	}
	return fmt.Sprintf(planningPrompt, epic.Title, teamName, project.Name, epic.Description)
}
