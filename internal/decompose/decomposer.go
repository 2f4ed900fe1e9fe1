// Package decompose turns goals into projects and tasks via the
// generation provider, with team-affinity routing and strict schema
// validation of the provider's output.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/seanmigrate/foreman/internal/brain"
	"github.com/seanmigrate/foreman/internal/graph"
	"github.com/seanmigrate/foreman/internal/planner"
	"github.com/seanmigrate/foreman/internal/store"
	"github.com/seanmigrate/foreman/pkg/models"
)

// recentProjectSample caps how many existing projects are included as
// context in the generation request.
const recentProjectSample = 5

// Strategy names recorded on the goal after decomposition.
const (
	StrategyTeamDistribution = "team_distribution"
	StrategyDirect           = "direct"
)

// ParseError indicates the generation provider returned output that does
// not satisfy the required schema. Fatal for the invocation; the goal
// stays undecomposed and is retried on the next sweep.
type ParseError struct {
	Reason string
	// RawPrefix holds the first 200 characters of the raw response for
	// diagnosis.
	RawPrefix string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("decomposition parse error: %s (response starts: %q)", e.Reason, e.RawPrefix)
}

func newParseError(reason, raw string) *ParseError {
	prefix := raw
	if len(prefix) > 200 {
		prefix = prefix[:200]
	}
	return &ParseError{Reason: reason, RawPrefix: prefix}
}

// generatedTask is the JSON structure the provider returns per task.
type generatedTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Priority           string   `json:"priority"`
	EstimatedHours     float64  `json:"estimated_hours"`
	RequiredSkills     []string `json:"required_skills"`
	AffectedFiles      []string `json:"affected_files"`
	DependsOn          []string `json:"depends_on"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// generatedProject is the JSON structure the provider returns per project.
type generatedProject struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Tasks       []generatedTask `json:"tasks"`
}

type generatedPayload struct {
	Projects []generatedProject `json:"projects"`
}

// Options controls a single decomposition invocation.
type Options struct {
	// AutoAssign hands each created project to the resource planner for
	// initial assignment. Ignored when team distribution was used, since
	// team epics await their own planning pass.
	AutoAssign bool
}

// Result summarizes one decomposition.
type Result struct {
	Projects     []*models.Project
	Tasks        []*models.Task
	ProjectCount int
	TaskCount    int
	StrategyUsed string
}

// Decomposer breaks goals into projects and tasks.
type Decomposer struct {
	store   *store.DB
	runner  brain.Runner
	planner planner.Planner
	scorer  TeamScorer
}

// New creates a Decomposer. The planner may be nil when auto-assignment
// is never requested.
func New(db *store.DB, runner brain.Runner, pl planner.Planner) *Decomposer {
	return &Decomposer{
		store:   db,
		runner:  runner,
		planner: pl,
		scorer:  NewKeywordScorer(),
	}
}

// SetScorer replaces the team affinity scorer.
func (d *Decomposer) SetScorer(s TeamScorer) {
	d.scorer = s
}

// Decompose loads the goal, gathers organization context, invokes the
// generation provider, and materializes the returned breakdown as
// projects and tasks. The goal's auto_decomposed flag flips exactly once
// regardless of how much was produced.
func (d *Decomposer) Decompose(ctx context.Context, goalID string, opts Options) (*Result, error) {
	goal, err := d.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, fmt.Errorf("load goal: %w", err)
	}

	recent, err := d.store.ListProjects(ctx, goal.OrganizationID, recentProjectSample)
	if err != nil {
		return nil, fmt.Errorf("list recent projects: %w", err)
	}
	teams, err := d.store.ListTeams(ctx, goal.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	headcount, err := d.store.CountWorkers(ctx, goal.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("count workers: %w", err)
	}

	prompt := buildPrompt(promptContext{
		goal:            goal,
		recentProjects:  recent,
		teams:           teams,
		workerHeadcount: headcount,
	})

	gen, err := d.runner.Execute(ctx, prompt, decompositionSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("generation call: %w", err)
	}

	payload, err := parseResponse(gen.Output)
	if err != nil {
		return nil, err
	}

	strategy := StrategyDirect
	if len(teams) > 0 {
		strategy = StrategyTeamDistribution
	}

	result := &Result{StrategyUsed: strategy}
	for _, gp := range payload.Projects {
		project := &models.Project{
			Name:           gp.Name,
			Description:    gp.Description,
			GoalID:         goal.ID,
			OrganizationID: goal.OrganizationID,
		}
		if err := d.store.CreateProject(ctx, project); err != nil {
			return nil, fmt.Errorf("create project %q: %w", gp.Name, err)
		}
		result.Projects = append(result.Projects, project)

		var tasks []*models.Task
		if strategy == StrategyTeamDistribution {
			tasks, err = d.createTeamEpics(ctx, goal, project, teams, gp.Tasks)
		} else {
			tasks, err = d.createWorkItems(ctx, goal.OrganizationID, project, nil, gp.Tasks)
		}
		if err != nil {
			return nil, err
		}
		result.Tasks = append(result.Tasks, tasks...)
	}

	if opts.AutoAssign && strategy != StrategyTeamDistribution && d.planner != nil {
		for _, p := range result.Projects {
			assigned, total, err := d.planner.AssignProject(ctx, p.ID)
			if err != nil {
				// One project's assignment failure never aborts the others.
				log.Warn().Err(err).Str("project", p.ID).Msg("initial assignment failed")
				continue
			}
			log.Info().Str("project", p.ID).Int("assigned", assigned).Int("total", total).
				Msg("initial assignment complete")
		}
	}

	flipped, err := d.store.MarkDecomposed(ctx, goal.ID, strategy)
	if err != nil {
		return nil, fmt.Errorf("mark decomposed: %w", err)
	}
	if !flipped {
		log.Debug().Str("goal", goal.ID).Msg("goal already marked decomposed by a concurrent sweep")
	}

	result.ProjectCount = len(result.Projects)
	result.TaskCount = len(result.Tasks)
	return result, nil
}

// PlanEpic breaks a team epic into depth-1 work items via the
// generation provider. The children inherit the epic's team and
// reviewer, the epic is gated on them, and its planning flag flips
// exactly once. A parse failure leaves the flag set so the next sweep
// retries.
func (d *Decomposer) PlanEpic(ctx context.Context, epicID string) ([]*models.Task, error) {
	epic, err := d.store.GetTask(ctx, epicID)
	if err != nil {
		return nil, fmt.Errorf("load epic: %w", err)
	}
	if epic.Type != models.TaskTypeTeamEpic {
		return nil, fmt.Errorf("task %s is not a team epic", epicID)
	}
	if !epic.NeedsPlanning {
		return nil, nil
	}

	project, err := d.store.GetProject(ctx, epic.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	var team *models.Team
	if epic.AssignedTeamID != "" {
		team, err = d.store.GetTeam(ctx, epic.AssignedTeamID)
		if err != nil {
			return nil, fmt.Errorf("load team: %w", err)
		}
	}

	gen, err := d.runner.Execute(ctx, buildPlanningPrompt(epic, project, team), decompositionSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("generation call: %w", err)
	}
	defs, err := parsePlanResponse(gen.Output)
	if err != nil {
		return nil, err
	}

	created, err := d.createWorkItems(ctx, epic.OrganizationID, project, epic, defs)
	if err != nil {
		return nil, err
	}

	childIDs := make([]string, 0, len(created))
	for _, t := range created {
		childIDs = append(childIDs, t.ID)
	}
	if len(childIDs) > 0 {
		if err := d.store.AddTaskDependencies(ctx, epic.ID, childIDs); err != nil {
			return nil, fmt.Errorf("gate epic on children: %w", err)
		}
	}

	flipped, err := d.store.MarkEpicPlanned(ctx, epic.ID)
	if err != nil {
		return nil, fmt.Errorf("mark epic planned: %w", err)
	}
	if !flipped {
		log.Debug().Str("epic", epic.ID).Msg("epic already planned by a concurrent sweep")
	}
	log.Info().Str("epic", epic.ID).Int("tasks", len(created)).Msg("team epic planned")
	return created, nil
}

// parseResponse validates the provider's output against the required
// schema, failing closed on any deviation.
func parseResponse(raw string) (*generatedPayload, error) {
	jsonStart := strings.Index(raw, "{")
	jsonEnd := strings.LastIndex(raw, "}")
	if jsonStart == -1 || jsonEnd <= jsonStart {
		return nil, newParseError("no JSON object found", raw)
	}

	var payload generatedPayload
	if err := json.Unmarshal([]byte(raw[jsonStart:jsonEnd+1]), &payload); err != nil {
		return nil, newParseError(fmt.Sprintf("unmarshal: %v", err), raw)
	}
	if payload.Projects == nil {
		return nil, newParseError("missing projects array", raw)
	}
	for i, p := range payload.Projects {
		if p.Name == "" {
			return nil, newParseError(fmt.Sprintf("project %d has no name", i), raw)
		}
	}
	return &payload, nil
}

// parsePlanResponse validates an epic-planning response, which carries
// a bare tasks array rather than a project breakdown.
func parsePlanResponse(raw string) ([]generatedTask, error) {
	jsonStart := strings.Index(raw, "{")
	jsonEnd := strings.LastIndex(raw, "}")
	if jsonStart == -1 || jsonEnd <= jsonStart {
		return nil, newParseError("no JSON object found", raw)
	}

	var payload struct {
		Tasks []generatedTask `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(raw[jsonStart:jsonEnd+1]), &payload); err != nil {
		return nil, newParseError(fmt.Sprintf("unmarshal: %v", err), raw)
	}
	if len(payload.Tasks) == 0 {
		return nil, newParseError("missing tasks array", raw)
	}
	for i, t := range payload.Tasks {
		if t.Title == "" {
			return nil, newParseError(fmt.Sprintf("task %d has no title", i), raw)
		}
	}
	return payload.Tasks, nil
}

// createTeamEpics routes each generated task definition to the
// highest-affinity team and creates one depth-0 team epic per team that
// received at least one definition. The epic carries the aggregated
// definitions and awaits the team's own planning pass before real work
// begins.
func (d *Decomposer) createTeamEpics(ctx context.Context, goal *models.Goal, project *models.Project, teams []*models.Team, defs []generatedTask) ([]*models.Task, error) {
	routed := make(map[string][]generatedTask)
	teamByID := make(map[string]*models.Team, len(teams))
	for _, t := range teams {
		teamByID[t.ID] = t
	}

	for _, def := range defs {
		text := def.Title + " " + def.Description + " " + strings.Join(def.RequiredSkills, " ")
		team := routeToTeam(d.scorer, text, teams)
		routed[team.ID] = append(routed[team.ID], def)
	}

	var created []*models.Task
	// Iterate teams in stable org order, not map order.
	for _, team := range teams {
		defs := routed[team.ID]
		if len(defs) == 0 {
			continue
		}

		epic := &models.Task{
			Title:            fmt.Sprintf("[%s] %s", team.Name, project.Name),
			Description:      formatEpicDescription(project, defs),
			Type:             models.TaskTypeTeamEpic,
			Status:           models.TaskStatusPending,
			Priority:         models.PriorityP2,
			Depth:            0,
			NeedsPlanning:    true,
			AssignedTeamID:   team.ID,
			ReviewerWorkerID: team.ManagerWorkerID,
			OrganizationID:   goal.OrganizationID,
			ProjectID:        project.ID,
		}
		if err := d.store.CreateTask(ctx, epic); err != nil {
			return nil, fmt.Errorf("create team epic for %s: %w", team.Name, err)
		}
		created = append(created, epic)
	}
	return created, nil
}

// formatEpicDescription aggregates the routed task definitions into the
// epic body the team's planning pass will decompose.
func formatEpicDescription(project *models.Project, defs []generatedTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Work items routed to this team for project %q:\n", project.Name)
	for i, def := range defs {
		fmt.Fprintf(&b, "\n%d. %s [%s, ~%.0fh]\n", i+1, def.Title, priorityOrDefault(def.Priority), def.EstimatedHours)
		if def.Description != "" {
			fmt.Fprintf(&b, "   %s\n", def.Description)
		}
		if len(def.RequiredSkills) > 0 {
			fmt.Fprintf(&b, "   Skills: %s\n", strings.Join(def.RequiredSkills, ", "))
		}
		for _, ac := range def.AcceptanceCriteria {
			fmt.Fprintf(&b, "   - %s\n", ac)
		}
	}
	return b.String()
}

// createWorkItems creates the generated tasks directly, resolving
// title-based dependencies within the project. Dependencies may
// reference tasks defined later in the response; the whole set is
// validated as a graph and inserted in dependency order. A non-nil
// epic parents each task under it and carries the team and reviewer
// onto the children.
func (d *Decomposer) createWorkItems(ctx context.Context, orgID string, project *models.Project, epic *models.Task, defs []generatedTask) ([]*models.Task, error) {
	titleToID := make(map[string]string, len(defs))
	tasks := make([]*models.Task, 0, len(defs))
	for _, def := range defs {
		task := &models.Task{
			ID:                 uuid.New().String(),
			Title:              def.Title,
			Description:        def.Description,
			Type:               inferTaskType(def),
			Status:             models.TaskStatusPending,
			Priority:           parsePriority(def.Priority),
			Depth:              1,
			AffectedFiles:      def.AffectedFiles,
			AcceptanceCriteria: def.AcceptanceCriteria,
			OrganizationID:     orgID,
			ProjectID:          project.ID,
		}
		if epic != nil {
			task.ParentTaskID = epic.ID
			task.AssignedTeamID = epic.AssignedTeamID
			task.ReviewerWorkerID = epic.ReviewerWorkerID
		}
		titleToID[def.Title] = task.ID
		tasks = append(tasks, task)
	}
	for i, def := range defs {
		for _, depTitle := range def.DependsOn {
			depID, ok := titleToID[depTitle]
			if !ok {
				return nil, newParseError(fmt.Sprintf("task %q depends on unknown task %q", def.Title, depTitle), "")
			}
			tasks[i].DependsOn = append(tasks[i].DependsOn, depID)
		}
	}

	g, err := graph.New(tasks)
	if err != nil {
		return nil, newParseError(fmt.Sprintf("invalid dependencies: %v", err), "")
	}
	log.Debug().Str("project", project.ID).Int("tasks", g.Size()).
		Msg("dependency graph validated")

	// Insert in dependency order so each task's references already
	// exist when the store checks them.
	created := g.Order(tasks)
	for _, task := range created {
		if err := d.store.CreateTask(ctx, task); err != nil {
			return nil, fmt.Errorf("create task %q: %w", task.Title, err)
		}
	}
	return created, nil
}

// inferTaskType classifies a generated definition by its title and skills.
func inferTaskType(def generatedTask) models.TaskType {
	text := strings.ToLower(def.Title + " " + strings.Join(def.RequiredSkills, " "))
	switch {
	case strings.Contains(text, "test"):
		return models.TaskTypeTesting
	case strings.Contains(text, "doc"):
		return models.TaskTypeDocumentation
	case strings.Contains(text, "bug") || strings.Contains(text, "fix"):
		return models.TaskTypeBugFix
	default:
		return models.TaskTypeImplementation
	}
}

func parsePriority(s string) models.Priority {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P1":
		return models.PriorityP1
	case "P2":
		return models.PriorityP2
	case "P3":
		return models.PriorityP3
	case "P4":
		return models.PriorityP4
	default:
		return models.PriorityP3
	}
}

func priorityOrDefault(s string) string {
	return parsePriority(s).String()
}
