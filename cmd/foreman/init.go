package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/seanmigrate/foreman/internal/config"
	"github.com/seanmigrate/foreman/pkg/models"
)

var (
	initSeedPath    string
	initWithExample bool
)

// seedFile is the YAML layout accepted by 'foreman init --seed'. Teams
// are created first so workers can reference them by name; the first
// worker naming a team as its own becomes eligible as its manager when
// the team does not name one explicitly.
type seedFile struct {
	Teams []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Manager     string   `yaml:"manager"`
		Skills      []string `yaml:"skills"`
	} `yaml:"teams"`
	Workers []struct {
		Name string `yaml:"name"`
		Role string `yaml:"role"`
		Team string `yaml:"team"`
	} `yaml:"workers"`
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the store and optionally seed teams and workers",
	Long: `Initialize foreman: create the database, run migrations, and write
a starter user config if none exists.

With --seed, teams and workers are created from a YAML file:

  teams:
    - name: Backend
      description: APIs, services, database work
      manager: alice
      skills: [go, sql]
  workers:
    - name: alice
      role: senior
      team: Backend
    - name: bob
      team: Backend

Examples:
  foreman init
  foreman init --seed fleet.yaml
  foreman init --with-example   # write an example seed file and exit`,
	Args: cobra.NoArgs,
	RunE: runInitCmd,
}

func init() {
	initCmd.Flags().StringVar(&initSeedPath, "seed", "", "YAML file with teams and workers to create")
	initCmd.Flags().BoolVar(&initWithExample, "with-example", false, "Write an example seed file (fleet.yaml) and exit")
}

func runInitCmd(cmd *cobra.Command, args []string) error {
	if initWithExample {
		return writeExampleSeed("fleet.yaml")
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	color.Green("store ready at %s", cfg.Store.Path)

	userConfig := config.GetUserConfigPath()
	if _, err := os.Stat(userConfig); os.IsNotExist(err) {
		if err := writeStarterConfig(userConfig); err != nil {
			return err
		}
		color.Green("wrote %s", userConfig)
	}

	if initSeedPath == "" {
		return nil
	}

	raw, err := os.ReadFile(initSeedPath)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	ctx := cmd.Context()
	org := cfg.Organization

	teamIDs := make(map[string]string)
	managerNames := make(map[string]string)
	for _, st := range seed.Teams {
		team := &models.Team{
			Name:           st.Name,
			Description:    st.Description,
			SkillTags:      st.Skills,
			OrganizationID: org,
		}
		if err := db.CreateTeam(ctx, team); err != nil {
			return fmt.Errorf("create team %q: %w", st.Name, err)
		}
		teamIDs[st.Name] = team.ID
		if st.Manager != "" {
			managerNames[team.ID] = st.Manager
		}
		color.Green("team %s created", st.Name)
	}

	workerIDs := make(map[string]string)
	for _, sw := range seed.Workers {
		teamID := ""
		if sw.Team != "" {
			var ok bool
			if teamID, ok = teamIDs[sw.Team]; !ok {
				return fmt.Errorf("worker %q references unknown team %q", sw.Name, sw.Team)
			}
		}
		worker := &models.Worker{
			Name:           sw.Name,
			RoleID:         sw.Role,
			TeamID:         teamID,
			OrganizationID: org,
		}
		if err := db.CreateWorker(ctx, worker); err != nil {
			return fmt.Errorf("create worker %q: %w", sw.Name, err)
		}
		workerIDs[sw.Name] = worker.ID
		color.Green("worker %s created", sw.Name)
	}

	// Resolve manager names now that all workers exist.
	for teamID, managerName := range managerNames {
		workerID, ok := workerIDs[managerName]
		if !ok {
			return fmt.Errorf("team manager %q is not a seeded worker", managerName)
		}
		if err := db.SetTeamManager(ctx, teamID, workerID); err != nil {
			return err
		}
	}

	fmt.Printf("\nseeded %d teams, %d workers\n", len(seed.Teams), len(seed.Workers))
	return nil
}

func writeStarterConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	starter := `# foreman configuration
organization: default

brain:
  api_key: ${ANTHROPIC_API_KEY}
  # model: claude-sonnet-4-20250514
  # use_aws_bedrock: true
  # aws_region: us-west-2
  daily_cost_limit_cents: 10000

sweeps:
  decomposition: {interval: 1m, batch: 10}
  execution: {interval: 2m, batch: 5}
  manager_review: {interval: 2m, batch: 5}
  task_review: {interval: 3m, batch: 5}

gates:
  lint: true
  typecheck: true

review:
  precedence: manager_first
`
	return os.WriteFile(path, []byte(starter), 0o644)
}

func writeExampleSeed(path string) error {
	example := seedFile{}
	example.Teams = []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Manager     string   `yaml:"manager"`
		Skills      []string `yaml:"skills"`
	}{
		{Name: "Backend", Description: "APIs, services, database and storage work", Manager: "alice", Skills: []string{"go", "sql", "api"}},
		{Name: "Frontend", Description: "Web UI, components, styling", Manager: "carol", Skills: []string{"typescript", "react", "css"}},
	}
	example.Workers = []struct {
		Name string `yaml:"name"`
		Role string `yaml:"role"`
		Team string `yaml:"team"`
	}{
		{Name: "alice", Role: "senior", Team: "Backend"},
		{Name: "bob", Role: "engineer", Team: "Backend"},
		{Name: "carol", Role: "senior", Team: "Frontend"},
	}

	raw, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("marshal example seed: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	color.Green("wrote %s", path)
	return nil
}
