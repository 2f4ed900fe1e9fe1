package decompose

import (
	"testing"

	"github.com/seanmigrate/foreman/pkg/models"
)

func TestRouteToTeam(t *testing.T) {
	backend := &models.Team{ID: "b", Name: "Backend", Description: "APIs and database services", SkillTags: []string{"sql"}}
	frontend := &models.Team{ID: "f", Name: "Frontend", Description: "UI components", SkillTags: []string{"react", "css"}}
	teams := []*models.Team{backend, frontend}
	scorer := NewKeywordScorer()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"backend work", "Add a REST endpoint backed by the database", "b"},
		{"frontend work", "Restyle the settings UI component with new css", "f"},
		{"no signal falls back to first team", "Miscellaneous chore", "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := routeToTeam(scorer, tt.text, teams)
			if got.ID != tt.want {
				t.Errorf("routeToTeam(%q) = %s, want %s", tt.text, got.Name, tt.want)
			}
		})
	}
}

func TestRouteToTeamEmpty(t *testing.T) {
	if got := routeToTeam(NewKeywordScorer(), "anything", nil); got != nil {
		t.Errorf("routeToTeam with no teams = %v, want nil", got)
	}
}

func TestScoreTeamAffinityIgnoresUnrelatedFamilies(t *testing.T) {
	scorer := NewKeywordScorer()
	docsTeam := &models.Team{Name: "Docs", Description: "Documentation and guides"}

	if score := scorer.ScoreTeamAffinity("Write a deployment tutorial guide", docsTeam); score == 0 {
		t.Error("docs team should score docs-flavored work")
	}
	if score := scorer.ScoreTeamAffinity("Optimize the sql query planner", docsTeam); score != 0 {
		t.Errorf("docs team scored %f on database work, want 0", score)
	}
}
