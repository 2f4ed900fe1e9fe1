package decompose

import (
	"regexp"
	"strings"

	"github.com/seanmigrate/foreman/pkg/models"
)

// TeamScorer scores how well a task definition fits a team. Higher is
// better. The default implementation matches keyword regex families;
// an embedding-based scorer can replace it without touching the
// decomposer.
type TeamScorer interface {
	ScoreTeamAffinity(taskText string, team *models.Team) float64
}

// keywordFamily couples a skill area with the patterns that recognize it
// in free text.
type keywordFamily struct {
	name     string
	patterns []*regexp.Regexp
}

func family(name string, exprs ...string) keywordFamily {
	compiled := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		compiled[i] = regexp.MustCompile(`(?i)\b(?:` + e + `)\b`)
	}
	return keywordFamily{name: name, patterns: compiled}
}

// defaultFamilies covers the skill areas teams typically describe
// themselves with.
var defaultFamilies = []keywordFamily{
	family("backend", "backend", "api", "server", "service", "endpoint", "database", "sql", "rest", "grpc"),
	family("frontend", "frontend", "ui", "ux", "react", "component", "css", "browser", "design"),
	family("data", "data", "ml", "machine learning", "model", "pipeline", "analytics", "etl", "training"),
	family("qa", "qa", "test", "testing", "quality", "verification", "e2e", "regression"),
	family("infra", "infra", "infrastructure", "devops", "deploy", "deployment", "ci", "cd", "kubernetes", "docker", "terraform"),
	family("docs", "docs", "documentation", "writing", "guide", "tutorial"),
}

// KeywordScorer is the default TeamScorer. Each team's description and
// skill tags are matched against the keyword families; a task scores one
// point per family hit shared with the team.
type KeywordScorer struct {
	families []keywordFamily
}

// NewKeywordScorer creates a KeywordScorer with the default families.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{families: defaultFamilies}
}

// ScoreTeamAffinity implements TeamScorer.
func (s *KeywordScorer) ScoreTeamAffinity(taskText string, team *models.Team) float64 {
	teamText := team.Description + " " + strings.Join(team.SkillTags, " ")

	score := 0.0
	for _, fam := range s.families {
		if !matchesFamily(fam, teamText) {
			continue
		}
		for _, p := range fam.patterns {
			score += float64(len(p.FindAllStringIndex(taskText, -1)))
		}
	}
	return score
}

func matchesFamily(fam keywordFamily, text string) bool {
	for _, p := range fam.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// routeToTeam picks the highest-scoring team for a task text. Ties and
// zero scores fall back to the first team.
func routeToTeam(scorer TeamScorer, taskText string, teams []*models.Team) *models.Team {
	if len(teams) == 0 {
		return nil
	}

	best := teams[0]
	bestScore := scorer.ScoreTeamAffinity(taskText, teams[0])
	for _, team := range teams[1:] {
		if score := scorer.ScoreTeamAffinity(taskText, team); score > bestScore {
			best = team
			bestScore = score
		}
	}
	return best
}
