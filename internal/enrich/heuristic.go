package enrich

import (
	"sort"
	"strings"

	"credsync/internal/credential/models"
)

// Keyword-to-skill table for the local fallback. Deliberately small and
// deterministic: the same credential always yields the same guess.
var skillKeywords = map[string]models.Skill{
	"weld":        {Name: "Welding", Category: "Manufacturing", Proficiency: "intermediate"},
	"electric":    {Name: "Electrical Work", Category: "Engineering", Proficiency: "intermediate"},
	"plumb":       {Name: "Plumbing", Category: "Construction", Proficiency: "intermediate"},
	"data entry":  {Name: "Data Entry", Category: "IT-ITeS", Proficiency: "basic"},
	"python":      {Name: "Python Programming", Category: "Software", Proficiency: "intermediate"},
	"java":        {Name: "Java Programming", Category: "Software", Proficiency: "intermediate"},
	"go ":         {Name: "Go Programming", Category: "Software", Proficiency: "intermediate"},
	"javascript":  {Name: "JavaScript Programming", Category: "Software", Proficiency: "intermediate"},
	"excel":       {Name: "Spreadsheets", Category: "Office", Proficiency: "basic"},
	"account":     {Name: "Accounting", Category: "Finance", Proficiency: "intermediate"},
	"tailor":      {Name: "Tailoring", Category: "Apparel", Proficiency: "intermediate"},
	"beauty":      {Name: "Beauty & Wellness", Category: "Services", Proficiency: "basic"},
	"retail":      {Name: "Retail Operations", Category: "Retail", Proficiency: "basic"},
	"automotive":  {Name: "Automotive Service", Category: "Automotive", Proficiency: "intermediate"},
	"healthcare":  {Name: "Healthcare Support", Category: "Healthcare", Proficiency: "basic"},
	"hospitality": {Name: "Hospitality", Category: "Tourism", Proficiency: "basic"},
	"agricult":    {Name: "Agriculture", Category: "Agriculture", Proficiency: "basic"},
	"solar":       {Name: "Solar Installation", Category: "Green Energy", Proficiency: "intermediate"},
}

const (
	heuristicConfidence   = 0.3
	heuristicDefaultLevel = 3
)

// HeuristicExtract derives a best-effort skill guess from the credential's
// own text fields. Used when the extraction service is unavailable or not
// configured, so metadata is never left entirely empty. Output is tagged
// with heuristic provenance.
func HeuristicExtract(rec models.CredentialRecord) models.AIExtracted {
	text := strings.ToLower(strings.Join([]string{
		rec.CertificateTitle, rec.Sector, rec.Occupation, rec.Description,
	}, " "))

	matched := make(map[string]models.Skill)
	for keyword, skill := range skillKeywords {
		if strings.Contains(text, keyword) {
			s := skill
			s.Confidence = heuristicConfidence
			matched[s.Name] = s
		}
	}

	skills := make([]models.Skill, 0, len(matched))
	keywords := make([]string, 0, len(matched))
	for name, skill := range matched {
		skills = append(skills, skill)
		keywords = append(keywords, strings.ToLower(name))
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	sort.Strings(keywords)

	level := heuristicDefaultLevel
	if rec.NSQFLevel > 0 {
		level = rec.NSQFLevel
	}

	return models.AIExtracted{
		Skills:     skills,
		NSQFLevel:  level,
		Confidence: heuristicConfidence,
		Keywords:   keywords,
		Provenance: models.ProvenanceHeuristic,
	}
}
