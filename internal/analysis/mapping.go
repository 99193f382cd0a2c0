package analysis

import "strings"

// Skill proficiency levels, weakest first.
const (
	LevelLearning   = "learning"
	LevelPracticing = "practicing"
	LevelProficient = "proficient"
	LevelExpert     = "expert"
)

var levelRank = map[string]int{
	LevelLearning:   1,
	LevelPracticing: 2,
	LevelProficient: 3,
	LevelExpert:     4,
}

// Rank returns the ordering of a proficiency level; unknown levels rank
// below learning.
func Rank(level string) int {
	return levelRank[strings.ToLower(strings.TrimSpace(level))]
}

// SkillAssessment is the verified verdict on one claimed skill.
type SkillAssessment struct {
	Name          string  `json:"name"`
	ClaimedLevel  string  `json:"claimed_level"`
	VerifiedLevel string  `json:"verified_level"`
	Confidence    float64 `json:"confidence"`
	GapIdentified bool    `json:"gap_identified"`
	Improved      bool    `json:"improved"`
	Evidence      string  `json:"evidence,omitempty"`
}

// MapSkills converts free-form strengths/improvements into per-skill
// assessments. No side effects. A skill named in a strength verifies higher
// than one named in an improvement; a skill the evaluation never mentions
// gets a level inferred from the overall score at low confidence. A gap is
// flagged only when the claim outranks the verified level, never the other
// way around. With prior set, progress-check mode marks skills whose
// verified level rose above the previously recorded one.
func MapSkills(result *EvaluationResult, claims []Claim, prior map[string]string, progressCheck bool) []SkillAssessment {
	inferred := inferLevel(result.OverallScore)
	out := make([]SkillAssessment, 0, len(claims))
	for _, claim := range claims {
		a := SkillAssessment{
			Name:         claim.Name,
			ClaimedLevel: strings.ToLower(claim.ClaimedLevel),
		}
		if f, ok := matchFinding(claim.Name, result.Strengths); ok {
			a.VerifiedLevel = strengthLevel(result.OverallScore)
			a.Confidence = 0.9
			a.Evidence = f.Description
		} else if f, ok := matchFinding(claim.Name, result.Improvements); ok {
			a.VerifiedLevel = weaknessLevel(result.OverallScore)
			a.Confidence = 0.8
			a.Evidence = f.Description
		} else {
			a.VerifiedLevel = inferred
			a.Confidence = 0.5
		}
		a.GapIdentified = Rank(a.ClaimedLevel) > Rank(a.VerifiedLevel)
		if progressCheck {
			if prev, ok := prior[strings.ToLower(claim.Name)]; ok && prev != "" {
				a.Improved = Rank(a.VerifiedLevel) > Rank(prev)
			}
		}
		out = append(out, a)
	}
	return out
}

// matchFinding fuzzy-matches a skill name against finding categories and
// descriptions, case-insensitive, either direction of containment.
func matchFinding(skill string, findings []Finding) (Finding, bool) {
	needle := strings.ToLower(strings.TrimSpace(skill))
	if needle == "" {
		return Finding{}, false
	}
	for _, f := range findings {
		cat := strings.ToLower(f.Category)
		desc := strings.ToLower(f.Description)
		if strings.Contains(cat, needle) || (strings.Contains(needle, cat) && cat != "") {
			return f, true
		}
		if strings.Contains(desc, needle) {
			return f, true
		}
	}
	return Finding{}, false
}

func inferLevel(score float64) string {
	switch {
	case score >= 90:
		return LevelExpert
	case score >= 75:
		return LevelProficient
	case score >= 55:
		return LevelPracticing
	default:
		return LevelLearning
	}
}

// strengthLevel biases upward for explicitly praised skills.
func strengthLevel(score float64) string {
	switch {
	case score >= 80:
		return LevelExpert
	case score >= 60:
		return LevelProficient
	default:
		return LevelPracticing
	}
}

// weaknessLevel biases downward for skills flagged as improvement areas.
func weaknessLevel(score float64) string {
	if score >= 80 {
		return LevelPracticing
	}
	return LevelLearning
}
