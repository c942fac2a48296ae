package sim

import (
	"regexp"
	"strconv"
	"strings"

	"lesson-plan-agent/internal/models"
)

// subjectKeywords maps spoken words to canonical subjects.
var subjectKeywords = map[string]string{
	"math":           "mathematics",
	"maths":          "mathematics",
	"mathematics":    "mathematics",
	"science":        "science",
	"hindi":          "hindi",
	"english":        "english",
	"social":         "social_studies",
	"social studies": "social_studies",
	"history":        "social_studies",
	"geography":      "social_studies",
}

var gradePattern = regexp.MustCompile(`(?:grade|class|std)\s*(\d)`)

// ClassifyCommand distills a spoken command into a structured intent and
// the required fields the utterance did not pin down. It is a deliberately
// shallow keyword classifier; production puts an LLM here.
func ClassifyCommand(command string) (models.Intent, []string) {
	lower := strings.ToLower(command)

	intent := models.Intent{Action: models.ActionGenerateContent}
	if strings.Contains(lower, "worksheet") || strings.Contains(lower, "material") {
		intent.Action = models.ActionGenerateWorksheet
	}

	for keyword, subject := range subjectKeywords {
		if strings.Contains(lower, keyword) {
			intent.Subject = subject
			break
		}
	}

	for _, m := range gradePattern.FindAllStringSubmatch(lower, -1) {
		if g, err := strconv.Atoi(m[1]); err == nil {
			intent.Grades = appendGrade(intent.Grades, g)
		}
	}

	intent.Topic = extractTopic(lower)

	var missing []string
	for _, f := range models.RequiredFields(intent.Kind()) {
		switch f {
		case models.FieldSubject:
			if intent.Subject == "" {
				missing = append(missing, f)
			}
		case models.FieldGrades:
			if len(intent.Grades) == 0 {
				missing = append(missing, f)
			}
		case models.FieldTopic:
			if intent.Topic == "" {
				missing = append(missing, f)
			}
		}
	}
	return intent, missing
}

// extractTopic takes whatever follows "about" or "on" as the topic phrase.
func extractTopic(lower string) string {
	for _, marker := range []string{" about ", " on "} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			topic := strings.TrimSpace(lower[idx+len(marker):])
			topic = strings.Trim(topic, ".!?")
			if topic != "" {
				return topic
			}
		}
	}
	return ""
}

func appendGrade(grades []int, g int) []int {
	for _, existing := range grades {
		if existing == g {
			return grades
		}
	}
	return append(grades, g)
}
