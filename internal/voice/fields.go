package voice

import (
	"fmt"
	"strconv"

	"lesson-plan-agent/internal/models"
)

// Input kinds for missing-field prompts.
const (
	InputMultiSelect = "multi_select"
	InputChoice      = "choice"
	InputText        = "text"
)

// SubjectOptions enumerates the subjects the backend can generate for.
var SubjectOptions = []string{"mathematics", "science", "hindi", "english", "social_studies"}

// GradeOptions enumerates the selectable grades.
var GradeOptions = []int{1, 2, 3, 4, 5}

// FieldInput describes how one missing field should be collected.
type FieldInput struct {
	Field   string   `json:"field"`
	Kind    string   `json:"kind"`
	Label   string   `json:"label"`
	Options []string `json:"options,omitempty"`
}

// InputFor returns the prompt metadata for a missing field: grades are a
// multi-select, subject an enumerated choice, everything else free text.
func InputFor(field string) FieldInput {
	switch field {
	case models.FieldGrades:
		opts := make([]string, len(GradeOptions))
		for i, g := range GradeOptions {
			opts[i] = strconv.Itoa(g)
		}
		return FieldInput{Field: field, Kind: InputMultiSelect, Label: "Which grades?", Options: opts}
	case models.FieldSubject:
		return FieldInput{Field: field, Kind: InputChoice, Label: "Subject", Options: append([]string(nil), SubjectOptions...)}
	case models.FieldTopic:
		return FieldInput{Field: field, Kind: InputText, Label: "Topic"}
	case models.FieldLanguage:
		return FieldInput{Field: field, Kind: InputText, Label: "Language"}
	case models.FieldDifficulty:
		return FieldInput{Field: field, Kind: InputText, Label: "Difficulty Level"}
	default:
		return FieldInput{Field: field, Kind: InputText, Label: field}
	}
}

// setIntentField writes one user-supplied value into the intent.
func setIntentField(intent *models.Intent, field string, value any) error {
	switch field {
	case models.FieldGrades:
		grades, err := toGrades(value)
		if err != nil {
			return err
		}
		if len(grades) == 0 {
			return fmt.Errorf("%w: at least one grade required", ErrBadField)
		}
		intent.Grades = grades
	case models.FieldSubject:
		s, ok := value.(string)
		if !ok || !contains(SubjectOptions, s) {
			return fmt.Errorf("%w: subject must be one of %v", ErrBadField, SubjectOptions)
		}
		intent.Subject = s
	case models.FieldTopic:
		return setText(&intent.Topic, field, value)
	case models.FieldLanguage:
		return setText(&intent.Language, field, value)
	case models.FieldDifficulty:
		return setText(&intent.Difficulty, field, value)
	default:
		return fmt.Errorf("%w: unknown field %q", ErrBadField, field)
	}
	return nil
}

func setText(dst *string, field string, value any) error {
	s, ok := value.(string)
	if !ok || s == "" {
		return fmt.Errorf("%w: %s must be non-empty text", ErrBadField, field)
	}
	*dst = s
	return nil
}

// toGrades accepts the shapes a JSON body can deliver grades in.
func toGrades(value any) ([]int, error) {
	switch v := value.(type) {
	case []int:
		return append([]int(nil), v...), nil
	case int:
		return []int{v}, nil
	case float64:
		return []int{int(v)}, nil
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			g, err := toGrade(item)
			if err != nil {
				return nil, err
			}
			out = append(out, g)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: grades must be a list of numbers", ErrBadField)
	}
}

func toGrade(v any) (int, error) {
	switch g := v.(type) {
	case int:
		return g, nil
	case float64:
		return int(g), nil
	case string:
		n, err := strconv.Atoi(g)
		if err != nil {
			return 0, fmt.Errorf("%w: bad grade %q", ErrBadField, g)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: bad grade value", ErrBadField)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
