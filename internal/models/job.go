package models

// Job lifecycle states. Ready and Failed are terminal; the only transition
// out of a terminal state is a late server Ready overriding a local Failed.
const (
	StatusNotStarted = "not_started"
	StatusPending    = "pending"
	StatusGenerating = "generating"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Generation job kinds.
const (
	KindContent   = "content"
	KindWorksheet = "worksheet"
)

// Terminal reports whether a status accepts no further transitions.
func Terminal(status string) bool {
	return status == StatusReady || status == StatusFailed
}

// KnownStatus reports whether a status string is one the client understands.
func KnownStatus(status string) bool {
	switch status {
	case StatusNotStarted, StatusPending, StatusGenerating, StatusReady, StatusFailed:
		return true
	}
	return false
}

// JobRecord tracks one generation request for a single day and kind.
type JobRecord struct {
	Kind        string   `json:"kind"`
	Status      string   `json:"status"`
	ResultIDs   []string `json:"result_ids,omitempty"`
	OwnerPlanID string   `json:"owner_plan_id,omitempty"`
	// LastUpdated is a logical sequence number bumped each time an update
	// is applied to the record, used to break ties between update sources.
	LastUpdated   int64  `json:"last_updated"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// FreshJob returns a record in NotStarted for the given kind.
func FreshJob(kind, ownerPlanID string) JobRecord {
	return JobRecord{
		Kind:        kind,
		Status:      StatusNotStarted,
		OwnerPlanID: ownerPlanID,
	}
}

// GenerationParams carries the request fields for a generation job.
type GenerationParams struct {
	Subject    string `json:"subject,omitempty"`
	Grades     []int  `json:"grades,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Language   string `json:"language,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// Field names shared by params validation and voice negotiation.
const (
	FieldSubject    = "subject"
	FieldGrades     = "grades"
	FieldTopic      = "topic"
	FieldLanguage   = "language"
	FieldDifficulty = "difficulty"
)

// RequiredFields returns the params a submission must carry for a kind.
func RequiredFields(kind string) []string {
	return []string{FieldSubject, FieldGrades, FieldTopic}
}

// MissingParams lists required fields absent from p, in required order.
func (p GenerationParams) MissingParams(kind string) []string {
	var missing []string
	for _, f := range RequiredFields(kind) {
		switch f {
		case FieldSubject:
			if p.Subject == "" {
				missing = append(missing, f)
			}
		case FieldGrades:
			if len(p.Grades) == 0 {
				missing = append(missing, f)
			}
		case FieldTopic:
			if p.Topic == "" {
				missing = append(missing, f)
			}
		}
	}
	return missing
}
