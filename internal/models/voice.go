package models

// Voice negotiation states.
const (
	VoiceParsing    = "parsing"
	VoiceNeedsInput = "needs_input"
	VoiceReady      = "ready"
	VoiceSubmitted  = "submitted"
	VoicePolling    = "polling"
	VoiceSucceeded  = "succeeded"
	VoiceFailed     = "failed"
)

// Intent actions understood by the voice pipeline.
const (
	ActionGenerateContent   = "generate_content"
	ActionGenerateWorksheet = "generate_worksheet"
)

// Intent is the structured job request distilled from a spoken command.
type Intent struct {
	Action     string `json:"action"`
	Subject    string `json:"subject,omitempty"`
	Grades     []int  `json:"grades,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Language   string `json:"language,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// Kind maps the intent action to a job kind.
func (i Intent) Kind() string {
	if i.Action == ActionGenerateWorksheet {
		return KindWorksheet
	}
	return KindContent
}

// Params converts the intent into submission params.
func (i Intent) Params() GenerationParams {
	return GenerationParams{
		Subject:    i.Subject,
		Grades:     i.Grades,
		Topic:      i.Topic,
		Language:   i.Language,
		Difficulty: i.Difficulty,
	}
}

// VoiceSession tracks one utterance from capture to a terminal job state.
type VoiceSession struct {
	RawCommand    string   `json:"raw_command"`
	Intent        Intent   `json:"intent"`
	MissingFields []string `json:"missing_fields,omitempty"`
	JobSessionID  string   `json:"job_session_id,omitempty"`
	State         string   `json:"state"`
	NavigateTo    string   `json:"navigate_to,omitempty"`
	LastError     string   `json:"last_error,omitempty"`
}
