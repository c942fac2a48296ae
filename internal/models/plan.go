package models

// DayPlan is one day inside a weekly lesson plan. The descriptive fields are
// opaque to the job subsystem; the two job records are what it manages.
type DayPlan struct {
	Date              string   `json:"date"`
	Topic             string   `json:"topic"`
	Description       string   `json:"description"`
	KeyPoints         []string `json:"key_points,omitempty"`
	Activities        []string `json:"activities,omitempty"`
	EstimatedDuration string   `json:"estimated_duration,omitempty"`

	ContentJob   JobRecord `json:"content_job"`
	WorksheetJob JobRecord `json:"worksheet_job"`
}

// Job returns the record for the given kind, or nil for an unknown kind.
func (d *DayPlan) Job(kind string) *JobRecord {
	switch kind {
	case KindContent:
		return &d.ContentJob
	case KindWorksheet:
		return &d.WorksheetJob
	}
	return nil
}

// WeeklyPlan is the read-mostly cached copy of a teacher's plan for one week.
type WeeklyPlan struct {
	PlanID          string             `json:"plan_id"`
	TeacherID       string             `json:"teacher_id"`
	WeekStart       string             `json:"week_start"`
	WeekEnd         string             `json:"week_end"`
	Syllabus        string             `json:"syllabus"`
	Language        string             `json:"language"`
	Grades          []int              `json:"grades,omitempty"`
	WeeklyObjective string             `json:"weekly_objective,omitempty"`
	DailyPlans      map[string]DayPlan `json:"daily_plans"`
}

// DayPlanPatch is the partial delta pushed for one day. Nil pointers mean
// the field was absent from the push and must not overwrite local state.
// Identity fields (plan_id, date, syllabus, language) may appear on the wire
// but are never applied; the push payload can span a different logical
// window than the originally fetched plan.
type DayPlanPatch struct {
	PlanID   *string `json:"plan_id,omitempty"`
	Date     *string `json:"date,omitempty"`
	Syllabus *string `json:"syllabus,omitempty"`
	Language *string `json:"language,omitempty"`

	Topic             *string   `json:"topic,omitempty"`
	Description       *string   `json:"description,omitempty"`
	KeyPoints         *[]string `json:"key_points,omitempty"`
	Activities        *[]string `json:"activities,omitempty"`
	EstimatedDuration *string   `json:"estimated_duration,omitempty"`

	ContentStatus   *string   `json:"content_status,omitempty"`
	ContentIDs      *[]string `json:"content_ids,omitempty"`
	WorksheetStatus *string   `json:"worksheet_status,omitempty"`
	WorksheetIDs    *[]string `json:"worksheet_ids,omitempty"`
}

// PlanPush is one message on a plan's realtime channel.
type PlanPush struct {
	PlanID string       `json:"plan_id"`
	Date   string       `json:"date"`
	Patch  DayPlanPatch `json:"patch"`
}

// TeacherProfile is the authenticated teacher, held in session storage.
type TeacherProfile struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Language    string   `json:"language,omitempty"`
	Location    string   `json:"location,omitempty"`
	Subjects    []string `json:"subjects,omitempty"`
	Grades      []int    `json:"grades,omitempty"`
}
