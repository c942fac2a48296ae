package launcher

import (
	"context"
	"errors"
	"fmt"

	"lesson-plan-agent/internal/models"
	"lesson-plan-agent/internal/plancache"
	"lesson-plan-agent/internal/remote"
	"lesson-plan-agent/internal/telemetry"
)

// ErrIncompleteParams is returned before any network call when the params
// do not satisfy the required field set for the kind.
var ErrIncompleteParams = errors.New("incomplete generation params")

// ErrRejected is returned when the backend refuses the job request.
var ErrRejected = errors.New("submission rejected by backend")

// Backend is the submission surface the launcher needs from the API client.
type Backend interface {
	SubmitGeneration(ctx context.Context, req remote.GenerateRequest) (*remote.GenerateResponse, error)
}

// Launcher submits generation jobs and keeps the plan cache honest about
// them: Pending is set optimistically before the request goes out, and a
// failed submission rolls the record back to NotStarted.
type Launcher struct {
	api       Backend
	cache     *plancache.Cache
	teacherID string
}

// New builds a launcher for one authenticated teacher.
func New(api Backend, cache *plancache.Cache, teacherID string) *Launcher {
	return &Launcher{api: api, cache: cache, teacherID: teacherID}
}

// Submit requests generation of one kind for one plan day.
//
// Submitting while the job is already Pending or Generating returns the
// existing record without a network call. A terminal record is replaced by
// a fresh job. If the backend answers with results synchronously the record
// goes straight to Ready.
func (l *Launcher) Submit(ctx context.Context, planID, date, kind string, params models.GenerationParams) (models.JobRecord, error) {
	if missing := params.MissingParams(kind); len(missing) > 0 {
		return models.JobRecord{}, fmt.Errorf("%w: missing %v", ErrIncompleteParams, missing)
	}

	rec, started, err := l.cache.BeginJob(planID, date, kind)
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("begin job: %w", err)
	}
	if !started {
		return rec, nil
	}

	resp, err := l.api.SubmitGeneration(ctx, remote.GenerateRequest{
		PlanID:    planID,
		Day:       date,
		TeacherID: l.teacherID,
		Kind:      kind,
		Params:    params,
	})
	if err != nil {
		l.cache.RollbackJob(planID, date, kind)
		telemetry.SubmitFailures.Inc()
		return models.JobRecord{}, fmt.Errorf("submit %s job: %w", kind, err)
	}
	if !resp.Accepted {
		l.cache.RollbackJob(planID, date, kind)
		telemetry.SubmitFailures.Inc()
		return models.JobRecord{}, fmt.Errorf("submit %s job: %w", kind, ErrRejected)
	}
	telemetry.JobsSubmitted.Inc()

	// A synchronous result means the backend had the material already.
	if len(resp.ResultIDs) > 0 {
		ready := models.StatusReady
		ids := resp.ResultIDs
		if err := l.cache.ApplyJobUpdate(planID, date, kind, &ready, &ids, ""); err != nil {
			return models.JobRecord{}, fmt.Errorf("apply sync result: %w", err)
		}
	}

	day, ok := l.cache.Day(planID, date)
	if !ok {
		return rec, nil
	}
	if job := day.Job(kind); job != nil {
		return *job, nil
	}
	return rec, nil
}
