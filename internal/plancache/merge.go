package plancache

import (
	"lesson-plan-agent/internal/models"
)

// mergeResult reports what a patch application did to one day.
type mergeResult struct {
	changedKinds []string
	descChanged  bool
	rejected     int
}

// mergeDay applies a partial push to a local day plan: fields present in the
// patch replace local fields, absent fields are left untouched. Identity
// fields carried by the patch are ignored; the day keeps its own date and the
// plan its own metadata.
func mergeDay(day *models.DayPlan, patch models.DayPlanPatch, seq int64) mergeResult {
	var res mergeResult

	if patch.Topic != nil {
		day.Topic = *patch.Topic
		res.descChanged = true
	}
	if patch.Description != nil {
		day.Description = *patch.Description
		res.descChanged = true
	}
	if patch.KeyPoints != nil {
		day.KeyPoints = append([]string(nil), (*patch.KeyPoints)...)
		res.descChanged = true
	}
	if patch.Activities != nil {
		day.Activities = append([]string(nil), (*patch.Activities)...)
		res.descChanged = true
	}
	if patch.EstimatedDuration != nil {
		day.EstimatedDuration = *patch.EstimatedDuration
		res.descChanged = true
	}

	if changed, rejected := applyJob(&day.ContentJob, patch.ContentStatus, patch.ContentIDs, "", seq); changed {
		res.changedKinds = append(res.changedKinds, models.KindContent)
	} else if rejected {
		res.rejected++
	}
	if changed, rejected := applyJob(&day.WorksheetJob, patch.WorksheetStatus, patch.WorksheetIDs, "", seq); changed {
		res.changedKinds = append(res.changedKinds, models.KindWorksheet)
	} else if rejected {
		res.rejected++
	}
	return res
}

// applyJob is the one place job status transitions happen. Rules:
//   - a nil status leaves the current status untouched
//   - Ready requires non-empty result ids, otherwise the update is rejected
//   - Ready never regresses; Failed only transitions to Ready (late success)
//   - NotStarted and Pending force empty result ids
func applyJob(job *models.JobRecord, status *string, ids *[]string, reason string, seq int64) (changed, rejected bool) {
	if status == nil {
		if ids == nil {
			return false, false
		}
		// Result ids alone: only meaningful for a job already past Pending,
		// and a Ready job never loses its results.
		if job.Status == models.StatusNotStarted || job.Status == models.StatusPending {
			return false, false
		}
		if job.Status == models.StatusReady && len(*ids) == 0 {
			return false, true
		}
		if job.Status == models.StatusFailed {
			return false, false
		}
		job.ResultIDs = append([]string(nil), (*ids)...)
		job.LastUpdated = seq
		return true, false
	}

	s := *status
	if !models.KnownStatus(s) {
		return false, true
	}

	newIDs := job.ResultIDs
	if ids != nil {
		newIDs = append([]string(nil), (*ids)...)
	}

	switch job.Status {
	case models.StatusReady:
		if s != models.StatusReady {
			return false, true
		}
		if ids != nil && len(*ids) == 0 {
			return false, true
		}
		if ids == nil {
			return false, false
		}
		job.ResultIDs = newIDs
		job.LastUpdated = seq
		return true, false

	case models.StatusFailed:
		// Resurrection: a late server Ready with results overrides a local
		// (or remote) failure. Nothing else leaves Failed.
		if s == models.StatusReady && len(newIDs) > 0 {
			job.Status = models.StatusReady
			job.ResultIDs = newIDs
			job.FailureReason = ""
			job.LastUpdated = seq
			return true, false
		}
		return false, true
	}

	switch s {
	case models.StatusReady:
		if len(newIDs) == 0 {
			return false, true
		}
		job.Status = models.StatusReady
		job.ResultIDs = newIDs
		job.FailureReason = ""
	case models.StatusFailed:
		job.Status = models.StatusFailed
		job.ResultIDs = nil
		job.FailureReason = reason
	case models.StatusNotStarted, models.StatusPending:
		job.Status = s
		job.ResultIDs = nil
	case models.StatusGenerating:
		job.Status = s
		if ids != nil {
			job.ResultIDs = newIDs
		}
	}
	job.LastUpdated = seq
	return true, false
}
