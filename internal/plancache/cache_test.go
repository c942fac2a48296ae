package plancache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lesson-plan-agent/internal/models"
)

const (
	testPlanID = "plan-1"
	testDate   = "2026-03-02"
)

func testPlan() models.WeeklyPlan {
	return models.WeeklyPlan{
		PlanID:    testPlanID,
		TeacherID: "teacher-1",
		WeekStart: "2026-03-01",
		WeekEnd:   "2026-03-07",
		Syllabus:  "NCERT",
		Language:  "en",
		DailyPlans: map[string]models.DayPlan{
			testDate: {
				Topic:       "Fractions",
				Description: "Introduce halves and quarters",
			},
		},
	}
}

func strp(s string) *string        { return &s }
func idsp(ids ...string) *[]string { return &ids }

func contentJob(t *testing.T, c *Cache) models.JobRecord {
	t.Helper()
	day, _ := c.Day(testPlanID, testDate)
	return day.ContentJob
}

func TestPutPlanNormalizesJobs(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	day, ok := c.Day(testPlanID, testDate)
	require.True(t, ok)
	assert.Equal(t, models.StatusNotStarted, day.ContentJob.Status)
	assert.Equal(t, models.KindContent, day.ContentJob.Kind)
	assert.Equal(t, testPlanID, day.ContentJob.OwnerPlanID)
	assert.Equal(t, models.StatusNotStarted, day.WorksheetJob.Status)
	assert.Equal(t, testDate, day.Date)
}

func TestBeginJobOptimisticPending(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	var events []Event
	c.OnChange(func(ev Event) { events = append(events, ev) })

	rec, started, err := c.BeginJob(testPlanID, testDate, models.KindContent)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, models.StatusPending, rec.Status)

	// Submitting again while Pending must not create a second job.
	again, started, err := c.BeginJob(testPlanID, testDate, models.KindContent)
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, models.StatusPending, again.Status)
	assert.Len(t, events, 1)
}

func TestBeginJobReplacesTerminalRecord(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	ready := models.StatusReady
	require.NoError(t, c.ApplyJobUpdate(testPlanID, testDate, models.KindContent, &ready, idsp("doc-1"), ""))

	rec, started, err := c.BeginJob(testPlanID, testDate, models.KindContent)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Empty(t, rec.ResultIDs)
}

func TestRollbackOnlyFromPending(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	_, _, err := c.BeginJob(testPlanID, testDate, models.KindContent)
	require.NoError(t, err)

	c.RollbackJob(testPlanID, testDate, models.KindContent)
	assert.Equal(t, models.StatusNotStarted, contentJob(t, c).Status)

	// A job that progressed past Pending must not be rolled back.
	_, _, err = c.BeginJob(testPlanID, testDate, models.KindContent)
	require.NoError(t, err)
	generating := models.StatusGenerating
	require.NoError(t, c.ApplyJobUpdate(testPlanID, testDate, models.KindContent, &generating, nil, ""))

	c.RollbackJob(testPlanID, testDate, models.KindContent)
	assert.Equal(t, models.StatusGenerating, contentJob(t, c).Status)
}

func TestApplyPushPartialMerge(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	generating := models.StatusGenerating
	require.NoError(t, c.ApplyJobUpdate(testPlanID, testDate, models.KindContent, &generating, nil, ""))

	// A descriptive-only patch leaves both job records alone.
	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch:  models.DayPlanPatch{Description: strp("Revised outline")},
	}))
	day, _ := c.Day(testPlanID, testDate)
	assert.Equal(t, "Revised outline", day.Description)
	assert.Equal(t, "Fractions", day.Topic)
	assert.Equal(t, models.StatusGenerating, day.ContentJob.Status)
	assert.Equal(t, models.StatusNotStarted, day.WorksheetJob.Status)

	// A content-only patch leaves the worksheet job alone.
	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusReady), ContentIDs: idsp("doc-1")},
	}))
	day, _ = c.Day(testPlanID, testDate)
	assert.Equal(t, models.StatusReady, day.ContentJob.Status)
	assert.Equal(t, []string{"doc-1"}, day.ContentJob.ResultIDs)
	assert.Equal(t, models.StatusNotStarted, day.WorksheetJob.Status)
}

func TestApplyPushIgnoresIdentityFields(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch: models.DayPlanPatch{
			PlanID:   strp("other-plan"),
			Date:     strp("2026-03-05"),
			Syllabus: strp("CBSE"),
			Language: strp("hi"),
			Topic:    strp("Decimals"),
		},
	}))

	plan, ok := c.Plan(testPlanID)
	require.True(t, ok)
	assert.Equal(t, "NCERT", plan.Syllabus)
	assert.Equal(t, "en", plan.Language)

	day, _ := c.Day(testPlanID, testDate)
	assert.Equal(t, testDate, day.Date)
	assert.Equal(t, "Decimals", day.Topic)
}

func TestReadyIsMonotonic(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	ready := models.StatusReady
	require.NoError(t, c.ApplyJobUpdate(testPlanID, testDate, models.KindContent, &ready, idsp("doc-1"), ""))

	// No later push may regress a Ready record.
	for _, status := range []string{models.StatusFailed, models.StatusGenerating, models.StatusPending, models.StatusNotStarted} {
		require.NoError(t, c.ApplyPush(models.PlanPush{
			PlanID: testPlanID,
			Date:   testDate,
			Patch:  models.DayPlanPatch{ContentStatus: strp(status)},
		}))
		job := contentJob(t, c)
		assert.Equal(t, models.StatusReady, job.Status, "push %s must not regress Ready", status)
		assert.Equal(t, []string{"doc-1"}, job.ResultIDs)
	}

	// Ready with empty ids would clear results; rejected.
	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusReady), ContentIDs: idsp()},
	}))
	assert.Equal(t, []string{"doc-1"}, contentJob(t, c).ResultIDs)

	// Ready with fresh ids replaces the result set.
	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusReady), ContentIDs: idsp("doc-2", "doc-3")},
	}))
	assert.Equal(t, []string{"doc-2", "doc-3"}, contentJob(t, c).ResultIDs)
}

func TestReadyRequiresResultIDs(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	generating := models.StatusGenerating
	require.NoError(t, c.ApplyJobUpdate(testPlanID, testDate, models.KindContent, &generating, nil, ""))

	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusReady)},
	}))
	assert.Equal(t, models.StatusGenerating, contentJob(t, c).Status)
}

func TestFailedResurrection(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	failed := models.StatusFailed
	require.NoError(t, c.ApplyJobUpdate(testPlanID, testDate, models.KindContent, &failed, nil, "backend gave up"))
	job := contentJob(t, c)
	require.Equal(t, models.StatusFailed, job.Status)
	require.Equal(t, "backend gave up", job.FailureReason)

	// Failed ignores everything except a late Ready with results.
	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusGenerating)},
	}))
	assert.Equal(t, models.StatusFailed, contentJob(t, c).Status)

	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusReady), ContentIDs: idsp("doc-9")},
	}))
	job = contentJob(t, c)
	assert.Equal(t, models.StatusReady, job.Status)
	assert.Equal(t, []string{"doc-9"}, job.ResultIDs)
	assert.Empty(t, job.FailureReason)
}

func TestUnknownStatusRejected(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch:  models.DayPlanPatch{ContentStatus: strp("exploded")},
	}))
	assert.Equal(t, models.StatusNotStarted, contentJob(t, c).Status)
}

func TestApplyPushUnknownPlanOrDay(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	err := c.ApplyPush(models.PlanPush{PlanID: "nope", Date: testDate})
	assert.ErrorIs(t, err, ErrUnknownPlan)

	err = c.ApplyPush(models.PlanPush{PlanID: testPlanID, Date: "2026-03-09"})
	assert.ErrorIs(t, err, ErrUnknownDay)
}

func TestLocalTimeoutFailsLaunchedJob(t *testing.T) {
	c := New(40 * time.Millisecond)
	c.PutPlan(testPlan())

	_, _, err := c.BeginJob(testPlanID, testDate, models.KindContent)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return contentJob(t, c).Status == models.StatusFailed
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, contentJob(t, c).FailureReason, "no update received")

	// A late server Ready still lands through the normal resurrection path.
	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusReady), ContentIDs: idsp("doc-1")},
	}))
	assert.Equal(t, models.StatusReady, contentJob(t, c).Status)
}

func TestAppliedUpdateRearmsDeadline(t *testing.T) {
	c := New(250 * time.Millisecond)
	c.PutPlan(testPlan())

	_, _, err := c.BeginJob(testPlanID, testDate, models.KindContent)
	require.NoError(t, err)

	// Keep feeding progress; the deadline must move with each update.
	generating := models.StatusGenerating
	for i := 0; i < 3; i++ {
		time.Sleep(120 * time.Millisecond)
		require.NoError(t, c.ApplyJobUpdate(testPlanID, testDate, models.KindContent, &generating, nil, ""))
	}
	assert.Equal(t, models.StatusGenerating, contentJob(t, c).Status)

	// Silence after the last update still expires the job.
	require.Eventually(t, func() bool {
		return contentJob(t, c).Status == models.StatusFailed
	}, time.Second, 5*time.Millisecond)
}

func TestTimeoutOnlyAppliesToJobsLaunchedHere(t *testing.T) {
	c := New(30 * time.Millisecond)
	c.PutPlan(testPlan())

	// Generating observed via push only, never launched locally: no watchdog.
	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusGenerating)},
	}))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, models.StatusGenerating, contentJob(t, c).Status)
}

func TestDropCancelsDeadlines(t *testing.T) {
	c := New(30 * time.Millisecond)
	c.PutPlan(testPlan())

	_, _, err := c.BeginJob(testPlanID, testDate, models.KindContent)
	require.NoError(t, err)
	c.Drop(testPlanID)

	time.Sleep(80 * time.Millisecond)
	_, ok := c.Plan(testPlanID)
	assert.False(t, ok)
}

func TestReadyTakesResultIDsFromSameUpdate(t *testing.T) {
	c := New(0)
	c.PutPlan(testPlan())

	_, _, err := c.BeginJob(testPlanID, testDate, models.KindWorksheet)
	require.NoError(t, err)

	require.NoError(t, c.ApplyPush(models.PlanPush{
		PlanID: testPlanID,
		Date:   testDate,
		Patch: models.DayPlanPatch{
			WorksheetStatus: strp(models.StatusReady),
			WorksheetIDs:    idsp("sheet-1"),
		},
	}))
	day, _ := c.Day(testPlanID, testDate)
	assert.Equal(t, models.StatusReady, day.WorksheetJob.Status)
	assert.Equal(t, []string{"sheet-1"}, day.WorksheetJob.ResultIDs)
}
