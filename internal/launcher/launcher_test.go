package launcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lesson-plan-agent/internal/models"
	"lesson-plan-agent/internal/plancache"
	"lesson-plan-agent/internal/remote"
)

const (
	planID = "plan-1"
	date   = "2026-03-02"
)

type fakeBackend struct {
	calls int
	last  remote.GenerateRequest
	resp  *remote.GenerateResponse
	err   error
}

func (f *fakeBackend) SubmitGeneration(_ context.Context, req remote.GenerateRequest) (*remote.GenerateResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newCache() *plancache.Cache {
	c := plancache.New(0)
	c.PutPlan(models.WeeklyPlan{
		PlanID:    planID,
		TeacherID: "teacher-1",
		DailyPlans: map[string]models.DayPlan{
			date: {Topic: "Fractions"},
		},
	})
	return c
}

func params() models.GenerationParams {
	return models.GenerationParams{Subject: "mathematics", Grades: []int{3}, Topic: "fractions"}
}

func TestSubmitHappyPath(t *testing.T) {
	backend := &fakeBackend{resp: &remote.GenerateResponse{Accepted: true, JobID: "job-1"}}
	cache := newCache()
	l := New(backend, cache, "teacher-1")

	rec, err := l.Submit(context.Background(), planID, date, models.KindContent, params())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, "teacher-1", backend.last.TeacherID)
	assert.Equal(t, models.KindContent, backend.last.Kind)
	assert.Equal(t, planID, backend.last.PlanID)
}

func TestSubmitIncompleteParamsFailsFast(t *testing.T) {
	backend := &fakeBackend{resp: &remote.GenerateResponse{Accepted: true}}
	cache := newCache()
	l := New(backend, cache, "teacher-1")

	_, err := l.Submit(context.Background(), planID, date, models.KindContent, models.GenerationParams{Subject: "science"})
	assert.ErrorIs(t, err, ErrIncompleteParams)
	assert.Zero(t, backend.calls, "incomplete params must not reach the network")

	day, _ := cache.Day(planID, date)
	assert.Equal(t, models.StatusNotStarted, day.ContentJob.Status)
}

func TestSubmitDuplicateWhilePending(t *testing.T) {
	backend := &fakeBackend{resp: &remote.GenerateResponse{Accepted: true}}
	cache := newCache()
	l := New(backend, cache, "teacher-1")

	_, err := l.Submit(context.Background(), planID, date, models.KindContent, params())
	require.NoError(t, err)

	rec, err := l.Submit(context.Background(), planID, date, models.KindContent, params())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 1, backend.calls, "second submit while pending must be a no-op")
}

func TestSubmitNetworkFailureRollsBack(t *testing.T) {
	backend := &fakeBackend{err: errors.New("connection refused")}
	cache := newCache()
	l := New(backend, cache, "teacher-1")

	_, err := l.Submit(context.Background(), planID, date, models.KindContent, params())
	require.Error(t, err)

	day, _ := cache.Day(planID, date)
	assert.Equal(t, models.StatusNotStarted, day.ContentJob.Status, "failed submission must roll back the optimistic Pending")

	// The slot is free for a retry.
	backend.err = nil
	backend.resp = &remote.GenerateResponse{Accepted: true}
	rec, err := l.Submit(context.Background(), planID, date, models.KindContent, params())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
}

func TestSubmitRejectedRollsBack(t *testing.T) {
	backend := &fakeBackend{resp: &remote.GenerateResponse{Accepted: false}}
	cache := newCache()
	l := New(backend, cache, "teacher-1")

	_, err := l.Submit(context.Background(), planID, date, models.KindContent, params())
	assert.ErrorIs(t, err, ErrRejected)

	day, _ := cache.Day(planID, date)
	assert.Equal(t, models.StatusNotStarted, day.ContentJob.Status)
}

func TestSubmitSynchronousResult(t *testing.T) {
	backend := &fakeBackend{resp: &remote.GenerateResponse{Accepted: true, JobID: "job-1", ResultIDs: []string{"doc-1"}}}
	cache := newCache()
	l := New(backend, cache, "teacher-1")

	rec, err := l.Submit(context.Background(), planID, date, models.KindWorksheet, params())
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, rec.Status)
	assert.Equal(t, []string{"doc-1"}, rec.ResultIDs)
}

func TestSubmitUnknownPlan(t *testing.T) {
	backend := &fakeBackend{resp: &remote.GenerateResponse{Accepted: true}}
	l := New(backend, plancache.New(0), "teacher-1")

	_, err := l.Submit(context.Background(), "ghost", date, models.KindContent, params())
	assert.ErrorIs(t, err, plancache.ErrUnknownPlan)
	assert.Zero(t, backend.calls)
}
