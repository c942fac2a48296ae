package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lesson-plan-agent/internal/models"
	"lesson-plan-agent/internal/plancache"
)

const (
	planID = "plan-1"
	date   = "2026-03-02"
)

func setup(t *testing.T) (*redis.Client, *plancache.Cache, *Reconciler) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cache := plancache.New(0)
	cache.PutPlan(models.WeeklyPlan{
		PlanID:   planID,
		Syllabus: "NCERT",
		DailyPlans: map[string]models.DayPlan{
			date: {Topic: "Fractions"},
		},
	})

	rec := New(rdb, cache)
	t.Cleanup(rec.Close)
	return rdb, cache, rec
}

func publish(t *testing.T, rdb *redis.Client, push models.PlanPush) {
	t.Helper()
	data, err := json.Marshal(push)
	require.NoError(t, err)
	require.NoError(t, rdb.Publish(context.Background(), Channel(push.PlanID), data).Err())
}

func strp(s string) *string { return &s }

func contentStatus(cache *plancache.Cache) string {
	day, _ := cache.Day(planID, date)
	return day.ContentJob.Status
}

func TestSubscribeAppliesPushes(t *testing.T) {
	rdb, cache, rec := setup(t)
	require.NoError(t, rec.Subscribe(context.Background(), planID))

	publish(t, rdb, models.PlanPush{
		PlanID: planID,
		Date:   date,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusGenerating)},
	})

	require.Eventually(t, func() bool {
		return contentStatus(cache) == models.StatusGenerating
	}, time.Second, 5*time.Millisecond)
}

func TestPushesPreservePlanIdentity(t *testing.T) {
	rdb, cache, rec := setup(t)
	require.NoError(t, rec.Subscribe(context.Background(), planID))

	publish(t, rdb, models.PlanPush{
		PlanID: planID,
		Date:   date,
		Patch: models.DayPlanPatch{
			Syllabus: strp("CBSE"),
			Topic:    strp("Decimals"),
		},
	})

	require.Eventually(t, func() bool {
		day, _ := cache.Day(planID, date)
		return day.Topic == "Decimals"
	}, time.Second, 5*time.Millisecond)

	plan, _ := cache.Plan(planID)
	assert.Equal(t, "NCERT", plan.Syllabus, "identity fields in a push must never be applied")
}

func TestSubscribeTwiceIsNoOp(t *testing.T) {
	_, _, rec := setup(t)
	require.NoError(t, rec.Subscribe(context.Background(), planID))
	require.NoError(t, rec.Subscribe(context.Background(), planID))
	rec.Unsubscribe(planID)
	rec.Unsubscribe(planID)
}

func TestUnsubscribeStopsApplyingPushes(t *testing.T) {
	rdb, cache, rec := setup(t)
	require.NoError(t, rec.Subscribe(context.Background(), planID))

	publish(t, rdb, models.PlanPush{
		PlanID: planID,
		Date:   date,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusGenerating)},
	})
	require.Eventually(t, func() bool {
		return contentStatus(cache) == models.StatusGenerating
	}, time.Second, 5*time.Millisecond)

	rec.Unsubscribe(planID)

	publish(t, rdb, models.PlanPush{
		PlanID: planID,
		Date:   date,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusReady), ContentIDs: &[]string{"doc-1"}},
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.StatusGenerating, contentStatus(cache), "pushes after unsubscribe must be discarded")
}

func TestMalformedPushIsSkipped(t *testing.T) {
	rdb, cache, rec := setup(t)
	require.NoError(t, rec.Subscribe(context.Background(), planID))

	require.NoError(t, rdb.Publish(context.Background(), Channel(planID), "not json").Err())
	publish(t, rdb, models.PlanPush{
		PlanID: planID,
		Date:   date,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusGenerating)},
	})

	require.Eventually(t, func() bool {
		return contentStatus(cache) == models.StatusGenerating
	}, time.Second, 5*time.Millisecond)
}

func TestPushForUnknownDayIsDiscarded(t *testing.T) {
	rdb, cache, rec := setup(t)
	require.NoError(t, rec.Subscribe(context.Background(), planID))

	publish(t, rdb, models.PlanPush{
		PlanID: planID,
		Date:   "2026-03-09",
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusGenerating)},
	})
	publish(t, rdb, models.PlanPush{
		PlanID: planID,
		Date:   date,
		Patch:  models.DayPlanPatch{ContentStatus: strp(models.StatusGenerating)},
	})

	require.Eventually(t, func() bool {
		return contentStatus(cache) == models.StatusGenerating
	}, time.Second, 5*time.Millisecond)
}
