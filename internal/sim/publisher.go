package sim

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"lesson-plan-agent/internal/models"
	"lesson-plan-agent/internal/reconciler"
)

// Publisher pushes day-plan deltas to whatever clients hold the plan's
// channel open. Patches are dirty-fields-only; the client merge is built
// for partial payloads.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher builds a publisher over the given redis client.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// PublishDayPatch sends one partial update for a plan day.
func (p *Publisher) PublishDayPatch(ctx context.Context, planID, date string, patch models.DayPlanPatch) error {
	push := models.PlanPush{PlanID: planID, Date: date, Patch: patch}
	data, err := json.Marshal(push)
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}
	if err := p.rdb.Publish(ctx, reconciler.Channel(planID), data).Err(); err != nil {
		return fmt.Errorf("publish push: %w", err)
	}
	return nil
}

// statusPatch builds the minimal patch for one job's status change.
func statusPatch(kind, status string, resultIDs []string) models.DayPlanPatch {
	var patch models.DayPlanPatch
	s := status
	switch kind {
	case models.KindWorksheet:
		patch.WorksheetStatus = &s
		if resultIDs != nil {
			ids := append([]string(nil), resultIDs...)
			patch.WorksheetIDs = &ids
		}
	default:
		patch.ContentStatus = &s
		if resultIDs != nil {
			ids := append([]string(nil), resultIDs...)
			patch.ContentIDs = &ids
		}
	}
	return patch
}
