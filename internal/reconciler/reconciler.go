package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"lesson-plan-agent/internal/models"
	"lesson-plan-agent/internal/plancache"
	"lesson-plan-agent/internal/telemetry"
)

// Channel names the pub/sub channel carrying pushes for one plan.
func Channel(planID string) string {
	return "plans:" + planID
}

type subscription struct {
	pubsub *redis.PubSub
}

// Reconciler holds one realtime subscription per open weekly plan and
// merges pushed day-plan deltas into the plan cache in receipt order.
type Reconciler struct {
	rdb   *redis.Client
	cache *plancache.Cache

	mu   sync.Mutex
	subs map[string]*subscription
}

// New builds a reconciler feeding the given cache.
func New(rdb *redis.Client, cache *plancache.Cache) *Reconciler {
	return &Reconciler{
		rdb:   rdb,
		cache: cache,
		subs:  make(map[string]*subscription),
	}
}

// Subscribe opens the push channel for a plan. Subscribing to an already
// subscribed plan is a no-op. A subscription error after this returns is
// logged and leaves the reconciler alive but stale for that plan;
// resubscribing is the caller's call.
func (r *Reconciler) Subscribe(ctx context.Context, planID string) error {
	r.mu.Lock()
	if _, ok := r.subs[planID]; ok {
		r.mu.Unlock()
		return nil
	}
	pubsub := r.rdb.Subscribe(ctx, Channel(planID))
	sub := &subscription{pubsub: pubsub}
	r.subs[planID] = sub
	r.mu.Unlock()

	// Confirm the subscription before claiming it is live.
	if _, err := pubsub.Receive(ctx); err != nil {
		r.Unsubscribe(planID)
		return err
	}

	telemetry.ActiveSubs.Inc()
	go r.consume(ctx, planID, sub)
	return nil
}

// Unsubscribe tears down a plan's subscription. It is idempotent; calling
// it twice, or for a plan never subscribed, is a no-op.
func (r *Reconciler) Unsubscribe(planID string) {
	r.mu.Lock()
	sub, ok := r.subs[planID]
	if ok {
		delete(r.subs, planID)
	}
	r.mu.Unlock()
	if ok {
		_ = sub.pubsub.Close()
	}
}

// Close tears down every subscription.
func (r *Reconciler) Close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*subscription)
	r.mu.Unlock()
	for _, sub := range subs {
		_ = sub.pubsub.Close()
	}
}

// active reports whether sub is still the registered subscription for the
// plan. A message raced against teardown must be discarded, not applied.
func (r *Reconciler) active(planID string, sub *subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[planID] == sub
}

func (r *Reconciler) consume(ctx context.Context, planID string, sub *subscription) {
	defer telemetry.ActiveSubs.Dec()
	ch := sub.pubsub.Channel()
	for msg := range ch {
		if !r.active(planID, sub) {
			telemetry.PushesDiscarded.Inc()
			return
		}
		var push models.PlanPush
		if err := json.Unmarshal([]byte(msg.Payload), &push); err != nil {
			log.Printf("reconciler: bad push on %s: %v", msg.Channel, err)
			continue
		}
		if push.PlanID == "" {
			push.PlanID = planID
		}
		if err := r.cache.ApplyPush(push); err != nil {
			if errors.Is(err, plancache.ErrUnknownPlan) || errors.Is(err, plancache.ErrUnknownDay) {
				log.Printf("reconciler: discarded push: %v", err)
				continue
			}
			log.Printf("reconciler: apply push: %v", err)
		}
	}
	// Channel closes on Unsubscribe/Close, or if the connection is torn
	// down underneath us. The latter is a subscription error: log it, stay
	// alive, leave resubscription to the caller.
	if r.active(planID, sub) {
		log.Printf("reconciler: subscription for plan %s ended", planID)
		r.Unsubscribe(planID)
	}
}
