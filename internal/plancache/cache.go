package plancache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"lesson-plan-agent/internal/models"
	"lesson-plan-agent/internal/telemetry"
)

// ErrUnknownPlan is returned when an update references a plan the cache
// does not hold (for example a push arriving after teardown).
var ErrUnknownPlan = errors.New("plan not in cache")

// ErrUnknownDay is returned when an update references a date the plan
// does not contain.
var ErrUnknownDay = errors.New("day not in plan")

// Event describes one observable change to a cached job record.
type Event struct {
	PlanID string
	Date   string
	Kind   string
	Job    models.JobRecord
}

type jobKey struct {
	planID string
	date   string
	kind   string
}

// cachedPlan splits plan metadata from mutable day state. The metadata
// (plan id, syllabus, language, week window) is immutable for the lifetime
// of the cache entry; pushes can never overwrite it.
type cachedPlan struct {
	meta models.WeeklyPlan
	days map[string]*models.DayPlan
}

// Cache is the in-memory weekly plan cache. It is the only holder of plan
// state on the client; both the realtime reconciler and the optimistic
// launcher mutate it, and both go through the same merge function, so the
// two update sources cannot produce divergent views.
type Cache struct {
	jobTimeout time.Duration

	mu        sync.Mutex
	plans     map[string]*cachedPlan
	seq       int64
	deadlines map[jobKey]*time.Timer
	listeners []func(Event)
}

// New builds an empty cache. jobTimeout is the client-side liveness deadline
// for launched jobs; zero disables the watchdog.
func New(jobTimeout time.Duration) *Cache {
	return &Cache{
		jobTimeout: jobTimeout,
		plans:      make(map[string]*cachedPlan),
		deadlines:  make(map[jobKey]*time.Timer),
	}
}

// OnChange registers a listener invoked after each applied job update.
// Listeners run outside the cache lock.
func (c *Cache) OnChange(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// PutPlan seeds or replaces a fetched weekly plan. Job records are
// normalized so every day carries both kinds with the owner plan id set.
func (c *Cache) PutPlan(p models.WeeklyPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := &cachedPlan{meta: p, days: make(map[string]*models.DayPlan, len(p.DailyPlans))}
	cp.meta.DailyPlans = nil
	for date, day := range p.DailyPlans {
		d := day
		d.Date = date
		normalizeJob(&d.ContentJob, models.KindContent, p.PlanID)
		normalizeJob(&d.WorksheetJob, models.KindWorksheet, p.PlanID)
		cp.days[date] = &d
	}
	c.plans[p.PlanID] = cp
}

func normalizeJob(job *models.JobRecord, kind, planID string) {
	job.Kind = kind
	job.OwnerPlanID = planID
	if job.Status == "" {
		job.Status = models.StatusNotStarted
	}
}

// Plan returns a snapshot of a cached plan.
func (c *Cache) Plan(planID string) (models.WeeklyPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.plans[planID]
	if !ok {
		return models.WeeklyPlan{}, false
	}
	return snapshot(p), true
}

// Plans returns snapshots of every cached plan.
func (c *Cache) Plans() []models.WeeklyPlan {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.WeeklyPlan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, snapshot(p))
	}
	return out
}

// Day returns a snapshot of one day plan.
func (c *Cache) Day(planID, date string) (models.DayPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.plans[planID]
	if !ok {
		return models.DayPlan{}, false
	}
	day, ok := p.days[date]
	if !ok {
		return models.DayPlan{}, false
	}
	return *day, true
}

// Drop removes a plan and cancels its job deadlines.
func (c *Cache) Drop(planID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.plans, planID)
	for key, t := range c.deadlines {
		if key.planID == planID {
			t.Stop()
			delete(c.deadlines, key)
		}
	}
}

// BeginJob optimistically moves a job to Pending before the network call.
// If the job is already Pending or Generating the existing record is
// returned with started=false and no state changes: submitting twice never
// creates a second job for the same (plan, day, kind). A terminal record is
// replaced by a fresh one.
func (c *Cache) BeginJob(planID, date, kind string) (models.JobRecord, bool, error) {
	c.mu.Lock()
	job, err := c.jobLocked(planID, date, kind)
	if err != nil {
		c.mu.Unlock()
		return models.JobRecord{}, false, err
	}
	if job.Status == models.StatusPending || job.Status == models.StatusGenerating {
		rec := *job
		c.mu.Unlock()
		return rec, false, nil
	}

	c.seq++
	*job = models.FreshJob(kind, planID)
	job.Status = models.StatusPending
	job.LastUpdated = c.seq
	rec := *job
	c.armLocked(jobKey{planID, date, kind})
	c.mu.Unlock()

	c.emit([]Event{{PlanID: planID, Date: date, Kind: kind, Job: rec}})
	return rec, true, nil
}

// RollbackJob undoes an optimistic Pending after a submission failure,
// returning the record to NotStarted. Rolling back a job that has since
// progressed is a no-op.
func (c *Cache) RollbackJob(planID, date, kind string) {
	c.mu.Lock()
	job, err := c.jobLocked(planID, date, kind)
	if err != nil || job.Status != models.StatusPending {
		c.mu.Unlock()
		return
	}
	c.seq++
	job.Status = models.StatusNotStarted
	job.ResultIDs = nil
	job.LastUpdated = c.seq
	rec := *job
	c.disarmLocked(jobKey{planID, date, kind})
	c.mu.Unlock()

	c.emit([]Event{{PlanID: planID, Date: date, Kind: kind, Job: rec}})
}

// ApplyJobUpdate merges an externally reported status for one job, for
// example a synchronous submission response that already carries results.
func (c *Cache) ApplyJobUpdate(planID, date, kind string, status *string, resultIDs *[]string, reason string) error {
	c.mu.Lock()
	job, err := c.jobLocked(planID, date, kind)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.seq++
	changed, rejected := applyJob(job, status, resultIDs, reason, c.seq)
	var events []Event
	if changed {
		key := jobKey{planID, date, kind}
		if models.Terminal(job.Status) {
			c.disarmLocked(key)
		} else {
			c.rearmLocked(key)
		}
		events = append(events, Event{PlanID: planID, Date: date, Kind: kind, Job: *job})
	}
	c.mu.Unlock()

	if rejected {
		telemetry.MergesRejected.Inc()
	}
	c.emit(events)
	return nil
}

// ApplyPush merges one realtime push. Pushes for plans no longer cached are
// discarded, never applied to stale state.
func (c *Cache) ApplyPush(push models.PlanPush) error {
	c.mu.Lock()
	p, ok := c.plans[push.PlanID]
	if !ok {
		c.mu.Unlock()
		telemetry.PushesDiscarded.Inc()
		return fmt.Errorf("push for plan %s: %w", push.PlanID, ErrUnknownPlan)
	}
	day, ok := p.days[push.Date]
	if !ok {
		c.mu.Unlock()
		telemetry.PushesDiscarded.Inc()
		return fmt.Errorf("push for %s/%s: %w", push.PlanID, push.Date, ErrUnknownDay)
	}

	c.seq++
	res := mergeDay(day, push.Patch, c.seq)

	var events []Event
	for _, kind := range res.changedKinds {
		key := jobKey{push.PlanID, push.Date, kind}
		job := day.Job(kind)
		if models.Terminal(job.Status) {
			c.disarmLocked(key)
		} else {
			c.rearmLocked(key)
		}
		events = append(events, Event{PlanID: push.PlanID, Date: push.Date, Kind: kind, Job: *job})
	}
	c.mu.Unlock()

	telemetry.PushesApplied.Inc()
	if res.rejected > 0 {
		telemetry.MergesRejected.Add(float64(res.rejected))
	}
	c.emit(events)
	return nil
}

func (c *Cache) jobLocked(planID, date, kind string) (*models.JobRecord, error) {
	p, ok := c.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrUnknownPlan)
	}
	day, ok := p.days[date]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", planID, date, ErrUnknownDay)
	}
	job := day.Job(kind)
	if job == nil {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	return job, nil
}

// armLocked starts the liveness deadline for a freshly launched job.
func (c *Cache) armLocked(key jobKey) {
	if c.jobTimeout <= 0 {
		return
	}
	c.disarmLocked(key)
	c.deadlines[key] = time.AfterFunc(c.jobTimeout, func() { c.expire(key) })
}

// rearmLocked pushes the deadline forward after an applied update, but only
// for jobs launched in this session (ones that already have a timer).
func (c *Cache) rearmLocked(key jobKey) {
	if t, ok := c.deadlines[key]; ok {
		t.Reset(c.jobTimeout)
	}
}

func (c *Cache) disarmLocked(key jobKey) {
	if t, ok := c.deadlines[key]; ok {
		t.Stop()
		delete(c.deadlines, key)
	}
}

// expire fails a job locally after the liveness deadline. The server is not
// trusted to time out on our behalf; a late Ready can still resurrect the
// record through the normal merge path.
func (c *Cache) expire(key jobKey) {
	c.mu.Lock()
	if _, ok := c.deadlines[key]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.deadlines, key)
	job, err := c.jobLocked(key.planID, key.date, key.kind)
	if err != nil || models.Terminal(job.Status) || job.Status == models.StatusNotStarted {
		c.mu.Unlock()
		return
	}
	c.seq++
	failed := models.StatusFailed
	reason := fmt.Sprintf("no update received within %s", c.jobTimeout)
	changed, _ := applyJob(job, &failed, nil, reason, c.seq)
	var events []Event
	if changed {
		events = append(events, Event{PlanID: key.planID, Date: key.date, Kind: key.kind, Job: *job})
	}
	c.mu.Unlock()

	if changed {
		telemetry.LocalTimeouts.Inc()
	}
	c.emit(events)
}

func (c *Cache) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	listeners := append(([]func(Event))(nil), c.listeners...)
	c.mu.Unlock()
	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

func snapshot(p *cachedPlan) models.WeeklyPlan {
	cp := p.meta
	cp.DailyPlans = make(map[string]models.DayPlan, len(p.days))
	for date, day := range p.days {
		cp.DailyPlans[date] = *day
	}
	return cp
}
