package sim

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"lesson-plan-agent/internal/models"
)

// Worker drives jobs through the generation lifecycle on a fixed scan
// interval. Generation itself is faked: a job sits in generating for a
// configured delay and then gets synthetic result documents.
type Worker struct {
	store     *Store
	pub       *Publisher
	artifacts *ArtifactStore
	delay     time.Duration
	scanEvery time.Duration
	batchSize int
}

// NewWorker builds a worker. artifacts may be nil when no bucket is configured.
func NewWorker(store *Store, pub *Publisher, artifacts *ArtifactStore, delay, scanEvery time.Duration) *Worker {
	return &Worker{
		store:     store,
		pub:       pub,
		artifacts: artifacts,
		delay:     delay,
		scanEvery: scanEvery,
		batchSize: 50,
	}
}

// Run scans until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.scanEvery)
	defer ticker.Stop()

	log.Printf("sim worker started (delay=%s scan=%s)", w.delay, w.scanEvery)
	for {
		select {
		case <-ctx.Done():
			log.Println("sim worker stopped")
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Worker) scan(ctx context.Context) {
	pending, err := w.store.JobsByStatus(ctx, JobPending, w.batchSize)
	if err != nil {
		log.Printf("sim worker: list pending: %v", err)
		return
	}
	for _, job := range pending {
		if err := w.start(ctx, job); err != nil {
			log.Printf("sim worker: start job %s: %v", job.ID, err)
		}
	}

	generating, err := w.store.JobsByStatus(ctx, JobGenerating, w.batchSize)
	if err != nil {
		log.Printf("sim worker: list generating: %v", err)
		return
	}
	for _, job := range generating {
		if time.Since(job.UpdatedAt) < w.delay {
			continue
		}
		if err := w.finish(ctx, job); err != nil {
			log.Printf("sim worker: finish job %s: %v", job.ID, err)
			w.fail(ctx, job, err)
		}
	}
}

func (w *Worker) start(ctx context.Context, job Job) error {
	if err := w.store.SetJobStatus(ctx, job.ID, JobGenerating, nil, "", ""); err != nil {
		return fmt.Errorf("set generating: %w", err)
	}
	w.syncPlan(ctx, job, models.StatusGenerating, nil)
	return nil
}

func (w *Worker) finish(ctx context.Context, job Job) error {
	ids := resultIDs(job.Kind)
	navigateTo := navigationTarget(job.Kind, ids[0])

	if w.artifacts != nil {
		for _, id := range ids {
			doc := buildDocument(id, job)
			if err := w.artifacts.Put(ctx, id, doc); err != nil {
				return fmt.Errorf("store artifact %s: %w", id, err)
			}
		}
	}

	if err := w.store.SetJobStatus(ctx, job.ID, JobReady, ids, navigateTo, ""); err != nil {
		return fmt.Errorf("set ready: %w", err)
	}
	w.syncPlan(ctx, job, models.StatusReady, ids)
	return nil
}

func (w *Worker) fail(ctx context.Context, job Job, cause error) {
	if err := w.store.SetJobStatus(ctx, job.ID, JobError, nil, "", cause.Error()); err != nil {
		log.Printf("sim worker: mark job %s failed: %v", job.ID, err)
		return
	}
	w.syncPlan(ctx, job, models.StatusFailed, nil)
}

// syncPlan mirrors a job state change into the stored plan and pushes the
// delta to subscribed clients. Session-only jobs have no plan to touch.
func (w *Worker) syncPlan(ctx context.Context, job Job, status string, ids []string) {
	if job.PlanID == "" {
		return
	}
	if err := w.store.UpdatePlanJob(ctx, job.PlanID, job.Day, job.Kind, status, ids); err != nil {
		log.Printf("sim worker: sync plan %s: %v", job.PlanID, err)
	}
	if err := w.pub.PublishDayPatch(ctx, job.PlanID, job.Day, statusPatch(job.Kind, status, ids)); err != nil {
		log.Printf("sim worker: publish %s/%s: %v", job.PlanID, job.Day, err)
	}
}

// Worksheets produce a single document, teaching content produces a
// lesson document plus a summary handout.
func resultIDs(kind string) []string {
	if kind == models.KindWorksheet {
		return []string{uuid.New().String()}
	}
	return []string{uuid.New().String(), uuid.New().String()}
}

func navigationTarget(kind, primaryID string) string {
	if kind == models.KindWorksheet {
		return "/material/" + primaryID
	}
	return "/content/" + primaryID
}

// Document is the synthetic generated artifact persisted for a result id.
type Document struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Kind       string    `json:"kind"`
	Subject    string    `json:"subject"`
	Grades     []int     `json:"grades"`
	Topic      string    `json:"topic"`
	Language   string    `json:"language,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

func buildDocument(id string, job Job) Document {
	body := fmt.Sprintf("Generated %s for %s: %s", job.Kind, job.Params.Subject, job.Params.Topic)
	return Document{
		ID:         id,
		JobID:      job.ID,
		Kind:       job.Kind,
		Subject:    job.Params.Subject,
		Grades:     job.Params.Grades,
		Topic:      job.Params.Topic,
		Language:   job.Params.Language,
		Difficulty: job.Params.Difficulty,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
}
