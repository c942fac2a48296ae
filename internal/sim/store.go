package sim

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"lesson-plan-agent/internal/models"
)

// Wire job statuses reported to the client.
const (
	JobPending    = "pending"
	JobGenerating = "generating"
	JobReady      = "ready"
	JobError      = "error"
)

// ErrNoPlan is returned when a teacher has no stored weekly plan.
var ErrNoPlan = errors.New("no weekly plan")

// ErrNoJob is returned for an unknown job id.
var ErrNoJob = errors.New("job not found")

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Job is the server-side record of one generation request. Plan-bound jobs
// carry PlanID/Day; voice jobs are session-only and leave them empty.
type Job struct {
	ID         string                  `json:"id"`
	PlanID     string                  `json:"plan_id,omitempty"`
	Day        string                  `json:"day,omitempty"`
	TeacherID  string                  `json:"teacher_id"`
	Kind       string                  `json:"kind"`
	Status     string                  `json:"status"`
	Params     models.GenerationParams `json:"params"`
	ResultIDs  []string                `json:"result_ids,omitempty"`
	NavigateTo string                  `json:"navigate_to,omitempty"`
	LastError  string                  `json:"last_error,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// Store wraps pgxpool for simulator persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a pooled connection to Postgres.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *Store) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// SavePlan upserts a weekly plan.
func (s *Store) SavePlan(ctx context.Context, plan models.WeeklyPlan) error {
	if plan.PlanID == "" {
		return errors.New("plan id is required")
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO weekly_plans (id, teacher_id, week_start, plan)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET teacher_id = $2, week_start = $3, plan = $4, updated_at = NOW()
	`, plan.PlanID, plan.TeacherID, plan.WeekStart, data)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

// LatestPlan returns the most recent plan for a teacher.
func (s *Store) LatestPlan(ctx context.Context, teacherID string) (models.WeeklyPlan, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT plan FROM weekly_plans
		WHERE teacher_id = $1
		ORDER BY week_start DESC
		LIMIT 1
	`, teacherID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WeeklyPlan{}, ErrNoPlan
	}
	if err != nil {
		return models.WeeklyPlan{}, fmt.Errorf("query plan: %w", err)
	}
	return decodePlan(data)
}

// GetPlan fetches one plan by id.
func (s *Store) GetPlan(ctx context.Context, planID string) (models.WeeklyPlan, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT plan FROM weekly_plans WHERE id = $1`, planID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WeeklyPlan{}, ErrNoPlan
	}
	if err != nil {
		return models.WeeklyPlan{}, fmt.Errorf("query plan: %w", err)
	}
	return decodePlan(data)
}

// UpdatePlanJob rewrites one day's job state inside the stored plan so that
// a later full fetch matches what was pushed incrementally.
func (s *Store) UpdatePlanJob(ctx context.Context, planID, day, kind, status string, resultIDs []string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var data []byte
	err = tx.QueryRow(ctx, `SELECT plan FROM weekly_plans WHERE id = $1 FOR UPDATE`, planID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoPlan
	}
	if err != nil {
		return fmt.Errorf("lock plan: %w", err)
	}
	plan, err := decodePlan(data)
	if err != nil {
		return err
	}

	dayPlan, ok := plan.DailyPlans[day]
	if !ok {
		return fmt.Errorf("plan %s has no day %s", planID, day)
	}
	job := dayPlan.Job(kind)
	if job == nil {
		return fmt.Errorf("unknown job kind %q", kind)
	}
	job.Kind = kind
	job.OwnerPlanID = planID
	job.Status = status
	job.ResultIDs = append([]string(nil), resultIDs...)
	plan.DailyPlans[day] = dayPlan

	updated, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE weekly_plans SET plan = $2, updated_at = NOW() WHERE id = $1
	`, planID, updated); err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return tx.Commit(ctx)
}

// CreateJob inserts a job in Pending and returns it with id and timestamps.
func (s *Store) CreateJob(ctx context.Context, job Job) (Job, error) {
	job.ID = uuid.New().String()
	job.Status = JobPending
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	params, err := json.Marshal(job.Params)
	if err != nil {
		return Job{}, fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO generation_jobs (id, plan_id, day, teacher_id, kind, status, params, result_ids, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, '[]'::jsonb, $8, $8)
	`, job.ID, job.PlanID, job.Day, job.TeacherID, job.Kind, job.Status, params, now)
	if err != nil {
		return Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, plan_id, day, teacher_id, kind, status, params, result_ids, navigate_to, last_error, created_at, updated_at
		FROM generation_jobs WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNoJob
	}
	return job, err
}

// JobsByStatus lists jobs in a status, oldest update first.
func (s *Store) JobsByStatus(ctx context.Context, status string, limit int) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, plan_id, day, teacher_id, kind, status, params, result_ids, navigate_to, last_error, created_at, updated_at
		FROM generation_jobs WHERE status = $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SetJobStatus updates status, results and navigation target atomically.
func (s *Store) SetJobStatus(ctx context.Context, id, status string, resultIDs []string, navigateTo, lastError string) error {
	if resultIDs == nil {
		resultIDs = []string{}
	}
	ids, err := json.Marshal(resultIDs)
	if err != nil {
		return fmt.Errorf("marshal result ids: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET status = $2, result_ids = $3, navigate_to = NULLIF($4, ''), last_error = NULLIF($5, ''), updated_at = NOW()
		WHERE id = $1
	`, id, status, ids, navigateTo, lastError)
	return err
}

// FindReadyJob looks for an already generated result for the same plan day,
// kind and topic, so a repeat request can be answered synchronously.
func (s *Store) FindReadyJob(ctx context.Context, planID, day, kind, topic string) (Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, plan_id, day, teacher_id, kind, status, params, result_ids, navigate_to, last_error, created_at, updated_at
		FROM generation_jobs
		WHERE plan_id = $1 AND day = $2 AND kind = $3 AND status = $4 AND params->>'topic' = $5
		ORDER BY updated_at DESC
		LIMIT 1
	`, planID, day, kind, JobReady, topic)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var planID, day, navigateTo, lastError pgtype.Text
	var params, ids []byte

	err := row.Scan(&job.ID, &planID, &day, &job.TeacherID, &job.Kind, &job.Status,
		&params, &ids, &navigateTo, &lastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return Job{}, err
	}
	if err := json.Unmarshal(params, &job.Params); err != nil {
		return Job{}, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal(ids, &job.ResultIDs); err != nil {
		return Job{}, fmt.Errorf("unmarshal result ids: %w", err)
	}
	job.PlanID = planID.String
	job.Day = day.String
	job.NavigateTo = navigateTo.String
	job.LastError = lastError.String
	return job, nil
}

func decodePlan(data []byte) (models.WeeklyPlan, error) {
	var plan models.WeeklyPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return models.WeeklyPlan{}, fmt.Errorf("unmarshal plan: %w", err)
	}
	if plan.DailyPlans == nil {
		plan.DailyPlans = make(map[string]models.DayPlan)
	}
	return plan, nil
}
