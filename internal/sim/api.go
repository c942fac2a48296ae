package sim

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"lesson-plan-agent/internal/config"
	"lesson-plan-agent/internal/models"
	"lesson-plan-agent/internal/ratelimit"
	"lesson-plan-agent/internal/remote"
)

// Server wires the HTTP surface the client agent talks to: job submission,
// status polling, intent classification and plan fetch.
type Server struct {
	cfg     config.Config
	store   *Store
	pub     *Publisher
	limiter *ratelimit.Limiter
}

// NewServer constructs the simulator API server.
func NewServer(cfg config.Config, st *Store, pub *Publisher, limiter *ratelimit.Limiter) *Server {
	return &Server{cfg: cfg, store: st, pub: pub, limiter: limiter}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/v1/plans", s.handleSavePlan)
		r.Get("/v1/plans/week", s.handleWeeklyPlan)
		r.Post("/v1/generate", s.handleGenerate)
		r.Get("/v1/sessions/{id}", s.handleSession)
		r.Post("/v1/voice/intent", s.handleIntent)
		r.Post("/v1/voice/execute", s.handleExecute)
	})
	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+s.cfg.APIToken {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSavePlan(w http.ResponseWriter, r *http.Request) {
	var plan models.WeeklyPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if plan.PlanID == "" || plan.TeacherID == "" {
		writeError(w, http.StatusBadRequest, "plan_id and teacher_id are required")
		return
	}
	if err := s.store.SavePlan(r.Context(), plan); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"plan_id": plan.PlanID})
}

func (s *Server) handleWeeklyPlan(w http.ResponseWriter, r *http.Request) {
	teacherID := r.URL.Query().Get("teacher_id")
	if teacherID == "" {
		writeError(w, http.StatusBadRequest, "teacher_id is required")
		return
	}
	plan, err := s.store.LatestPlan(r.Context(), teacherID)
	if errors.Is(err, ErrNoPlan) {
		writeError(w, http.StatusNotFound, "no weekly plan")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req remote.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.TeacherID == "" {
		writeError(w, http.StatusBadRequest, "teacher_id is required")
		return
	}
	if req.Kind != models.KindContent && req.Kind != models.KindWorksheet {
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}
	if missing := req.Params.MissingParams(req.Kind); len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "missing params: "+strings.Join(missing, ", "))
		return
	}
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), req.TeacherID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	if req.PlanID != "" {
		plan, err := s.store.GetPlan(r.Context(), req.PlanID)
		if errors.Is(err, ErrNoPlan) {
			writeError(w, http.StatusNotFound, "unknown plan")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if _, ok := plan.DailyPlans[req.Day]; !ok {
			writeError(w, http.StatusBadRequest, "plan has no such day")
			return
		}

		// Same day, kind and topic already generated: answer synchronously.
		if cached, ok, err := s.store.FindReadyJob(r.Context(), req.PlanID, req.Day, req.Kind, req.Params.Topic); err == nil && ok {
			writeJSON(w, http.StatusOK, remote.GenerateResponse{
				Accepted:  true,
				JobID:     cached.ID,
				ResultIDs: cached.ResultIDs,
			})
			return
		}
	}

	job, err := s.store.CreateJob(r.Context(), Job{
		PlanID:    req.PlanID,
		Day:       req.Day,
		TeacherID: req.TeacherID,
		Kind:      req.Kind,
		Params:    req.Params,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.PlanID != "" {
		if err := s.store.UpdatePlanJob(r.Context(), req.PlanID, req.Day, req.Kind, models.StatusPending, nil); err != nil {
			log.Printf("sim: update plan job: %v", err)
		}
		if err := s.pub.PublishDayPatch(r.Context(), req.PlanID, req.Day, statusPatch(req.Kind, models.StatusPending, nil)); err != nil {
			log.Printf("sim: publish pending: %v", err)
		}
	}

	writeJSON(w, http.StatusAccepted, remote.GenerateResponse{Accepted: true, JobID: job.ID})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, ErrNoJob) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, remote.SessionStatus{
		Status:     job.Status,
		NavigateTo: job.NavigateTo,
		ResultIDs:  job.ResultIDs,
		Error:      job.LastError,
	})
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command   string `json:"command"`
		TeacherID string `json:"teacher_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	intent, missing := ClassifyCommand(req.Command)
	writeJSON(w, http.StatusOK, remote.IntentResponse{Intent: intent, MissingFields: missing})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Intent    models.Intent `json:"intent"`
		TeacherID string        `json:"teacher_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.TeacherID == "" {
		writeError(w, http.StatusBadRequest, "teacher_id is required")
		return
	}
	params := req.Intent.Params()
	kind := req.Intent.Kind()
	if missing := params.MissingParams(kind); len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "missing params: "+strings.Join(missing, ", "))
		return
	}
	job, err := s.store.CreateJob(r.Context(), Job{
		TeacherID: req.TeacherID,
		Kind:      kind,
		Params:    params,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, remote.ExecuteResponse{Accepted: true, SessionID: job.ID})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
