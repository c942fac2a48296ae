package agent

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lesson-plan-agent/internal/cadence"
	"lesson-plan-agent/internal/config"
	"lesson-plan-agent/internal/launcher"
	"lesson-plan-agent/internal/models"
	"lesson-plan-agent/internal/plancache"
	"lesson-plan-agent/internal/reconciler"
	"lesson-plan-agent/internal/remote"
	"lesson-plan-agent/internal/session"
	"lesson-plan-agent/internal/telemetry"
	"lesson-plan-agent/internal/voice"
)

// Server exposes the agent's local HTTP surface: cached plan state, job
// submission, the voice pipeline and the weekly planning prompt.
type Server struct {
	cfg      config.Config
	api      *remote.Client
	cache    *plancache.Cache
	jobs     *launcher.Launcher
	rec      *reconciler.Reconciler
	voice    *voice.Negotiator
	gate     *cadence.Gate
	sessions *session.Store
}

// NewServer wires the agent components behind one router.
func NewServer(cfg config.Config, api *remote.Client, cache *plancache.Cache, jobs *launcher.Launcher,
	rec *reconciler.Reconciler, neg *voice.Negotiator, gate *cadence.Gate, sessions *session.Store) *Server {
	return &Server{
		cfg:      cfg,
		api:      api,
		cache:    cache,
		jobs:     jobs,
		rec:      rec,
		voice:    neg,
		gate:     gate,
		sessions: sessions,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Post("/v1/plan/refresh", s.handleRefresh)
	r.Get("/v1/plans", s.handlePlans)
	r.Get("/v1/plans/{planID}", s.handlePlan)
	r.Get("/v1/plans/{planID}/days/{date}", s.handleDay)
	r.Post("/v1/plans/{planID}/days/{date}/generate", s.handleGenerate)

	r.Get("/v1/profile", s.handleProfile)
	r.Put("/v1/profile", s.handleSaveProfile)

	r.Post("/v1/voice/command", s.handleVoiceCommand)
	r.Post("/v1/voice/input", s.handleVoiceInput)
	r.Post("/v1/voice/execute", s.handleVoiceExecute)
	r.Post("/v1/voice/retry", s.handleVoiceRetry)
	r.Get("/v1/voice/session", s.handleVoiceSession)
	r.Delete("/v1/voice/session", s.handleVoiceClose)

	r.Get("/v1/prompts/weekly-plan", s.handleWeeklyPrompt)
	r.Post("/v1/prompts/weekly-plan/dismiss", s.handleWeeklyPromptDismiss)

	r.Post("/v1/signout", s.handleSignOut)
	return r
}

// handleRefresh pulls the teacher's current weekly plan from the backend,
// caches it and opens the realtime subscription for its pushes.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	plan, err := s.api.FetchWeeklyPlan(r.Context(), s.cfg.TeacherID)
	if errors.Is(err, remote.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no weekly plan for teacher")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.cache.PutPlan(*plan)
	if err := s.rec.Subscribe(r.Context(), plan.PlanID); err != nil {
		log.Printf("agent: subscribe plan %s: %v", plan.PlanID, err)
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handlePlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Plans())
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.cache.Plan(chi.URLParam(r, "planID"))
	if !ok {
		writeError(w, http.StatusNotFound, "plan not cached")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, ok := s.cache.Day(chi.URLParam(r, "planID"), chi.URLParam(r, "date"))
	if !ok {
		writeError(w, http.StatusNotFound, "day not cached")
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind   string                  `json:"kind"`
		Params models.GenerationParams `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Kind != models.KindContent && req.Kind != models.KindWorksheet {
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}

	record, err := s.jobs.Submit(r.Context(), chi.URLParam(r, "planID"), chi.URLParam(r, "date"), req.Kind, req.Params)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, record)
	case errors.Is(err, launcher.ErrIncompleteParams):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, plancache.ErrUnknownPlan), errors.Is(err, plancache.ErrUnknownDay):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, remote.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok, err := s.sessions.Profile(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no stored profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var profile models.TeacherProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.sessions.SaveProfile(r.Context(), profile); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// voiceView is the session plus input prompts for whatever is still missing.
type voiceView struct {
	Session models.VoiceSession `json:"session"`
	Inputs  []voice.FieldInput  `json:"inputs,omitempty"`
}

func viewOf(sess models.VoiceSession) voiceView {
	view := voiceView{Session: sess}
	for _, f := range sess.MissingFields {
		view.Inputs = append(view.Inputs, voice.InputFor(f))
	}
	return view
}

func (s *Server) handleVoiceCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	sess, err := s.voice.Begin(r.Context(), req.Command)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleVoiceInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Field string `json:"field"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	sess, err := s.voice.Provide(req.Field, req.Value)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, viewOf(sess))
	case errors.Is(err, voice.ErrNoSession):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleVoiceExecute(w http.ResponseWriter, r *http.Request) {
	sess, err := s.voice.Execute(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, viewOf(sess))
	case errors.Is(err, voice.ErrNoSession):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, voice.ErrMissingFields):
		writeJSON(w, http.StatusUnprocessableEntity, viewOf(sess))
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleVoiceRetry(w http.ResponseWriter, r *http.Request) {
	sess, err := s.voice.Retry(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, viewOf(sess))
	case errors.Is(err, voice.ErrNoSession):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleVoiceSession(w http.ResponseWriter, _ *http.Request) {
	sess, ok := s.voice.Session()
	if !ok {
		writeError(w, http.StatusNotFound, "no active voice session")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleVoiceClose(w http.ResponseWriter, _ *http.Request) {
	s.voice.Close()
	w.WriteHeader(http.StatusNoContent)
}

// handleWeeklyPrompt reports whether the weekend planning nudge should show
// right now, at most once per planning period.
func (s *Server) handleWeeklyPrompt(w http.ResponseWriter, r *http.Request) {
	marker, err := s.sessions.CadenceMarker(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	now := time.Now()
	prompt := s.gate.ShouldPrompt(now, marker)
	if prompt {
		telemetry.CadencePrompts.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prompt": prompt,
		"period": cadence.PeriodKey(now),
	})
}

// handleWeeklyPromptDismiss records that the prompt was shown and answered,
// suppressing it for the rest of the period.
func (s *Server) handleWeeklyPromptDismiss(w http.ResponseWriter, r *http.Request) {
	marker, err := s.sessions.CadenceMarker(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	marker = s.gate.Record(time.Now(), marker)
	if err := s.sessions.SaveCadenceMarker(r.Context(), marker); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, marker)
}

// handleSignOut tears down the working session: the voice pipeline, plan
// subscriptions, cached plans and everything stored under the session key.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s.voice.Close()
	s.rec.Close()
	for _, plan := range s.cache.Plans() {
		s.cache.Drop(plan.PlanID)
	}
	if err := s.sessions.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
