package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"lesson-plan-agent/internal/agent"
	"lesson-plan-agent/internal/cadence"
	"lesson-plan-agent/internal/config"
	"lesson-plan-agent/internal/launcher"
	"lesson-plan-agent/internal/models"
	"lesson-plan-agent/internal/plancache"
	"lesson-plan-agent/internal/reconciler"
	"lesson-plan-agent/internal/remote"
	"lesson-plan-agent/internal/session"
	"lesson-plan-agent/internal/voice"
	"lesson-plan-agent/internal/watcher"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	sessions := session.New(rdb, cfg.TeacherID, cfg.SessionTTL)
	if _, ok, err := sessions.Profile(ctx); err != nil {
		log.Printf("restore profile: %v", err)
	} else if !ok {
		if err := sessions.SaveProfile(ctx, models.TeacherProfile{ID: cfg.TeacherID}); err != nil {
			log.Printf("seed profile: %v", err)
		}
	}

	api := remote.New(cfg.BackendBaseURL, cfg.APIToken)
	cache := plancache.New(cfg.JobTimeout)
	jobs := launcher.New(api, cache, cfg.TeacherID)
	rec := reconciler.New(rdb, cache)
	defer rec.Close()
	watch := watcher.New(api)
	neg := voice.New(api, watch, cfg.TeacherID, cfg.PollInterval, cfg.PollTimeout)
	defer neg.Close()
	gate := cadence.New()

	// Warm the cache with the current weekly plan when the backend is up.
	// Failure is not fatal; /v1/plan/refresh covers late starts.
	if plan, err := api.FetchWeeklyPlan(ctx, cfg.TeacherID); err != nil {
		log.Printf("initial plan fetch: %v", err)
	} else {
		cache.PutPlan(*plan)
		if err := rec.Subscribe(ctx, plan.PlanID); err != nil {
			log.Printf("subscribe plan %s: %v", plan.PlanID, err)
		}
	}

	server := agent.NewServer(cfg, api, cache, jobs, rec, neg, gate, sessions)
	httpServer := &http.Server{
		Addr:    cfg.AgentAddr,
		Handler: server.Router(),
	}

	log.Printf("agent listening on %s (teacher=%s backend=%s)", cfg.AgentAddr, cfg.TeacherID, cfg.BackendBaseURL)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
