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

	"lesson-plan-agent/internal/config"
	"lesson-plan-agent/internal/ratelimit"
	"lesson-plan-agent/internal/sim"
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

	st, err := sim.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pub := sim.NewPublisher(rdb)
	limiter := ratelimit.New(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	artifacts, err := sim.NewArtifactStore(ctx, cfg)
	if err != nil {
		log.Fatalf("init artifact store: %v", err)
	}
	if artifacts == nil {
		log.Println("no artifact bucket configured, skipping artifact persistence")
	}

	worker := sim.NewWorker(st, pub, artifacts, cfg.GenerateDelay, cfg.WorkerScanEvery)
	go worker.Run(ctx)

	server := sim.NewServer(cfg, st, pub, limiter)
	httpServer := &http.Server{
		Addr:    cfg.SimulatorAddr,
		Handler: server.Router(),
	}

	log.Printf("simulator listening on %s", cfg.SimulatorAddr)
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
