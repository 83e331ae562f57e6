// jobmate-missions-service
//
// Daily-missions progress and streak engine for the gamification feature.
// Exposes a REST API used by the Gateway to implement:
//   - missions snapshot query            — {missions, stats, loading, error}
//   - refreshMissions action             — restart a user's sync session
//   - clearCompletedMission action       — consume the completion toast
//
// Consumes EVENT_CARD_MOVED / EVENT_INTERVIEW_UPDATED from Redis to
// recompute mission progress; publishes EVENT_MISSION_COMPLETED for the
// Gateway SSE forward.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobmate/missions-service/internal/catalog"
	"jobmate/missions-service/internal/config"
	"jobmate/missions-service/internal/db"
	"jobmate/missions-service/internal/httpapi"
	"jobmate/missions-service/internal/missions"
	"jobmate/missions-service/internal/notify"
	"jobmate/missions-service/internal/scheduler"
	"jobmate/missions-service/internal/sources"
	"jobmate/missions-service/internal/store"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[missions-service] Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Println("[missions-service] Connecting to PostgreSQL…")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[missions-service] PostgreSQL: %v", err)
	}
	defer pool.Close()
	log.Println("[missions-service] PostgreSQL connected ✓")

	// ── Redis ────────────────────────────────────────────────────────────────
	log.Println("[missions-service] Connecting to Redis…")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[missions-service] Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("[missions-service] Redis connected ✓")

	// ── Engine wiring ────────────────────────────────────────────────────────
	docStore := store.NewPostgres(pool, rdb)
	interviews := sources.NewInterviews(pool)
	cat := catalog.Default(catalog.DefaultTargets{ApplyJobs: cfg.ApplyJobsTarget})
	init := missions.NewInitializer(docStore, cat, interviews)

	mgr := missions.NewManager(ctx, missions.SessionDeps{
		Store:        docStore,
		Initializer:  init,
		Streak:       missions.NewStreakCalculator(docStore),
		Merger:       missions.NewMerger(docStore),
		Notifier:     notify.NewRedis(rdb),
		DocFeed:      docStore,
		SourceFeed:   sources.NewEvents(rdb),
		Applications: sources.NewApplications(pool),
		Interviews:   interviews,
		Milestones: missions.MilestoneConfig{
			SkillsRatedFraction:  cfg.SkillsRatedFraction,
			MinQuestionsReviewed: cfg.MinQuestionsReviewed,
			MinResourcesReviewed: cfg.MinResourcesReviewed,
			MinChatTurns:         cfg.MinChatTurns,
		},
	})

	sched := scheduler.New(mgr, init, cfg.RolloverIntervalMinutes)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[missions-service] Scheduler: %v", err)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)

	h := httpapi.NewHandler(mgr)
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[missions-service] v%s listening on :%s", version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[missions-service] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[missions-service] Shutting down…")
	sched.Stop()
	mgr.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[missions-service] Shutdown error: %v", err)
	}
	log.Println("[missions-service] Stopped.")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "missions-service",
		"version": version,
	})
}
