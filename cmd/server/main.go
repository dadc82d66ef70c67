package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/coinpicks/picks-engine/internal/feed"
	"github.com/coinpicks/picks-engine/internal/metrics"
	"github.com/coinpicks/picks-engine/internal/model"
	"github.com/coinpicks/picks-engine/internal/odds"
	"github.com/coinpicks/picks-engine/internal/settle"
	"github.com/coinpicks/picks-engine/internal/store"
	"github.com/coinpicks/picks-engine/internal/wager"
)

const defaultStartingCoins = 100

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Odds table ---
	table := odds.DefaultTable()
	if capStr := os.Getenv("PARLAY_PAYOUT_CAP"); capStr != "" {
		payoutCap, err := strconv.ParseInt(capStr, 10, 64)
		if err != nil {
			slog.Error("invalid PARLAY_PAYOUT_CAP", "value", capStr, "err", err)
			os.Exit(1)
		}
		table, err = table.WithPayoutCap(payoutCap)
		if err != nil {
			slog.Error("invalid PARLAY_PAYOUT_CAP", "value", capStr, "err", err)
			os.Exit(1)
		}
	}

	startingCoins := int64(defaultStartingCoins)
	if v := os.Getenv("STARTING_COINS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			slog.Error("invalid STARTING_COINS", "value", v)
			os.Exit(1)
		}
		startingCoins = n
	}

	// --- WebSocket hub ---
	hub := feed.NewHub()
	go hub.Run()

	// --- Services ---
	wagerSvc := wager.NewService(st, table, hub, startingCoins)
	engine := settle.New(st, table, hub)

	// --- Question sweep ---
	// Keeps the open/overdue gauges current and surfaces questions past
	// their close time that are still waiting for an answer.
	c := cron.New()
	c.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		questions, err := st.ListQuestions(ctx)
		if err != nil {
			slog.Error("question sweep failed", "err", err)
			return
		}

		now := time.Now()
		open, overdue := 0, 0
		for i := range questions {
			q := &questions[i]
			if q.Status != model.QuestionOpen {
				continue
			}
			open++
			if !q.ClosesAt.After(now) {
				overdue++
			}
		}
		metrics.OpenQuestions.Set(float64(open))
		metrics.OverdueQuestions.Set(float64(overdue))
		if overdue > 0 {
			slog.Info("questions awaiting grading", "overdue", overdue)
		}
	})
	c.Start()
	defer c.Stop()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"picks-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time wager and settlement events.
		r.Get("/ws", hub.HandleWS)

		// Users and the coin ledger.
		r.Post("/users", wagerSvc.CreateUser)
		r.Get("/users/{userID}", wagerSvc.GetUser)
		r.Get("/users/{userID}/picks", wagerSvc.UserPicks)
		r.Get("/users/{userID}/parlays", wagerSvc.UserParlays)
		r.Get("/users/{userID}/transactions", wagerSvc.UserTransactions)
		r.Get("/leaderboard", wagerSvc.Leaderboard)

		// Questions.
		r.Get("/questions", wagerSvc.ListQuestions)
		r.Post("/questions", wagerSvc.CreateQuestion)
		r.Get("/questions/{questionID}", wagerSvc.GetQuestion)
		r.Post("/questions/{questionID}/grade", engine.HandleGrade)

		// Wagers.
		r.Post("/picks", wagerSvc.PlacePick)
		r.Post("/parlays", wagerSvc.PlaceParlay)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("picks-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down picks-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("picks-engine stopped")
}
