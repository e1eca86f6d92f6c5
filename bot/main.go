package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whiteout-project/warden/bot/clock"
	"github.com/whiteout-project/warden/bot/gameapi"
	"github.com/whiteout-project/warden/bot/middleware"
	"github.com/whiteout-project/warden/bot/refresh"
	"github.com/whiteout-project/warden/bot/scheduler"
	"github.com/whiteout-project/warden/bot/store"
	"github.com/whiteout-project/warden/bot/streaming"
)

func envDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		log.Printf("ignoring %s=%q: want positive milliseconds", name, v)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("ignoring %s=%q: want positive integer", name, v)
		return def
	}
	return n
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable store: Postgres when DATABASE_URL is set, SQLite otherwise.
	var (
		st  store.Store
		err error
	)
	if connString := os.Getenv("DATABASE_URL"); connString != "" {
		st, err = store.NewPostgresStore(ctx, connString)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		log.Println("using postgres store")
	} else {
		path := os.Getenv("DATABASE_PATH")
		if path == "" {
			path = "./data/warden.db"
		}
		st, err = store.OpenSQLite(path)
		if err != nil {
			log.Fatalf("open sqlite at %s: %v", path, err)
		}
		log.Printf("using sqlite store at %s", path)
	}
	defer st.Close()

	// Optional notification dedup (duplicate suppression across a
	// send-then-crash window). Absent redis, emission stays at-least-once.
	var dedup *store.NotificationDedup
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		dedup, err = store.NewNotificationDedup(addr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer dedup.Close()
		log.Printf("notification dedup enabled via redis at %s", addr)
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.PerCallDelay = envDuration("PER_CALL_DELAY", schedCfg.PerCallDelay)
	schedCfg.RateLimitDelay = envDuration("RATE_LIMIT_DELAY", schedCfg.RateLimitDelay)

	refreshCfg := refresh.DefaultConfig()
	refreshCfg.RateLimitDelay = schedCfg.RateLimitDelay
	refreshCfg.PreemptionQuantum = schedCfg.PreemptionQuantum
	refreshCfg.MessageDelay = schedCfg.PerCallDelay
	refreshCfg.MaxEmbeds = envInt("MAX_EMBEDS_PER_MESSAGE", refreshCfg.MaxEmbeds)
	refreshCfg.MaxDescription = envInt("MAX_DESCRIPTION_LENGTH", refreshCfg.MaxDescription)
	refreshCfg.ExistThreshold = envInt("EXIST_THRESHOLD", refreshCfg.ExistThreshold)

	apiBase := os.Getenv("GAME_API_URL")
	if apiBase == "" {
		apiBase = "https://wos-giftcode-api.centurygame.com/api"
	}
	api := gameapi.New(apiBase, os.Getenv("GAME_API_SECRET"))

	clk := clock.New()
	publisher := streaming.NewLogPublisher()
	defer publisher.Close()

	budget := scheduler.NewBudget(schedCfg.PerCallDelay)
	reg := scheduler.NewRegistry(st, clk)
	exec := scheduler.NewExecutor()
	manager := scheduler.NewManager(st, reg, exec, clk, publisher, schedCfg)
	sink := NewLogSink(publisher)

	engine := refresh.NewEngine(st, reg, manager, api, sink, budget, dedup, clk, publisher, refreshCfg)
	exec.Register(store.ActionAutoRefresh, engine)
	exec.Register(store.ActionRefresh, engine)
	exec.Register(store.ActionAddPlayer, refresh.NewAddPlayerHandler(st, reg, api, budget, clk, refreshCfg, engine))
	exec.Register(store.ActionRedeemGiftcode, refresh.NewRedeemHandler(st, reg, api, budget, clk, refreshCfg))

	// Crash recovery before anything runs: rows left active by the last
	// process go back to queued, then the first admission resumes them.
	if _, err := reg.RecoverInterrupted(ctx); err != nil {
		log.Fatalf("crash recovery sweep: %v", err)
	}
	if err := engine.Bootstrap(ctx); err != nil {
		log.Fatalf("refresh bootstrap: %v", err)
	}
	manager.Start(ctx)

	adminAPI := NewAPI(st, reg, manager, engine)
	hub := NewStatusHub(adminAPI)
	adminAPI.hub = hub
	go hub.Run(ctx)

	token := os.Getenv("ADMIN_TOKEN")
	if token == "" {
		log.Println("ADMIN_TOKEN not set; admin API is unauthenticated")
	}
	auth := func(h http.HandlerFunc) http.Handler {
		return middleware.AuthMiddleware(token, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws", auth(hub.handleWS))

	mux.Handle("GET /processes", auth(adminAPI.handleListProcesses))
	mux.Handle("GET /processes/{id}", auth(adminAPI.handleGetProcess))
	mux.Handle("GET /status", auth(adminAPI.handleStatus))

	mux.Handle("GET /alliances", auth(adminAPI.handleListAlliances))
	mux.Handle("POST /alliances", auth(adminAPI.handleUpsertAlliance))
	mux.Handle("DELETE /alliances/{id}", auth(adminAPI.handleDeleteAlliance))
	mux.Handle("POST /alliances/{id}/refresh", auth(adminAPI.handleManualRefresh))
	mux.Handle("POST /alliances/{id}/players", auth(adminAPI.handleAddPlayers))

	mux.Handle("POST /giftcodes", auth(adminAPI.handleRedeemCode))
	mux.Handle("GET /giftcodes/{code}/usage", auth(adminAPI.handleGiftcodeUsage))

	mux.Handle("GET /settings", auth(adminAPI.handleGetSettings))
	mux.Handle("PUT /settings", auth(adminAPI.handlePutSettings))

	mux.Handle("GET /logs/system", auth(adminAPI.handleSystemLogs))
	mux.Handle("GET /logs/admin", auth(adminAPI.handleAdminLogs))

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:    addr,
		Handler: middleware.CORSMiddleware(mux),
	}

	go func() {
		log.Printf("warden listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	engine.Shutdown()
	manager.Shutdown()
	log.Println("bye")
}
