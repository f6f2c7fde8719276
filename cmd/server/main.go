package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lowcard/api"
	"lowcard/config"
	"lowcard/db"
	"lowcard/internal/broadcast"
	"lowcard/internal/deck"
	"lowcard/internal/dicebot"
	"lowcard/internal/gamestate"
	"lowcard/internal/ledger"
	"lowcard/internal/lock"
	"lowcard/internal/lowcard"
	"lowcard/internal/recovery"
	"lowcard/internal/router"
	"lowcard/internal/serializer"
	"lowcard/internal/timer"
	"lowcard/ws"

	"github.com/google/uuid"
)

const timerPollInterval = 500 * time.Millisecond

func main() {
	env := config.Load()
	ctx := context.Background()

	redisStore, err := db.NewRedisStore(env)
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer redisStore.Close()

	postgresStore, err := db.NewPostgresStore(ctx, env)
	if err != nil {
		log.Fatalf("❌ Failed to connect to PostgreSQL: %v", err)
	}
	defer postgresStore.Close()

	locker := lock.New(redisStore)
	ldg := ledger.New(postgresStore, redisStore, nil)
	deckSvc := deck.New(redisStore, rand.New(rand.NewSource(time.Now().UnixNano())))
	games := gamestate.New(redisStore)
	bots := dicebot.New(redisStore)

	// The websocket Hub and the Broadcaster depend on each other (the
	// Hub needs a CommandHandler built from the router, which needs the
	// engine, which needs the Broadcaster, which needs the Hub as its
	// RoomSubscriber). Build the Hub first with a command handler that
	// forwards through a variable filled in once the rest of the chain
	// exists, breaking the cycle without a second construction pass.
	var onCommand ws.CommandHandler
	hub := ws.NewHub(func(client *ws.Client, roomID, userID, username, text string) {
		onCommand(client, roomID, userID, username, text)
	})
	bcast := broadcast.New(ctx, redisStore, hub)

	engine := lowcard.New(redisStore, postgresStore, locker, ldg, deckSvc, bcast, uuid.NewString)
	rt := router.New(games, postgresStore, bots, engine)
	cmdProcessor := serializer.New(ctx, ws.NewRoutedCommandProcessor(rt, bcast))
	onCommand = ws.NewCommandHandler(redisStore, bcast)

	go hub.Run()
	go ws.RunCommandBus(ctx, redisStore, hub, cmdProcessor)

	log.Println("🧹 Running restart recovery sweep...")
	recovery.New(redisStore, ldg, deckSvc).Run(ctx)
	log.Println("✅ Restart recovery complete")

	go ws.RunRoomBroadcaster(ctx, games, hub, 200*time.Millisecond)

	poller := timer.New(redisStore, func(ctx context.Context, roomID string) {
		if res := engine.BeginGame(ctx, roomID); !res.Success {
			log.Printf("⚠️  timer: begin room=%s: %s", roomID, res.Message)
		}
	}, func(ctx context.Context, roomID string) error {
		return engine.AutoDrawForTimeout(ctx, roomID)
	}, timerPollInterval)
	go poller.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/api/health", api.HandleHealth(redisStore, postgresStore, engine))
	mux.HandleFunc("/api/users/", api.HandleBalance(ldg))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		log.Println("🛑 Shutting down server...")
		redisStore.Close()
		postgresStore.Close()
		log.Println("✅ Cleanup complete")
		os.Exit(0)
	}()

	addr := "0.0.0.0:" + env.Port
	log.Printf("🚀 LowCard server starting on %s", addr)
	log.Println("📡 WebSocket endpoint: ws://" + addr + "/ws")
	log.Println("🔍 Health check: GET /api/health")
	log.Println("💰 Balance read: GET /api/users/{id}/balance")

	if err := http.ListenAndServe(addr, corsMiddleware(mux)); err != nil {
		log.Fatal("❌ Server error:", err)
	}
}

// corsMiddleware adds permissive CORS headers for browser clients.
func corsMiddleware(handler http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		handler.ServeHTTP(w, r)
	}
}
