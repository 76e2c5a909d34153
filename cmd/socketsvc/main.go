package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avvvet/explain-services/internal/auth"
	"github.com/avvvet/explain-services/internal/comm"
	mongodb "github.com/avvvet/explain-services/internal/db"
	"github.com/avvvet/explain-services/internal/gamesvc/config"
	"github.com/avvvet/explain-services/internal/gamesvc/db"
	"github.com/avvvet/explain-services/internal/gamesvc/engine"
	"github.com/avvvet/explain-services/internal/gamesvc/judge"
	"github.com/avvvet/explain-services/internal/gamesvc/ratelimit"
	"github.com/avvvet/explain-services/internal/gamesvc/room"
	"github.com/avvvet/explain-services/internal/gamesvc/store"
	"github.com/avvvet/explain-services/internal/nats"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	configs "github.com/avvvet/explain-services/configs"

	events "github.com/avvvet/explain-services/internal/gamesvc/broker"
	"github.com/avvvet/explain-services/internal/socketsvc/broker"
	"github.com/avvvet/explain-services/internal/socketsvc/handlers"
	"github.com/avvvet/explain-services/internal/socketsvc/routes"
	"github.com/avvvet/explain-services/internal/socketsvc/ws"
)

const SERVICE_NAME = "socket"

// durable is everything the session server persists.
type durable interface {
	room.Store
	engine.Store
	ratelimit.UsageStore
}

func init() {
	instanceId := "001"
	configs.Logging(SERVICE_NAME + "_service_" + instanceId)
	configs.LoadEnv(SERVICE_NAME)
}

func main() {
	cfg := config.Load()
	instance := configs.CreateUniqueInstance(SERVICE_NAME)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET_KEY is required to verify player tokens")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Durable store: Postgres when configured, in-process otherwise
	var st durable
	if cfg.PostgresURL != "" {
		pool, err := db.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Error: unable to connect to postgres %v", err)
		}
		defer pool.Close()

		if err := db.Migrate(pool); err != nil {
			log.Fatalf("Error: migrations failed %v", err)
		}
		st = store.NewPostgres(pool)
		log.Info("postgres store ready")
	} else {
		log.Warn("POSTGRES_URL not set, rooms and results are kept in memory only")
		st = store.NewMemory()
	}

	// Judge transcripts go to mongo when configured
	var archive judge.Archive
	if cfg.MongoURI != "" {
		mdb, err := mongodb.ConnectToDB(ctx, cfg.MongoURI)
		if err != nil {
			log.Errorf("Error: mongo unavailable, judge transcripts are not archived %v", err)
		} else {
			defer mongodb.Disconnect(context.Background(), mdb)
			if err := mongodb.CreateTTLIndexForCollection(ctx, mdb, store.TranscriptCollection); err != nil {
				log.Warnf("transcript ttl index: %v", err)
			}
			archive = store.NewTranscriptStore(mdb)
		}
	}

	// Shared action counters in redis when configured
	var counters ratelimit.Counters
	if cfg.RedisURL != "" {
		rdb, err := ratelimit.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.Errorf("Error: redis unavailable, rate limits are per instance %v", err)
		} else {
			defer rdb.Close()
			counters.Users = ratelimit.NewRedisCounter(rdb, "duel:user")
			counters.Connections = ratelimit.NewRedisCounter(rdb, "duel:conn")
		}
	}

	// Lifecycle events and operator commands over NATS when configured
	var n *nats.Nats
	if cfg.NatsURL != "" {
		var err error
		n, err = nats.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"-"+instance)
		if err != nil {
			log.Errorf("Error: unable to connect to NATS server %v", err)
			n = nil
		} else {
			defer n.Close()
			log.Printf("NATS connection established successfully %s", n.Url)
		}
	}
	var publisher *events.Broker
	if n != nil {
		publisher = events.NewBroker(n.Conn, instance)
	} else {
		publisher = events.NewBroker(nil, instance)
	}

	rooms := room.NewManager(cfg.Rooms, st)
	if err := rooms.StartSweeper(); err != nil {
		log.Fatalf("Error: room sweeper %v", err)
	}
	defer rooms.Close()

	eng := engine.New(cfg.Game, judge.New(cfg.AI, archive), st, rooms.Persister())
	limiter := ratelimit.NewLimiter(cfg.Limits, st, counters)
	authn := auth.New(cfg.JWTSecret)

	// Initialize websocket session server
	s := ws.NewWs(cfg, rooms, eng, limiter, authn, publisher)
	h := handlers.NewHandler(s, rooms, limiter, publisher, cfg.AllowedOrigins)

	if n != nil {
		b := broker.NewBroker(n.Conn, s)
		sub, err := b.Subscribe(comm.SubjectControl)
		if err != nil {
			log.Errorf("Error: unable to subscribe to %s %v", comm.SubjectControl, err)
		} else {
			defer sub.Unsubscribe()
		}
	}

	// Setup router
	r := chi.NewRouter()
	c := configs.CORS(cfg.AllowedOrigins)

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(configs.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	routes.SetRoutes(r, h, authn)

	// Create server with timeout settings. Websocket connections are hijacked
	// and not bound by these.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
