package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shardworld/internal/audit"
	"shardworld/internal/auth"
	"shardworld/internal/config"
	"shardworld/internal/game/lock"
	"shardworld/internal/game/poi"
	gameserver "shardworld/internal/game/server"
	"shardworld/internal/game/trade"
	"shardworld/internal/store/durable"
	"shardworld/internal/store/fast"
	"shardworld/internal/store/flush"
	"shardworld/internal/transport/ws"
	"shardworld/internal/worldgen"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		worldsDir  = flag.String("worlds", "./configs/worlds", "world manifest directory")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	envCfg, err := config.ParseEnv()
	if err != nil {
		logger.Fatalf("env: %v", err)
	}

	tune, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *configPath)
			tune = config.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	store := fast.New(envCfg.RedisAddr, envCfg.RedisPassword)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		cancelPing()
		logger.Fatalf("fast store: %v", err)
	}
	cancelPing()
	defer store.Close()

	db, err := durable.Open(envCfg.DBPath)
	if err != nil {
		logger.Fatalf("durable store: %v", err)
	}
	defer db.Close()

	auditLog := audit.NewLogger(envCfg.AuditDir)
	defer auditLog.Close()

	worlds := worldgen.NewDirProvider(*worldsDir)
	locks := lock.NewManager(store, tune.LockTTL())
	pois := poi.NewManager(store, db, locks, worlds, auditLog, tune.POIEnterRadius)

	var srv *gameserver.Server
	trades := trade.NewManager(db, func(userID string) bool {
		return srv != nil && srv.OnlineFunc()(userID)
	}, auditLog)

	srv = gameserver.New(tune, gameserver.Deps{
		Verifier: auth.NewVerifier(envCfg.JWTSecret),
		Worlds:   worlds,
		POIs:     pois,
		Trades:   trades,
		NPCs:     nil, // wired when an entity-behavior collaborator is configured
		Store:    store,
		DB:       db,
	}, logger)

	flusher := flush.New(store, db, tune.FlushInterval(),
		log.New(os.Stdout, "[flush] ", log.LstdFlags|log.Lmicroseconds))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.Run(ctx)
	go flusher.Run(ctx)

	wsSrv := ws.NewServer(srv, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s (worlds=%s)", *addr, strings.TrimSpace(*worldsDir))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http: %v", err)
	}
	logger.Printf("shutdown complete")
}
