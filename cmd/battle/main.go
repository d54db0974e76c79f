package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kotobaquest/battle/internal/battle"
	"github.com/kotobaquest/battle/internal/battle/repository"
	"github.com/kotobaquest/battle/internal/catalog"
	"github.com/kotobaquest/battle/internal/distributed"
	"github.com/kotobaquest/battle/internal/gateway"
	"github.com/kotobaquest/battle/internal/matchqueue"
	"github.com/kotobaquest/battle/internal/notify"
	"github.com/kotobaquest/battle/internal/scheduler"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("battle server exited")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		return err
	}

	pool, err := setupDatabase(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repository.InitSchema(ctx, pool); err != nil {
		return err
	}

	nc, err := notify.Connect(getEnv("NATS_URL", "nats://localhost:4222"))
	if err != nil {
		return err
	}
	defer nc.Close()

	clock := clockwork.NewRealClock()

	store := repository.NewRepository(pool)
	notifier := notify.NewNATSNotifier(nc)
	combatants := catalog.NewPGCombatantCatalog(pool)
	bank := catalog.NewPGQuestionBank(pool)

	sched := scheduler.NewTimerScheduler(clock, cfg.Workers)
	svc := battle.NewService(store, sched, notifier, combatants, bank, clock, cfg.battleConfig())
	svc.RegisterHandlers(sched)

	queue := matchqueue.NewQueue()
	driver := matchqueue.NewDriver(queue, svc, svc, clock, cfg.queueTickInterval())

	// With a redis address configured, queue ticks contend for a shared lock
	// so only one instance drives matchmaking.
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		defer rdb.Close()
		driver = driver.WithTickLock(distributed.NewLockManager(rdb))
		log.Info().Str("addr", addr).Msg("matchmaking tick lock enabled")
	}

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), &gateway.Commands{
		Queue:   queue,
		Battles: svc,
		Clock:   clock,
	})
	sub, err := manager.ConsumeNotifications(nc)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	go sched.Run(ctx)
	go driver.Run(ctx)
	go manager.Start(ctx)

	server := &http.Server{
		Addr:    getEnv("HTTP_ADDR", ":8080"),
		Handler: manager.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown failed")
		}
	}()

	log.Info().Str("addr", server.Addr).Msg("battle server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
