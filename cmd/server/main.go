package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meeting-live/internal/broadcast"
	"meeting-live/internal/config"
	"meeting-live/internal/db"
	"meeting-live/internal/directory"
	"meeting-live/internal/lock"
	"meeting-live/internal/lottery"
	"meeting-live/internal/notify"
	"meeting-live/internal/poll"
	"meeting-live/internal/server"
	"meeting-live/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	if err := run(); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := db.Open(cfg)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := db.Migrate(conn); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	defer sqlDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	hub := broadcast.NewHub()
	var leaser lock.Leaser = lock.LocalLeaser{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, cfg.PersistTimeout())
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		relay := broadcast.NewRedisRelay(client)
		hub.SetRelay(relay)
		leaser = lock.NewRedisLeaser(client, "meeting-live:lease:")
		group.Go(func() error {
			return relay.Run(ctx, hub)
		})
		log.Printf("redis enabled addr=%s", cfg.RedisAddr)
	}

	var sink notify.Sink = notify.Nop{}
	if cfg.RocketMQNameServer != "" {
		mq, err := notify.NewRocketMQ(cfg.RocketMQNameServer, cfg.RocketMQTopic)
		if err != nil {
			return fmt.Errorf("rocketmq: %w", err)
		}
		defer func() {
			if err := mq.Shutdown(); err != nil {
				log.Printf("rocketmq shutdown: %v", err)
			}
		}()
		sink = mq
	}

	st := store.New(conn)
	dir := directory.NewDB(conn)
	lotteries := lottery.NewCoordinator(st, hub, lottery.Options{
		Directory:      dir,
		Sessions:       dir,
		Notifier:       sink,
		PersistTimeout: cfg.PersistTimeout(),
		IdleTTL:        cfg.LotteryIdleTTL(),
	})
	polls := poll.NewCoordinator(st, hub, poll.Options{
		Directory:      dir,
		Sessions:       dir,
		Notifier:       sink,
		PersistTimeout: cfg.PersistTimeout(),
		LeadIn:         cfg.PollLeadIn(),
	})
	sweeper := poll.NewSweeper(polls, leaser, cfg.SweepInterval())

	group.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})
	group.Go(func() error {
		lotteries.RunJanitor(ctx, janitorInterval)
		return nil
	})

	srv := server.New(cfg, server.Services{
		Hub:      hub,
		Lottery:  lotteries,
		Polls:    polls,
		Sessions: dir,
		Ping:     sqlDB.PingContext,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	group.Go(func() error {
		log.Printf("meeting-live server listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Printf("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
