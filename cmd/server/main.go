package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/database"
	"whiteboard-backend/internal/handler"
	"whiteboard-backend/internal/logger"
	"whiteboard-backend/internal/metrics"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/server"
	"whiteboard-backend/internal/session"
	"whiteboard-backend/internal/store"
	"whiteboard-backend/internal/stroke"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "whiteboard-backend: %v\n", err)
		os.Exit(1)
	}
}

// gateway is what the sync engine and the REST handlers need from storage.
type gateway interface {
	session.Gateway
	handler.ElementReader
}

func run() error {
	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := make(map[string]handler.Check)

	// 저장소 (postgres 또는 메모리)
	var gw gateway
	switch cfg.Database.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on restart")
		gw = store.NewMemory()
	default:
		db, err := database.Connect(cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() { _ = database.Close(db) }()
		gw = store.NewGormStore(db)
		checks["database"] = func(ctx context.Context) error { return database.Ping(ctx, db) }
		logVersion(db, log)
	}

	// 메트릭
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tracker := presence.NewTracker()

	// Redis presence mirror (선택)
	var (
		mirror      *presence.Mirror
		redisClient *redis.Client
	)
	if cfg.Redis.Addr != "" {
		redisClient, err = presence.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
		mirror = presence.NewMirror(redisClient, uuid.NewString(), cfg.Sync.PresenceTTL, log)
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		log.Info("presence mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}

	engine := stroke.New(gw, stroke.Options{
		Interval: cfg.Sync.CheckpointInterval,
		Logger:   log,
		Metrics:  m,
	})

	opts := session.Options{Logger: log, Metrics: m}
	var cluster handler.ClusterPresence
	if mirror != nil {
		opts.Mirror = mirror
		cluster = mirror
	}
	coord := session.NewCoordinator(tracker, gw, engine, opts)
	rooms := room.NewBroadcaster(tracker, log)
	dispatcher := session.NewDispatcher(coord, rooms, log, m)

	var gatherer prometheus.Gatherer
	if cfg.Server.Metrics {
		gatherer = reg
	}
	boardWS := handler.NewBoardWSHandler(dispatcher, cfg.WebSocket, log)
	srv := server.New(cfg, server.Handlers{
		BoardWS: boardWS,
		Board:   handler.NewBoardHandler(gw, tracker, cluster, log),
		Health:  handler.NewHealthHandler(checks),
	}, gatherer, log)

	engine.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start()
	})
	if mirror != nil {
		g.Go(func() error {
			mirror.Run(gctx, tracker.Boards)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sync.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		closed := rooms.CloseAll()
		log.Info("closed websocket sessions", zap.Int("sessions", closed))
		if err := boardWS.Wait(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("wait for websocket handlers: %w", err))
		}

		// last chance for in-progress strokes
		if err := engine.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("flush drawings: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}

// logVersion DB 버전 확인
func logVersion(db *gorm.DB, log *zap.Logger) {
	var version string
	if err := db.Raw("SELECT version()").Scan(&version).Error; err != nil {
		log.Warn("failed to read database version", zap.Error(err))
		return
	}
	log.Info("database version", zap.String("version", version))
}
