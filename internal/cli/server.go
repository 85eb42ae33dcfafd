package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classroom-qa/internal/app"
	"classroom-qa/internal/config"
	"classroom-qa/internal/identity"
	"classroom-qa/internal/infra/local"
	"classroom-qa/internal/infra/memory"
	"classroom-qa/internal/infra/postgres"
	infraredis "classroom-qa/internal/infra/redis"
	"classroom-qa/internal/observ"
	transport "classroom-qa/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	defaultPort      = "8080"
	defaultLocalPath = "data/classroom-qa.json"
	devJWTSecret     = "classroom-qa-dev-secret"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the board API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := observ.NewLogger(cfg.Env, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// runtime is the board with the resources backing it.
type runtime struct {
	board   *app.Board
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildBoard selects the backend once and wires the board around it.
func buildBoard(ctx context.Context, cfg config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{}
	policy, err := cfg.LevelingPolicy()
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
	}

	var store interface {
		app.Store
		memory.RoomLoader
	}
	switch backend := cfg.Backend(); backend {
	case config.BackendRemote:
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			rt.Close()
			return nil, err
		}
		pool, err := postgres.Connect(ctx, cfg.Remote.URL, cfg.Remote.Key)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		timeout := config.TTLDuration(cfg.Remote.RequestTimeout, postgres.DefaultRequestTimeout)
		store = postgres.NewStore(pool, policy, timeout, logger)
		logger.Info("using remote store", zap.Duration("request_timeout", timeout))
	default:
		blob, err := localBlob(cfg, redisClient)
		if err != nil {
			rt.Close()
			return nil, err
		}
		store = local.NewStore(blob, policy, logger)
		logger.Info("using local store", zap.String("driver", cfg.LocalDriver()))
	}

	roomTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
	var rooms app.RoomDirectory
	if redisClient != nil {
		rooms = infraredis.NewRoomDirectory(redisClient, store, roomTTL)
	} else {
		rooms = memory.NewRoomDirectory(store, roomTTL)
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if cfg.Env == "production" {
			rt.Close()
			return nil, errors.New("auth.jwtSecret is required in production")
		}
		logger.Warn("auth.jwtSecret not set, using development secret")
		secret = devJWTSecret
	}
	tokens := identity.NewTokens(secret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))

	rt.board = app.NewBoard(store, rooms, tokens, policy, logger)
	return rt, nil
}

func localBlob(cfg config.Config, redisClient *redis.Client) (local.Blob, error) {
	switch driver := cfg.LocalDriver(); driver {
	case config.DriverMemory:
		return memory.NewDocuments().Blob(local.DocumentKey), nil
	case config.DriverRedis:
		if redisClient == nil {
			return nil, errors.New("local.driver redis needs redis.addr")
		}
		return infraredis.NewBlob(redisClient, local.DocumentKey, 0), nil
	case config.DriverFile:
		path := cfg.Local.Path
		if path == "" {
			path = defaultLocalPath
		}
		return local.NewFileBlob(path), nil
	default:
		return nil, fmt.Errorf("unknown local.driver %q", driver)
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = defaultPort
	}

	rt, err := buildBoard(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(rt.board, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting classroom-qa", zap.String("port", finalPort), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
