package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rxtrust/rxtrust/internal/config"
	"github.com/rxtrust/rxtrust/internal/domain/notification"
	"github.com/rxtrust/rxtrust/internal/domain/prescription"
	"github.com/rxtrust/rxtrust/internal/domain/schedule"
	"github.com/rxtrust/rxtrust/internal/platform/auth"
	"github.com/rxtrust/rxtrust/internal/platform/db"
	"github.com/rxtrust/rxtrust/internal/platform/events"
	"github.com/rxtrust/rxtrust/internal/platform/idempotency"
	"github.com/rxtrust/rxtrust/internal/platform/metrics"
	"github.com/rxtrust/rxtrust/internal/platform/middleware"
	"github.com/rxtrust/rxtrust/internal/platform/websocket"
	"github.com/rxtrust/rxtrust/migrations"
)

const wsPath = "/api/v1/ws"

func main() {
	rootCmd := &cobra.Command{
		Use:   "rx-server",
		Short: "Prescription issuing and verification server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationsFS returns the migrations in dir, or the embedded set when dir
// is empty.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openMigrator(ctx context.Context, cmd *cobra.Command) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StorageDriver != "postgres" {
		return nil, nil, fmt.Errorf("migrations require STORAGE_DRIVER=postgres")
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrationsFS(dir)), pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Encode or decode scan tokens",
	}
	cmd.PersistentFlags().String("prefix", prescription.DefaultTokenPrefix, "Token prefix")
	cmd.PersistentFlags().Int("suffix-len", prescription.DefaultTokenSuffixLen, "Id suffix length")

	codecFromFlags := func(cmd *cobra.Command) (*prescription.Codec, error) {
		prefix, _ := cmd.Flags().GetString("prefix")
		n, _ := cmd.Flags().GetInt("suffix-len")
		if n < 1 || n > 12 {
			return nil, fmt.Errorf("--suffix-len must be between 1 and 12")
		}
		if prefix == "" || strings.Contains(prefix, ":") {
			return nil, fmt.Errorf("--prefix must be non-empty and must not contain ':'")
		}
		return prescription.NewCodec(prefix, n), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encode <prescription-id>",
		Short: "Print the scan token for a prescription id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := codecFromFlags(cmd)
			if err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid prescription id: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), codec.Encode(id))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "decode <token>",
		Short: "Print the id suffix carried by a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := codecFromFlags(cmd)
			if err != nil {
				return err
			}
			suffix, err := codec.Decode(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), suffix)
			return nil
		},
	})

	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// server is the assembled application. Close releases everything New
// acquired, in reverse order.
type server struct {
	echo    *echo.Echo
	hub     *websocket.Hub
	closers []func()
}

func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	srv := &server{}
	ok := false
	defer func() {
		if !ok {
			srv.Close()
		}
	}()

	// Storage
	var (
		pool      *pgxpool.Pool
		rxRepo    prescription.Repository
		noteRepo  notification.Repository
		schedRepo schedule.Repository
	)
	switch cfg.StorageDriver {
	case "memory":
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
		rxRepo = prescription.NewMemoryRepository()
		noteRepo = notification.NewMemoryRepository()
		schedRepo = schedule.NewMemoryRepository()
	default:
		var err error
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		srv.closers = append(srv.closers, pool.Close)
		logger.Info().Msg("connected to database")
		rxRepo = prescription.NewRepoPG(pool, cfg.TokenSuffixLen)
		noteRepo = notification.NewRepoPG(pool)
		schedRepo = schedule.NewRepoPG(pool)
	}

	healthDeps := map[string]db.Pinger{}
	if pool != nil {
		healthDeps["postgres"] = db.PingFunc(pool.Ping)
	}

	// Live delivery, idempotency and the patient directory share Redis when
	// it is configured.
	hub := websocket.NewHub(logger)
	srv.hub = hub
	var (
		idemStore idempotency.Store
		directory prescription.Directory
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		srv.closers = append(srv.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		healthDeps["redis"] = db.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

		bridgeCtx, cancelBridge := context.WithCancel(context.Background())
		srv.closers = append(srv.closers, cancelBridge)
		bridge := websocket.NewRedisBridge(rdb, websocket.DefaultChannel, hub, logger)
		if err := bridge.Start(bridgeCtx); err != nil {
			return nil, err
		}
		hub.SetBridge(bridge)

		idemStore = idempotency.NewRedisStore(rdb, "")
		directory = prescription.NewRedisDirectory(rdb, "")
		logger.Info().Msg("connected to redis")
	} else {
		mem := idempotency.NewMemoryStore(time.Minute)
		srv.closers = append(srv.closers, mem.Stop)
		idemStore = mem
		directory = prescription.NewMemoryDirectory()
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		srv.closers = append(srv.closers, func() {
			if err := kp.Close(); err != nil {
				logger.Warn().Err(err).Msg("event publisher close failed")
			}
		})
		publisher = kp
	}

	// Domain services
	noteSvc := notification.NewService(noteRepo, logger)
	noteSvc.SetPusher(hub)

	rxSvc := prescription.NewService(rxRepo, prescription.NewCodec(cfg.TokenPrefix, cfg.TokenSuffixLen), logger)
	rxSvc.SetDelivery(prescription.NewDelivery(hub, directory, logger))
	rxSvc.SetNotifier(noteSvc)
	rxSvc.SetEventPublisher(publisher)

	schedSvc := schedule.NewService(schedRepo)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	srv.echo = e

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID", idempotency.HeaderKey},
		ExposeHeaders: []string{"Retry-After", "X-Unread-Count", idempotency.HeaderReplayed},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("64K", "2M"))
	e.Use(middleware.RequestTimeout(30*time.Second, wsPath))

	// Auth middleware
	switch mode := cfg.ResolvedAuthMode(); mode {
	case "development":
		logger.Warn().Msg("development auth: identity is taken from X-Dev-* headers")
		e.Use(auth.DevAuthMiddleware())
	case "hmac":
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	default:
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, healthDeps))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")

	// Scans are rate limited per pharmacy and replayable by Idempotency-Key.
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	scanMW := []echo.MiddlewareFunc{
		middleware.RateLimit(rateLimitCfg),
		idempotency.Middleware(idemStore, cfg.IdempotencyTTL, logger),
	}

	prescription.NewHandler(rxSvc, logger).RegisterRoutes(apiV1, scanMW...)
	notification.NewHandler(noteSvc).RegisterRoutes(apiV1)
	schedule.NewHandler(schedSvc).RegisterRoutes(apiV1)

	wsHandler := websocket.NewHandler(hub, cfg.CORSOrigins, logger)
	wsHandler.OnConnect(func(ctx context.Context, userID string) {
		rxSvc.LinkPatient(ctx, userID, auth.EmailFromContext(ctx))
	})
	wsHandler.RegisterRoutes(apiV1)

	ok = true
	return srv, nil
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	srv, err := newServer(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer srv.Close()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
