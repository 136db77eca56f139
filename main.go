// Command robotnic is the temp voice channel bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the configured store (Postgres with migrations, Redis, or memory).
//   - Connects to Discord and routes voice, channel, presence and
//     interaction events to the lifecycle controller and control surface.
//   - Starts background jobs: periodic name refresh and reconciliation.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics and admin routes.
//
// Shutdown is graceful on SIGINT/SIGTERM: the gateway and renamer workers are
// joined before the process exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/MeltedButter77/robotnic/config"
	"github.com/MeltedButter77/robotnic/controls"
	"github.com/MeltedButter77/robotnic/db"
	"github.com/MeltedButter77/robotnic/gateway"
	"github.com/MeltedButter77/robotnic/lifecycle"
	"github.com/MeltedButter77/robotnic/naming"
	"github.com/MeltedButter77/robotnic/platform"
	"github.com/MeltedButter77/robotnic/renamer"
	"github.com/MeltedButter77/robotnic/server"
	"github.com/MeltedButter77/robotnic/store"
	"github.com/MeltedButter77/robotnic/store/postgres"
	"github.com/MeltedButter77/robotnic/store/redisstore"
	"github.com/MeltedButter77/robotnic/tasks"
	"github.com/MeltedButter77/robotnic/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateDiscordReady(); err != nil {
		slog.Error("discord config incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Tracing is optional; it only exports when OTEL_EXPORTER_OTLP_ENDPOINT is set.
	shutdownTracing, err := telemetry.InitTracing("robotnic", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, rdb, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", slog.String("backend", cfg.StoreBackend), slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	}()

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		slog.Error("failed to create discord session", slog.Any("err", err))
		os.Exit(1)
	}
	client := platform.NewDiscord(session)

	rn := renamer.New(ctx, client, renamer.Config{
		CoalesceDelay: cfg.RenameCoalesceDelay,
		MinInterval:   cfg.RenameMinInterval,
		RetryMargin:   cfg.RenameRetryMargin,
	})
	surface := controls.NewSurface(session, client)
	ctl := lifecycle.New(st, client, rn, surface, lifecycle.Config{
		Naming:             naming.Engine{Unclaimed: cfg.UnclaimedName, NoActivity: cfg.DefaultActivity},
		RefreshConcurrency: cfg.RefreshConcurrency,
		RenumberAll:        cfg.RenumberAllCreators,
	})

	events := tasks.NewGroup(ctx)
	handlers := controls.NewHandlers(ctl, controls.NewConfirmations(), cfg.DeleteConfirmTimeout)
	router := controls.NewRouter(handlers, session, events)
	gw := gateway.New(ctl, router, events, gateway.DefaultQueueSize)
	gw.Register(session)
	gw.Start()

	if err := session.Open(); err != nil {
		slog.Error("failed to open discord session", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("discord session opened", slog.String("component", "gateway"))

	jobs := tasks.NewGroup(ctx)
	jobs.Go("reconcile-job", func(ctx context.Context) { lifecycle.StartReconcileJob(ctx, ctl, cfg.ReconcileInterval) })
	jobs.Go("refresh-job", func(ctx context.Context) { lifecycle.StartRefreshJob(ctx, ctl, cfg.RefreshInterval) })

	opts := server.Options{
		Store:         st,
		Lifecycle:     ctl,
		RenameWorkers: rn.Active,
		GatewayReady:  gw.Ready,
	}
	if rdb != nil {
		opts.Redis = rdb
		opts.RedisPrefix = cfg.RedisPrefix
	}
	jobs.Go("http-server", func(ctx context.Context) {
		if err := server.Start(ctx, opts, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	})

	<-ctx.Done()
	slog.Info("shutting down")

	if err := session.Close(); err != nil {
		slog.Warn("failed to close discord session", slog.Any("err", err))
	}
	// Everything that can schedule renames or touch the store stops first;
	// the renamer goes last and the store closes on return.
	events.Shutdown()
	jobs.Shutdown()
	slog.Info("waiting for rename workers", slog.Int("rename_workers", rn.Active()))
	rn.Shutdown()
	slog.Info("shutdown complete")
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// openStore opens the backend named by cfg.StoreBackend. The Redis client is
// returned for sharing when the Redis backend is used.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *redis.Client, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		slog.Warn("using in-memory store, records are lost on restart", slog.String("component", "store"))
		return store.NewMemory(), nil, nil
	case config.BackendRedis:
		rs, err := redisstore.New(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return rs, rs.Client(), nil
	}

	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, nil, err
	}
	// Versioned migrations first; the embedded schema covers deployments
	// where the migrations directory is not shipped.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded schema",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return postgres.New(database), nil, nil
}
