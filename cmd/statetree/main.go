package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/statetree/server/internal/config"
	"github.com/statetree/server/internal/land"
	"github.com/statetree/server/internal/persist"
	"github.com/statetree/server/internal/replay"
	"github.com/statetree/server/internal/script"
	"github.com/statetree/server/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("STATETREE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	log.Info("starting", zap.String("server", cfg.Server.Name))

	// 3. Optional snapshot store
	var sink land.SnapshotSink
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err := persist.Open(ctx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			cancel()
			return fmt.Errorf("migrations: %w", err)
		}
		cancel()
		sink = persist.NewSnapshotRepo(db)
		log.Info("snapshot store ready")
	}

	// 4. Optional op recording for reevaluation
	var newRecorder func(id land.LandID, def *land.Definition) (land.Recorder, error)
	if cfg.Replay.RecordOps {
		dir := cfg.Replay.RecordsDir
		if dir == "" {
			dir = replay.RecordsDir()
		}
		newRecorder = replay.Factory(dir, log)
		log.Info("op recording enabled", zap.String("dir", dir))
	}

	// 5. Realm
	realm := land.NewRealm(land.RealmOptions{
		NewRecorder:        newRecorder,
		Sink:               sink,
		SnapshotEveryTicks: cfg.Database.SnapshotEveryTicks,
		AdminKeyHash:       []byte(cfg.Admin.KeyHash),
		ShutdownGrace:      cfg.Network.ShutdownGrace,
		Log:                log,
	})

	// 6. Scripted land definitions
	if cfg.Lands.Manifest != "" {
		defs, err := script.Load(cfg.Lands.Manifest, log)
		if err != nil {
			return fmt.Errorf("load lands: %w", err)
		}
		for _, def := range defs {
			if err := realm.RegisterDefinition(def); err != nil {
				return fmt.Errorf("register land %s: %w", def.LandType, err)
			}
		}
		log.Info("lands registered", zap.Int("count", len(defs)))
	}

	// 7. Websocket front
	server := transport.NewServer(realm, transport.ServerOptions{
		OutQueueSize: cfg.Network.OutQueueSize,
		WriteTimeout: cfg.Network.WriteTimeout,
		Log:          log,
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(cfg.Server.BindAddress)
	}()

	// 8. Run until signalled
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdownCh:
		log.Info("shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	server.Shutdown(context.Background())
	realm.Shutdown()
	log.Info("stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
