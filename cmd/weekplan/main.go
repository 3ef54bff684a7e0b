package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmaassen/weekplan/internal/backup"
	"github.com/jmaassen/weekplan/internal/cache"
	"github.com/jmaassen/weekplan/internal/engine"
	"github.com/jmaassen/weekplan/internal/identity"
	"github.com/jmaassen/weekplan/internal/logging"
	"github.com/jmaassen/weekplan/internal/model"
	"github.com/jmaassen/weekplan/internal/remote"
	"github.com/jmaassen/weekplan/internal/schedule"
	"github.com/jmaassen/weekplan/internal/server"
)

const heartbeatInterval = 60 * time.Second

func main() {
	logger := logging.Setup(
		os.Getenv("WEEKPLAN_LOG_LEVEL"),
		os.Getenv("WEEKPLAN_LOG_FORMAT"),
	)

	addr := os.Getenv("WEEKPLAN_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8745"
	}

	dbPath := os.Getenv("WEEKPLAN_DB_PATH")
	if dbPath == "" {
		dbPath = "weekplan.db"
	}

	famID := os.Getenv("WEEKPLAN_FAM_ID")
	if famID == "" {
		famID = "fam_default"
	}

	c, err := cache.Open(dbPath, logger.With("component", "cache"))
	if err != nil {
		logger.Error("failed to open local cache", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	deviceID, err := identity.DeviceID(c)
	if err != nil {
		logger.Error("failed to establish device id", "error", err)
		os.Exit(1)
	}

	store := remote.NewClient(remote.Config{
		BaseURL:  os.Getenv("WEEKPLAN_REMOTE_URL"),
		FamID:    famID,
		DeviceID: deviceID,
	}, logger.With("component", "remote"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(store, c, logger.With("component", "engine"))
	eng.Start(ctx)
	defer eng.Stop()

	resolver := identity.NewResolver(eng, c, deviceID, famID, logger.With("component", "identity"))
	defer resolver.Close()
	resolver.Ensure()
	go resolver.Heartbeat(ctx, heartbeatInterval)

	backupCfg := backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("WEEKPLAN_S3_ENDPOINT"),
			Bucket:    os.Getenv("WEEKPLAN_S3_BUCKET"),
			Region:    os.Getenv("WEEKPLAN_S3_REGION"),
			AccessKey: os.Getenv("WEEKPLAN_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("WEEKPLAN_S3_SECRET_KEY"),
		},
		FamID:         famID,
		Interval:      24 * time.Hour,
		RetentionDays: envInt("WEEKPLAN_BACKUP_RETENTION_DAYS", 30),
	}
	if hours := envInt("WEEKPLAN_BACKUP_INTERVAL_HOURS", 0); hours > 0 {
		backupCfg.Interval = time.Duration(hours) * time.Hour
	}
	backups := backup.NewManager(backupCfg, eng, c, logger.With("component", "backup"), nil)
	backups.Start(ctx)
	defer backups.Stop()

	go runTimers(ctx, eng)

	srv := server.New(eng, resolver, backups, logger.With("component", "http"))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("weekplan running", "addr", addr, "fam", famID, "device", deviceID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// runTimers drives the countdown of running task timers: one tick per second,
// expired timers pause and complete their occurrence. Saves only when a timer
// actually changed, so an idle board writes nothing.
func runTimers(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			doc := eng.Snapshot()
			timers, ticked := schedule.Tick(doc.Timers)
			timers, completions, finished := schedule.FinishExpired(timers, doc.Completions)
			if !ticked && !finished {
				continue
			}
			patch := map[string]any{model.ColTimers: timers}
			if finished {
				patch[model.ColCompletions] = completions
			}
			eng.Save(patch)
		}
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
