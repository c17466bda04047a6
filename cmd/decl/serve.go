package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/speaklife/declarations/internal/channel"
	"github.com/speaklife/declarations/internal/config"
	"github.com/speaklife/declarations/internal/dashboard"
	"github.com/speaklife/declarations/internal/engine"
	"github.com/speaklife/declarations/internal/events"
	"github.com/speaklife/declarations/internal/statefile"
	"github.com/speaklife/declarations/internal/status"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the sync engine in the foreground:

  1. Opens the replicated store (or local-only without credentials)
  2. Runs the legacy migration and the fresh-install import
  3. Replicates on an interval and on sentinel-file requests
  4. Optionally serves the WebSocket dashboard

Other processes request an immediate sync with 'decl sync --request'.`,
	Run: func(cmd *cobra.Command, args []string) {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		cfg, err := config.Load(dataDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logger := serveLogger(cfg)

		bus := events.NewBus()
		defer bus.Close()

		var ch engine.Replicator
		var liveChannel *channel.Channel
		if cfg.Turso.PrimaryURL != "" && cfg.Turso.AuthToken != "" {
			liveChannel = channel.New(channel.Config{
				ReplicaPath:  filepath.Join(cfg.DataDir, engine.DBFileName),
				PrimaryURL:   cfg.Turso.PrimaryURL,
				AuthToken:    cfg.Turso.AuthToken,
				SyncInterval: cfg.Turso.SyncInterval,
				Logger:       logger,
			}, bus)
			ch = liveChannel
		}

		eng := engine.New(engine.Config{
			DataDir:     cfg.DataDir,
			Environment: cfg.Environment,
			Channel:     ch,
			Bus:         bus,
			Logger:      logger,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := eng.Initialize(ctx, false); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.Close()

		monitor := status.New(bus, eng, func(at time.Time) {
			if _, err := statefile.Update(statefile.Path(cfg.DataDir), func(s *statefile.State) {
				s.LastSyncedAt = at
			}); err != nil {
				logger.Printf("WARNING: failed to record sync time: %v", err)
			}
		})
		monitor.Start()
		defer monitor.Close()

		var server *dashboard.Server
		var bridge *dashboard.Bridge
		if cfg.Dashboard.Enabled {
			server = dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
				os.Exit(1)
			}
			bridge = dashboard.NewBridge(server, bus, monitor, eng.Store(), logger)
			bridge.Start()
			logger.Printf("Dashboard: ws://%s/ws", server.Addr())
		}

		if err := eng.WatchSyncRequests(ctx); err != nil {
			logger.Printf("WARNING: sync request watcher unavailable: %v", err)
		}

		// The fresh-install import waits out its retry schedule, so it runs
		// off the main goroutine. Terminal failures stay visible in the
		// status projection and the state file.
		go func() {
			if err := eng.Bootstrap(ctx); err != nil && ctx.Err() == nil {
				logger.Printf("Bootstrap import did not complete: %v", err)
			}
		}()

		if liveChannel != nil {
			liveChannel.Start(ctx)
		}

		logger.Printf("Sync daemon running (data dir %s)", cfg.DataDir)
		fmt.Println("Press Ctrl+C to stop")

		<-ctx.Done()

		logger.Printf("Shutting down")
		if bridge != nil {
			bridge.Stop()
		}
		if server != nil {
			if err := server.Stop(); err != nil {
				logger.Printf("Dashboard shutdown error: %v", err)
			}
		}

		flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer flushCancel()
		if err := eng.Save(flushCtx); err != nil {
			logger.Printf("Final flush failed: %v", err)
		}
	},
}

// serveLogger builds the daemon logger: rotated file when configured,
// stderr otherwise.
func serveLogger(cfg config.Config) *log.Logger {
	if cfg.Log.Path == "" {
		return log.New(os.Stderr, "[decl] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   cfg.Log.Path,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	}, "[decl] ", log.LstdFlags)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
