package cmd

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"github.com/klauspost/compress/zstd"

	"github.com/streamcore/shuffle/internal/apiserver"
	"github.com/streamcore/shuffle/internal/checkpoint"
	"github.com/streamcore/shuffle/internal/collab"
	"github.com/streamcore/shuffle/internal/compressor"
	"github.com/streamcore/shuffle/internal/config"
	"github.com/streamcore/shuffle/internal/partitionmanager"
	"github.com/streamcore/shuffle/internal/slogutil"
	"github.com/streamcore/shuffle/internal/slottable"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the shuffle worker",
		Long:  `Start the shuffle worker's slot table, result partition manager, and partition request listener using configuration from YAML file.`,
		RunE:  runServe,
	}

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	logger := slogutil.SetupLogRotationWithFallback(cfg.Log, "")
	logger.Info("starting shuffle worker with log rotation configured",
		"log_file", cfg.Log.File,
		"log_level", cfg.Log.Level,
		"max_size_mb", cfg.Log.MaxSize,
		"max_age_days", cfg.Log.MaxAge,
		"max_backups", cfg.Log.MaxBackups,
		"compress", cfg.Log.Compress)

	configManager := config.NewManager(cfg, configFile)
	configManager.OnChange(func(oldConfig, newConfig *config.Config) {
		logger.Info("configuration updated", "netqueue_address", newConfig.NetQueue.Address, "num_static_slots", newConfig.SlotTable.NumStaticSlots)
	})

	partitions := partitionmanager.NewManager(logger)

	checkpointDefaults := checkpoint.New(checkpoint.TypeCheckpoint, "", cfg.Checkpoint.ExactlyOnce, cfg.Checkpoint.UnalignedEnabled, time.Duration(cfg.Checkpoint.AlignmentTimeoutMS)*time.Millisecond)
	logger.Info("checkpoint defaults resolved",
		"exactly_once", checkpointDefaults.ExactlyOnce,
		"unaligned", checkpointDefaults.Unaligned,
		"needs_alignment", checkpointDefaults.NeedsAlignment())

	timer := slottable.NewTimerService()
	budget := slottable.ResourceProfile{
		CPUShares:           cfg.SlotTable.CPUShares,
		TaskHeapMemoryBytes: cfg.SlotTable.TaskHeapMemoryBytes,
		OffHeapMemoryBytes:  cfg.SlotTable.OffHeapMemoryBytes,
		ManagedMemoryBytes:  cfg.SlotTable.ManagedMemoryBytes,
		NetworkMemoryBytes:  cfg.SlotTable.NetworkMemoryBytes,
	}
	slotActions := loggingSlotActions{logger: logger}
	slotTable := slottable.NewTable(cfg.SlotTable.NumStaticSlots, budget, slotActions, timer, logger)
	slotTable.Start()
	logger.Info("slot table started", "num_static_slots", cfg.SlotTable.NumStaticSlots)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener, err := net.Listen("tcp", cfg.NetQueue.Address)
	if err != nil {
		logger.Error("failed to start netqueue listener", "address", cfg.NetQueue.Address, "err", err)
		return err
	}
	logger.Info("partition request queue listening", "address", cfg.NetQueue.Address)

	var bufferCompressor collab.BufferCompressor
	if cfg.Compression.Enabled {
		zc, err := compressor.New(zstd.EncoderLevel(cfg.Compression.Level))
		if err != nil {
			logger.Error("failed to initialize buffer compressor", "err", err)
			return err
		}
		defer zc.Close()
		bufferCompressor = zc
		logger.Info("buffer compression enabled", "level", cfg.Compression.Level)
	}

	go acceptConnections(ctx, listener, partitions, bufferCompressor, logger)

	var app *fiber.App
	if cfg.API.Enabled {
		srv := apiserver.NewServer(&apiserver.Config{Prefix: cfg.API.Prefix}, slotTable, partitions, logger)
		app = fiber.New(fiber.Config{DisableStartupMessage: true})
		srv.SetupRoutes(app)

		go func() {
			if err := app.Listen(cfg.API.Address); err != nil {
				logger.Error("api server stopped", "err", err)
			}
		}()
		logger.Info("api server enabled", "address", cfg.API.Address, "prefix", cfg.API.Prefix)
	} else {
		logger.Info("api server disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down shuffle worker")
	cancel()
	_ = listener.Close()
	if app != nil {
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}
	<-slotTable.Close()
	timer.Stop()
	partitions.Shutdown(nil)

	logger.Info("shuffle worker shut down gracefully")
	return nil
}

// acceptConnections runs the partition request listener's accept loop
// until ctx is cancelled.
func acceptConnections(ctx context.Context, listener net.Listener, partitions *partitionmanager.Manager, bufferCompressor collab.BufferCompressor, logger *slog.Logger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.Warn("netqueue: accept failed", "err", err)
				return
			}
		}
		go serveConnection(ctx, conn, partitions, bufferCompressor, logger)
	}
}

var _ collab.SlotActions = loggingSlotActions{}
