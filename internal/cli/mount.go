package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/asyncfs/asyncfs/internal/adapter"
	"github.com/asyncfs/asyncfs/internal/config"
	"github.com/asyncfs/asyncfs/internal/fuse"
	"github.com/asyncfs/asyncfs/internal/health"
	"github.com/asyncfs/asyncfs/internal/metrics"
	"github.com/asyncfs/asyncfs/internal/store"
	"github.com/asyncfs/asyncfs/internal/store/memory"
	s3store "github.com/asyncfs/asyncfs/internal/store/s3"
)

var mountFlags struct {
	configFile   string
	storeURI     string
	source       string
	fsType       string
	expectedSize uint64
	blockingOpen bool
	readOnly     bool
	allowOther   bool
	debug        bool
}

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Mount a backing store as a filesystem",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMount,
}

func init() {
	mountCmd.Flags().StringVarP(&mountFlags.configFile, "config", "c", "", "path to YAML configuration file")
	mountCmd.Flags().StringVar(&mountFlags.storeURI, "store", "", "backing store URI (s3://bucket or mem://)")
	mountCmd.Flags().StringVar(&mountFlags.source, "source", "", "path prefix applied to every operation")
	mountCmd.Flags().StringVar(&mountFlags.fsType, "type", "", "backing filesystem kind: PERSISTENT or TEMPORARY")
	mountCmd.Flags().Uint64Var(&mountFlags.expectedSize, "expected-size", 0, "quota hint in bytes for the backing open")
	mountCmd.Flags().BoolVar(&mountFlags.blockingOpen, "blocking-open", false, "resolve the backing open before the mount returns")
	mountCmd.Flags().BoolVar(&mountFlags.readOnly, "read-only", false, "mount read-only")
	mountCmd.Flags().BoolVar(&mountFlags.allowOther, "allow-other", false, "allow access by other users")
	mountCmd.Flags().BoolVar(&mountFlags.debug, "debug", false, "log FUSE protocol traffic")
	rootCmd.AddCommand(mountCmd)
}

func loadConfiguration(args []string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if mountFlags.configFile != "" {
		if err := cfg.LoadFromFile(mountFlags.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	// Flags win over file and environment.
	if mountFlags.storeURI != "" {
		cfg.Mount.StoreURI = mountFlags.storeURI
	}
	if mountFlags.source != "" {
		cfg.Mount.Source = mountFlags.source
	}
	if mountFlags.fsType != "" {
		cfg.Mount.Type = mountFlags.fsType
	}
	if mountFlags.expectedSize != 0 {
		cfg.Mount.ExpectedSize = mountFlags.expectedSize
	}
	if mountFlags.blockingOpen {
		cfg.Mount.BlockingOpen = true
	}
	if len(args) > 0 {
		cfg.Mount.MountPoint = args[0]
	}
	if cfg.Mount.MountPoint == "" {
		return nil, fmt.Errorf("mount point is required (argument or mount_point in config)")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func buildStore(ctx context.Context, cfg *config.Configuration) (store.Store, error) {
	scheme, target, _ := strings.Cut(cfg.Mount.StoreURI, "://")
	switch scheme {
	case "s3":
		bucket, _, _ := strings.Cut(target, "/")
		return s3store.NewStore(ctx, bucket, &cfg.S3)
	case "mem":
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(args)
	if err != nil {
		return err
	}
	setupLogging(cfg.Global.LogLevel)
	logger := slog.Default().With("component", "mount")

	ctx := cmd.Context()
	backing, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build store: %w", err)
	}

	strategy := adapter.OpenAsync
	if cfg.Mount.BlockingOpen {
		strategy = adapter.OpenBlocking
	}
	afs, err := adapter.New(adapter.Args{
		Store:    backing,
		Options:  cfg.MountOptions(),
		Strategy: strategy,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize filesystem: %w", err)
	}
	defer afs.Close()

	collector := metrics.NewCollector(&cfg.Metrics)

	tracker := health.NewTracker()
	tracker.Register("backing_open", func(ctx context.Context) error {
		done, openErr := afs.OpenResult()
		if !done {
			return health.ErrPending
		}
		return openErr
	})
	collector.Handle("/healthz", tracker.Handler())

	if err := collector.Start(); err != nil {
		return fmt.Errorf("failed to start metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := collector.Stop(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	options := fuse.DefaultMountOptions()
	options.ReadOnly = mountFlags.readOnly
	options.AllowOther = mountFlags.allowOther
	options.Debug = mountFlags.debug

	manager := fuse.NewMountManager(fuse.NewBridge(afs, collector), cfg.Mount.MountPoint, options)
	if err := manager.Mount(); err != nil {
		return err
	}

	logger.Info("mounted",
		"store", cfg.Mount.StoreURI,
		"mount_point", cfg.Mount.MountPoint,
		"source", cfg.Mount.Source)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("signal received, unmounting")
		if err := manager.Unmount(); err != nil {
			logger.Error("unmount failed", "error", err)
		}
	}()

	manager.Wait()
	return nil
}
