package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"

	"github.com/sajjad-MoBe/kvlog/internal/shared"
	"github.com/sajjad-MoBe/kvlog/internal/storage"
	"github.com/sajjad-MoBe/kvlog/internal/telemetry"
	"github.com/sajjad-MoBe/kvlog/internal/wal"
)

const serviceName = "kvlog"

// options holds the persistent flags shared by every command
type options struct {
	dbPath         string
	logLevel       string
	trace          bool
	metrics        bool
	noSync         bool
	compactOnClose bool

	logger *shared.Logger
}

// NewRootCmd builds the kvlog command tree
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "kvlog [key value]",
		Short: "A durable key-value store backed by a single log file",
		Long: `kvlog stores keys and values in an append-only log file.
Every write is synced to disk before it is acknowledged, and the
log is replayed on startup to rebuild the store.

Running "kvlog <key> <value>" is the same as "kvlog put <key> <value>".`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts a key and a value, received %d argument(s)", len(args))
			}
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := shared.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = shared.NewLogger(cmd.ErrOrStderr(), level)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runPut(cmd, opts, args[0], args[1])
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.dbPath, "db", "d", envOr("KVLOG_DB", "kv.db"), "Path of the log file")
	flags.StringVar(&opts.logLevel, "log-level", envOr("KVLOG_LOG_LEVEL", "info"), "Log level: debug, info, warn or error")
	flags.BoolVar(&opts.trace, "trace", false, "Print a span for every storage operation to stderr")
	flags.BoolVar(&opts.metrics, "metrics", false, "Print Prometheus metrics to stderr when done")
	flags.BoolVar(&opts.noSync, "no-sync", false, "Skip fsync after each write (faster, a crash may lose writes)")
	flags.BoolVar(&opts.compactOnClose, "compact-on-close", false, "Compact the log before closing")

	rootCmd.AddCommand(
		newPutCmd(opts),
		newGetCmd(opts),
		newDeleteCmd(opts),
		newCompactCmd(opts),
		newStatsCmd(opts),
	)
	return rootCmd
}

// Execute runs the command tree and exits non-zero on error
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		shared.NewLogger(os.Stderr, shared.ERROR).Error("kvlog: %v", err)
		os.Exit(1)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func (o *options) storageConfig() storage.Config {
	cfg := storage.DefaultConfig()
	if o.noSync {
		cfg.SyncMode = wal.SyncNone
	}
	return cfg
}

// withStore opens the store, runs fn against it and always closes it.
// The first error wins; a close error is reported when fn succeeded.
func (o *options) withStore(cmd *cobra.Command, fn func(ctx context.Context, store *telemetry.InstrumentedStore) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := o.logger.WithFields(map[string]interface{}{"db": o.dbPath})

	engine, err := storage.OpenWithConfig(o.dbPath, o.storageConfig())
	if err != nil {
		return fmt.Errorf("open %s: %w", o.dbPath, err)
	}

	sm := engine.GetMetrics()
	logger.Debug("replayed %d records, %d live keys, log is %d bytes", sm.ReplayedRecords, sm.TotalKeys, sm.LogSize)
	if sm.TornBytes > 0 {
		logger.Warn("dropped %d bytes of an incomplete trailing record", sm.TornBytes)
	}

	tracer, err := o.newTracer(cmd)
	if err != nil {
		_ = engine.Close()
		return err
	}
	metrics := telemetry.NewMetrics()
	store := telemetry.Instrument(engine, metrics, tracer)

	name := cmd.Name()
	if !cmd.HasParent() {
		name = "put"
	}
	ctx, span := tracer.StartSpan(ctx, "kvlog."+name)
	defer func() {
		if err == nil && o.compactOnClose {
			err = store.Compact(ctx)
			if err == nil {
				logger.Info("compacted log to %d bytes", engine.GetMetrics().LogSize)
			}
		}
		if closeErr := store.Close(ctx); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", o.dbPath, closeErr)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if shutdownErr := tracer.Shutdown(ctx); shutdownErr != nil {
			logger.Warn("failed to flush spans: %v", shutdownErr)
		}
		if o.metrics {
			if writeErr := metrics.WriteText(cmd.ErrOrStderr()); writeErr != nil {
				logger.Warn("failed to write metrics: %v", writeErr)
			}
		}
	}()

	return fn(ctx, store)
}

func (o *options) newTracer(cmd *cobra.Command) (*telemetry.Tracer, error) {
	if !o.trace {
		return telemetry.NewTracer(serviceName), nil
	}
	tracer, err := telemetry.NewWriterTracer(serviceName, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	return tracer, nil
}
