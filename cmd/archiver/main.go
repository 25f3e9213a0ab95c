package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/substrate-archiver/internal/archiver"
	"github.com/withObsrvr/substrate-archiver/internal/audit"
	"github.com/withObsrvr/substrate-archiver/internal/checkpoint"
	"github.com/withObsrvr/substrate-archiver/internal/config"
	"github.com/withObsrvr/substrate-archiver/internal/logging"
	"github.com/withObsrvr/substrate-archiver/internal/metadata"
	"github.com/withObsrvr/substrate-archiver/internal/metrics"
	"github.com/withObsrvr/substrate-archiver/internal/parquetio"
	"github.com/withObsrvr/substrate-archiver/internal/pipeline"
	"github.com/withObsrvr/substrate-archiver/internal/source"
	"github.com/withObsrvr/substrate-archiver/internal/storage"
	"github.com/withObsrvr/substrate-archiver/internal/tables"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "archiver [input]",
		Short:         "Convert Substrate block trace lines into Parquet tables",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "YAML config file")
	f.StringP("out-dir", "o", "", "output directory (local backend)")
	f.Int("rows-per-file", 0, "rows per Parquet file")
	f.Int("rows-per-row-group", 0, "rows per row group")
	f.Int("queue-capacity", 0, "outstanding submissions per record kind")
	f.Int64P("capacity", "c", 0, "also close all files at block heights divisible by this value")
	f.Bool("flush-on-close", true, "write buffered rows when input ends")
	f.String("compression", "", "page compression: snappy, zstd, gzip or none")
	f.String("naming", "", "file naming: height or sequence")
	f.String("id-order", "", "id sort order: lexical or numeric")
	f.String("storage", "", "output backend: local, gcs or s3")
	f.String("bucket", "", "output bucket for gcs and s3")
	f.String("prefix", "", "key prefix inside the output location")
	f.String("metadata-dsn", "", "Postgres DSN for the metadata sidecar")
	f.Bool("checkpoint", false, "resume after the last archived block")
	f.Bool("fresh", false, "discard the saved checkpoint and start over")
	f.Bool("audit", false, "append each published run to the audit chain")
	f.String("audit-endpoint", "", "also post audit events to this URL")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("log-format", "", "text or json")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Input.Path = args[0]
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	log := logging.Component("main")
	log.Info("substrate archiver starting", "version", archiver.Version, "git_sha", archiver.GitSHA)

	fresh, _ := cmd.Flags().GetBool("fresh")
	err = archive(cmd.Context(), cfg, fresh, log)
	if err != nil {
		log.Error("archiver failed", "error", err)
	}
	return err
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	flag := func(name string, dst *bool) {
		if f.Changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}

	str("out-dir", &cfg.Output.Dir)
	num("rows-per-file", &cfg.Rotation.RowsPerFile)
	num("rows-per-row-group", &cfg.Rotation.RowsPerRowGroup)
	num("queue-capacity", &cfg.Queue.Capacity)
	if f.Changed("capacity") {
		cfg.Rotation.BlocksPerFile, _ = f.GetInt64("capacity")
	}
	flag("flush-on-close", &cfg.Rotation.FlushOnClose)
	str("compression", &cfg.Output.Compression)
	str("naming", &cfg.Output.Naming)
	str("id-order", &cfg.Sort.IDOrder)
	str("storage", &cfg.Output.Backend)
	str("bucket", &cfg.Output.Bucket)
	str("prefix", &cfg.Output.Prefix)
	str("metadata-dsn", &cfg.Metadata.PostgresDSN)
	flag("checkpoint", &cfg.Checkpoint.Enabled)
	flag("audit", &cfg.Audit.Enabled)
	str("audit-endpoint", &cfg.Audit.Endpoint)
	str("log-level", &cfg.Logging.Level)
	str("log-format", &cfg.Logging.Format)
	if f.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address, _ = f.GetString("metrics-addr")
	}
	if f.Changed("metadata-dsn") && cfg.Metadata.PostgresDSN != "" {
		cfg.Metadata.Backend = metadata.BackendPostgres
	}
}

func archive(ctx context.Context, cfg config.Config, fresh bool, log *slog.Logger) error {
	naming, err := pipeline.ParseNaming(cfg.Output.Naming)
	if err != nil {
		return err
	}
	order, err := tables.ParseIDOrder(cfg.Sort.IDOrder)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		metrics.Init("", nil)
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
		log.Info("serving metrics", "address", cfg.Metrics.Address)
	}

	// Setup must not be interrupted; only reading input is.
	setupCtx := context.WithoutCancel(ctx)

	store, err := storage.NewStore(setupCtx, storage.Config{
		Backend:    cfg.Output.Backend,
		LocalDir:   cfg.Output.Dir,
		GCSBucket:  cfg.Output.Bucket,
		S3Bucket:   cfg.Output.Bucket,
		S3Endpoint: cfg.Output.S3Endpoint,
		S3Region:   cfg.Output.S3Region,
		Prefix:     cfg.Output.Prefix,
	})
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer store.Close()

	creator, err := parquetio.NewCreator(store, parquetio.Options{
		Compression: cfg.Output.Compression,
		Version:     archiver.Version,
	})
	if err != nil {
		return err
	}

	meta, err := metadata.Open(setupCtx, metadata.Config{
		Backend:     cfg.Metadata.Backend,
		SQLitePath:  cfg.SQLitePath(),
		PostgresDSN: cfg.Metadata.PostgresDSN,
	})
	if err != nil {
		return fmt.Errorf("open metadata sidecar: %w", err)
	}
	defer meta.Close()

	cp, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.CheckpointDir(),
		Name:    cfg.Checkpoint.Name,
	})
	if err != nil {
		return err
	}

	auditor, err := audit.NewEmitter(audit.Config{
		Enabled:  cfg.Audit.Enabled,
		Dir:      cfg.AuditDir(),
		Endpoint: cfg.Audit.Endpoint,
	})
	if err != nil {
		return err
	}
	defer auditor.Close()

	in, err := source.Open(setupCtx, cfg.Input.Path, source.Options{
		S3Endpoint: cfg.Input.S3Endpoint,
		S3Region:   cfg.Input.S3Region,
	})
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	a := archiver.New(archiver.Options{
		RowsPerFile:     cfg.Rotation.RowsPerFile,
		RowsPerRowGroup: cfg.Rotation.RowsPerRowGroup,
		QueueCapacity:   cfg.Queue.Capacity,
		BlocksPerFile:   cfg.Rotation.BlocksPerFile,
		FlushOnClose:    cfg.Rotation.FlushOnClose,
		Naming:          naming,
		IDOrder:         order,
		Policy: archiver.Policy{
			SkipDecode:       cfg.Errors.SkipDecode,
			SkipMalformedIDs: cfg.Errors.SkipMalformedIDs,
			SkipEncoding:     cfg.Errors.SkipEncoding,
		},
		InputName: cfg.Input.Path,
		Fresh:     fresh,
		Audit:     auditor,
	}, store, creator, meta, cp, metrics.Get())

	res, err := a.Run(ctx, in)
	if err != nil {
		return err
	}
	if res.Interrupted {
		log.Info("shutdown complete", "last_block", res.LastHeight)
	}
	log.Info("archive written", "location", store.URI(""), "files", len(res.Files))
	return nil
}
