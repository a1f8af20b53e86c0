package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/withobsrvr/postgres-to-es/checkpoint"
	"github.com/withobsrvr/postgres-to-es/config"
	"github.com/withobsrvr/postgres-to-es/etl"
	"github.com/withobsrvr/postgres-to-es/health"
	"github.com/withobsrvr/postgres-to-es/logging"
	"github.com/withobsrvr/postgres-to-es/metrics"
	"github.com/withobsrvr/postgres-to-es/publisher"
	"github.com/withobsrvr/postgres-to-es/resilience"
	"github.com/withobsrvr/postgres-to-es/source"
)

var version = "dev"

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	reset := flag.Bool("reset", false, "Discard the checkpoint and resync every index")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *reset); err != nil {
		fmt.Fprintf(os.Stderr, "postgres-to-es: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, reset bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Service.Version == "dev" {
		cfg.Service.Version = version
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewComponentLogger(cfg.Service.Name, cfg.Service.Version)
	logger.LogStartup(logging.StartupConfig{
		SourceDriver:      cfg.Source.Driver,
		SourceHost:        cfg.Source.Host,
		ElasticsearchURL:  cfg.Elasticsearch.URL,
		CheckpointBackend: cfg.Checkpoint.Backend,
		ChunkSize:         cfg.ETL.ChunkSize,
		ScanDelay:         cfg.ETL.ScanDelay,
		HealthPort:        cfg.Service.HealthPort,
	})

	if cfg.Source.PasswordSecretID != "" || cfg.Checkpoint.Backend == config.BackendS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Checkpoint.S3Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		if err := cfg.ResolveSecrets(ctx, secretsmanager.NewFromConfig(awsCfg)); err != nil {
			return err
		}
		if cfg.Checkpoint.Backend == config.BackendS3 {
			return runWithStorage(ctx, cfg, logger, reset,
				checkpoint.NewS3Storage(s3.NewFromConfig(awsCfg), cfg.Checkpoint.S3Bucket, cfg.Checkpoint.S3Key, logger.Component("checkpoint")))
		}
	}

	dir, name := filepath.Split(cfg.Checkpoint.Path)
	if dir == "" {
		dir = "."
	}
	storage := checkpoint.NewFileStorage(osfs.New(dir), name, logger.Component("checkpoint"))
	return runWithStorage(ctx, cfg, logger, reset, storage)
}

func runWithStorage(ctx context.Context, cfg *config.Config, logger *logging.ComponentLogger, reset bool, storage checkpoint.Storage) error {
	collector := metrics.NewCollector()
	retrier := resilience.NewRetrier(cfg.Retry.Backoff(), logger.Component("retry"), collector)

	state := checkpoint.NewState(storage)
	if reset {
		logger.Warn().Msg("Resetting checkpoint, every index will be resynced")
		if err := state.Reset(ctx); err != nil {
			return err
		}
	}

	dial := source.PgxDialer(cfg.Source.ConnectionString())
	if cfg.Source.Driver == config.DriverPQ {
		dial = source.PQDialer(cfg.Source.ConnectionString())
	}
	db := source.NewManager(dial, retrier, logger.Component("source"))
	if err := db.Open(ctx); err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close(context.Background())

	store, err := publisher.NewElasticStore(publisher.ElasticConfig{
		URL:   cfg.Elasticsearch.URL,
		Sniff: cfg.Elasticsearch.Sniff,
	}, logger.Component("elasticsearch"))
	if err != nil {
		return err
	}
	err = retrier.Do(ctx, "elasticsearch_version", func(ctx context.Context) error {
		_, err := store.CheckVersion(ctx, cfg.Elasticsearch.VersionConstraint)
		return err
	}, resilience.RetryIf(func(err error) bool { return errors.Is(err, publisher.ErrTransport) }))
	if err != nil {
		return err
	}
	pub := publisher.New(store, state, retrier, logger.Component("publisher"), cfg.Elasticsearch.BulkMaxActions)

	pipelines, err := etl.NewPipelines(db, state, cfg.Source.Schema, osfs.New(cfg.Elasticsearch.SchemaPath), logger.Component("loader"))
	if err != nil {
		return err
	}

	orchestrator := etl.NewOrchestrator(pipelines, state, pub, logger.Component("etl"), etl.Config{
		ChunkSize: cfg.ETL.ChunkSize,
		ScanDelay: cfg.ETL.ScanDelay,
	}, etl.WithRecorder(collector))

	if cfg.Service.HealthPort > 0 {
		server := health.NewServer(cfg.Service.HealthPort, orchestrator, collector.Handler(), logger.Component("health"))
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Health server shutdown failed")
			}
		}()
	}

	if err := orchestrator.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("Goodbye")
	return nil
}
