// Package etl runs the sync loop: one pass over every index, then a sleep,
// until the context is cancelled.
package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/withobsrvr/postgres-to-es/checkpoint"
	"github.com/withobsrvr/postgres-to-es/document"
	"github.com/withobsrvr/postgres-to-es/loader"
	"github.com/withobsrvr/postgres-to-es/logging"
	"github.com/withobsrvr/postgres-to-es/publisher"
	"github.com/withobsrvr/postgres-to-es/transform"
)

// Pipeline binds the loader, transformer and index schema of one index.
type Pipeline struct {
	Loader      loader.Loader
	Transformer transform.Transformer
	Schema      []byte
}

// Index returns the index the pipeline fills.
func (p Pipeline) Index() string {
	return p.Loader.Index()
}

// Publisher writes chunks and acknowledges them. *publisher.Publisher
// implements it.
type Publisher interface {
	EnsureCollection(ctx context.Context, name string, schema []byte) error
	BulkPublish(ctx context.Context, index string, tables []string, actions []document.Action) error
}

// Recorder receives pass and chunk metrics. *metrics.Collector implements it.
type Recorder interface {
	RecordChunk(index string, documents int, duration time.Duration)
	RecordRejected(index string, documents int)
	RecordPassError(index string)
	RecordPass(index string, watermark time.Time, duration time.Duration)
}

// Config holds the loop tunables
type Config struct {
	ChunkSize int
	ScanDelay time.Duration
}

// Orchestrator syncs indexes one after another, never concurrently.
type Orchestrator struct {
	pipelines []Pipeline
	state     *checkpoint.State
	publisher Publisher
	recorder  Recorder
	logger    *logging.ComponentLogger
	config    Config
	now       func() time.Time

	mu    sync.RWMutex
	stats Stats
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates the sync loop over pipelines, run in order.
func NewOrchestrator(pipelines []Pipeline, state *checkpoint.State, pub Publisher, logger *logging.ComponentLogger, config Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pipelines: pipelines,
		state:     state,
		publisher: pub,
		recorder:  nopRecorder{},
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.stats = newStats(pipelines, o.now())
	return o
}

// Run repeats passes until ctx is cancelled, which returns nil. A checkpoint
// storage failure stops the loop and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info().
		Int("indexes", len(o.pipelines)).
		Int("chunk_size", o.config.ChunkSize).
		Dur("scan_delay", o.config.ScanDelay).
		Msg("Sync loop started")

	for {
		if err := o.RunPass(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			o.setPhase(PhaseStopped, "", "")
			return err
		}

		o.setPhase(PhaseIdle, "", "")
		if err := sleep(ctx, o.config.ScanDelay); err != nil {
			break
		}
	}

	o.setPhase(PhaseStopped, "", "")
	o.logger.Info().Msg("Sync loop stopped")
	return nil
}

// RunPass syncs every index once. An index failing with a query, transform
// or rejection error is logged and skipped until the next pass.
func (o *Orchestrator) RunPass(ctx context.Context) error {
	passID := uuid.NewString()
	logger := o.logger.With("pass_id", passID)
	started := o.now()

	for _, p := range o.pipelines {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := o.syncIndex(ctx, logger.With("index", p.Index()), passID, p)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if checkpoint.IsStorageError(err) {
			logger.Error().Str("index", p.Index()).Err(err).Msg("Checkpoint storage failed")
			return err
		}

		o.recorder.RecordPassError(p.Index())
		o.recordError(p.Index(), err)
		logger.Error().
			Str("index", p.Index()).
			Err(err).
			Msg("Index pass aborted, retrying on next pass")
	}

	o.mu.Lock()
	o.stats.Passes++
	o.mu.Unlock()

	logger.Info().
		Dur("duration", o.now().Sub(started)).
		Msg("Pass completed")
	return nil
}

func (o *Orchestrator) syncIndex(ctx context.Context, logger *logging.ComponentLogger, passID string, p Pipeline) error {
	index := p.Index()
	tables := p.Loader.Tables()
	started := o.now()

	o.setPhase(PhaseScanning, index, passID)
	since, _, err := o.state.Time(ctx, checkpoint.LastScanDateKey(index))
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	windowStart, err := o.state.OpenWindow(ctx, index, started)
	if err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	if err := o.publisher.EnsureCollection(ctx, index, p.Schema); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}

	logger.Info().Time("since", since).Msg("Scanning for changes")

	documents := 0
	for {
		chunkStart := time.Now()

		o.setPhase(PhaseLoading, index, passID)
		rows, err := p.Loader.Load(ctx, since, o.config.ChunkSize)
		if err != nil {
			return fmt.Errorf("load: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		o.setPhase(PhaseTransforming, index, passID)
		actions, err := p.Transformer.Transform(rows)
		if err != nil {
			return fmt.Errorf("transform: %w", err)
		}

		o.setPhase(PhasePublishing, index, passID)
		if err := o.publisher.BulkPublish(ctx, index, tables, actions); err != nil {
			var rejected *publisher.RejectedError
			if errors.As(err, &rejected) {
				o.recorder.RecordRejected(index, len(rejected.Failures))
			}
			return err
		}

		documents += len(actions)
		o.recordChunk(index, len(actions))
		o.recorder.RecordChunk(index, len(actions), time.Since(chunkStart))
		logger.LogChunk(index, len(rows), len(actions), time.Since(chunkStart))
	}

	watermark, err := o.state.CompleteWindow(ctx, index, tables, windowStart)
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}

	duration := o.now().Sub(started)
	o.recordPass(index, watermark)
	o.recorder.RecordPass(index, watermark, duration)
	logger.Info().
		Int("documents", documents).
		Time("watermark", watermark).
		Dur("duration", duration).
		Msg("Index pass completed")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordChunk(string, int, time.Duration)      {}
func (nopRecorder) RecordRejected(string, int)                  {}
func (nopRecorder) RecordPassError(string)                      {}
func (nopRecorder) RecordPass(string, time.Time, time.Duration) {}
