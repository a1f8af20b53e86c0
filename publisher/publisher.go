package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/withobsrvr/postgres-to-es/checkpoint"
	"github.com/withobsrvr/postgres-to-es/document"
	"github.com/withobsrvr/postgres-to-es/logging"
	"github.com/withobsrvr/postgres-to-es/resilience"
)

// DefaultMaxActions caps the number of actions per bulk request.
const DefaultMaxActions = 500

// Publisher sends chunks to a Store and acknowledges them in the checkpoint.
type Publisher struct {
	store      Store
	state      *checkpoint.State
	retrier    *resilience.Retrier
	logger     *logging.ComponentLogger
	maxActions int
}

// New creates a publisher. maxActions <= 0 uses DefaultMaxActions.
func New(store Store, state *checkpoint.State, retrier *resilience.Retrier, logger *logging.ComponentLogger, maxActions int) *Publisher {
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}
	return &Publisher{
		store:      store,
		state:      state,
		retrier:    retrier,
		logger:     logger,
		maxActions: maxActions,
	}
}

// EnsureCollection creates the index if missing, retrying every failure
// until it succeeds or ctx is done.
func (p *Publisher) EnsureCollection(ctx context.Context, name string, schema []byte) error {
	return p.retrier.Do(ctx, "ensure_index", func(ctx context.Context) error {
		return p.store.EnsureIndex(ctx, name, schema)
	})
}

// BulkPublish writes actions and, when every document was accepted,
// acknowledges the staged ids of tables for index. Transport failures are
// retried. Rejected documents are logged and a *RejectedError is returned
// without acknowledging anything.
func (p *Publisher) BulkPublish(ctx context.Context, index string, tables []string, actions []document.Action) error {
	var failures []Failure
	for start := 0; start < len(actions); start += p.maxActions {
		end := min(start+p.maxActions, len(actions))
		batch := actions[start:end]

		var rejected []Failure
		err := p.retrier.Do(ctx, "bulk_publish", func(ctx context.Context) error {
			var err error
			rejected, err = p.store.Bulk(ctx, batch)
			return err
		}, resilience.RetryIf(isTransport))
		if err != nil {
			return fmt.Errorf("publish %s: %w", index, err)
		}
		failures = append(failures, rejected...)
	}

	if len(failures) > 0 {
		for _, f := range failures {
			p.logger.Error().
				Str("index", f.Index).
				Str("document_id", f.ID).
				Int("status", f.Status).
				Str("reason", f.Reason).
				Msg("Document rejected")
		}
		return &RejectedError{Index: index, Total: len(actions), Failures: failures}
	}

	if err := p.state.Acknowledge(ctx, index, tables); err != nil {
		return fmt.Errorf("acknowledge %s: %w", index, err)
	}
	return nil
}

func isTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
