package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/withobsrvr/postgres-to-es/logging"
	"github.com/withobsrvr/postgres-to-es/resilience"
)

const healthCheckQuery = "SELECT 1 AS ok"

// Manager owns the single source connection. Connection failures during a
// query are retried with backoff and the connection is replaced in place.
type Manager struct {
	dial    Dialer
	retrier *resilience.Retrier
	logger  *logging.ComponentLogger

	mu   sync.Mutex
	conn Conn
}

// NewManager creates a connection manager. It does not connect.
func NewManager(dial Dialer, retrier *resilience.Retrier, logger *logging.ComponentLogger) *Manager {
	return &Manager{
		dial:    dial,
		retrier: retrier,
		logger:  logger,
	}
}

// Connect dials a new connection, verifies it with a trivial query and makes
// it the current one.
func (m *Manager) Connect(ctx context.Context) error {
	conn, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial source: %w", err)
	}

	rows, err := conn.Query(ctx, healthCheckQuery)
	if err != nil || len(rows) != 1 {
		conn.Close(ctx)
		if err == nil {
			err = fmt.Errorf("health check returned %d rows", len(rows))
		}
		return fmt.Errorf("%w: %w", ErrConnectionUnhealthy, err)
	}

	m.mu.Lock()
	old := m.conn
	m.conn = conn
	m.mu.Unlock()

	if old != nil {
		if err := old.Close(ctx); err != nil {
			m.logger.Debug().Err(err).Msg("Closing replaced source connection failed")
		}
	}

	m.logger.Info().Msg("Connected to source database")
	return nil
}

// Open connects at startup, retrying connection failures until ctx is done.
func (m *Manager) Open(ctx context.Context) error {
	return m.retrier.Do(ctx, "source_connect", m.Connect,
		resilience.RetryIf(func(err error) bool {
			return IsConnectionError(err) || errors.Is(err, ErrConnectionUnhealthy)
		}))
}

// Execute runs a parameterized query and returns all rows. Connection errors
// trigger a reconnect and another attempt. Other errors return immediately.
func (m *Manager) Execute(ctx context.Context, query string, args ...any) ([]Row, error) {
	var rows []Row
	err := m.retrier.Do(ctx, "source_query", func(ctx context.Context) error {
		conn := m.current()
		if conn == nil {
			return errNotConnected
		}
		result, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		rows = result
		return nil
	},
		resilience.RetryIf(IsConnectionError),
		resilience.BeforeRetry(m.Connect),
	)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Close releases the connection. Errors are logged, never returned.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Close(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to close source connection")
		return
	}
	m.logger.Info().Msg("Source connection closed")
}

func (m *Manager) current() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}
