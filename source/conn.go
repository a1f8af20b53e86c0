// Package source manages the single connection to the relational source.
package source

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConnection marks failures of the connection layer. Queries failing
	// with it are retried after a reconnect.
	ErrConnection = errors.New("source connection error")

	// ErrConnectionUnhealthy is returned when a fresh connection fails its
	// verification round-trip.
	ErrConnectionUnhealthy = errors.New("source connection unhealthy")

	errNotConnected = fmt.Errorf("%w: not connected", ErrConnection)
)

// Row maps column names to values. Array columns are []string, text is string.
type Row map[string]any

// Conn is one live connection to the source.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Close(ctx context.Context) error
}

// Dialer opens a new connection.
type Dialer func(ctx context.Context) (Conn, error)

// IsConnectionError reports whether err came from the connection layer.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

func connectionError(err error) error {
	if err == nil || errors.Is(err, ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

// normalize converts driver values into the shapes loaders and transformers
// expect.
func normalize(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case nil:
				continue
			case string:
				out = append(out, s)
			case []byte:
				out = append(out, string(s))
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		return out
	default:
		return value
	}
}
