// Package publisher writes documents to the search index and acknowledges
// published pages in the checkpoint.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/withobsrvr/postgres-to-es/document"
)

// ErrTransport marks transient failures talking to the index: network
// errors, timeouts and overload responses. They are retried.
var ErrTransport = errors.New("index transport error")

// Store is the target search engine.
type Store interface {
	// EnsureIndex creates the index with schema unless it already exists.
	EnsureIndex(ctx context.Context, name string, schema []byte) error
	// Bulk applies actions in one request and returns the per-document
	// rejections. A non-nil error means the request itself failed.
	Bulk(ctx context.Context, actions []document.Action) ([]Failure, error)
}

// Failure is one document rejected by the store.
type Failure struct {
	Index  string
	ID     string
	Status int
	Reason string
}

// RejectedError reports a bulk publish in which some documents were
// rejected. Nothing of the page is acknowledged.
type RejectedError struct {
	Index    string
	Total    int
	Failures []Failure
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("bulk publish to %s: %d of %d documents rejected", e.Index, len(e.Failures), e.Total)
}

// IsRejected reports whether err wraps a *RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

func transportError(err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
