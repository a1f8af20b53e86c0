// Package checkpoint keeps durable scan progress for the sync loop.
//
// State is a flat key/value document. Every Get reads the whole document from
// its Storage and every Set reads, modifies and writes it back, so exactly one
// process may own a given backing document at a time.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Storage persists the serialized state document.
type Storage interface {
	// Retrieve returns the stored state. A missing or unreadable document
	// yields an empty map and no error.
	Retrieve(ctx context.Context) (map[string]any, error)
	// Save replaces the stored state.
	Save(ctx context.Context, state map[string]any) error
}

// StorageError reports an I/O failure of the backing medium. The sync loop
// treats it as fatal.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("checkpoint storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// LastScanDateKey holds the watermark of an index.
func LastScanDateKey(index string) string {
	return index + ":last_scan_date"
}

// WindowStartedKey holds the time the open scan window of index began. It
// survives aborted passes and restarts until the window completes.
func WindowStartedKey(index string) string {
	return index + ":window_started"
}

// ProcessedIDsKey holds ids of table already published during the current
// scan window of index.
func ProcessedIDsKey(index, table string) string {
	return index + ":" + table + ":already_processed_ids"
}

// SelectedIDsKey holds ids of table selected by the page in flight.
func SelectedIDsKey(index, table string) string {
	return index + ":" + table + ":current_iteration_selected_ids"
}

// State reads and writes checkpoint entries
type State struct {
	storage Storage
}

// NewState creates a state over storage
func NewState(storage Storage) *State {
	return &State{storage: storage}
}

// Get returns the value stored under key.
func (s *State) Get(ctx context.Context, key string) (any, bool, error) {
	current, err := s.storage.Retrieve(ctx)
	if err != nil {
		return nil, false, err
	}
	value, ok := current[key]
	return value, ok, nil
}

// Set stores value under key. value must be JSON serializable.
func (s *State) Set(ctx context.Context, key string, value any) error {
	current, err := s.storage.Retrieve(ctx)
	if err != nil {
		return err
	}
	current[key] = value
	return s.storage.Save(ctx, current)
}

// Reset drops every entry.
func (s *State) Reset(ctx context.Context) error {
	return s.storage.Save(ctx, map[string]any{})
}

// Strings returns the id list stored under key, or nil when absent.
func (s *State) Strings(ctx context.Context, key string) ([]string, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok || value == nil {
		return nil, err
	}

	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			} else {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("checkpoint key %q holds %T, want a list", key, value)
	}
}

// SetStrings stores an id list under key. A nil list is stored as [].
func (s *State) SetStrings(ctx context.Context, key string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	return s.Set(ctx, key, ids)
}

// Time returns the timestamp stored under key.
func (s *State) Time(ctx context.Context, key string) (time.Time, bool, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok || value == nil {
		return time.Time{}, false, err
	}

	str, isString := value.(string)
	if !isString || str == "" {
		return time.Time{}, false, fmt.Errorf("checkpoint key %q holds %T, want a timestamp", key, value)
	}

	t, err := parseTimestamp(str)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("checkpoint key %q: %w", key, err)
	}
	return t, true, nil
}

// SetTime stores t as an RFC 3339 UTC timestamp.
func (s *State) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.Set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

// parseTimestamp accepts RFC 3339 and the zone-less ISO-8601 form written by
// earlier deployments.
func parseTimestamp(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.999999999", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
	}
	return t.UTC(), nil
}
