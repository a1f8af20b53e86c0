package checkpoint

import (
	"context"
	"time"
)

// Acknowledge folds the staged selection of every table into its processed
// set and clears the selection. Called once a page is published.
func (s *State) Acknowledge(ctx context.Context, index string, tables []string) error {
	current, err := s.storage.Retrieve(ctx)
	if err != nil {
		return err
	}

	for _, table := range tables {
		selected := toStrings(current[SelectedIDsKey(index, table)])
		processed := toStrings(current[ProcessedIDsKey(index, table)])
		if processed == nil {
			processed = []string{}
		}

		seen := make(map[string]struct{}, len(processed))
		for _, id := range processed {
			seen[id] = struct{}{}
		}
		for _, id := range selected {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			processed = append(processed, id)
		}

		current[ProcessedIDsKey(index, table)] = processed
		current[SelectedIDsKey(index, table)] = []string{}
	}
	return s.storage.Save(ctx, current)
}

// OpenWindow returns the start of the open scan window of index, recording
// now as the start when no window is open.
func (s *State) OpenWindow(ctx context.Context, index string, now time.Time) (time.Time, error) {
	current, err := s.storage.Retrieve(ctx)
	if err != nil {
		return time.Time{}, err
	}

	key := WindowStartedKey(index)
	if raw, ok := current[key].(string); ok {
		if started, err := parseTimestamp(raw); err == nil {
			return started, nil
		}
	}

	current[key] = now.UTC().Format(time.RFC3339Nano)
	if err := s.storage.Save(ctx, current); err != nil {
		return time.Time{}, err
	}
	return now.UTC(), nil
}

// CompleteWindow records a finished pass: the watermark moves to watermark
// and the id sets of every table are emptied for the next window. The
// watermark passed in is the window start returned by OpenWindow. The
// watermark never moves backwards.
func (s *State) CompleteWindow(ctx context.Context, index string, tables []string, watermark time.Time) (time.Time, error) {
	current, err := s.storage.Retrieve(ctx)
	if err != nil {
		return time.Time{}, err
	}

	if raw, ok := current[LastScanDateKey(index)].(string); ok {
		if previous, err := parseTimestamp(raw); err == nil && previous.After(watermark) {
			watermark = previous
		}
	}

	current[LastScanDateKey(index)] = watermark.UTC().Format(time.RFC3339Nano)
	delete(current, WindowStartedKey(index))
	for _, table := range tables {
		current[ProcessedIDsKey(index, table)] = []string{}
		current[SelectedIDsKey(index, table)] = []string{}
	}
	if err := s.storage.Save(ctx, current); err != nil {
		return time.Time{}, err
	}
	return watermark.UTC(), nil
}

func toStrings(value any) []string {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
