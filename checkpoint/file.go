package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/withobsrvr/postgres-to-es/logging"
)

// FileStorage keeps the state as one JSON file on a billy filesystem.
type FileStorage struct {
	fs     billy.Filesystem
	name   string
	logger *logging.ComponentLogger
}

// NewFileStorage creates a file-backed storage for name inside fs
func NewFileStorage(fs billy.Filesystem, name string, logger *logging.ComponentLogger) *FileStorage {
	return &FileStorage{
		fs:     fs,
		name:   name,
		logger: logger,
	}
}

// Retrieve loads the state file. Missing and corrupt files read as empty.
func (s *FileStorage) Retrieve(ctx context.Context) (map[string]any, error) {
	data, err := util.ReadFile(s.fs, s.name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, &StorageError{Op: "read", Err: err}
	}

	state := map[string]any{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn().
			Str("checkpoint_file", s.name).
			Err(err).
			Msg("Checkpoint file is corrupt, starting from empty state")
		return map[string]any{}, nil
	}
	return state, nil
}

// Save writes the state atomically using a temp file and rename.
func (s *FileStorage) Save(ctx context.Context, state map[string]any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &StorageError{Op: "marshal", Err: err}
	}

	dir := path.Dir(s.name)
	if dir != "." && dir != "/" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return &StorageError{Op: "mkdir", Err: err}
		}
	}

	tmp, err := s.fs.TempFile(dir, ".checkpoint-")
	if err != nil {
		return &StorageError{Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return &StorageError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return &StorageError{Op: "close", Err: err}
	}

	if err := s.fs.Rename(tmpName, s.name); err != nil {
		s.fs.Remove(tmpName)
		return &StorageError{Op: "rename", Err: fmt.Errorf("%s -> %s: %w", tmpName, s.name, err)}
	}

	s.logger.Debug().
		Str("checkpoint_file", s.name).
		Int("keys", len(state)).
		Msg("Checkpoint saved")
	return nil
}
