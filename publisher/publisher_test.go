package publisher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/olivere/elastic/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withobsrvr/postgres-to-es/checkpoint"
	"github.com/withobsrvr/postgres-to-es/document"
	"github.com/withobsrvr/postgres-to-es/logging"
	"github.com/withobsrvr/postgres-to-es/resilience"
)

func newTestPublisher(t *testing.T, store Store, maxActions int) (*Publisher, *checkpoint.State) {
	t.Helper()
	logger := logging.NewNopLogger()
	state := checkpoint.NewState(checkpoint.NewFileStorage(memfs.New(), "etl_state.json", logger))
	retrier := resilience.NewRetrier(resilience.NoDelay(), logger, nil)
	return New(store, state, retrier, logger, maxActions), state
}

func genreActions(ids ...string) []document.Action {
	actions := make([]document.Action, 0, len(ids))
	for _, id := range ids {
		actions = append(actions, document.NewIndexAction("genres", id, document.Genre{UUID: id, Name: "Genre " + id}))
	}
	return actions
}

func TestBulkPublishAcknowledges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p, state := newTestPublisher(t, store, 0)

	require.NoError(t, state.SetStrings(ctx, checkpoint.SelectedIDsKey("genres", "genre"), []string{"g1", "g2"}))
	require.NoError(t, p.BulkPublish(ctx, "genres", []string{"genre"}, genreActions("g1", "g2")))

	assert.Equal(t, []string{"g1", "g2"}, store.IDs("genres"))

	processed, err := state.Strings(ctx, checkpoint.ProcessedIDsKey("genres", "genre"))
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, processed)

	selected, err := state.Strings(ctx, checkpoint.SelectedIDsKey("genres", "genre"))
	require.NoError(t, err)
	assert.Empty(t, selected)
}

func TestBulkPublishIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p, _ := newTestPublisher(t, store, 0)
	actions := genreActions("g1", "g2")

	require.NoError(t, p.BulkPublish(ctx, "genres", nil, actions))
	first, _ := store.Document("genres", "g1")
	ids := store.IDs("genres")

	require.NoError(t, p.BulkPublish(ctx, "genres", nil, actions))
	second, _ := store.Document("genres", "g1")

	assert.Equal(t, ids, store.IDs("genres"))
	assert.JSONEq(t, string(first), string(second))
}

func TestBulkPublishPartialRejectionDoesNotAcknowledge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Reject = func(a document.Action) string {
		if a.ID == "g2" {
			return "mapper_parsing_exception: failed to parse field [name]"
		}
		return ""
	}
	p, state := newTestPublisher(t, store, 0)
	require.NoError(t, state.SetStrings(ctx, checkpoint.SelectedIDsKey("genres", "genre"), []string{"g1", "g2"}))

	err := p.BulkPublish(ctx, "genres", []string{"genre"}, genreActions("g1", "g2"))
	require.Error(t, err)
	assert.True(t, IsRejected(err))

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 2, rejected.Total)
	require.Len(t, rejected.Failures, 1)
	assert.Equal(t, "g2", rejected.Failures[0].ID)

	processed, err := state.Strings(ctx, checkpoint.ProcessedIDsKey("genres", "genre"))
	require.NoError(t, err)
	assert.Empty(t, processed)

	selected, err := state.Strings(ctx, checkpoint.SelectedIDsKey("genres", "genre"))
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, selected)
}

func TestBulkPublishRetriesTransportErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.TransportFailures = 3
	p, _ := newTestPublisher(t, store, 0)

	require.NoError(t, p.BulkPublish(ctx, "genres", nil, genreActions("g1")))
	assert.Equal(t, 4, store.BulkCalls())
	assert.Equal(t, []string{"g1"}, store.IDs("genres"))
}

type erroringStore struct {
	MemoryStore
	err   error
	calls int
}

func (s *erroringStore) Bulk(ctx context.Context, actions []document.Action) ([]Failure, error) {
	s.calls++
	return nil, s.err
}

func TestBulkPublishDoesNotRetryRequestErrors(t *testing.T) {
	ctx := context.Background()
	store := &erroringStore{err: errors.New("illegal_argument_exception")}
	p, _ := newTestPublisher(t, store, 0)

	err := p.BulkPublish(ctx, "genres", nil, genreActions("g1"))
	require.Error(t, err)
	assert.Equal(t, 1, store.calls)
	assert.False(t, IsRejected(err))
}

func TestBulkPublishSplitsRequests(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p, _ := newTestPublisher(t, store, 2)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, fmt.Sprintf("g%d", i))
	}
	require.NoError(t, p.BulkPublish(ctx, "genres", nil, genreActions(ids...)))
	assert.Equal(t, 3, store.BulkCalls())
	assert.Len(t, store.IDs("genres"), 5)
}

func TestEnsureCollection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.TransportFailures = 2
	p, _ := newTestPublisher(t, store, 0)
	schema := []byte(`{"mappings":{"properties":{"name":{"type":"text"}}}}`)

	require.NoError(t, p.EnsureCollection(ctx, "genres", schema))
	require.NoError(t, p.EnsureCollection(ctx, "genres", []byte(`{}`)))

	got, ok := store.Schema("genres")
	require.True(t, ok)
	assert.JSONEq(t, string(schema), string(got))
}

func TestLoadSchema(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "movies.json", []byte(`{"settings":{}}`), 0o644))
	require.NoError(t, util.WriteFile(fs, "broken.json", []byte(`{"settings":`), 0o644))

	data, err := LoadSchema(fs, "movies")
	require.NoError(t, err)
	assert.JSONEq(t, `{"settings":{}}`, string(data))

	_, err = LoadSchema(fs, "broken")
	assert.Error(t, err)

	_, err = LoadSchema(fs, "persons")
	assert.Error(t, err)
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		version    string
		constraint string
		ok         bool
	}{
		{"7.17.9", ">= 7.0, < 9.0", true},
		{"8.11.1", ">= 7.0, < 9.0", true},
		{"6.8.23", ">= 7.0, < 9.0", false},
		{"9.0.0", ">= 7.0, < 9.0", false},
		{"not-a-version", ">= 7.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := checkVersion(tt.version, tt.constraint)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestClassifyElastic(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"overloaded", &elastic.Error{Status: 429}, true},
		{"unavailable", &elastic.Error{Status: 503}, true},
		{"bad request", &elastic.Error{Status: 400}, false},
		{"no client", elastic.ErrNoClient, true},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, isTransport(classifyElastic(tt.err)))
		})
	}
}

func TestIsAlreadyExists(t *testing.T) {
	exists := &elastic.Error{Status: 400, Details: &elastic.ErrorDetails{Type: "resource_already_exists_exception"}}
	assert.True(t, isAlreadyExists(fmt.Errorf("create: %w", exists)))
	assert.False(t, isAlreadyExists(&elastic.Error{Status: 400}))
}
