package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcknowledgeFoldsSelection(t *testing.T) {
	ctx := context.Background()
	state, _ := newMemState(t)
	tables := []string{"film_work", "genre"}

	require.NoError(t, state.SetStrings(ctx, ProcessedIDsKey("movies", "film_work"), []string{"f1"}))
	require.NoError(t, state.SetStrings(ctx, SelectedIDsKey("movies", "film_work"), []string{"f1", "f2"}))
	require.NoError(t, state.SetStrings(ctx, SelectedIDsKey("movies", "genre"), []string{"g1"}))

	require.NoError(t, state.Acknowledge(ctx, "movies", tables))

	processed, err := state.Strings(ctx, ProcessedIDsKey("movies", "film_work"))
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, processed)

	processed, err = state.Strings(ctx, ProcessedIDsKey("movies", "genre"))
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, processed)

	for _, table := range tables {
		selected, err := state.Strings(ctx, SelectedIDsKey("movies", table))
		require.NoError(t, err)
		assert.Empty(t, selected)
	}
}

func TestAcknowledgeWithoutSelectionKeepsEmptyList(t *testing.T) {
	ctx := context.Background()
	state, _ := newMemState(t)

	require.NoError(t, state.Acknowledge(ctx, "genres", []string{"genre"}))

	value, ok, err := state.Get(ctx, ProcessedIDsKey("genres", "genre"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []any{}, value)
}

func TestCompleteWindow(t *testing.T) {
	ctx := context.Background()
	state, _ := newMemState(t)
	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, state.SetStrings(ctx, ProcessedIDsKey("persons", "person"), []string{"p1"}))

	got, err := state.CompleteWindow(ctx, "persons", []string{"person"}, first)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	processed, err := state.Strings(ctx, ProcessedIDsKey("persons", "person"))
	require.NoError(t, err)
	assert.Empty(t, processed)

	watermark, ok, err := state.Time(ctx, LastScanDateKey("persons"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, watermark)
}

func TestCompleteWindowNeverRegresses(t *testing.T) {
	ctx := context.Background()
	state, _ := newMemState(t)
	later := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	_, err := state.CompleteWindow(ctx, "genres", []string{"genre"}, later)
	require.NoError(t, err)

	got, err := state.CompleteWindow(ctx, "genres", []string{"genre"}, earlier)
	require.NoError(t, err)
	assert.Equal(t, later, got)

	watermark, _, err := state.Time(ctx, LastScanDateKey("genres"))
	require.NoError(t, err)
	assert.Equal(t, later, watermark)
}

func TestOpenWindowKeepsStartUntilComplete(t *testing.T) {
	ctx := context.Background()
	state, storage := newMemState(t)
	opened := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	got, err := state.OpenWindow(ctx, "persons", opened)
	require.NoError(t, err)
	assert.Equal(t, opened, got)

	// a later pass of the same window, after an abort or restart
	got, err = NewState(storage).OpenWindow(ctx, "persons", opened.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, opened, got)

	watermark, err := state.CompleteWindow(ctx, "persons", []string{"person"}, got)
	require.NoError(t, err)
	assert.Equal(t, opened, watermark)

	_, ok, err := state.Get(ctx, WindowStartedKey("persons"))
	require.NoError(t, err)
	assert.False(t, ok)

	next := opened.Add(time.Hour)
	got, err = state.OpenWindow(ctx, "persons", next)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}
