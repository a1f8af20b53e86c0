package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/withobsrvr/postgres-to-es/checkpoint"
	"github.com/withobsrvr/postgres-to-es/document"
	"github.com/withobsrvr/postgres-to-es/source"
)

// GenreLoader returns changed genres directly. The genre table is small so
// the page limit is ignored.
type GenreLoader struct {
	db      Querier
	tracker *Tracker
}

// NewGenreLoader creates the genres loader
func NewGenreLoader(db Querier, state *checkpoint.State, schema string) *GenreLoader {
	return &GenreLoader{
		db:      db,
		tracker: NewTracker(db, state, document.IndexGenres, schema),
	}
}

func (l *GenreLoader) Index() string {
	return document.IndexGenres
}

func (l *GenreLoader) Tables() []string {
	return []string{TableGenre}
}

func (l *GenreLoader) Load(ctx context.Context, since time.Time, _ int) ([]source.Row, error) {
	excluded, err := l.tracker.ProcessedIDs(ctx, TableGenre)
	if err != nil {
		return nil, err
	}
	if excluded == nil {
		excluded = []string{}
	}

	rows, err := l.db.Execute(ctx, genresQuery(l.tracker.Schema()), since, excluded)
	if err != nil {
		return nil, fmt.Errorf("select changed genres: %w", err)
	}

	ids, err := columnStrings(rows, "id")
	if err != nil {
		return nil, err
	}
	if err := l.tracker.StageAndRecord(ctx, TableGenre, ids); err != nil {
		return nil, err
	}
	return rows, nil
}

func genresQuery(schema string) string {
	return fmt.Sprintf(`SELECT id::text AS id, name, COALESCE(description, '') AS description
FROM %s.genre
WHERE modified > $1 AND NOT (id::text = ANY($2))
ORDER BY modified`, schema)
}
