package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/withobsrvr/postgres-to-es/checkpoint"
	"github.com/withobsrvr/postgres-to-es/document"
	"github.com/withobsrvr/postgres-to-es/logging"
	"github.com/withobsrvr/postgres-to-es/source"
)

// MovieLoader loads film works changed directly or through a changed genre
// or person.
type MovieLoader struct {
	db      Querier
	tracker *Tracker
	logger  *logging.ComponentLogger
}

// NewMovieLoader creates the movies loader
func NewMovieLoader(db Querier, state *checkpoint.State, schema string, logger *logging.ComponentLogger) *MovieLoader {
	return &MovieLoader{
		db:      db,
		tracker: NewTracker(db, state, document.IndexMovies, schema),
		logger:  logger.With("index", document.IndexMovies),
	}
}

func (l *MovieLoader) Index() string {
	return document.IndexMovies
}

func (l *MovieLoader) Tables() []string {
	return []string{TableFilmWork, TableGenre, TablePerson}
}

// Load selects changed film works plus film works referencing changed
// genres and persons, then fetches them fully joined.
func (l *MovieLoader) Load(ctx context.Context, since time.Time, limit int) ([]source.Row, error) {
	cascade, err := l.shouldCascade(ctx, since)
	if err != nil {
		return nil, err
	}

	for {
		selected, filmIDs, err := l.selectPage(ctx, since, limit, cascade)
		if err != nil {
			return nil, err
		}
		if filmIDs.len() > 0 {
			rows, err := l.db.Execute(ctx, movieJoinQuery(l.tracker.Schema()), filmIDs.list())
			if err != nil {
				return nil, fmt.Errorf("join film works: %w", err)
			}
			return rows, nil
		}
		if selected == 0 {
			return nil, nil
		}
		// related rows changed but no film references them
		if err := l.tracker.SkipPage(ctx, l.Tables()); err != nil {
			return nil, err
		}
	}
}

// selectPage stages one page of changed ids per table and returns how many
// were selected together with the film works they resolve to.
func (l *MovieLoader) selectPage(ctx context.Context, since time.Time, limit int, cascade bool) (int, *idSet, error) {
	selected := 0
	filmIDs := newIDSet()
	for _, table := range l.Tables() {
		if table != TableFilmWork && !cascade {
			continue
		}

		excluded, err := l.tracker.ProcessedIDs(ctx, table)
		if err != nil {
			return 0, nil, err
		}
		ids, err := l.tracker.SelectChangedIDs(ctx, table, since, excluded, limit)
		if err != nil {
			return 0, nil, err
		}
		if err := l.tracker.StageAndRecord(ctx, table, ids); err != nil {
			return 0, nil, err
		}
		selected += len(ids)

		if table == TableFilmWork {
			filmIDs.add(ids...)
			continue
		}
		related, err := l.filmsReferencing(ctx, table, ids)
		if err != nil {
			return 0, nil, err
		}
		filmIDs.add(related...)
	}
	return selected, filmIDs, nil
}

// shouldCascade decides whether related tables are scanned. Without a
// watermark a full film_work scan already covers every film, unless related
// tables already carry progress in this window.
func (l *MovieLoader) shouldCascade(ctx context.Context, since time.Time) (bool, error) {
	if !since.IsZero() {
		return true, nil
	}
	for _, table := range l.Tables() {
		if table == TableFilmWork {
			continue
		}
		processed, err := l.tracker.ProcessedIDs(ctx, table)
		if err != nil {
			return false, err
		}
		if len(processed) > 0 {
			l.logger.Warn().
				Str("table", table).
				Int("processed_ids", len(processed)).
				Msg("No watermark but related table has progress, resolving related changes")
			return true, nil
		}
	}
	return false, nil
}

func (l *MovieLoader) filmsReferencing(ctx context.Context, table string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := l.db.Execute(ctx, filmsByRelatedQuery(l.tracker.Schema(), table), ids)
	if err != nil {
		return nil, fmt.Errorf("resolve film works for %s: %w", table, err)
	}
	return columnStrings(rows, "id")
}

func filmsByRelatedQuery(schema, table string) string {
	return fmt.Sprintf(`SELECT fw.id::text AS id
FROM %[1]s.film_work fw
WHERE fw.id IN (
    SELECT rel.film_work_id FROM %[1]s.%[2]s_film_work rel
    WHERE rel.%[2]s_id::text = ANY($1)
)
ORDER BY fw.modified`, schema, table)
}

// Aggregates encode each relation as "id::name". Missing relations from the
// outer joins encode as "::".
func movieJoinQuery(schema string) string {
	return fmt.Sprintf(`SELECT
    fw.id::text AS id,
    fw.title,
    fw.description,
    fw.rating::float8 AS imdb_rating,
    ARRAY_AGG(DISTINCT CONCAT(g.id, '::', g.name)) AS genres,
    ARRAY_AGG(DISTINCT CONCAT(p_actor.id, '::', p_actor.full_name)) AS actors,
    ARRAY_AGG(DISTINCT CONCAT(p_writer.id, '::', p_writer.full_name)) AS writers,
    ARRAY_AGG(DISTINCT CONCAT(p_director.id, '::', p_director.full_name)) AS directors
FROM %[1]s.film_work fw
LEFT JOIN %[1]s.genre_film_work gfw ON gfw.film_work_id = fw.id
LEFT JOIN %[1]s.genre g ON g.id = gfw.genre_id
LEFT JOIN %[1]s.person_film_work pfw ON pfw.film_work_id = fw.id
LEFT JOIN %[1]s.person p_actor ON p_actor.id = pfw.person_id AND pfw.role = 'actor'
LEFT JOIN %[1]s.person p_writer ON p_writer.id = pfw.person_id AND pfw.role = 'writer'
LEFT JOIN %[1]s.person p_director ON p_director.id = pfw.person_id AND pfw.role = 'director'
WHERE fw.id::text = ANY($1)
GROUP BY fw.id
ORDER BY fw.modified`, schema)
}
