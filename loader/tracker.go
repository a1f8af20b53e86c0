// Package loader selects changed source rows for each index and returns
// them as raw rows ready for the matching transformer.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/withobsrvr/postgres-to-es/checkpoint"
	"github.com/withobsrvr/postgres-to-es/source"
)

// DefaultSchema is the source schema holding the catalogue tables.
const DefaultSchema = "content"

// Source table names
const (
	TableFilmWork = "film_work"
	TableGenre    = "genre"
	TablePerson   = "person"
)

// Querier runs parameterized read queries. *source.Manager implements it.
type Querier interface {
	Execute(ctx context.Context, query string, args ...any) ([]source.Row, error)
}

// Loader extracts one chunk of changed rows for an index.
type Loader interface {
	// Index returns the target index name.
	Index() string
	// Tables returns the source tables whose changes feed the index.
	Tables() []string
	// Load returns rows changed after since that were not yet published in
	// the current window. A zero since means no watermark exists.
	Load(ctx context.Context, since time.Time, limit int) ([]source.Row, error)
}

// Tracker holds the id selection and checkpoint staging shared by all loaders.
type Tracker struct {
	db     Querier
	state  *checkpoint.State
	index  string
	schema string
}

// NewTracker creates a tracker for index reading tables from schema.
func NewTracker(db Querier, state *checkpoint.State, index, schema string) *Tracker {
	if schema == "" {
		schema = DefaultSchema
	}
	return &Tracker{
		db:     db,
		state:  state,
		index:  index,
		schema: schema,
	}
}

// Schema returns the source schema name.
func (t *Tracker) Schema() string {
	return t.schema
}

// SelectChangedIDs returns ids of table modified after since and not in
// excluded, oldest modification first. A limit <= 0 selects everything.
func (t *Tracker) SelectChangedIDs(ctx context.Context, table string, since time.Time, excluded []string, limit int) ([]string, error) {
	if excluded == nil {
		excluded = []string{}
	}

	var (
		rows []source.Row
		err  error
	)
	if limit > 0 {
		rows, err = t.db.Execute(ctx, changedIDsQuery(t.schema, table, true), since, excluded, limit)
	} else {
		rows, err = t.db.Execute(ctx, changedIDsQuery(t.schema, table, false), since, excluded)
	}
	if err != nil {
		return nil, fmt.Errorf("select changed %s ids: %w", table, err)
	}
	return columnStrings(rows, "id")
}

// StageAndRecord records the ids selected for table by the page in flight.
// They move into the processed set once the page is acknowledged.
func (t *Tracker) StageAndRecord(ctx context.Context, table string, ids []string) error {
	return t.state.SetStrings(ctx, checkpoint.SelectedIDsKey(t.index, table), ids)
}

// SkipPage acknowledges a page whose selected ids produce no documents, so
// the next Load moves past them instead of ending the window early.
func (t *Tracker) SkipPage(ctx context.Context, tables []string) error {
	return t.state.Acknowledge(ctx, t.index, tables)
}

// ProcessedIDs returns the ids of table already published in this window.
func (t *Tracker) ProcessedIDs(ctx context.Context, table string) ([]string, error) {
	return t.state.Strings(ctx, checkpoint.ProcessedIDsKey(t.index, table))
}

func changedIDsQuery(schema, table string, limited bool) string {
	query := fmt.Sprintf(`SELECT id::text AS id
FROM %s.%s
WHERE modified > $1 AND NOT (id::text = ANY($2))
ORDER BY modified`, schema, table)
	if limited {
		query += "\nLIMIT $3"
	}
	return query
}

func columnStrings(rows []source.Row, column string) ([]string, error) {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		id, ok := row[column].(string)
		if !ok {
			return nil, fmt.Errorf("column %q holds %T, want text", column, row[column])
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// idSet keeps insertion order for stable query arguments.
type idSet struct {
	seen  map[string]struct{}
	order []string
}

func newIDSet() *idSet {
	return &idSet{seen: map[string]struct{}{}}
}

func (s *idSet) add(ids ...string) {
	for _, id := range ids {
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.order = append(s.order, id)
	}
}

func (s *idSet) list() []string {
	return s.order
}

func (s *idSet) len() int {
	return len(s.order)
}
