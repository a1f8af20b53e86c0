package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/withobsrvr/postgres-to-es/checkpoint"
	"github.com/withobsrvr/postgres-to-es/document"
	"github.com/withobsrvr/postgres-to-es/source"
)

// PersonLoader loads changed persons with the films they worked on, one row
// per person and role.
type PersonLoader struct {
	db      Querier
	tracker *Tracker
}

// NewPersonLoader creates the persons loader
func NewPersonLoader(db Querier, state *checkpoint.State, schema string) *PersonLoader {
	return &PersonLoader{
		db:      db,
		tracker: NewTracker(db, state, document.IndexPersons, schema),
	}
}

func (l *PersonLoader) Index() string {
	return document.IndexPersons
}

func (l *PersonLoader) Tables() []string {
	return []string{TablePerson}
}

func (l *PersonLoader) Load(ctx context.Context, since time.Time, limit int) ([]source.Row, error) {
	for {
		excluded, err := l.tracker.ProcessedIDs(ctx, TablePerson)
		if err != nil {
			return nil, err
		}
		ids, err := l.tracker.SelectChangedIDs(ctx, TablePerson, since, excluded, limit)
		if err != nil {
			return nil, err
		}
		if err := l.tracker.StageAndRecord(ctx, TablePerson, ids); err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}

		rows, err := l.db.Execute(ctx, personRolesQuery(l.tracker.Schema()), ids)
		if err != nil {
			return nil, fmt.Errorf("join person roles: %w", err)
		}
		if len(rows) > 0 {
			return rows, nil
		}
		// none of the selected persons has a credit
		if err := l.tracker.SkipPage(ctx, l.Tables()); err != nil {
			return nil, err
		}
	}
}

func personRolesQuery(schema string) string {
	return fmt.Sprintf(`SELECT
    p.id::text AS uuid,
    p.full_name,
    pfw.role,
    ARRAY_REMOVE(ARRAY_AGG(DISTINCT fw.id::text), NULL) AS film_ids
FROM %[1]s.person_film_work pfw
JOIN %[1]s.person p ON p.id = pfw.person_id
LEFT JOIN %[1]s.film_work fw ON fw.id = pfw.film_work_id
WHERE pfw.person_id::text = ANY($1)
GROUP BY p.id, p.full_name, pfw.role
ORDER BY p.id, pfw.role`, schema)
}
