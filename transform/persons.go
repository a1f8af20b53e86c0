package transform

import (
	"github.com/withobsrvr/postgres-to-es/document"
	"github.com/withobsrvr/postgres-to-es/source"
)

// PersonTransformer builds one person document per person and role. The
// bulk id is "uuid:role" since one person yields several documents.
type PersonTransformer struct{}

func (PersonTransformer) Index() string {
	return document.IndexPersons
}

func (t PersonTransformer) Transform(rows []source.Row) ([]document.Action, error) {
	actions := make([]document.Action, 0, len(rows))
	for i, row := range rows {
		r := rowReader{index: t.Index(), n: i, row: row}

		var (
			p   document.Person
			err error
		)
		if p.UUID, err = r.id("uuid"); err != nil {
			return nil, err
		}
		if p.FullName, err = r.text("full_name"); err != nil {
			return nil, err
		}
		if p.Role, err = r.id("role"); err != nil {
			return nil, err
		}
		if p.FilmIDs, err = r.strings("film_ids"); err != nil {
			return nil, err
		}
		actions = append(actions, document.NewIndexAction(t.Index(), document.PersonDocumentID(p.UUID, p.Role), p))
	}
	return actions, nil
}
