package transform

import (
	"github.com/withobsrvr/postgres-to-es/document"
	"github.com/withobsrvr/postgres-to-es/source"
)

// GenreTransformer builds genre documents.
type GenreTransformer struct{}

func (GenreTransformer) Index() string {
	return document.IndexGenres
}

func (t GenreTransformer) Transform(rows []source.Row) ([]document.Action, error) {
	actions := make([]document.Action, 0, len(rows))
	for i, row := range rows {
		r := rowReader{index: t.Index(), n: i, row: row}

		var (
			g   document.Genre
			err error
		)
		if g.UUID, err = r.id("id"); err != nil {
			return nil, err
		}
		if g.Name, err = r.text("name"); err != nil {
			return nil, err
		}
		if g.Description, err = r.text("description"); err != nil {
			return nil, err
		}
		actions = append(actions, document.NewIndexAction(t.Index(), g.UUID, g))
	}
	return actions, nil
}
