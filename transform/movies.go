package transform

import (
	"github.com/withobsrvr/postgres-to-es/document"
	"github.com/withobsrvr/postgres-to-es/source"
)

// MovieTransformer builds movie documents from the film work join.
type MovieTransformer struct{}

func (MovieTransformer) Index() string {
	return document.IndexMovies
}

func (t MovieTransformer) Transform(rows []source.Row) ([]document.Action, error) {
	actions := make([]document.Action, 0, len(rows))
	for i, row := range rows {
		movie, err := t.movie(rowReader{index: t.Index(), n: i, row: row})
		if err != nil {
			return nil, err
		}
		actions = append(actions, document.NewIndexAction(t.Index(), movie.UUID, movie))
	}
	return actions, nil
}

func (MovieTransformer) movie(r rowReader) (document.Movie, error) {
	var (
		m   document.Movie
		err error
	)
	if m.UUID, err = r.id("id"); err != nil {
		return m, err
	}
	if m.Title, err = r.text("title"); err != nil {
		return m, err
	}
	if m.Description, err = r.text("description"); err != nil {
		return m, err
	}
	if m.IMDBRating, err = r.float("imdb_rating"); err != nil {
		return m, err
	}

	genres, err := r.refs("genres")
	if err != nil {
		return m, err
	}
	m.Genre = make([]document.GenreRef, 0, len(genres))
	for _, g := range genres {
		m.Genre = append(m.Genre, document.GenreRef{UUID: g.id, Name: g.name})
	}

	directors, err := r.refs("directors")
	if err != nil {
		return m, err
	}
	m.Directors, _ = people(directors)

	actors, err := r.refs("actors")
	if err != nil {
		return m, err
	}
	m.Actors, m.ActorsNames = people(actors)

	writers, err := r.refs("writers")
	if err != nil {
		return m, err
	}
	m.Writers, m.WritersNames = people(writers)

	return m, nil
}

func people(refs []ref) ([]document.PersonRef, []string) {
	persons := make([]document.PersonRef, 0, len(refs))
	names := make([]string, 0, len(refs))
	for _, p := range refs {
		persons = append(persons, document.PersonRef{UUID: p.id, FullName: p.name})
		names = append(names, p.name)
	}
	return persons, names
}
