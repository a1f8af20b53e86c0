package loader

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/withobsrvr/postgres-to-es/source"
)

type stamped struct {
	id       string
	modified time.Time
}

type testFilm struct {
	stamped
	title       string
	description string
	rating      *float64
}

type testGenre struct {
	stamped
	name string
}

type testPerson struct {
	stamped
	fullName string
}

type testCredit struct {
	film   string
	person string
	role   string
}

// catalog answers the loader queries from in-memory tables.
type catalog struct {
	films   []testFilm
	genres  []testGenre
	persons []testPerson
	filmGen [][2]string
	credits []testCredit

	queries []string
}

func (c *catalog) Execute(ctx context.Context, query string, args ...any) ([]source.Row, error) {
	c.queries = append(c.queries, query)

	switch query {
	case changedIDsQuery(DefaultSchema, TableFilmWork, true), changedIDsQuery(DefaultSchema, TableFilmWork, false):
		return changedRows(c.filmStamps(), args), nil
	case changedIDsQuery(DefaultSchema, TableGenre, true), changedIDsQuery(DefaultSchema, TableGenre, false):
		return changedRows(c.genreStamps(), args), nil
	case changedIDsQuery(DefaultSchema, TablePerson, true), changedIDsQuery(DefaultSchema, TablePerson, false):
		return changedRows(c.personStamps(), args), nil
	case filmsByRelatedQuery(DefaultSchema, TableGenre):
		return c.filmsReferencing(args[0].([]string), c.genreLinks()), nil
	case filmsByRelatedQuery(DefaultSchema, TablePerson):
		return c.filmsReferencing(args[0].([]string), c.personLinks()), nil
	case movieJoinQuery(DefaultSchema):
		return c.joinMovies(args[0].([]string)), nil
	case genresQuery(DefaultSchema):
		return c.changedGenres(args), nil
	case personRolesQuery(DefaultSchema):
		return c.personRoles(args[0].([]string)), nil
	}
	return nil, fmt.Errorf("unexpected query: %s", query)
}

func (c *catalog) count(query string) int {
	n := 0
	for _, q := range c.queries {
		if q == query {
			n++
		}
	}
	return n
}

func (c *catalog) filmStamps() []stamped {
	out := make([]stamped, 0, len(c.films))
	for _, f := range c.films {
		out = append(out, f.stamped)
	}
	return out
}

func (c *catalog) genreStamps() []stamped {
	out := make([]stamped, 0, len(c.genres))
	for _, g := range c.genres {
		out = append(out, g.stamped)
	}
	return out
}

func (c *catalog) personStamps() []stamped {
	out := make([]stamped, 0, len(c.persons))
	for _, p := range c.persons {
		out = append(out, p.stamped)
	}
	return out
}

// genreLinks maps genre id to film ids.
func (c *catalog) genreLinks() map[string][]string {
	links := map[string][]string{}
	for _, l := range c.filmGen {
		links[l[1]] = append(links[l[1]], l[0])
	}
	return links
}

func (c *catalog) personLinks() map[string][]string {
	links := map[string][]string{}
	for _, cr := range c.credits {
		links[cr.person] = append(links[cr.person], cr.film)
	}
	return links
}

func selectChanged(rows []stamped, args []any) []stamped {
	since := args[0].(time.Time)
	excluded := map[string]bool{}
	for _, id := range args[1].([]string) {
		excluded[id] = true
	}

	var out []stamped
	for _, r := range rows {
		if r.modified.After(since) && !excluded[r.id] {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].modified.Before(out[j].modified) })

	if len(args) == 3 {
		if limit := args[2].(int); len(out) > limit {
			out = out[:limit]
		}
	}
	return out
}

func changedRows(rows []stamped, args []any) []source.Row {
	var out []source.Row
	for _, r := range selectChanged(rows, args) {
		out = append(out, source.Row{"id": r.id})
	}
	return out
}

func (c *catalog) filmsReferencing(related []string, links map[string][]string) []source.Row {
	wanted := map[string]bool{}
	for _, id := range related {
		for _, film := range links[id] {
			wanted[film] = true
		}
	}
	var films []stamped
	for _, f := range c.films {
		if wanted[f.id] {
			films = append(films, f.stamped)
		}
	}
	sort.SliceStable(films, func(i, j int) bool { return films[i].modified.Before(films[j].modified) })

	var out []source.Row
	for _, f := range films {
		out = append(out, source.Row{"id": f.id})
	}
	return out
}

func (c *catalog) joinMovies(ids []string) []source.Row {
	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	genreNames := map[string]string{}
	for _, g := range c.genres {
		genreNames[g.id] = g.name
	}
	personNames := map[string]string{}
	for _, p := range c.persons {
		personNames[p.id] = p.fullName
	}

	var out []source.Row
	for _, f := range c.films {
		if !wanted[f.id] {
			continue
		}
		var genres []string
		for _, l := range c.filmGen {
			if l[0] == f.id {
				genres = append(genres, l[1]+"::"+genreNames[l[1]])
			}
		}
		roles := map[string][]string{}
		for _, cr := range c.credits {
			if cr.film == f.id {
				roles[cr.role] = append(roles[cr.role], cr.person+"::"+personNames[cr.person])
			}
		}

		var rating any
		if f.rating != nil {
			rating = *f.rating
		}
		out = append(out, source.Row{
			"id":          f.id,
			"title":       f.title,
			"description": f.description,
			"imdb_rating": rating,
			"genres":      orSentinel(genres),
			"actors":      orSentinel(roles["actor"]),
			"writers":     orSentinel(roles["writer"]),
			"directors":   orSentinel(roles["director"]),
		})
	}
	return out
}

func orSentinel(values []string) []string {
	if len(values) == 0 {
		return []string{"::"}
	}
	sort.Strings(values)
	return values
}

func (c *catalog) changedGenres(args []any) []source.Row {
	byID := map[string]testGenre{}
	for _, g := range c.genres {
		byID[g.id] = g
	}
	var out []source.Row
	for _, s := range selectChanged(c.genreStamps(), args) {
		out = append(out, source.Row{"id": s.id, "name": byID[s.id].name, "description": ""})
	}
	return out
}

func (c *catalog) personRoles(ids []string) []source.Row {
	names := map[string]string{}
	for _, p := range c.persons {
		names[p.id] = p.fullName
	}

	var out []source.Row
	for _, id := range ids {
		films := map[string][]string{}
		var roles []string
		for _, cr := range c.credits {
			if cr.person != id {
				continue
			}
			if _, ok := films[cr.role]; !ok {
				roles = append(roles, cr.role)
			}
			films[cr.role] = append(films[cr.role], cr.film)
		}
		sort.Strings(roles)
		for _, role := range roles {
			out = append(out, source.Row{
				"uuid":      id,
				"full_name": names[id],
				"role":      role,
				"film_ids":  films[role],
			})
		}
	}
	return out
}
