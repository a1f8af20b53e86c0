package etl

import (
	"github.com/go-git/go-billy/v5"

	"github.com/withobsrvr/postgres-to-es/checkpoint"
	"github.com/withobsrvr/postgres-to-es/loader"
	"github.com/withobsrvr/postgres-to-es/logging"
	"github.com/withobsrvr/postgres-to-es/publisher"
	"github.com/withobsrvr/postgres-to-es/transform"
)

// NewPipelines builds the movies, genres and persons pipelines in sync
// order. Index schemas are read from schemas as "<index>.json".
func NewPipelines(db loader.Querier, state *checkpoint.State, sourceSchema string, schemas billy.Filesystem, logger *logging.ComponentLogger) ([]Pipeline, error) {
	pipelines := []Pipeline{
		{
			Loader:      loader.NewMovieLoader(db, state, sourceSchema, logger),
			Transformer: transform.MovieTransformer{},
		},
		{
			Loader:      loader.NewGenreLoader(db, state, sourceSchema),
			Transformer: transform.GenreTransformer{},
		},
		{
			Loader:      loader.NewPersonLoader(db, state, sourceSchema),
			Transformer: transform.PersonTransformer{},
		},
	}

	for i := range pipelines {
		schema, err := publisher.LoadSchema(schemas, pipelines[i].Index())
		if err != nil {
			return nil, err
		}
		pipelines[i].Schema = schema
	}
	return pipelines, nil
}
