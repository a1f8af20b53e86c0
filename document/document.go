// Package document defines the search index records produced by the
// transformers and the bulk actions that carry them to the index.
package document

// Index names
const (
	IndexMovies  = "movies"
	IndexGenres  = "genres"
	IndexPersons = "persons"
)

// OpIndex creates or replaces a document by id.
const OpIndex = "index"

// Action is one bulk operation: the operation tag, target index, document id
// and document body.
type Action struct {
	Op    string
	Index string
	ID    string
	Doc   any
}

// NewIndexAction builds an index operation for doc.
func NewIndexAction(index, id string, doc any) Action {
	return Action{
		Op:    OpIndex,
		Index: index,
		ID:    id,
		Doc:   doc,
	}
}

// GenreRef is a genre embedded in a movie.
type GenreRef struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// PersonRef is a person embedded in a movie.
type PersonRef struct {
	UUID     string `json:"uuid"`
	FullName string `json:"full_name"`
}

// Movie is a film work with its genres and crew denormalized into it.
type Movie struct {
	UUID         string      `json:"uuid"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	IMDBRating   *float64    `json:"imdb_rating"`
	Genre        []GenreRef  `json:"genre"`
	Directors    []PersonRef `json:"directors"`
	Actors       []PersonRef `json:"actors"`
	ActorsNames  []string    `json:"actors_names"`
	Writers      []PersonRef `json:"writers"`
	WritersNames []string    `json:"writers_names"`
}

// Genre is a genre document.
type Genre struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Person is one role of a person, with the films they hold that role in.
// A person with several roles yields several documents.
type Person struct {
	UUID     string   `json:"uuid"`
	FullName string   `json:"full_name"`
	Role     string   `json:"role"`
	FilmIDs  []string `json:"film_ids"`
}

// PersonDocumentID is the bulk id of a person role document.
func PersonDocumentID(uuid, role string) string {
	return uuid + ":" + role
}
