// Package transform turns raw joined rows into index documents with their
// bulk metadata. Transformers are pure and never touch the checkpoint.
package transform

import (
	"fmt"
	"strings"

	"github.com/withobsrvr/postgres-to-es/document"
	"github.com/withobsrvr/postgres-to-es/source"
)

// Separator joins an id and a display name inside aggregated columns.
const Separator = "::"

// Transformer converts a chunk of rows for one index.
type Transformer interface {
	Index() string
	// Transform converts every row or fails the whole chunk.
	Transform(rows []source.Row) ([]document.Action, error)
}

// RowError reports a row that cannot be converted.
type RowError struct {
	Index  string
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("transform %s row %d column %q: %v", e.Index, e.Row, e.Column, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ref is one decoded "id::name" entry.
type ref struct {
	id   string
	name string
}

// decodeRefs parses an aggregated column. Empty entries and the bare
// separator stand for a missing relation and are skipped.
func decodeRefs(value any) ([]ref, error) {
	entries, err := stringList(value)
	if err != nil {
		return nil, err
	}

	refs := make([]ref, 0, len(entries))
	for _, entry := range entries {
		if entry == "" || entry == Separator {
			continue
		}
		id, name, ok := strings.Cut(entry, Separator)
		if !ok || id == "" {
			return nil, fmt.Errorf("malformed entry %q", entry)
		}
		refs = append(refs, ref{id: id, name: name})
	}
	return refs, nil
}

func stringList(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case nil:
			case string:
				out = append(out, s)
			default:
				return nil, fmt.Errorf("list element is %T, want text", item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is %T, want a text list", value)
	}
}

type rowReader struct {
	index string
	n     int
	row   source.Row
}

func (r rowReader) fail(column string, err error) error {
	return &RowError{Index: r.index, Row: r.n, Column: column, Err: err}
}

// id returns a required non-empty text column.
func (r rowReader) id(column string) (string, error) {
	s, err := r.text(column)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", r.fail(column, fmt.Errorf("missing identifier"))
	}
	return s, nil
}

// text returns a nullable text column, NULL reading as "".
func (r rowReader) text(column string) (string, error) {
	switch v := r.row[column].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", r.fail(column, fmt.Errorf("value is %T, want text", v))
	}
}

func (r rowReader) float(column string) (*float64, error) {
	switch v := r.row[column].(type) {
	case nil:
		return nil, nil
	case float64:
		return &v, nil
	case float32:
		f := float64(v)
		return &f, nil
	default:
		return nil, r.fail(column, fmt.Errorf("value is %T, want a number", v))
	}
}

func (r rowReader) refs(column string) ([]ref, error) {
	refs, err := decodeRefs(r.row[column])
	if err != nil {
		return nil, r.fail(column, err)
	}
	return refs, nil
}

func (r rowReader) strings(column string) ([]string, error) {
	values, err := stringList(r.row[column])
	if err != nil {
		return nil, r.fail(column, err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}
