package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// PQDialer connects with lib/pq through database/sql. Each Conn pins one
// physical connection so that reconnects replace exactly one handle.
func PQDialer(dsn string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)

		conn, err := db.Conn(ctx)
		if err != nil {
			db.Close()
			if isPQConnectionError(err) {
				return nil, connectionError(err)
			}
			return nil, err
		}
		return &pqConn{db: db, conn: conn}, nil
	}
}

type pqConn struct {
	db   *sql.DB
	conn *sql.Conn
}

func (c *pqConn) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	params := make([]any, len(args))
	for i, arg := range args {
		if list, ok := arg.([]string); ok {
			params[i] = pq.Array(list)
		} else {
			params[i] = arg
		}
	}

	rows, err := c.conn.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, classifyPQ(err)
	}
	defer rows.Close()

	columns, err := rows.ColumnTypes()
	if err != nil {
		return nil, classifyPQ(err)
	}

	var result []Row
	for rows.Next() {
		dest := make([]any, len(columns))
		for i, col := range columns {
			if strings.HasPrefix(col.DatabaseTypeName(), "_") {
				dest[i] = &pq.StringArray{}
			} else {
				dest[i] = new(any)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, classifyPQ(err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			switch v := dest[i].(type) {
			case *pq.StringArray:
				row[col.Name()] = []string(*v)
			case *any:
				row[col.Name()] = normalize(*v)
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPQ(err)
	}
	return result, nil
}

func (c *pqConn) Close(ctx context.Context) error {
	return errors.Join(c.conn.Close(), c.db.Close())
}

func classifyPQ(err error) error {
	if isPQConnectionError(err) {
		return connectionError(err)
	}
	return err
}

func isPQConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isConnectionSQLState(string(pqErr.Code))
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return isNetworkError(err)
}
