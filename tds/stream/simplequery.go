package stream

import (
	"fmt"
	"time"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
	"github.com/ha1tch/tdsclient/tds/codec"
	"github.com/ha1tch/tdsclient/tds/conn"
)

const defaultBatchTimeout = 30 * time.Second
const defaultFillBatchRows = 256

// QueryResult is the synchronous, fully-materialized form execute
// returns: every row as strings, alongside column names and the
// affected-row count reported by the server.
type QueryResult struct {
	ColumnNames  []string
	Rows         [][]string
	RowsAffected uint64
	Warnings     []string
}

// RowCallback is invoked once per decoded row by ExecuteWithCallback.
// Returning an error aborts the stream early with that error.
type RowCallback func(columnNames []string, values []interface{}) error

// Execute runs sql to completion on an Idle connection and materializes
// every row as strings.
func Execute(c *conn.Connection, sql string) (*QueryResult, error) {
	if err := c.ExecuteBatch(sql); err != nil {
		return nil, err
	}
	s := New(c)
	if err := s.Initialize(defaultBatchTimeout); err != nil {
		return nil, err
	}

	result := &QueryResult{}
	if len(s.columns) > 0 {
		result.ColumnNames = columnNames(s.columns)
	}

	for s.State() == StateStreaming {
		batch, err := s.FillBatch(defaultFillBatchRows, defaultBatchTimeout)
		if err != nil {
			return nil, err
		}
		if result.ColumnNames == nil && len(batch.Columns) > 0 {
			result.ColumnNames = columnNames(batch.Columns)
		}
		for _, row := range batch.Rows {
			result.Rows = append(result.Rows, stringifyRow(row))
		}
	}
	if s.State() == StateError {
		return nil, tdserr.New(tdserr.KindServer, tdserr.ErrCodeServerError, tdslog.LayerConn, "query ended in error state")
	}

	result.RowsAffected = s.RowsAffected()
	for _, w := range s.Warnings() {
		result.Warnings = append(result.Warnings, w.Message)
	}
	return result, nil
}

// ExecuteWithCallback streams rows to cb as they're decoded instead of
// materializing the whole result set, returning the same summary shape
// as Execute minus the row values.
func ExecuteWithCallback(c *conn.Connection, sql string, cb RowCallback) (*QueryResult, error) {
	if err := c.ExecuteBatch(sql); err != nil {
		return nil, err
	}
	s := New(c)
	if err := s.Initialize(defaultBatchTimeout); err != nil {
		return nil, err
	}

	result := &QueryResult{}
	if len(s.columns) > 0 {
		result.ColumnNames = columnNames(s.columns)
	}

	for s.State() == StateStreaming {
		batch, err := s.FillBatch(defaultFillBatchRows, defaultBatchTimeout)
		if err != nil {
			return nil, err
		}
		if result.ColumnNames == nil && len(batch.Columns) > 0 {
			result.ColumnNames = columnNames(batch.Columns)
		}
		for _, row := range batch.Rows {
			if err := cb(result.ColumnNames, row); err != nil {
				s.Cancel()
				_, _ = s.FillBatch(defaultFillBatchRows, defaultBatchTimeout)
				return nil, err
			}
		}
	}
	if s.State() == StateError {
		return nil, tdserr.New(tdserr.KindServer, tdserr.ErrCodeServerError, tdslog.LayerConn, "query ended in error state")
	}

	result.RowsAffected = s.RowsAffected()
	for _, w := range s.Warnings() {
		result.Warnings = append(result.Warnings, w.Message)
	}
	return result, nil
}

// ExecuteScalar runs sql and returns the first column of the first row
// as a string. It's an error for the result set to be empty.
func ExecuteScalar(c *conn.Connection, sql string) (string, error) {
	result, err := Execute(c, sql)
	if err != nil {
		return "", err
	}
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return "", tdserr.New(tdserr.KindProtocol, tdserr.ErrCodeProtocolError, tdslog.LayerConn, "execute_scalar: result set is empty")
	}
	return result.Rows[0][0], nil
}

func columnNames(cols []codec.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func stringifyRow(values []interface{}) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = stringifyValue(v)
	}
	return out
}

func stringifyValue(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}
