package models

import "fmt"

// Filter is one predicate applied to a table read. Operator is one of
// =, >=, <=, >, <, contain, start with, end with, not null, is null.
type Filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Sort orders a table read by one field. Any order other than DESC
// (case-insensitive) sorts ascending.
type Sort struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

// QueryResult is the uniform shape returned by every row-returning
// operation. Rows hold JSON-compatible values aligned to Columns.
// TotalRows is set only when the server counted rows under the same
// predicate (paginated table reads).
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	TotalRows *int64   `json:"total_rows"`
}

// ColumnDefinition describes one column of a table.
type ColumnDefinition struct {
	ColumnName    string  `json:"column_name"`
	DataType      string  `json:"data_type"`
	IsNullable    string  `json:"is_nullable"`
	ColumnDefault *string `json:"column_default"`
	Comment       *string `json:"comment"`
	ForeignKey    *string `json:"foreign_key"`
}

// IndexDefinition describes one index of a table. ColumnNames is a
// comma-separated list in index-key order.
type IndexDefinition struct {
	IndexName      string  `json:"index_name"`
	IndexAlgorithm string  `json:"index_algorithm"`
	IsUnique       bool    `json:"is_unique"`
	IsPrimary      bool    `json:"is_primary"`
	ColumnNames    string  `json:"column_names"`
	Condition      *string `json:"condition"`
	Comment        *string `json:"comment"`
}

// DatabaseError is the single error shape surfaced to callers.
type DatabaseError struct {
	Message string `json:"message"`
}

func (e *DatabaseError) Error() string {
	return e.Message
}

// NewDatabaseError wraps any error into the uniform shape. A nil error
// stays nil so the result can be returned directly.
func NewDatabaseError(err error) error {
	if err == nil {
		return nil
	}
	if de, ok := err.(*DatabaseError); ok {
		return de
	}
	return &DatabaseError{Message: err.Error()}
}

// DatabaseErrorf builds a DatabaseError from a format string.
func DatabaseErrorf(format string, args ...any) *DatabaseError {
	return &DatabaseError{Message: fmt.Sprintf(format, args...)}
}
