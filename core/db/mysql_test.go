package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidolex/sqlgate/core/models"
)

func TestBuildMySQLPredicate(t *testing.T) {
	pred := buildMySQLPredicate([]models.Filter{
		{Field: "email", Operator: "end with", Value: "@x.com"},
		{Field: "age", Operator: ">=", Value: "21"},
		{Field: "nick", Operator: "contain", Value: "bo"},
		{Field: "deleted_at", Operator: "is null"},
	}, []models.Sort{
		{Field: "id", Order: "DESC"},
		{Field: "name", Order: "bogus"},
	})

	assert.Equal(t,
		"WHERE `email` LIKE ? AND `age` >= ? AND `nick` LIKE ? AND `deleted_at` IS NULL",
		pred.WhereSQL)
	assert.Equal(t, []any{"%@x.com", "21", "%bo%"}, pred.Params)
	assert.Equal(t, "ORDER BY `id` DESC, `name` ASC", pred.OrderSQL)
}

func TestBuildMySQLPredicateDropsInvalidFields(t *testing.T) {
	pred := buildMySQLPredicate([]models.Filter{
		{Field: "a; DROP TABLE t--", Operator: "=", Value: "1"},
	}, []models.Sort{
		{Field: "`name`", Order: "ASC"},
	})

	assert.Empty(t, pred.WhereSQL)
	assert.Empty(t, pred.OrderSQL)
	assert.Empty(t, pred.Params)
}

func TestAggregateIndexes(t *testing.T) {
	rows := []showIndexRow{
		{KeyName: "PRIMARY", NonUnique: 0, ColumnName: "id", IndexType: "BTREE"},
		{KeyName: "by_customer", NonUnique: 1, ColumnName: "customer_id", IndexType: "BTREE"},
		{KeyName: "by_customer", NonUnique: 1, ColumnName: "created_at", IndexType: "BTREE"},
	}

	indexes := aggregateIndexes(rows)
	require.Len(t, indexes, 2)

	primary := indexes[0]
	assert.Equal(t, "PRIMARY", primary.IndexName)
	assert.True(t, primary.IsPrimary)
	assert.True(t, primary.IsUnique)
	assert.Equal(t, "id", primary.ColumnNames)
	assert.Equal(t, "BTREE", primary.IndexAlgorithm)

	secondary := indexes[1]
	assert.Equal(t, "by_customer", secondary.IndexName)
	assert.False(t, secondary.IsPrimary)
	assert.False(t, secondary.IsUnique)
	assert.Equal(t, "customer_id, created_at", secondary.ColumnNames)
	assert.Nil(t, secondary.Comment)
}

func TestAggregateIndexesComment(t *testing.T) {
	indexes := aggregateIndexes([]showIndexRow{
		{KeyName: "by_email", NonUnique: 0, ColumnName: "email", IndexType: "BTREE", Comment: "login lookup"},
	})

	require.Len(t, indexes, 1)
	assert.True(t, indexes[0].IsUnique)
	assert.False(t, indexes[0].IsPrimary)
	require.NotNil(t, indexes[0].Comment)
	assert.Equal(t, "login lookup", *indexes[0].Comment)
}

func TestMysqlValueToJSON(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		typeName string
		length   int64
		want     any
	}{
		{"null", nil, "VARCHAR", 0, nil},
		{"boolean true", []byte("1"), "BOOLEAN", 0, true},
		{"boolean false", []byte("0"), "BOOLEAN", 0, false},
		{"tinyint(1) is boolean", []byte("1"), "TINYINT", 1, true},
		{"tinyint is numeric", []byte("7"), "TINYINT", 4, int64(7)},
		{"int", []byte("42"), "INT", 0, int64(42)},
		{"bigint", []byte("-9000000000"), "BIGINT", 0, int64(-9000000000)},
		{"unsigned bigint", []byte("18446744073709551615"), "UNSIGNED BIGINT", 0, uint64(18446744073709551615)},
		{"unsigned int", []byte("4294967295"), "UNSIGNED INT", 0, uint64(4294967295)},
		{"float", []byte("1.5"), "FLOAT", 0, 1.5},
		{"double", []byte("2.25"), "DOUBLE", 0, 2.25},
		{"varchar", []byte("hello"), "VARCHAR", 0, "hello"},
		{"enum", []byte("red"), "ENUM", 0, "red"},
		{"set", []byte("a,b"), "SET", 0, "a,b"},
		{"datetime", []byte("2024-03-01 12:30:45"), "DATETIME", 0, "2024-03-01 12:30:45"},
		{"date", []byte("2024-03-01"), "DATE", 0, "2024-03-01"},
		{"time", []byte("12:30:45"), "TIME", 0, "12:30:45"},
		{"json", []byte(`{"a": 1}`), "JSON", 0, map[string]any{"a": float64(1)}},
		{"unknown type retried as text", []byte("12.50"), "DECIMAL", 0, "12.50"},
		{"binary falls back to sentinel", []byte{0xff, 0xfe, 0x01}, "GEOMETRY", 0, "Unsupported Type: GEOMETRY"},
		{"bad int decodes to null", []byte("abc"), "INT", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mysqlValueToJSON(tt.raw, tt.typeName, tt.length))
		})
	}
}

func TestMySQLTableDataSQLShape(t *testing.T) {
	// The COUNT and SELECT statements must share one predicate and bind
	// the same parameters.
	pred := buildMySQLPredicate([]models.Filter{
		{Field: "email", Operator: "end with", Value: "@x.com"},
	}, nil)

	countSQL := "SELECT COUNT(*) FROM `users` " + pred.WhereSQL
	assert.Equal(t, "SELECT COUNT(*) FROM `users` WHERE `email` LIKE ?", countSQL)
	assert.Equal(t, []any{"%@x.com"}, pred.Params)
}
