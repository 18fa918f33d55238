package db

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"

	"github.com/eidolex/sqlgate/core/models"
)

func TestBuildPostgresPredicateCasts(t *testing.T) {
	columnTypes := map[string]string{
		"id":         "uuid",
		"created_at": "timestamptz",
		"updated_at": "timestamp",
		"born_on":    "date",
		"active":     "bool",
		"name":       "text",
	}

	tests := []struct {
		name      string
		filter    models.Filter
		wantWhere string
		wantParam any
	}{
		{
			name:      "uuid equality",
			filter:    models.Filter{Field: "id", Operator: "=", Value: "00000000-0000-0000-0000-000000000001"},
			wantWhere: `WHERE "id" = $1::uuid`,
			wantParam: "00000000-0000-0000-0000-000000000001",
		},
		{
			name:      "timestamptz comparison",
			filter:    models.Filter{Field: "created_at", Operator: ">=", Value: "2024-01-01"},
			wantWhere: `WHERE "created_at" >= $1::timestamptz`,
			wantParam: "2024-01-01",
		},
		{
			name:      "timestamp comparison",
			filter:    models.Filter{Field: "updated_at", Operator: "<", Value: "2024-01-01"},
			wantWhere: `WHERE "updated_at" < $1::timestamp`,
			wantParam: "2024-01-01",
		},
		{
			name:      "date comparison",
			filter:    models.Filter{Field: "born_on", Operator: "<=", Value: "1990-06-15"},
			wantWhere: `WHERE "born_on" <= $1::date`,
			wantParam: "1990-06-15",
		},
		{
			name:      "boolean equality",
			filter:    models.Filter{Field: "active", Operator: "=", Value: "true"},
			wantWhere: `WHERE "active" = $1::boolean`,
			wantParam: "true",
		},
		{
			name:      "text equality has no cast",
			filter:    models.Filter{Field: "name", Operator: "=", Value: "bob"},
			wantWhere: `WHERE "name" = $1`,
			wantParam: "bob",
		},
		{
			name:      "contain pads both sides",
			filter:    models.Filter{Field: "name", Operator: "contain", Value: "x"},
			wantWhere: `WHERE "name"::text ILIKE $1`,
			wantParam: "%x%",
		},
		{
			name:      "start with pads right",
			filter:    models.Filter{Field: "name", Operator: "start with", Value: "x"},
			wantWhere: `WHERE "name"::text ILIKE $1`,
			wantParam: "x%",
		},
		{
			name:      "end with pads left",
			filter:    models.Filter{Field: "name", Operator: "end with", Value: "@x.com"},
			wantWhere: `WHERE "name"::text ILIKE $1`,
			wantParam: "%@x.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := buildPostgresPredicate([]models.Filter{tt.filter}, nil, columnTypes)
			assert.Equal(t, tt.wantWhere, pred.WhereSQL)
			assert.Equal(t, []any{tt.wantParam}, pred.Params)
			assert.Equal(t, 2, pred.NextParam)
		})
	}
}

func TestBuildPostgresPredicateNullOperators(t *testing.T) {
	pred := buildPostgresPredicate([]models.Filter{
		{Field: "deleted_at", Operator: "is null"},
		{Field: "email", Operator: "not null"},
	}, nil, nil)

	assert.Equal(t, `WHERE "deleted_at" IS NULL AND "email" IS NOT NULL`, pred.WhereSQL)
	assert.Empty(t, pred.Params)
	assert.Equal(t, 1, pred.NextParam)
}

func TestBuildPostgresPredicateDropsInvalidFields(t *testing.T) {
	pred := buildPostgresPredicate([]models.Filter{
		{Field: "a; DROP TABLE t--", Operator: "=", Value: "1"},
		{Field: "ok_field", Operator: "=", Value: "2"},
	}, []models.Sort{
		{Field: "b; DROP TABLE t--", Order: "ASC"},
	}, nil)

	assert.NotContains(t, pred.WhereSQL, "DROP TABLE")
	assert.Equal(t, `WHERE "ok_field" = $1`, pred.WhereSQL)
	assert.Empty(t, pred.OrderSQL)
	assert.Equal(t, []any{"2"}, pred.Params)
}

func TestBuildPostgresPredicateSorts(t *testing.T) {
	pred := buildPostgresPredicate(nil, []models.Sort{
		{Field: "id", Order: "desc"},
		{Field: "name", Order: "ASC"},
		{Field: "age", Order: "sideways"},
	}, nil)

	assert.Equal(t, `ORDER BY "id" DESC, "name" ASC, "age" ASC`, pred.OrderSQL)
}

func TestBuildPostgresPredicateMultipleFilters(t *testing.T) {
	pred := buildPostgresPredicate([]models.Filter{
		{Field: "email", Operator: "end with", Value: "@x.com"},
		{Field: "age", Operator: ">", Value: "21"},
	}, nil, nil)

	assert.Equal(t, `WHERE "email"::text ILIKE $1 AND "age" > $2`, pred.WhereSQL)
	assert.Equal(t, []any{"%@x.com", "21"}, pred.Params)
	assert.Equal(t, 3, pred.NextParam)
}

func TestQualifyTable(t *testing.T) {
	assert.Equal(t, `public."users"`, qualifyTable("users"))
	assert.Equal(t, "audit.events", qualifyTable("audit.events"))
}

func TestPgValueToJSON(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

	tests := []struct {
		name     string
		value    any
		typeName string
		want     any
	}{
		{"null", nil, "text", nil},
		{"bool", true, "bool", true},
		{"int2", int16(7), "int2", int64(7)},
		{"int4", int32(42), "int4", int64(42)},
		{"int8", int64(1 << 40), "int8", int64(1 << 40)},
		{"float4", float32(1.5), "float4", float64(1.5)},
		{"float8", 2.25, "float8", 2.25},
		{"text", "hello", "text", "hello"},
		{"varchar", "v", "varchar", "v"},
		{"bpchar", "c", "bpchar", "c"},
		{"name", "pg_class", "name", "pg_class"},
		{"timestamp", ts, "timestamp", "2024-03-01T12:30:45"},
		{"timestamptz", ts, "timestamptz", "2024-03-01T12:30:45Z"},
		{"date", ts, "date", "2024-03-01"},
		{"time", pgtype.Time{Microseconds: (13*3600 + 14*60 + 15) * 1000000, Valid: true}, "time", "13:14:15"},
		{"uuid", [16]byte{}, "uuid", "00000000-0000-0000-0000-000000000000"},
		{"json object", map[string]any{"a": float64(1)}, "jsonb", map[string]any{"a": float64(1)}},
		{"unknown type with string value", "192.168.0.0/24", "ltree", "192.168.0.0/24"},
		{"unknown type with byte value", []byte("raw"), "bytea", "raw"},
		{"unsupported", struct{}{}, "point", "Unsupported Type: point"},
		{"typed mismatch decodes to null", "not-a-bool", "bool", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pgValueToJSON(tt.value, tt.typeName))
		})
	}
}

func TestIsRowReturning(t *testing.T) {
	assert.True(t, isRowReturning("SELECT 1 AS n"))
	assert.True(t, isRowReturning("  select * from users"))
	assert.True(t, isRowReturning("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.True(t, isRowReturning("-- comment\nSELECT 1"))
	assert.True(t, isRowReturning("/* c */ SELECT 1"))
	assert.True(t, isRowReturning("SHOW server_version"))
	assert.True(t, isRowReturning("EXPLAIN SELECT 1"))
	assert.False(t, isRowReturning("INSERT INTO t VALUES (1)"))
	assert.False(t, isRowReturning("UPDATE t SET a = 1"))
	assert.False(t, isRowReturning("DELETE FROM t"))
	assert.False(t, isRowReturning("CREATE TABLE t (id int)"))
	assert.False(t, isRowReturning("-- only a comment"))
}
