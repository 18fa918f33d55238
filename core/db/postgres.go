package db

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/utils"
)

// PostgresProvider serves one PostgreSQL database through a pgx pool.
type PostgresProvider struct {
	pool      *pgxpool.Pool
	logger    utils.Logger
	closeOnce sync.Once
}

// NewPostgresProvider opens the pool and verifies connectivity.
func NewPostgresProvider(ctx context.Context, params ConnParams, logger utils.Logger) (*PostgresProvider, error) {
	cfg, err := pgxpool.ParseConfig(buildPostgresDSN(params))
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	cfg.MaxConns = maxPoolConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, models.NewDatabaseError(err)
	}

	return &PostgresProvider{
		pool:   pool,
		logger: logger.WithGroup("postgres"),
	}, nil
}

func buildPostgresDSN(params ConnParams) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(params.Username, params.Password),
		Host:   net.JoinHostPort(params.Host, strconv.Itoa(params.Port)),
		Path:   "/" + params.Database,
	}
	return u.String()
}

func (p *PostgresProvider) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT datname FROM pg_database WHERE datistemplate = false")
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	defer rows.Close()

	var databases []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, models.NewDatabaseError(err)
		}
		databases = append(databases, name)
	}
	return databases, models.NewDatabaseError(rows.Err())
}

func (p *PostgresProvider) ListTables(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'")
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, models.NewDatabaseError(err)
		}
		tables = append(tables, name)
	}
	return tables, models.NewDatabaseError(rows.Err())
}

// pgPredicate is the WHERE/ORDER fragment pair built for a table read.
// Params bind identically in the COUNT and SELECT statements; NextParam
// is the first free placeholder index (for LIMIT/OFFSET).
type pgPredicate struct {
	WhereSQL  string
	OrderSQL  string
	Params    []any
	NextParam int
}

// buildPostgresPredicate renders filters and sorts. Fields failing the
// identifier whitelist are dropped silently. Comparison operators get a
// cast suffix derived from the column's udt_name so string parameters
// compare with the column's native type.
func buildPostgresPredicate(filters []models.Filter, sorts []models.Sort, columnTypes map[string]string) pgPredicate {
	var whereClauses []string
	var params []any
	paramIndex := 1

	for _, filter := range filters {
		if !validIdent(filter.Field) {
			continue
		}

		field := fmt.Sprintf("%q", filter.Field)
		cast := pgCastSuffix(columnTypes[filter.Field])

		switch filter.Operator {
		case "=", ">=", "<=", ">", "<":
			whereClauses = append(whereClauses,
				fmt.Sprintf("%s %s $%d%s", field, filter.Operator, paramIndex, cast))
			params = append(params, filter.Value)
			paramIndex++
		case "contain", "start with", "end with":
			pattern, _ := likePattern(filter.Operator, filter.Value)
			whereClauses = append(whereClauses,
				fmt.Sprintf("%s::text ILIKE $%d", field, paramIndex))
			params = append(params, pattern)
			paramIndex++
		case "not null":
			whereClauses = append(whereClauses, field+" IS NOT NULL")
		case "is null":
			whereClauses = append(whereClauses, field+" IS NULL")
		}
	}

	var orderClauses []string
	for _, sort := range sorts {
		if !validIdent(sort.Field) {
			continue
		}
		orderClauses = append(orderClauses,
			fmt.Sprintf("%q %s", sort.Field, sortDirection(sort.Order)))
	}

	pred := pgPredicate{Params: params, NextParam: paramIndex}
	if len(whereClauses) > 0 {
		pred.WhereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}
	if len(orderClauses) > 0 {
		pred.OrderSQL = "ORDER BY " + strings.Join(orderClauses, ", ")
	}
	return pred
}

func pgCastSuffix(udtName string) string {
	switch udtName {
	case "uuid":
		return "::uuid"
	case "date":
		return "::date"
	case "timestamp":
		return "::timestamp"
	case "timestamptz":
		return "::timestamptz"
	case "bool":
		return "::boolean"
	}
	return ""
}

func (p *PostgresProvider) GetTableData(ctx context.Context, table string, limit, offset int64, filters []models.Filter, sorts []models.Sort) (*models.QueryResult, error) {
	if !validIdent(table) {
		return nil, models.DatabaseErrorf("invalid table name: %s", table)
	}

	columnTypes, err := p.columnTypes(ctx, table)
	if err != nil {
		return nil, err
	}

	pred := buildPostgresPredicate(filters, sorts, columnTypes)

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %q %s", table, pred.WhereSQL)
	var totalRows int64
	if err := p.pool.QueryRow(ctx, countSQL, pred.Params...).Scan(&totalRows); err != nil {
		return nil, models.NewDatabaseError(err)
	}

	dataSQL := fmt.Sprintf("SELECT * FROM %q %s %s LIMIT $%d OFFSET $%d",
		table, pred.WhereSQL, pred.OrderSQL, pred.NextParam, pred.NextParam+1)
	args := append(append([]any{}, pred.Params...), limit, offset)

	rows, err := p.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	defer rows.Close()

	result, err := p.decodeRows(rows)
	if err != nil {
		return nil, err
	}
	result.TotalRows = &totalRows
	return result, nil
}

// columnTypes maps column name to udt_name for cast selection.
func (p *PostgresProvider) columnTypes(ctx context.Context, table string) (map[string]string, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT column_name, udt_name FROM information_schema.columns WHERE table_name = $1",
		table)
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	defer rows.Close()

	types := make(map[string]string)
	for rows.Next() {
		var column, udt string
		if err := rows.Scan(&column, &udt); err != nil {
			return nil, models.NewDatabaseError(err)
		}
		types[column] = udt
	}
	return types, models.NewDatabaseError(rows.Err())
}

const pgStructureQuery = `
SELECT
    a.attname AS column_name,
    format_type(a.atttypid, a.atttypmod) AS data_type,
    CASE WHEN a.attnotnull THEN 'NO' ELSE 'YES' END AS is_nullable,
    pg_get_expr(d.adbin, d.adrelid) AS column_default,
    col_description(a.attrelid, a.attnum) AS comment,
    (
        SELECT confrelid::regclass::text || '(' || a2.attname || ')'
        FROM pg_constraint c
        JOIN pg_attribute a2 ON a2.attnum = c.confkey[1] AND a2.attrelid = c.confrelid
        WHERE c.conrelid = a.attrelid
          AND c.contype = 'f'
          AND c.conkey[1] = a.attnum
        LIMIT 1
    ) AS foreign_key
FROM pg_attribute a
LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE a.attrelid = $1::regclass
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum`

func (p *PostgresProvider) GetTableStructure(ctx context.Context, table string) ([]models.ColumnDefinition, error) {
	rows, err := p.pool.Query(ctx, pgStructureQuery, qualifyTable(table))
	if err != nil {
		return nil, models.DatabaseErrorf("failed to get structure for %s: %s", table, err)
	}
	defer rows.Close()

	var columns []models.ColumnDefinition
	for rows.Next() {
		var col models.ColumnDefinition
		if err := rows.Scan(&col.ColumnName, &col.DataType, &col.IsNullable,
			&col.ColumnDefault, &col.Comment, &col.ForeignKey); err != nil {
			return nil, models.NewDatabaseError(err)
		}
		columns = append(columns, col)
	}
	return columns, models.NewDatabaseError(rows.Err())
}

const pgIndexQuery = `
SELECT
    i.relname AS index_name,
    am.amname AS index_algorithm,
    ix.indisunique AS is_unique,
    ix.indisprimary AS is_primary,
    pg_get_expr(ix.indpred, ix.indrelid) AS condition,
    obj_description(i.oid, 'pg_class') AS comment,
    (
        SELECT string_agg(a.attname, ', ' ORDER BY array_position(ix.indkey, a.attnum))
        FROM pg_attribute a
        WHERE a.attrelid = ix.indrelid AND a.attnum = ANY(ix.indkey)
    ) AS column_names
FROM pg_index ix
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_am am ON am.oid = i.relam
WHERE ix.indrelid = $1::regclass
ORDER BY ix.indisprimary DESC, i.relname`

func (p *PostgresProvider) GetTableIndexes(ctx context.Context, table string) ([]models.IndexDefinition, error) {
	rows, err := p.pool.Query(ctx, pgIndexQuery, qualifyTable(table))
	if err != nil {
		return nil, models.DatabaseErrorf("failed to get indexes for %s: %s", table, err)
	}
	defer rows.Close()

	var indexes []models.IndexDefinition
	for rows.Next() {
		var idx models.IndexDefinition
		var columnNames *string
		if err := rows.Scan(&idx.IndexName, &idx.IndexAlgorithm, &idx.IsUnique,
			&idx.IsPrimary, &idx.Condition, &idx.Comment, &columnNames); err != nil {
			return nil, models.NewDatabaseError(err)
		}
		if columnNames != nil {
			idx.ColumnNames = *columnNames
		}
		indexes = append(indexes, idx)
	}
	return indexes, models.NewDatabaseError(rows.Err())
}

// qualifyTable schema-qualifies bare table names for ::regclass lookups.
func qualifyTable(table string) string {
	if strings.Contains(table, ".") {
		return table
	}
	return fmt.Sprintf("public.%q", table)
}

func (p *PostgresProvider) ExecuteQuery(ctx context.Context, query string) (*models.QueryResult, error) {
	if !isRowReturning(query) {
		if _, err := p.pool.Exec(ctx, query); err != nil {
			return nil, models.NewDatabaseError(err)
		}
		return &models.QueryResult{Columns: []string{}, Rows: [][]any{}}, nil
	}

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	defer rows.Close()

	return p.decodeRows(rows)
}

func (p *PostgresProvider) GetDatabaseSchema(ctx context.Context) (map[string][]string, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT table_name, column_name FROM information_schema.columns WHERE table_schema = 'public'")
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	defer rows.Close()

	schema := make(map[string][]string)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, models.NewDatabaseError(err)
		}
		schema[table] = append(schema[table], column)
	}
	return schema, models.NewDatabaseError(rows.Err())
}

func (p *PostgresProvider) Close(ctx context.Context) {
	p.closeOnce.Do(p.pool.Close)
}

// decodeRows drains a result set into the uniform QueryResult shape,
// decoding each cell per the column's type name.
func (p *PostgresProvider) decodeRows(rows pgx.Rows) (*models.QueryResult, error) {
	fds := rows.FieldDescriptions()
	typeMap := rows.Conn().TypeMap()

	columns := make([]string, len(fds))
	typeNames := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = fd.Name
		if dt, ok := typeMap.TypeForOID(fd.DataTypeOID); ok {
			typeNames[i] = dt.Name
		} else {
			typeNames[i] = fmt.Sprintf("oid %d", fd.DataTypeOID)
		}
	}

	resultRows := [][]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, models.NewDatabaseError(err)
		}
		out := make([]any, len(values))
		for i, v := range values {
			out[i] = pgValueToJSON(v, typeNames[i])
		}
		resultRows = append(resultRows, out)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewDatabaseError(err)
	}

	return &models.QueryResult{Columns: columns, Rows: resultRows}, nil
}

// pgValueToJSON maps one decoded pgx value to a JSON-compatible value.
// A cell whose driver value does not match its declared type decodes to
// null; unrecognized types are retried as text and fall back to the
// unsupported-type sentinel.
func pgValueToJSON(v any, typeName string) any {
	if v == nil {
		return nil
	}

	switch typeName {
	case "bool":
		if b, ok := v.(bool); ok {
			return b
		}
		return nil
	case "int2":
		if n, ok := v.(int16); ok {
			return int64(n)
		}
		return nil
	case "int4":
		if n, ok := v.(int32); ok {
			return int64(n)
		}
		return nil
	case "int8":
		if n, ok := v.(int64); ok {
			return n
		}
		return nil
	case "float4":
		if f, ok := v.(float32); ok {
			return float64(f)
		}
		return nil
	case "float8":
		if f, ok := v.(float64); ok {
			return f
		}
		return nil
	case "varchar", "text", "bpchar", "name", "unknown":
		if s, ok := v.(string); ok {
			return s
		}
		return nil
	case "timestamp":
		if t, ok := v.(time.Time); ok {
			return t.Format("2006-01-02T15:04:05.999999999")
		}
		return nil
	case "timestamptz":
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
		return nil
	case "date":
		if t, ok := v.(time.Time); ok {
			return t.Format("2006-01-02")
		}
		return nil
	case "time":
		switch t := v.(type) {
		case pgtype.Time:
			micros := t.Microseconds
			return fmt.Sprintf("%02d:%02d:%02d",
				micros/3600000000, micros/60000000%60, micros/1000000%60)
		case time.Time:
			return t.Format("15:04:05")
		}
		return nil
	case "uuid":
		if b, ok := v.([16]byte); ok {
			return uuid.UUID(b).String()
		}
		return nil
	case "json", "jsonb":
		return v
	case "inet", "cidr":
		switch n := v.(type) {
		case netip.Prefix:
			return n.String()
		case netip.Addr:
			return n.String()
		}
		return nil
	}

	// Unrecognized type: retry as text.
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		if utf8.Valid(s) {
			return string(s)
		}
	case fmt.Stringer:
		return s.String()
	}
	return unsupportedType(typeName)
}
