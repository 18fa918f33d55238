package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-sql-driver/mysql"

	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/utils"
)

// MySQLProvider serves one MySQL database through a database/sql pool.
type MySQLProvider struct {
	db        *sql.DB
	logger    utils.Logger
	closeOnce sync.Once
}

// NewMySQLProvider opens the pool and verifies connectivity.
func NewMySQLProvider(ctx context.Context, params ConnParams, logger utils.Logger) (*MySQLProvider, error) {
	cfg := mysql.NewConfig()
	cfg.User = params.Username
	cfg.Passwd = params.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(params.Host, strconv.Itoa(params.Port))
	cfg.DBName = params.Database

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	db.SetMaxOpenConns(maxPoolConns)
	db.SetMaxIdleConns(maxPoolConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, models.NewDatabaseError(err)
	}

	return &MySQLProvider{
		db:     db,
		logger: logger.WithGroup("mysql"),
	}, nil
}

func (p *MySQLProvider) ListDatabases(ctx context.Context) ([]string, error) {
	return p.queryStrings(ctx, "SHOW DATABASES")
}

func (p *MySQLProvider) ListTables(ctx context.Context) ([]string, error) {
	return p.queryStrings(ctx, "SHOW TABLES")
}

func (p *MySQLProvider) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, models.NewDatabaseError(err)
		}
		out = append(out, s)
	}
	return out, models.NewDatabaseError(rows.Err())
}

// myPredicate is the WHERE/ORDER fragment pair for a table read;
// placeholders are positional ?.
type myPredicate struct {
	WhereSQL string
	OrderSQL string
	Params   []any
}

// buildMySQLPredicate renders filters and sorts. Fields failing the
// identifier whitelist are dropped silently; the driver handles numeric
// coercion so no cast suffixes are needed.
func buildMySQLPredicate(filters []models.Filter, sorts []models.Sort) myPredicate {
	var whereClauses []string
	var params []any

	for _, filter := range filters {
		if !validIdent(filter.Field) {
			continue
		}

		field := "`" + filter.Field + "`"

		switch filter.Operator {
		case "=", ">=", "<=", ">", "<":
			whereClauses = append(whereClauses, fmt.Sprintf("%s %s ?", field, filter.Operator))
			params = append(params, filter.Value)
		case "contain", "start with", "end with":
			pattern, _ := likePattern(filter.Operator, filter.Value)
			whereClauses = append(whereClauses, field+" LIKE ?")
			params = append(params, pattern)
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
			fmt.Sprintf("`%s` %s", sort.Field, sortDirection(sort.Order)))
	}

	pred := myPredicate{Params: params}
	if len(whereClauses) > 0 {
		pred.WhereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}
	if len(orderClauses) > 0 {
		pred.OrderSQL = "ORDER BY " + strings.Join(orderClauses, ", ")
	}
	return pred
}

func (p *MySQLProvider) GetTableData(ctx context.Context, table string, limit, offset int64, filters []models.Filter, sorts []models.Sort) (*models.QueryResult, error) {
	if !validIdent(table) {
		return nil, models.DatabaseErrorf("invalid table name: %s", table)
	}

	pred := buildMySQLPredicate(filters, sorts)

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM `%s` %s", table, pred.WhereSQL)
	var totalRows int64
	if err := p.db.QueryRowContext(ctx, countSQL, pred.Params...).Scan(&totalRows); err != nil {
		return nil, models.NewDatabaseError(err)
	}

	dataSQL := fmt.Sprintf("SELECT * FROM `%s` %s %s LIMIT ? OFFSET ?",
		table, pred.WhereSQL, pred.OrderSQL)
	args := append(append([]any{}, pred.Params...), limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	defer rows.Close()

	result, err := decodeMySQLRows(rows)
	if err != nil {
		return nil, err
	}
	result.TotalRows = &totalRows
	return result, nil
}

const myStructureQuery = `
SELECT
    COLUMN_NAME,
    COLUMN_TYPE,
    IS_NULLABLE,
    COLUMN_DEFAULT,
    COLUMN_COMMENT
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

func (p *MySQLProvider) GetTableStructure(ctx context.Context, table string) ([]models.ColumnDefinition, error) {
	rows, err := p.db.QueryContext(ctx, myStructureQuery, table)
	if err != nil {
		return nil, models.DatabaseErrorf("failed to get structure for %s: %s", table, err)
	}
	defer rows.Close()

	var columns []models.ColumnDefinition
	for rows.Next() {
		// information_schema string fields arrive as binary; decode as UTF-8.
		var name, nullable string
		var dataType sql.RawBytes
		var defaultVal, commentVal []byte
		if err := rows.Scan(&name, &dataType, &nullable, &defaultVal, &commentVal); err != nil {
			return nil, models.NewDatabaseError(err)
		}

		col := models.ColumnDefinition{
			ColumnName: name,
			DataType:   string(dataType),
			IsNullable: nullable,
			// Foreign keys for MySQL are intentionally not resolved.
			ForeignKey: nil,
		}
		if defaultVal != nil {
			s := string(defaultVal)
			col.ColumnDefault = &s
		}
		if commentVal != nil {
			s := string(commentVal)
			col.Comment = &s
		}
		columns = append(columns, col)
	}
	return columns, models.NewDatabaseError(rows.Err())
}

// showIndexRow is one row of SHOW INDEX output, one per indexed column.
type showIndexRow struct {
	KeyName    string
	NonUnique  int64
	ColumnName string
	IndexType  string
	Comment    string
}

// aggregateIndexes folds SHOW INDEX rows into one definition per index,
// joining column names in row order.
func aggregateIndexes(rows []showIndexRow) []models.IndexDefinition {
	var order []string
	byName := make(map[string]*models.IndexDefinition)

	for _, row := range rows {
		def, ok := byName[row.KeyName]
		if !ok {
			def = &models.IndexDefinition{
				IndexName:      row.KeyName,
				IndexAlgorithm: row.IndexType,
				IsUnique:       row.NonUnique == 0,
				IsPrimary:      row.KeyName == "PRIMARY",
			}
			if row.Comment != "" {
				comment := row.Comment
				def.Comment = &comment
			}
			byName[row.KeyName] = def
			order = append(order, row.KeyName)
		}
		if def.ColumnNames != "" {
			def.ColumnNames += ", "
		}
		def.ColumnNames += row.ColumnName
	}

	out := make([]models.IndexDefinition, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}

func (p *MySQLProvider) GetTableIndexes(ctx context.Context, table string) ([]models.IndexDefinition, error) {
	if !validIdent(table) {
		return nil, models.DatabaseErrorf("invalid table name: %s", table)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf("SHOW INDEX FROM `%s`", table))
	if err != nil {
		return nil, models.DatabaseErrorf("failed to get indexes for %s: %s", table, err)
	}
	defer rows.Close()

	// SHOW INDEX column sets vary across server versions; pick the
	// needed fields out by name.
	columns, err := rows.Columns()
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	colIndex := make(map[string]int, len(columns))
	for i, c := range columns {
		colIndex[c] = i
	}

	var indexRows []showIndexRow
	for rows.Next() {
		raw := make([]sql.RawBytes, len(columns))
		dest := make([]any, len(columns))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, models.NewDatabaseError(err)
		}

		cell := func(name string) string {
			if i, ok := colIndex[name]; ok {
				return string(raw[i])
			}
			return ""
		}
		nonUnique, _ := strconv.ParseInt(cell("Non_unique"), 10, 64)
		indexRows = append(indexRows, showIndexRow{
			KeyName:    cell("Key_name"),
			NonUnique:  nonUnique,
			ColumnName: cell("Column_name"),
			IndexType:  cell("Index_type"),
			Comment:    cell("Index_comment"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewDatabaseError(err)
	}

	return aggregateIndexes(indexRows), nil
}

func (p *MySQLProvider) ExecuteQuery(ctx context.Context, query string) (*models.QueryResult, error) {
	if !isRowReturning(query) {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return nil, models.NewDatabaseError(err)
		}
		return &models.QueryResult{Columns: []string{}, Rows: [][]any{}}, nil
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	defer rows.Close()

	return decodeMySQLRows(rows)
}

func (p *MySQLProvider) GetDatabaseSchema(ctx context.Context) (map[string][]string, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT TABLE_NAME, COLUMN_NAME FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE()")
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

func (p *MySQLProvider) Close(ctx context.Context) {
	p.closeOnce.Do(func() {
		p.db.Close()
	})
}

// decodeMySQLRows drains a result set into the uniform QueryResult
// shape. Every cell is read as raw bytes and decoded per the column's
// database type name.
func decodeMySQLRows(rows *sql.Rows) (*models.QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, models.NewDatabaseError(err)
	}

	resultRows := [][]any{}
	for rows.Next() {
		raw := make([]sql.RawBytes, len(columns))
		dest := make([]any, len(columns))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, models.NewDatabaseError(err)
		}

		out := make([]any, len(columns))
		for i, cell := range raw {
			typeName := columnTypes[i].DatabaseTypeName()
			length, _ := columnTypes[i].Length()
			out[i] = mysqlValueToJSON(cell, typeName, length)
		}
		resultRows = append(resultRows, out)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewDatabaseError(err)
	}

	return &models.QueryResult{Columns: columns, Rows: resultRows}, nil
}

// mysqlValueToJSON maps one raw cell to a JSON-compatible value based on
// the driver's type name. Decode failures on a recognized type produce
// null; unrecognized types are retried as UTF-8 text before falling back
// to the unsupported-type sentinel.
func mysqlValueToJSON(raw []byte, typeName string, length int64) any {
	if raw == nil {
		return nil
	}
	s := string(raw)

	unsigned := strings.HasPrefix(typeName, "UNSIGNED ")
	base := strings.TrimPrefix(typeName, "UNSIGNED ")

	switch base {
	case "BOOLEAN", "TINYINT(1)":
		return parseMySQLBool(s)
	case "TINYINT":
		// BOOLEAN surfaces as TINYINT(1); only a display width of one
		// marks it.
		if length == 1 {
			return parseMySQLBool(s)
		}
		return parseMySQLInt(s, unsigned)
	case "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		return parseMySQLInt(s, unsigned)
	case "FLOAT", "DOUBLE", "REAL":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return f
	case "VARCHAR", "CHAR", "TEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "ENUM", "SET":
		return s
	case "DATETIME", "TIMESTAMP", "DATE", "TIME":
		return s
	case "JSON":
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil
		}
		return v
	}

	if utf8.Valid(raw) {
		return s
	}
	return unsupportedType(typeName)
}

func parseMySQLBool(s string) any {
	n, err := strconv.ParseInt(s, 10, 8)
	if err != nil {
		return nil
	}
	return n != 0
}

func parseMySQLInt(s string, unsigned bool) any {
	if unsigned {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil
		}
		return n
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return n
}
