package db

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/utils"
)

// maxPoolConns is the connection pool ceiling for every provider.
const maxPoolConns = 5

// Provider is the uniform capability contract over one database. All
// operations are safe for concurrent use; errors carry the single
// {message} shape of models.DatabaseError.
type Provider interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, table string, limit, offset int64, filters []models.Filter, sorts []models.Sort) (*models.QueryResult, error)
	GetTableStructure(ctx context.Context, table string) ([]models.ColumnDefinition, error)
	GetTableIndexes(ctx context.Context, table string) ([]models.IndexDefinition, error)
	ExecuteQuery(ctx context.Context, query string) (*models.QueryResult, error)
	GetDatabaseSchema(ctx context.Context) (map[string][]string, error)

	// Close shuts the pool down. Idempotent.
	Close(ctx context.Context)
}

// ConnParams are the discrete connection fields handed to a provider.
// Each backend builds its own driver-native DSN from them.
type ConnParams struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// NewProvider opens the pool for the requested backend type.
func NewProvider(ctx context.Context, dbType string, params ConnParams, logger utils.Logger) (Provider, error) {
	switch dbType {
	case models.DBTypePostgres:
		return NewPostgresProvider(ctx, params, logger)
	case models.DBTypeMySQL:
		return NewMySQLProvider(ctx, params, logger)
	default:
		return nil, models.DatabaseErrorf("unsupported database type: %s", dbType)
	}
}

// identPattern is the whitelist applied to every table and field name
// interpolated into SQL text. Values never pass through it; they are
// always bound as parameters.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func validIdent(name string) bool {
	return identPattern.MatchString(name)
}

// rowReturningKeywords are the statement-leading keywords dispatched to
// the row-returning query path; everything else runs on the execute path
// and yields an empty result.
var rowReturningKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"SHOW":     true,
	"EXPLAIN":  true,
	"DESCRIBE": true,
	"DESC":     true,
	"VALUES":   true,
	"TABLE":    true,
}

// isRowReturning inspects the first keyword of a statement, skipping SQL
// comments and whitespace.
func isRowReturning(query string) bool {
	s := query
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
				continue
			}
			return false
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = s[i+2:]
				continue
			}
			return false
		}
		break
	}
	word := s
	if i := strings.IndexAny(s, " \t\r\n(;"); i >= 0 {
		word = s[:i]
	}
	return rowReturningKeywords[strings.ToUpper(word)]
}

// sortDirection maps a Sort order to SQL, defaulting to ASC.
func sortDirection(order string) string {
	if strings.EqualFold(order, "DESC") {
		return "DESC"
	}
	return "ASC"
}

// likePattern pads a filter value for the substring operators.
func likePattern(operator, value string) (string, bool) {
	switch operator {
	case "contain":
		return "%" + value + "%", true
	case "start with":
		return value + "%", true
	case "end with":
		return "%" + value, true
	}
	return "", false
}

// unsupportedType is the sentinel shown for cells whose type has no
// decoder and no UTF-8 representation.
func unsupportedType(typeName string) string {
	return fmt.Sprintf("Unsupported Type: %s", typeName)
}
