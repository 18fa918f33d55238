package broker

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidolex/sqlgate/core/db"
	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/ssh"
	"github.com/eidolex/sqlgate/core/utils"
)

type fakeProvider struct {
	closed int32
}

func (f *fakeProvider) ListDatabases(ctx context.Context) ([]string, error) {
	return []string{"postgres"}, nil
}

func (f *fakeProvider) ListTables(ctx context.Context) ([]string, error) {
	return []string{"users"}, nil
}

func (f *fakeProvider) GetTableData(ctx context.Context, table string, limit, offset int64, filters []models.Filter, sorts []models.Sort) (*models.QueryResult, error) {
	return &models.QueryResult{Columns: []string{}, Rows: [][]any{}}, nil
}

func (f *fakeProvider) GetTableStructure(ctx context.Context, table string) ([]models.ColumnDefinition, error) {
	return nil, nil
}

func (f *fakeProvider) GetTableIndexes(ctx context.Context, table string) ([]models.IndexDefinition, error) {
	return nil, nil
}

func (f *fakeProvider) ExecuteQuery(ctx context.Context, query string) (*models.QueryResult, error) {
	return &models.QueryResult{Columns: []string{}, Rows: [][]any{}}, nil
}

func (f *fakeProvider) GetDatabaseSchema(ctx context.Context) (map[string][]string, error) {
	return map[string][]string{}, nil
}

func (f *fakeProvider) Close(ctx context.Context) {
	atomic.AddInt32(&f.closed, 1)
}

func testBroker(provider db.Provider, providerErr error) *Broker {
	logger := utils.DefaultLogger()
	b := NewBroker(ssh.NewTunnelRegistry(models.SSHConfig{}, logger), logger)
	b.newProvider = func(ctx context.Context, dbType string, params db.ConnParams, l utils.Logger) (db.Provider, error) {
		if providerErr != nil {
			return nil, providerErr
		}
		return provider, nil
	}
	return b
}

func validConfig() models.SavedConnection {
	return models.SavedConnection{
		ID:       "c1",
		Name:     "local",
		Host:     "127.0.0.1",
		Port:     5432,
		Username: "u",
		Password: "p",
		Database: "db",
		DBType:   models.DBTypePostgres,
	}
}

func TestConnectReturnsUUID(t *testing.T) {
	fp := &fakeProvider{}
	b := testBroker(fp, nil)

	id, err := b.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.Equal(t, 1, b.Len())

	provider, err := b.Provider(id)
	require.NoError(t, err)

	tables, err := provider.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)
}

func TestConnectEachCallAddsOneEntry(t *testing.T) {
	b := testBroker(&fakeProvider{}, nil)

	first, err := b.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	second, err := b.Connect(context.Background(), validConfig())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, b.Len())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	fp := &fakeProvider{}
	b := testBroker(fp, nil)

	id, err := b.Connect(context.Background(), validConfig())
	require.NoError(t, err)

	require.NoError(t, b.Disconnect(context.Background(), id))
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, int32(1), atomic.LoadInt32(&fp.closed))

	// Second disconnect is a no-op returning ok.
	require.NoError(t, b.Disconnect(context.Background(), id))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fp.closed))
}

func TestProviderUnknownID(t *testing.T) {
	b := testBroker(&fakeProvider{}, nil)

	_, err := b.Provider("00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown connection")
}

func TestConnectValidatesConfig(t *testing.T) {
	b := testBroker(&fakeProvider{}, nil)

	cfg := validConfig()
	cfg.Host = ""
	_, err := b.Connect(context.Background(), cfg)
	require.Error(t, err)

	cfg = validConfig()
	cfg.DBType = "sqlite"
	_, err = b.Connect(context.Background(), cfg)
	require.Error(t, err)

	cfg = validConfig()
	cfg.SSHEnabled = true
	cfg.SSHHost = ""
	_, err = b.Connect(context.Background(), cfg)
	require.Error(t, err)

	assert.Equal(t, 0, b.Len())
}

func TestConnectProviderFailureLeavesNoEntry(t *testing.T) {
	b := testBroker(nil, models.DatabaseErrorf("connection refused"))

	_, err := b.Connect(context.Background(), validConfig())
	require.Error(t, err)
	assert.Equal(t, 0, b.Len())
}

func TestErrorsUseUniformShape(t *testing.T) {
	b := testBroker(nil, models.DatabaseErrorf("connection refused"))

	_, err := b.Connect(context.Background(), validConfig())
	require.Error(t, err)

	var de *models.DatabaseError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "connection refused", de.Message)
}
