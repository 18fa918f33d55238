package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/eidolex/sqlgate/core/db"
	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/ssh"
	"github.com/eidolex/sqlgate/core/utils"
)

// DbConnection is one live database connection: a provider pool plus,
// when the connection rides an SSH tunnel, a strong tunnel reference.
// The tunnel stays alive exactly as long as some DbConnection holds a
// handle on it.
type DbConnection struct {
	Provider db.Provider
	tunnel   *ssh.TunnelHandle
}

// Broker owns every open database connection, keyed by an opaque UUID
// handed to the UI. It shares SSH tunnels between connections through
// the tunnel registry.
type Broker struct {
	mu          sync.Mutex
	connections map[string]*DbConnection

	tunnels *ssh.TunnelRegistry
	logger  utils.Logger

	// newProvider is replaceable in tests.
	newProvider func(ctx context.Context, dbType string, params db.ConnParams, logger utils.Logger) (db.Provider, error)
}

// NewBroker creates an empty broker backed by the given tunnel registry.
func NewBroker(tunnels *ssh.TunnelRegistry, logger utils.Logger) *Broker {
	return &Broker{
		connections: make(map[string]*DbConnection),
		tunnels:     tunnels,
		logger:      logger.WithGroup("broker"),
		newProvider: db.NewProvider,
	}
}

// Connect opens a connection for a saved config and returns its id.
// With SSH enabled it first acquires a shared tunnel and points the pool
// at the tunnel's local listener. A provider failure releases the tunnel
// reference, which stops the tunnel if nothing else holds it; no
// half-initialized entry is ever left in the map.
func (b *Broker) Connect(ctx context.Context, cfg models.SavedConnection) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", models.NewDatabaseError(err)
	}

	params := db.ConnParams{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Database: cfg.Database,
	}

	var tunnel *ssh.TunnelHandle
	if cfg.SSHEnabled && cfg.SSHHost != "" {
		handle, err := b.tunnels.Acquire(models.TunnelConfigFor(cfg))
		if err != nil {
			return "", models.NewDatabaseError(err)
		}
		tunnel = handle
		params.Host = "127.0.0.1"
		params.Port = handle.LocalPort()
	}

	provider, err := b.newProvider(ctx, cfg.EffectiveDBType(), params, b.logger)
	if err != nil {
		if tunnel != nil {
			tunnel.Release()
		}
		return "", models.NewDatabaseError(err)
	}

	id := uuid.New().String()

	b.mu.Lock()
	b.connections[id] = &DbConnection{Provider: provider, tunnel: tunnel}
	b.mu.Unlock()

	b.logger.Info("connected",
		"connection_id", id,
		"db_type", cfg.EffectiveDBType(),
		"ssh", cfg.SSHEnabled)

	return id, nil
}

// Disconnect closes the connection's pool and drops its tunnel
// reference. Unknown ids are a no-op: a second disconnect returns ok.
func (b *Broker) Disconnect(ctx context.Context, id string) error {
	b.mu.Lock()
	conn, ok := b.connections[id]
	if ok {
		delete(b.connections, id)
	}
	b.mu.Unlock()

	if !ok {
		return nil
	}

	conn.Provider.Close(ctx)
	if conn.tunnel != nil {
		conn.tunnel.Release()
	}
	b.tunnels.Prune()

	b.logger.Info("disconnected", "connection_id", id)
	return nil
}

// Provider returns the provider for a connection id. The handle is
// cloned under the lock; callers await on it after the lock is gone.
func (b *Broker) Provider(id string) (db.Provider, error) {
	b.mu.Lock()
	conn, ok := b.connections[id]
	b.mu.Unlock()

	if !ok {
		return nil, models.DatabaseErrorf("unknown connection: %s", id)
	}
	return conn.Provider, nil
}

// Len returns the number of open connections.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.connections)
}

// Close disconnects everything. Used on server shutdown.
func (b *Broker) Close(ctx context.Context) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.connections))
	for id := range b.connections {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		if err := b.Disconnect(ctx, id); err != nil {
			b.logger.Warn("disconnect failed during shutdown",
				"connection_id", id, "error", fmt.Sprint(err))
		}
	}
}
