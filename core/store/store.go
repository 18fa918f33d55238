// Package store persists saved connections and UI session state as JSON
// files under the application data directory.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/utils"
)

const (
	connectionsFile = "connections.json"
	appStateFile    = "app_state.json"
)

// Store reads and writes the on-disk JSON documents. All methods are
// safe for concurrent use; writes are whole-file replacements.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger utils.Logger
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, logger utils.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dir: dir, logger: logger.WithGroup("store")}, nil
}

// SaveConnection upserts one saved connection by id.
func (s *Store) SaveConnection(conn models.SavedConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	connections, err := s.loadConnections()
	if err != nil {
		return err
	}

	updated := false
	for i, existing := range connections {
		if existing.ID == conn.ID {
			connections[i] = conn
			updated = true
			break
		}
	}
	if !updated {
		connections = append(connections, conn)
	}

	return s.writeJSON(connectionsFile, connections)
}

// LoadConnections returns every saved connection. A missing file yields
// an empty list; records written before db_type existed load as
// postgres.
func (s *Store) LoadConnections() ([]models.SavedConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadConnections()
}

func (s *Store) loadConnections() ([]models.SavedConnection, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, connectionsFile))
	if errors.Is(err, os.ErrNotExist) {
		return []models.SavedConnection{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", connectionsFile, err)
	}

	var connections []models.SavedConnection
	if err := json.Unmarshal(data, &connections); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", connectionsFile, err)
	}
	for i := range connections {
		if connections[i].DBType == "" {
			connections[i].DBType = models.DBTypePostgres
		}
	}
	return connections, nil
}

// DeleteConnection removes a saved connection by id. Deleting an
// unknown id is a no-op.
func (s *Store) DeleteConnection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	connections, err := s.loadConnections()
	if err != nil {
		return err
	}

	kept := connections[:0]
	for _, conn := range connections {
		if conn.ID != id {
			kept = append(kept, conn)
		}
	}
	return s.writeJSON(connectionsFile, kept)
}

// SaveAppState persists the UI session blob as given, re-indented; key
// order and number literals are kept.
func (s *Store) SaveAppState(state json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parsed any
	if err := json.Unmarshal(state, &parsed); err != nil {
		return fmt.Errorf("invalid app state: %w", err)
	}
	return s.writeJSON(appStateFile, state)
}

// LoadAppState returns the persisted UI session blob, or nil when none
// has been saved yet.
func (s *Store) LoadAppState() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, appStateFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", appStateFile, err)
	}
	return json.RawMessage(data), nil
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
