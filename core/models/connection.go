package models

import (
	"fmt"
	"strings"

	"github.com/eidolex/sqlgate/core/utils"
)

// Database backend identifiers accepted in SavedConnection.DBType.
const (
	DBTypePostgres = "postgres"
	DBTypeMySQL    = "mysql"
)

// SavedConnection is the user-editable connection record persisted in
// connections.json and submitted by the UI when connecting.
type SavedConnection struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Database string `json:"database"`
	DBType   string `json:"db_type,omitempty"`

	SSHEnabled  bool   `json:"ssh_enabled"`
	SSHHost     string `json:"ssh_host,omitempty"`
	SSHPort     int    `json:"ssh_port,omitempty"`
	SSHUser     string `json:"ssh_user,omitempty"`
	SSHPassword string `json:"ssh_password,omitempty"`
	SSHKeyPath  string `json:"ssh_key_path,omitempty"`
}

// EffectiveDBType returns the backend type, defaulting legacy records
// (written before db_type existed) to postgres.
func (c SavedConnection) EffectiveDBType() string {
	if c.DBType == "" {
		return DBTypePostgres
	}
	return c.DBType
}

// Validate checks the fields required before a connection attempt.
func (c SavedConnection) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if !utils.ValidatePort(c.Port) {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	switch c.EffectiveDBType() {
	case DBTypePostgres, DBTypeMySQL:
	default:
		return fmt.Errorf("unsupported database type: %s", c.DBType)
	}
	if c.SSHEnabled {
		if c.SSHHost == "" {
			return fmt.Errorf("ssh_host is required when SSH is enabled")
		}
		if c.SSHPort != 0 && !utils.ValidatePort(c.SSHPort) {
			return fmt.Errorf("invalid ssh_port: %d", c.SSHPort)
		}
	}
	return nil
}

// TunnelConfig identifies one SSH tunnel. Two configs that compare equal
// produce a functionally identical tunnel and therefore share one.
// Optional fields are normalized so that "" and absent mean the same thing.
type TunnelConfig struct {
	SSHHost     string
	SSHPort     int
	SSHUser     string
	SSHPassword string
	SSHKeyPath  string
	RemoteHost  string
	RemotePort  int
}

// TunnelConfigFor derives the tunnel identity for a saved connection.
// The remote endpoint is the database address as seen from the bastion.
func TunnelConfigFor(c SavedConnection) TunnelConfig {
	return TunnelConfig{
		SSHHost:     strings.TrimSpace(c.SSHHost),
		SSHPort:     c.SSHPort,
		SSHUser:     strings.TrimSpace(c.SSHUser),
		SSHPassword: c.SSHPassword,
		SSHKeyPath:  strings.TrimSpace(c.SSHKeyPath),
		RemoteHost:  c.Host,
		RemotePort:  c.Port,
	}
}

// Key returns the map key used by the tunnel registry. TunnelConfig is a
// comparable struct, but a string key keeps registry contents readable in
// logs and debuggers.
func (t TunnelConfig) Key() string {
	return fmt.Sprintf("%s|%d|%s|%s|%s|%s:%d",
		t.SSHHost, t.SSHPort, t.SSHUser, t.SSHPassword, t.SSHKeyPath,
		t.RemoteHost, t.RemotePort)
}
