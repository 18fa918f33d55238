package ssh

import (
	"sync"

	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/utils"
)

// TunnelRegistry shares tunnels between database connections keyed by
// TunnelConfig. Entries are reference counted: the registry itself never
// keeps a tunnel alive, only outstanding handles do. Releasing the last
// handle stops the tunnel and removes the entry.
type TunnelRegistry struct {
	mu      sync.Mutex
	tunnels map[string]*registryEntry

	sshConfig models.SSHConfig
	logger    utils.Logger

	// startTunnel is replaceable in tests.
	startTunnel func(models.TunnelConfig, models.SSHConfig, utils.Logger) (*Tunnel, error)
}

type registryEntry struct {
	tunnel *Tunnel
	refs   int
}

// NewTunnelRegistry creates an empty registry.
func NewTunnelRegistry(sshConfig models.SSHConfig, logger utils.Logger) *TunnelRegistry {
	return &TunnelRegistry{
		tunnels:     make(map[string]*registryEntry),
		sshConfig:   sshConfig,
		logger:      logger.WithGroup("tunnel_registry"),
		startTunnel: StartTunnel,
	}
}

// Acquire returns a handle on the tunnel for cfg, reusing a live one or
// starting a fresh one. Entries whose tunnel has died are replaced.
// Construction happens under the registry lock so that two concurrent
// acquires of the same config observe exactly one tunnel.
func (r *TunnelRegistry) Acquire(cfg models.TunnelConfig) (*TunnelHandle, error) {
	key := cfg.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.tunnels[key]; ok {
		if entry.tunnel.IsRunning() {
			entry.refs++
			r.logger.Debug("reusing tunnel",
				"ssh_host", cfg.SSHHost, "local_port", entry.tunnel.LocalPort(), "refs", entry.refs)
			return &TunnelHandle{registry: r, key: key, tunnel: entry.tunnel}, nil
		}
		delete(r.tunnels, key)
	}

	tunnel, err := r.startTunnel(cfg, r.sshConfig, r.logger.WithGroup("tunnel"))
	if err != nil {
		return nil, err
	}

	r.tunnels[key] = &registryEntry{tunnel: tunnel, refs: 1}
	return &TunnelHandle{registry: r, key: key, tunnel: tunnel}, nil
}

// Prune drops entries whose tunnel is no longer running. Their handles
// become releases-without-effect.
func (r *TunnelRegistry) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.tunnels {
		if !entry.tunnel.IsRunning() {
			delete(r.tunnels, key)
		}
	}
}

// Len returns the number of live registry entries.
func (r *TunnelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tunnels)
}

func (r *TunnelRegistry) release(key string, tunnel *Tunnel) {
	r.mu.Lock()
	entry, ok := r.tunnels[key]
	var stop bool
	if ok && entry.tunnel == tunnel {
		entry.refs--
		if entry.refs <= 0 {
			delete(r.tunnels, key)
			stop = true
		}
	}
	r.mu.Unlock()

	// Stop outside the lock: it joins the tunnel worker.
	if stop {
		tunnel.Stop()
	}
}

// TunnelHandle is one strong reference to a shared tunnel. Release is
// idempotent.
type TunnelHandle struct {
	registry *TunnelRegistry
	key      string
	tunnel   *Tunnel
	once     sync.Once
}

// LocalPort returns the tunnel's listener port.
func (h *TunnelHandle) LocalPort() int {
	return h.tunnel.LocalPort()
}

// Release drops this reference; the last release stops the tunnel.
func (h *TunnelHandle) Release() {
	h.once.Do(func() {
		h.registry.release(h.key, h.tunnel)
	})
}
