package ssh

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	sshconfig "github.com/kevinburke/ssh_config"

	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/utils"
)

const (
	defaultSSHPort = 22
	defaultSSHUser = "root"
)

// ResolvedParams is the effective set of SSH connection parameters after
// merging user-supplied values with ~/.ssh/config and defaults.
type ResolvedParams struct {
	Hostname          string
	Port              int
	User              string
	IdentityFile      string
	KexAlgorithms     []string
	HostKeyAlgorithms []string
	Ciphers           []string
	MACs              []string
}

// Resolver merges tunnel parameters with an OpenSSH client config file.
// A missing or unparsable config never fails resolution; the tunnel
// proceeds with user values and defaults.
type Resolver struct {
	configPath string
	homeDir    string
	logger     utils.Logger
}

// NewResolver creates a resolver reading configPath. An empty path means
// ~/.ssh/config.
func NewResolver(configPath string, logger utils.Logger) *Resolver {
	home, _ := os.UserHomeDir()
	if configPath == "" && home != "" {
		configPath = filepath.Join(home, ".ssh", "config")
	}
	return &Resolver{
		configPath: configPath,
		homeDir:    home,
		logger:     logger,
	}
}

// Resolve computes the effective SSH parameters for a tunnel config.
// Precedence: user-supplied values, then config file values, then
// defaults (port 22, user "root").
func (r *Resolver) Resolve(cfg models.TunnelConfig) ResolvedParams {
	params := ResolvedParams{
		Hostname: cfg.SSHHost,
		Port:     defaultSSHPort,
		User:     defaultSSHUser,
	}

	hostCfg := r.loadConfig()
	if hostCfg != nil {
		if v := r.get(hostCfg, cfg.SSHHost, "HostName"); v != "" {
			params.Hostname = v
		}
		if v := r.get(hostCfg, cfg.SSHHost, "Port"); v != "" {
			if port, err := strconv.Atoi(v); err == nil && utils.ValidatePort(port) {
				params.Port = port
			}
		}
		if v := r.get(hostCfg, cfg.SSHHost, "User"); v != "" {
			params.User = v
		}
		if paths, err := hostCfg.GetAll(cfg.SSHHost, "IdentityFile"); err == nil && len(paths) > 0 {
			params.IdentityFile = r.resolveIdentityPath(paths[0])
		}
		params.KexAlgorithms = splitAlgorithms(r.get(hostCfg, cfg.SSHHost, "KexAlgorithms"))
		params.HostKeyAlgorithms = splitAlgorithms(r.get(hostCfg, cfg.SSHHost, "HostKeyAlgorithms"))
		params.Ciphers = splitAlgorithms(r.get(hostCfg, cfg.SSHHost, "Ciphers"))
		params.MACs = splitAlgorithms(r.get(hostCfg, cfg.SSHHost, "MACs"))
	}

	// User-supplied values take precedence over anything from the file.
	if cfg.SSHPort != 0 {
		params.Port = cfg.SSHPort
	}
	if cfg.SSHUser != "" {
		params.User = cfg.SSHUser
	}
	if cfg.SSHKeyPath != "" {
		params.IdentityFile = r.expandHome(cfg.SSHKeyPath)
	}

	return params
}

// loadConfig parses the config file, returning nil on any failure.
func (r *Resolver) loadConfig() *sshconfig.Config {
	if r.configPath == "" {
		return nil
	}
	f, err := os.Open(r.configPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	cfg, err := sshconfig.Decode(f)
	if err != nil {
		r.logger.Debug("ignoring unparsable ssh config", "path", r.configPath, "error", err)
		return nil
	}
	return cfg
}

func (r *Resolver) get(cfg *sshconfig.Config, alias, key string) string {
	v, err := cfg.Get(alias, key)
	if err != nil {
		return ""
	}
	return v
}

// resolveIdentityPath resolves an IdentityFile value from the config file:
// ~ expands to the home directory, bare relative paths resolve against
// ~/.ssh.
func (r *Resolver) resolveIdentityPath(path string) string {
	if strings.HasPrefix(path, "~") {
		return r.expandHome(path)
	}
	if !filepath.IsAbs(path) && r.homeDir != "" {
		return filepath.Join(r.homeDir, ".ssh", path)
	}
	return path
}

// expandHome expands a leading ~ to the home directory.
func (r *Resolver) expandHome(path string) string {
	if r.homeDir == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	if path == "~" {
		return r.homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(r.homeDir, path[2:])
	}
	return path
}

func splitAlgorithms(list string) []string {
	if list == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
