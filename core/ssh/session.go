package ssh

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/utils"
)

// EstablishSession opens a TCP connection to the resolved SSH endpoint,
// applies the algorithm preferences, performs the handshake and
// authenticates. Authentication uses the first applicable method:
// password, then identity file, then SSH agent.
func EstablishSession(params ResolvedParams, cfg models.TunnelConfig, timeout time.Duration, logger utils.Logger) (*ssh.Client, error) {
	auth, err := authMethod(params, cfg)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:    params.User,
		Auth:    []ssh.AuthMethod{auth},
		Timeout: timeout,
		// The source application performs no host key verification; the
		// tunnel endpoint is user-chosen.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	if len(params.KexAlgorithms) > 0 {
		clientConfig.KeyExchanges = params.KexAlgorithms
	}
	if len(params.HostKeyAlgorithms) > 0 {
		clientConfig.HostKeyAlgorithms = params.HostKeyAlgorithms
	}
	if len(params.Ciphers) > 0 {
		clientConfig.Ciphers = params.Ciphers
	}
	if len(params.MACs) > 0 {
		clientConfig.MACs = params.MACs
	}

	addr := net.JoinHostPort(params.Hostname, strconv.Itoa(params.Port))
	logger.Info("establishing SSH session", "addr", addr, "user", params.User)

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", addr, err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// authMethod selects the authentication method for a tunnel config.
func authMethod(params ResolvedParams, cfg models.TunnelConfig) (ssh.AuthMethod, error) {
	if cfg.SSHPassword != "" {
		return ssh.Password(cfg.SSHPassword), nil
	}

	if params.IdentityFile != "" {
		key, err := os.ReadFile(params.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read identity file %s: %w", params.IdentityFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse identity file %s: %w", params.IdentityFile, err)
		}
		return ssh.PublicKeys(signer), nil
	}

	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("no SSH authentication available: no password, no identity file, SSH_AUTH_SOCK not set")
	}
	agentConn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers), nil
}
