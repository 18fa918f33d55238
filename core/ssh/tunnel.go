package ssh

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/utils"
)

// copyBufferSize is the per-direction staging buffer for each forwarded
// connection. A pump does not read more from its source until the
// previous chunk is fully written, which applies TCP backpressure to
// whichever endpoint is slow.
const copyBufferSize = 16 * 1024

// Tunnel forwards connections accepted on a local listener through one
// SSH session to a fixed remote endpoint, opening one direct-tcpip
// channel per accepted connection. The local port is assigned by the OS
// at start and never changes for the tunnel's lifetime.
type Tunnel struct {
	config models.TunnelConfig
	logger utils.Logger

	client    *ssh.Client
	listener  net.Listener
	localPort int

	running     int32
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	connections sync.Map // map[net.Conn]bool
}

// StartTunnel resolves SSH parameters, establishes the SSH session, binds
// 127.0.0.1:0 and spawns the accept worker. Any setup failure releases
// everything acquired so far and is fatal for this tunnel.
func StartTunnel(cfg models.TunnelConfig, sshCfg models.SSHConfig, logger utils.Logger) (*Tunnel, error) {
	resolver := NewResolver("", logger)
	params := resolver.Resolve(cfg)

	client, err := EstablishSession(params, cfg, sshCfg.ConnectTimeout, logger)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to bind local listener: %w", err)
	}
	localPort := listener.Addr().(*net.TCPAddr).Port

	t := &Tunnel{
		config:    cfg,
		logger:    logger,
		client:    client,
		listener:  listener,
		localPort: localPort,
		running:   1,
		stopChan:  make(chan struct{}),
	}

	t.wg.Add(1)
	go t.acceptLoop()

	// The session dying (network drop, server restart) retires the whole
	// tunnel; the registry replaces it on next acquire.
	go func() {
		client.Wait()
		t.shutdown()
	}()

	if sshCfg.KeepAlive > 0 {
		go t.keepAlive(sshCfg.KeepAlive)
	}

	logger.Info("tunnel started",
		"local_port", localPort,
		"remote", net.JoinHostPort(cfg.RemoteHost, strconv.Itoa(cfg.RemotePort)))

	return t, nil
}

// LocalPort returns the OS-assigned listener port.
func (t *Tunnel) LocalPort() int {
	return t.localPort
}

// IsRunning returns whether the tunnel is serving connections.
func (t *Tunnel) IsRunning() bool {
	return atomic.LoadInt32(&t.running) == 1
}

// Stop retires the tunnel: the run flag flips, the listener and SSH
// session close, and every worker is joined before Stop returns.
func (t *Tunnel) Stop() {
	t.shutdown()
	t.wg.Wait()
	t.logger.Info("tunnel stopped", "local_port", t.localPort)
}

func (t *Tunnel) shutdown() {
	t.stopOnce.Do(func() {
		atomic.StoreInt32(&t.running, 0)
		close(t.stopChan)
		t.listener.Close()
		t.client.Close()

		// Unblock any pump still reading from a client socket.
		t.connections.Range(func(key, value interface{}) bool {
			if conn, ok := key.(net.Conn); ok {
				conn.Close()
			}
			return true
		})
	})
}

// acceptLoop is the tunnel's single worker. It checks the run flag at the
// top of every iteration and hands each accepted connection to a
// forwarding pair.
func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		// Accept with a deadline so the stop signal is observed promptly.
		if tcpListener, ok := t.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(1 * time.Second))
		}

		conn, err := t.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if atomic.LoadInt32(&t.running) == 0 {
				return
			}
			t.logger.Error("failed to accept connection", "error", err)
			continue
		}

		t.wg.Add(1)
		go t.forward(conn)
	}
}

// forward opens a direct-tcpip channel for one accepted connection and
// pumps bytes in both directions until both sides reach EOF. Errors here
// terminate only this channel.
func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	t.connections.Store(local, true)
	defer t.connections.Delete(local)

	remoteAddr := net.JoinHostPort(t.config.RemoteHost, strconv.Itoa(t.config.RemotePort))
	remote, err := t.client.Dial("tcp", remoteAddr)
	if err != nil {
		t.logger.Error("failed to open direct-tcpip channel",
			"remote_addr", remoteAddr, "error", err)
		return
	}
	defer remote.Close()

	t.logger.Debug("channel opened",
		"client_addr", local.RemoteAddr(), "remote_addr", remoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.pump(remote, local)
		// Local EOF: half-close so the remote sees EOF but can still send.
		halfClose(remote)
	}()
	go func() {
		defer wg.Done()
		t.pump(local, remote)
		halfClose(local)
	}()
	wg.Wait()
}

// pump copies one direction through a fixed-size staging buffer. Both
// ends are wrapped so io.CopyBuffer cannot hand the copy to a ReadFrom or
// WriteTo method (net.TCPConn has both) that would bypass the buffer.
func (t *Tunnel) pump(dst io.Writer, src io.Reader) {
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf); err != nil && err != io.EOF {
		t.logger.Debug("channel copy ended", "error", err)
	}
}

func halfClose(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
		return
	}
	conn.Close()
}

// keepAlive sends SSH keepalive requests until the tunnel stops.
func (t *Tunnel) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			if _, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Warn("keepalive failed", "error", err)
				t.shutdown()
				return
			}
		}
	}
}
