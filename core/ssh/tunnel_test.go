package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/utils"
)

const (
	testSSHUser     = "tester"
	testSSHPassword = "secret"
)

// testSSHServer accepts direct-tcpip channels and echoes every byte
// back, standing in for the bastion plus the remote database endpoint.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	sessions int32
}

func startTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == testSSHUser && string(pass) == testSSHPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied for %s", meta.User())
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &testSSHServer{listener: listener, config: config}
	go srv.serve()
	t.Cleanup(func() { listener.Close() })
	return srv
}

func (s *testSSHServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *testSSHServer) handle(conn net.Conn) {
	serverConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	atomic.AddInt32(&s.sessions, 1)
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "direct-tcpip" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			io.Copy(ch, ch)
			ch.Close()
		}()
	}
	serverConn.Close()
}

func testTunnelConfig(srv *testSSHServer, remotePort int) models.TunnelConfig {
	return models.TunnelConfig{
		SSHHost:     "127.0.0.1",
		SSHPort:     srv.port(),
		SSHUser:     testSSHUser,
		SSHPassword: testSSHPassword,
		RemoteHost:  "127.0.0.1",
		RemotePort:  remotePort,
	}
}

func testSSHSettings() models.SSHConfig {
	return models.SSHConfig{ConnectTimeout: 5 * time.Second}
}

func TestTunnelForwardsData(t *testing.T) {
	srv := startTestSSHServer(t)

	tunnel, err := StartTunnel(testTunnelConfig(srv, 5432), testSSHSettings(), utils.DefaultLogger())
	require.NoError(t, err)
	defer tunnel.Stop()

	assert.True(t, tunnel.IsRunning())
	assert.NotZero(t, tunnel.LocalPort())

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(tunnel.LocalPort())))
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("SELECT 1 AS n")
	_, err = conn.Write(payload)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	echoed, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, payload, echoed)
}

func TestTunnelConcurrentClients(t *testing.T) {
	srv := startTestSSHServer(t)

	tunnel, err := StartTunnel(testTunnelConfig(srv, 5432), testSSHSettings(), utils.DefaultLogger())
	require.NoError(t, err)
	defer tunnel.Stop()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(tunnel.LocalPort()))
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func(i int) {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				done <- err
				return
			}
			defer conn.Close()

			payload := []byte(fmt.Sprintf("client-%d", i))
			if _, err := conn.Write(payload); err != nil {
				done <- err
				return
			}
			conn.(*net.TCPConn).CloseWrite()

			echoed, err := io.ReadAll(conn)
			if err != nil {
				done <- err
				return
			}
			if string(echoed) != string(payload) {
				done <- fmt.Errorf("got %q want %q", echoed, payload)
				return
			}
			done <- nil
		}(i)
	}
	for i := 0; i < 4; i++ {
		assert.NoError(t, <-done)
	}

	// All clients share one SSH session.
	assert.Equal(t, int32(1), atomic.LoadInt32(&srv.sessions))
}

func TestTunnelStopClosesListener(t *testing.T) {
	srv := startTestSSHServer(t)

	tunnel, err := StartTunnel(testTunnelConfig(srv, 5432), testSSHSettings(), utils.DefaultLogger())
	require.NoError(t, err)
	port := tunnel.LocalPort()

	stopped := make(chan struct{})
	go func() {
		tunnel.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not join the worker in time")
	}

	assert.False(t, tunnel.IsRunning())
	_, err = net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 500*time.Millisecond)
	assert.Error(t, err)
}

func TestTunnelAuthFailure(t *testing.T) {
	srv := startTestSSHServer(t)

	cfg := testTunnelConfig(srv, 5432)
	cfg.SSHPassword = "wrong"

	_, err := StartTunnel(cfg, testSSHSettings(), utils.DefaultLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake")
}
