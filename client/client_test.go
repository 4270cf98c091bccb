package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"go.netconf.dev/netconf"
)

func TestWithDefaults(t *testing.T) {
	cfg := Config{
		HostName: "r1.example.net",
		UserName: "admin",
		Password: "secret",
	}

	resolved, err := withDefaults(cfg)
	require.NoError(t, err)

	assert.Equal(t, 830, resolved.Port)
	assert.Equal(t, int64(5000), resolved.ConnectionTimeoutMillis)
	assert.Equal(t, int64(30000), resolved.CommandTimeoutMillis)
	assert.False(t, resolved.InsecureHostKeys)

	// Caller-supplied values win over the defaults.
	cfg.Port = 10830
	cfg.ConnectionTimeoutMillis = 100
	resolved, err = withDefaults(cfg)
	require.NoError(t, err)
	assert.Equal(t, 10830, resolved.Port)
	assert.Equal(t, int64(100), resolved.ConnectionTimeoutMillis)
}

func TestAuthMethod(t *testing.T) {
	t.Run("password", func(t *testing.T) {
		auth, err := authMethod(&Config{UserName: "admin", Password: "secret"})
		require.NoError(t, err)
		assert.NotNil(t, auth)
	})

	t.Run("neitherSet", func(t *testing.T) {
		_, err := authMethod(&Config{UserName: "admin"})
		require.Error(t, err)
		assert.True(t, netconf.IsKind(err, netconf.KindAuth))
	})

	t.Run("missingKeyFile", func(t *testing.T) {
		_, err := authMethod(&Config{
			UserName:   "admin",
			PemKeyFile: filepath.Join(t.TempDir(), "no-such-key"),
		})
		require.Error(t, err)
		assert.True(t, netconf.IsKind(err, netconf.KindAuth))
	})

	t.Run("pemKey", func(t *testing.T) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		pemBlock, err := ssh.MarshalPrivateKey(priv, "")
		require.NoError(t, err)

		keyFile := filepath.Join(t.TempDir(), "id_ed25519")
		require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(pemBlock), 0o600))

		auth, err := authMethod(&Config{UserName: "admin", PemKeyFile: keyFile})
		require.NoError(t, err)
		assert.NotNil(t, auth)
	})
}

func TestHostKeyCallback(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	hostKey := signer.PublicKey()

	addr := &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 830}

	t.Run("insecure", func(t *testing.T) {
		cb, err := hostKeyCallback(&Config{InsecureHostKeys: true})
		require.NoError(t, err)
		assert.NoError(t, cb("r1.example.net:830", addr, hostKey))
	})

	t.Run("strictNoFile", func(t *testing.T) {
		_, err := hostKeyCallback(&Config{})
		require.Error(t, err)
		assert.True(t, netconf.IsKind(err, netconf.KindAuth))
	})

	t.Run("strictMatch", func(t *testing.T) {
		knownHosts := filepath.Join(t.TempDir(), "host_keys")
		line := string(ssh.MarshalAuthorizedKey(hostKey))
		require.NoError(t, os.WriteFile(knownHosts, []byte("# lab devices\n\n"+line), 0o600))

		cb, err := hostKeyCallback(&Config{HostKeysFileName: knownHosts})
		require.NoError(t, err)
		assert.NoError(t, cb("r1.example.net:830", addr, hostKey))
	})

	t.Run("strictMismatch", func(t *testing.T) {
		_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		otherSigner, err := ssh.NewSignerFromKey(otherPriv)
		require.NoError(t, err)

		knownHosts := filepath.Join(t.TempDir(), "host_keys")
		line := string(ssh.MarshalAuthorizedKey(otherSigner.PublicKey()))
		require.NoError(t, os.WriteFile(knownHosts, []byte(line), 0o600))

		cb, err := hostKeyCallback(&Config{HostKeysFileName: knownHosts})
		require.NoError(t, err)
		assert.Error(t, cb("r1.example.net:830", addr, hostKey))
	})
}

func TestReachable(t *testing.T) {
	t.Run("up", func(t *testing.T) {
		ln, err := net.Listen("tcp", "localhost:0")
		require.NoError(t, err)
		defer func() { _ = ln.Close() }()

		port := ln.Addr().(*net.TCPAddr).Port
		assert.NoError(t, Reachable(context.Background(), "localhost", port, time.Second))
	})

	t.Run("down", func(t *testing.T) {
		err := Reachable(context.Background(), "127.0.0.1", 1, 100*time.Millisecond)
		require.Error(t, err)
		assert.True(t, netconf.IsKind(err, netconf.KindUnreachable))
	})
}

func TestDial_Unreachable(t *testing.T) {
	cfg := Config{
		HostName:                "127.0.0.1",
		Port:                    1,
		UserName:                "admin",
		Password:                "secret",
		ConnectionTimeoutMillis: 100,
		InsecureHostKeys:        true,
	}

	_, err := Dial(context.Background(), &cfg)
	require.Error(t, err)
	assert.True(t, netconf.IsKind(err, netconf.KindUnreachable))
}
