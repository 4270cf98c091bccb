package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"go.netconf.dev/netconf"
	ncssh "go.netconf.dev/netconf/transport/ssh"
)

// Dial connects to a device's NETCONF SSH subsystem, performs a TCP
// reachability probe, establishes the SSH transport, and completes the
// NETCONF hello exchange, returning a ready-to-use Session.
//
// Any deadline on ctx bounds the whole connect phase in addition to
// cfg.ConnectionTimeoutMillis; the shorter of the two applies.
func Dial(ctx context.Context, cfg *Config) (*netconf.Session, error) {
	resolved, err := withDefaults(*cfg)
	if err != nil {
		return nil, fmt.Errorf("client: resolving config: %w", err)
	}

	connectTimeout := time.Duration(resolved.ConnectionTimeoutMillis) * time.Millisecond
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	trace := netconf.ContextClientTrace(ctx)
	addr := fmt.Sprintf("%s:%d", resolved.HostName, resolved.Port)

	trace.ConnectStart(addr)

	if err := Reachable(connectCtx, resolved.HostName, resolved.Port, connectTimeout); err != nil {
		trace.ConnectDone(addr, err)
		return nil, err
	}

	sshConfig, err := sshClientConfig(&resolved, connectTimeout)
	if err != nil {
		trace.ConnectDone(addr, err)
		return nil, err
	}

	tr, err := ncssh.Dial(connectCtx, "tcp", addr, sshConfig)
	if err != nil {
		nerr := &netconf.NetconfError{Kind: netconf.KindAuth, Op: "dial", Err: err}
		trace.ConnectDone(addr, nerr)
		return nil, nerr
	}

	opts := []netconf.SessionOption{
		netconf.WithCommandTimeout(time.Duration(resolved.CommandTimeoutMillis) * time.Millisecond),
	}
	if len(resolved.ClientCapabilities) > 0 {
		opts = append(opts, netconf.WithCapability(resolved.ClientCapabilities...))
	}

	session, err := netconf.Open(connectCtx, tr, opts...)
	if err != nil {
		_ = tr.Close()
		trace.ConnectDone(addr, err)
		return nil, err
	}

	trace.ConnectDone(addr, nil)
	return session, nil
}

// sshClientConfig builds the *ssh.ClientConfig for cfg, dispatching on
// whichever auth mode (password or private key) was configured and on the
// host-key policy.
func sshClientConfig(cfg *Config, timeout time.Duration) (*ssh.ClientConfig, error) {
	auth, err := authMethod(cfg)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            cfg.UserName,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func authMethod(cfg *Config) (ssh.AuthMethod, error) {
	if cfg.PemKeyFile != "" && cfg.Password != "" {
		return nil, &netconf.NetconfError{
			Kind: netconf.KindAuth,
			Op:   "auth",
			Err:  fmt.Errorf("exactly one of Password or PemKeyFile must be set"),
		}
	}

	switch {
	case cfg.PemKeyFile != "":
		keyBytes, err := os.ReadFile(cfg.PemKeyFile)
		if err != nil {
			return nil, &netconf.NetconfError{Kind: netconf.KindAuth, Op: "load-key", Err: err}
		}

		var signer ssh.Signer
		if cfg.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(cfg.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, &netconf.NetconfError{Kind: netconf.KindAuth, Op: "parse-key", Err: err}
		}
		return ssh.PublicKeys(signer), nil

	case cfg.Password != "":
		return ssh.Password(cfg.Password), nil

	default:
		return nil, &netconf.NetconfError{
			Kind: netconf.KindAuth,
			Op:   "auth",
			Err:  fmt.Errorf("exactly one of Password or PemKeyFile must be set"),
		}
	}
}

// hostKeyCallback builds the ssh.HostKeyCallback implied by cfg's host-key
// policy. Strict mode (the default) parses cfg.HostKeysFileName (one
// authorized_keys style entry per line) and requires an exact public key
// match.
func hostKeyCallback(cfg *Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureHostKeys {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if cfg.HostKeysFileName == "" {
		return nil, &netconf.NetconfError{
			Kind: netconf.KindAuth,
			Op:   "host-key",
			Err:  fmt.Errorf("host-key checking requires HostKeysFileName; set InsecureHostKeys to disable"),
		}
	}

	keys, err := parseHostKeysFile(cfg.HostKeysFileName)
	if err != nil {
		return nil, &netconf.NetconfError{Kind: netconf.KindAuth, Op: "host-key", Err: err}
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		marshaled := key.Marshal()
		for _, known := range keys {
			if known.Type() == key.Type() && string(known.Marshal()) == string(marshaled) {
				return nil
			}
		}
		return fmt.Errorf("host key for %s not found in %s", hostname, cfg.HostKeysFileName)
	}, nil
}

func parseHostKeysFile(path string) ([]ssh.PublicKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []ssh.PublicKey
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("parsing host key line %q: %w", line, err)
		}
		keys = append(keys, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
