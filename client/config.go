// Package client provides a batteries-included way to dial a NETCONF
// device over SSH: TCP reachability probing, timeout handling, password or
// private-key authentication, and host-key verification, on top of the
// lower-level netconf and transport/ssh packages.
package client

import (
	"github.com/imdario/mergo"
)

// Config describes how to reach and authenticate to a NETCONF device.
// Fields left at their zero value are filled in from DefaultConfig by
// Dial.
type Config struct {
	// HostName is the device's address or hostname. Required.
	HostName string

	// Port is the TCP port the NETCONF SSH subsystem listens on.
	Port int

	// UserName authenticates the SSH session.
	UserName string

	// Password authenticates via SSH password auth. Mutually exclusive
	// with PemKeyFile.
	Password string

	// PemKeyFile is a path to a PEM-encoded private key used for SSH
	// public-key auth. Mutually exclusive with Password.
	PemKeyFile string

	// KeyPassphrase decrypts PemKeyFile if it is itself encrypted.
	KeyPassphrase string

	// ConnectionTimeoutMillis bounds the TCP reachability probe, the SSH
	// handshake, and the NETCONF hello exchange.
	ConnectionTimeoutMillis int64

	// CommandTimeoutMillis is the default deadline applied to each RPC
	// issued on the returned session when the caller's context carries
	// no deadline of its own.
	CommandTimeoutMillis int64

	// HostKeysFileName is a path to a file of known host keys, one per
	// line in authorized_keys format. Required unless InsecureHostKeys
	// is set.
	HostKeysFileName string

	// InsecureHostKeys disables host-key verification entirely: any key
	// the device presents is accepted. The default (strict checking)
	// rejects any host key not found in HostKeysFileName.
	InsecureHostKeys bool

	// ClientCapabilities overrides the capability set advertised in the
	// client <hello>. Leave nil to use netconf.DefaultCapabilities.
	ClientCapabilities []string
}

// DefaultConfig supplies the values Dial fills in for any zero-valued field
// of a caller-supplied Config.
var DefaultConfig = Config{
	Port:                    830,
	ConnectionTimeoutMillis: 5000,
	CommandTimeoutMillis:    30000,
}

// withDefaults returns a copy of cfg with zero-valued fields filled in from
// DefaultConfig.
func withDefaults(cfg Config) (Config, error) {
	resolved := cfg
	if err := mergo.Merge(&resolved, DefaultConfig); err != nil {
		return Config{}, err
	}
	return resolved, nil
}
