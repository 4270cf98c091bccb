package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.netconf.dev/netconf"
)

// Reachable probes whether host:port accepts a TCP connection, without
// attempting any SSH or NETCONF handshaking. It's meant to let a caller
// distinguish "the network path to this device is down" from "the device
// rejected our credentials" before paying for a full Dial.
func Reachable(ctx context.Context, host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &netconf.NetconfError{Kind: netconf.KindUnreachable, Op: "reachable", Err: err}
	}
	return conn.Close()
}
