package system

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// TCPProber probes ports by opening a TCP connection.
type TCPProber struct{}

// Probe reports whether address:port accepts a TCP connection within timeout. A refused or
// timed-out connection is a closed port, not an error; only invalid input is an error.
func (TCPProber) Probe(ctx context.Context, address string, port int, timeout time.Duration) (bool, error) {
	if port <= 0 || port > 65535 {
		return false, fmt.Errorf("port %d out of range", port)
	}
	if address == "" {
		address = "127.0.0.1"
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}
