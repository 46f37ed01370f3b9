// Package probe checks whether a host answers on its SSH port and how quickly.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultPort is the port rsync reaches hosts through.
const DefaultPort = 22

var errAbort = errors.New("probe complete")

// SSH measures the time until a host presents its SSH host key. It never
// authenticates: the handshake is abandoned as soon as the key arrives.
type SSH struct {
	Port    int
	Timeout time.Duration
}

// New returns an SSH probe with the default port and a 10 second timeout.
func New() *SSH {
	return &SSH{Port: DefaultPort, Timeout: 10 * time.Second}
}

// Latency dials addr and returns the elapsed time from dial to host key.
func (p *SSH) Latency(ctx context.Context, addr string) (time.Duration, error) {
	port := p.Port
	if port == 0 {
		port = DefaultPort
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	target := net.JoinHostPort(addr, strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return 0, fmt.Errorf("connecting to %s: %w", target, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	var elapsed time.Duration
	config := &ssh.ClientConfig{
		User: "nab",
		HostKeyCallback: func(string, net.Addr, ssh.PublicKey) error {
			elapsed = time.Since(start)
			return errAbort
		},
		Timeout: timeout,
	}
	_, _, _, err = ssh.NewClientConn(conn, target, config)
	if elapsed > 0 {
		return elapsed, nil
	}
	if err == nil {
		err = errors.New("no host key presented")
	}
	return 0, fmt.Errorf("SSH handshake with %s: %w", target, err)
}

// Reachable reports whether addr answered within maxMS milliseconds. A nil
// maxMS accepts any latency.
func (p *SSH) Reachable(ctx context.Context, addr string, maxMS *int) (bool, time.Duration, error) {
	d, err := p.Latency(ctx, addr)
	if err != nil {
		return false, 0, err
	}
	if maxMS != nil && d > time.Duration(*maxMS)*time.Millisecond {
		return false, d, nil
	}
	return true, d, nil
}
