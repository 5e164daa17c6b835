package libvirt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// DefaultSocket is the qemu:///system socket.
const DefaultSocket = "/var/run/libvirt/libvirt-sock"

const defaultTimeout = 5 * time.Second

// connectAttempts bounds ConnectWithContext while libvirtd is restarting.
const connectAttempts = 5

// connectBackoff is the base of the Fibonacci backoff between attempts.
var connectBackoff = 250 * time.Millisecond

var errNotConnected = errors.New("client not connected")

// Client is the libvirt connection shared by the start driver, the
// nwfilter firewall and the storage manager.
type Client struct {
	libvirt *libvirt.Libvirt
	socket  string
}

// HostInfo describes the hypervisor a Client talks to.
type HostInfo struct {
	Version  string
	Hostname string
	URI      string
}

// Connect opens the libvirt socket once.
// Close the returned Client when done.
//
// An empty socketPath means DefaultSocket; a zero timeout means 5 seconds.
func Connect(socketPath string, timeout time.Duration) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocket
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}

	dialer := dialers.NewLocal(
		dialers.WithSocket(socketPath),
		dialers.WithLocalTimeout(timeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)
	}

	return &Client{libvirt: l, socket: socketPath}, nil
}

// ConnectWithContext connects with retries, so a start issued while
// libvirtd restarts waits for it instead of failing. Retrying stops when
// ctx ends or after connectAttempts tries.
func ConnectWithContext(ctx context.Context, socketPath string, timeout time.Duration) (*Client, error) {
	var client *Client
	err := retry.Retry(func(uint) error {
		c, err := Connect(socketPath, timeout)
		if err != nil {
			return err
		}
		client = c
		return nil
	},
		strategy.Limit(connectAttempts),
		strategy.Backoff(backoff.Fibonacci(connectBackoff)),
		func(uint) bool { return ctx.Err() == nil },
	)

	if client != nil {
		return client, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("connection cancelled: %w", ctxErr)
	}
	return nil, err
}

// Close closes the libvirt connection. Closing twice is fine.
func (c *Client) Close() error {
	if c.libvirt == nil {
		return nil
	}

	err := c.libvirt.Disconnect()
	c.libvirt = nil
	if err != nil {
		return fmt.Errorf("failed to disconnect from libvirt at %s: %w", c.socket, err)
	}
	return nil
}

// Libvirt returns the underlying go-libvirt client. It satisfies the
// consumer-side interfaces of guest, firewall, metadata and storage.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}

// Ping verifies the connection is still alive.
func (c *Client) Ping() error {
	if c.libvirt == nil {
		return errNotConnected
	}
	if _, err := c.libvirt.ConnectGetLibVersion(); err != nil {
		return fmt.Errorf("libvirt connection is dead: %w", err)
	}
	return nil
}

// Info returns the hypervisor's library version, hostname and URI.
func (c *Client) Info() (*HostInfo, error) {
	if c.libvirt == nil {
		return nil, errNotConnected
	}

	v, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to get libvirt version: %w", err)
	}
	hostname, err := c.libvirt.ConnectGetHostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	uri, err := c.libvirt.ConnectGetUri()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection URI: %w", err)
	}

	return &HostInfo{Version: formatVersion(v), Hostname: hostname, URI: uri}, nil
}

// formatVersion renders libvirt's packed version number as major.minor.release.
func formatVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000)
}
