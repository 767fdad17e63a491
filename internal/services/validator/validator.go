// Package validator checks that connection settings point at a live Hyperion server.
package validator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bbernstein/hyperion-link-go/pkg/hyperion"
)

var (
	// ErrInvalidIP means the host is not an IPv4 or IPv6 literal.
	ErrInvalidIP = errors.New("invalid ip address")
	// ErrInvalidPort means the port is outside 1-65535.
	ErrInvalidPort = errors.New("invalid port")
	// ErrCannotConnect means the server could not be queried or reported failure.
	ErrCannotConnect = errors.New("cannot connect")
)

// DefaultTimeout bounds the liveness query.
const DefaultTimeout = 5 * time.Second

// ServerInfoFunc queries the server at host:port once.
type ServerInfoFunc func(ctx context.Context, host string, port int) (*hyperion.ServerInfo, error)

// Validator validates connection settings.
type Validator struct {
	query   ServerInfoFunc
	timeout time.Duration
}

// New creates a Validator. A non-positive timeout uses DefaultTimeout.
func New(query ServerInfoFunc, timeout time.Duration) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Validator{query: query, timeout: timeout}
}

type queryResult struct {
	info *hyperion.ServerInfo
	err  error
}

// Validate checks host and port and returns the hostname reported by the server.
//
// The query runs on its own goroutine; when ctx ends first Validate returns
// without waiting for it. Nothing is persisted, so Validate is safe to retry.
func (v *Validator) Validate(ctx context.Context, host string, port int) (string, error) {
	if net.ParseIP(host) == nil {
		return "", ErrInvalidIP
	}
	if port < 1 || port > 65535 {
		return "", ErrInvalidPort
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	results := make(chan queryResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- queryResult{err: fmt.Errorf("server info query panicked: %v", r)}
			}
		}()
		info, err := v.query(ctx, host, port)
		results <- queryResult{info: info, err: err}
	}()

	var res queryResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrCannotConnect, ctx.Err())
	}

	switch {
	case res.err != nil:
		return "", fmt.Errorf("%w: %v", ErrCannotConnect, res.err)
	case res.info == nil:
		return "", fmt.Errorf("%w: empty server info", ErrCannotConnect)
	case !res.info.Success:
		return "", fmt.Errorf("%w: server reported failure", ErrCannotConnect)
	}
	return res.info.Info.Hostname, nil
}
