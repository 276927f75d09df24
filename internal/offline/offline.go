// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNonLocalhost is returned for a remote endpoint in local-only mode.
	ErrNonLocalhost = errors.New("only loopback endpoints are allowed in local-only mode (set engine.local_only = false to allow remote servers)")

	// ErrInvalidURLScheme is returned for anything but http and https.
	ErrInvalidURLScheme = errors.New("only http and https endpoints are supported")

	// ErrInvalidURL is returned when an endpoint cannot be parsed.
	ErrInvalidURL = errors.New("invalid endpoint URL")
)

// =============================================================================
// POLICY
// =============================================================================

// Policy decides which endpoints are acceptable.
type Policy struct {
	LocalOnly bool
}

// CheckEndpoint validates an engine base URL.
func (p Policy) CheckEndpoint(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidURLScheme, rawURL)
	}

	if p.LocalOnly && !IsLocalhost(parsed.Hostname()) {
		return fmt.Errorf("%w: %s", ErrNonLocalhost, parsed.Host)
	}
	return nil
}

// CheckListen validates a host:port a server binds to. An empty host binds
// every interface and is refused in local-only mode.
func (p Policy) CheckListen(addr string) error {
	if addr == "" || !p.LocalOnly {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if !IsLocalhost(host) {
		return fmt.Errorf("%w: listen address %s", ErrNonLocalhost, addr)
	}
	return nil
}

// Badge is shown next to the model in status output.
func (p Policy) Badge() string {
	if p.LocalOnly {
		return "local only"
	}
	return "remote allowed"
}

// =============================================================================
// HOST CHECKS
// =============================================================================

// IsLocalhost reports whether host, with or without a port, is a loopback
// name or address. Every 127.0.0.0/8 address and every spelling of ::1
// count.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
