package cmd

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// validateAddr checks a host:port listen address before binding so a
// typo fails fast instead of surfacing as an opaque net.Listen error.
func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be in host:port format: %w", err)
	}
	if err := validateHost(host); err != nil {
		return err
	}
	return validatePort(port)
}

func validateHost(host string) error {
	// Empty means all interfaces; localhost resolves per the stack.
	if host == "" || host == "localhost" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	// Hostnames are allowed, but whitespace never is.
	if strings.ContainsAny(host, " \t\n") {
		return fmt.Errorf("invalid host: %s", host)
	}
	return nil
}

func validatePort(port string) error {
	if port == "" {
		return fmt.Errorf("port is required")
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}
	if n < 0 || n > 65535 {
		return fmt.Errorf("port must be 0-65535 (0 = auto-assign), got %d", n)
	}
	return nil
}
