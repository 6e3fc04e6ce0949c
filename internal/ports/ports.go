// Package ports detects host port conflicts before services start.
package ports

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// CheckFree verifies that every port can be bound on the host. It
// reports all conflicting ports at once so the operator can clear them
// in a single pass.
func CheckFree(ports []int) error {
	var conflicts []string
	for _, port := range ports {
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
		if err != nil {
			conflicts = append(conflicts, strconv.Itoa(port))
			continue
		}
		if err := ln.Close(); err != nil {
			return fmt.Errorf("close probe listener on port %d: %w", port, err)
		}
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("ports already in use: %s", strings.Join(conflicts, ", "))
	}
	return nil
}
