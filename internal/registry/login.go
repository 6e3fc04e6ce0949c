// Package registry handles container registry authentication.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Client logs the Docker CLI into a registry. The token is passed on
// stdin (`--password-stdin`) so it never appears in the process list.
type Client struct {
	binary string
	host   string
	logger *zap.Logger

	runCommand func(ctx context.Context, stdin string, name string, args ...string) error
}

// NewClient builds a registry client for the given host (e.g. ghcr.io).
func NewClient(binary, host string, logger *zap.Logger) (*Client, error) {
	if binary == "" {
		return nil, fmt.Errorf("docker binary is required")
	}
	if host == "" {
		return nil, fmt.Errorf("registry host is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		binary:     binary,
		host:       host,
		logger:     logger,
		runCommand: runWithStdin,
	}, nil
}

func runWithStdin(ctx context.Context, stdin string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Login authenticates against the registry with the given user/token.
func (c *Client) Login(ctx context.Context, user, token string) error {
	if user == "" {
		return fmt.Errorf("registry user is required")
	}
	if token == "" {
		return fmt.Errorf("registry token is required")
	}

	c.logger.Info("Logging into container registry",
		zap.String("host", c.host),
		zap.String("user", user),
	)
	if err := c.runCommand(ctx, token, c.binary, "login", c.host, "-u", user, "--password-stdin"); err != nil {
		return fmt.Errorf("registry login: %w", err)
	}
	return nil
}
