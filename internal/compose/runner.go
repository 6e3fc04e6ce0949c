// Package compose wraps docker compose invocations behind a Runner
// interface so the deployment engine can be tested without Docker.
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Service describes one compose service as reported by `compose ps`.
type Service struct {
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
	Health  string `json:"Health"`
}

// Running reports whether the service is up.
func (s Service) Running() bool {
	return strings.EqualFold(s.State, "running")
}

// BuildOptions control `compose build`.
type BuildOptions struct {
	NoCache   bool
	BuildArgs map[string]string
}

// Runner is the subset of docker compose the deployment engine needs.
type Runner interface {
	Pull(ctx context.Context) error
	Build(ctx context.Context, opts BuildOptions) error
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Restart(ctx context.Context, service string) error
	Ps(ctx context.Context) ([]Service, error)
	Logs(ctx context.Context, service string, tail int) (string, error)
}

// Options configure an ExecRunner.
type Options struct {
	// Binary is the container CLI, normally "docker".
	Binary string
	// File is the compose file for the target environment.
	File string
	// Project is the compose project name (-p).
	Project string
	// Timeout bounds each compose invocation.
	Timeout time.Duration
}

// ExecRunner shells out to `docker compose`.
type ExecRunner struct {
	opts   Options
	logger *zap.Logger

	// runCommand is swapped out in tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewExecRunner builds a Runner that invokes the real docker compose CLI.
func NewExecRunner(opts Options, logger *zap.Logger) (*ExecRunner, error) {
	if opts.Binary == "" {
		return nil, fmt.Errorf("compose binary is required")
	}
	if opts.File == "" {
		return nil, fmt.Errorf("compose file is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{
		opts:       opts,
		logger:     logger,
		runCommand: runExec,
	}, nil
}

func runExec(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return stdout.Bytes(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, detail)
	}
	return stdout.Bytes(), nil
}

func (r *ExecRunner) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	full := append(r.baseArgs(), args...)
	r.logger.Debug("running compose command", zap.Strings("args", full))
	return r.runCommand(ctx, r.opts.Binary, full...)
}

func (r *ExecRunner) baseArgs() []string {
	args := []string{"compose", "-f", r.opts.File}
	if r.opts.Project != "" {
		args = append(args, "-p", r.opts.Project)
	}
	return args
}

// Pull fetches the latest images for all services.
func (r *ExecRunner) Pull(ctx context.Context) error {
	if _, err := r.run(ctx, "pull"); err != nil {
		return fmt.Errorf("compose pull: %w", err)
	}
	return nil
}

// Build rebuilds service images, optionally bypassing the layer cache.
func (r *ExecRunner) Build(ctx context.Context, opts BuildOptions) error {
	args := []string{"build"}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	keys := make([]string, 0, len(opts.BuildArgs))
	for k := range opts.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}
	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("compose build: %w", err)
	}
	return nil
}

// Up starts the stack in detached mode.
func (r *ExecRunner) Up(ctx context.Context) error {
	if _, err := r.run(ctx, "up", "-d", "--remove-orphans"); err != nil {
		return fmt.Errorf("compose up: %w", err)
	}
	return nil
}

// Down stops and removes the stack.
func (r *ExecRunner) Down(ctx context.Context) error {
	if _, err := r.run(ctx, "down"); err != nil {
		return fmt.Errorf("compose down: %w", err)
	}
	return nil
}

// Restart restarts one service, or the whole stack when service is
// empty.
func (r *ExecRunner) Restart(ctx context.Context, service string) error {
	args := []string{"restart"}
	if service != "" {
		args = append(args, service)
	}
	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("compose restart: %w", err)
	}
	return nil
}

// Ps lists services. Compose v2 emits one JSON object per line.
func (r *ExecRunner) Ps(ctx context.Context) ([]Service, error) {
	out, err := r.run(ctx, "ps", "--all", "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("compose ps: %w", err)
	}
	return parsePsOutput(out)
}

// Logs returns the last tail lines for one service, or for the whole
// stack when service is empty.
func (r *ExecRunner) Logs(ctx context.Context, service string, tail int) (string, error) {
	args := []string{"logs", "--no-color"}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	if service != "" {
		args = append(args, service)
	}
	out, err := r.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("compose logs: %w", err)
	}
	return string(out), nil
}

func parsePsOutput(out []byte) ([]Service, error) {
	var services []Service
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var svc Service
		if err := json.Unmarshal(line, &svc); err != nil {
			return nil, fmt.Errorf("parse compose ps line %q: %w", line, err)
		}
		services = append(services, svc)
	}
	return services, nil
}
