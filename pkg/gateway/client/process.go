// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"time"

	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/logger"
)

// stopGracePeriod is how long a stdio server gets to exit after its stdin
// is closed before it is killed.
const stopGracePeriod = 3 * time.Second

// process is a stdio MCP server running as a child process.
type process struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	exited chan struct{}
}

// startProcess launches the server described by desc. Servers that only
// declare an image are run with "docker run -i --rm".
func startProcess(desc *gateway.ServerDescriptor, dockerBin string) (*process, error) {
	name, args := commandLine(desc, dockerBin)
	if name == "" {
		return nil, fmt.Errorf("%w: stdio server %s has no command", gateway.ErrValidation, desc.Name)
	}

	// The process outlives the dial context; it is stopped by session.Close.
	cmd := exec.Command(name, args...) //nolint:gosec // command comes from an admin-managed descriptor
	cmd.Env = append(os.Environ(), envList(desc.Env)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdoutR, stdoutW, stderrR, stderrW} {
			_ = f.Close()
		}
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}
	// The child holds its own copies of the write ends.
	_ = stdoutW.Close()
	_ = stderrW.Close()

	p := &process{
		name:   desc.Name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		exited: make(chan struct{}),
	}
	go p.logStderr(stderrR)
	go func() {
		err := cmd.Wait()
		logger.Debugw("stdio server exited", "server", desc.Name, "error", err)
		_ = stdoutR.Close()
		close(p.exited)
	}()
	return p, nil
}

func commandLine(desc *gateway.ServerDescriptor, dockerBin string) (string, []string) {
	if desc.Command != "" {
		return desc.Command, desc.Args
	}
	if desc.DockerImage == "" {
		return "", nil
	}
	args := []string{"run", "-i", "--rm", "--label", "mcpgw.server=" + desc.Name}
	for _, kv := range envList(desc.Env) {
		args = append(args, "-e", kv)
	}
	args = append(args, desc.DockerImage)
	args = append(args, desc.Args...)
	return dockerBin, args
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func (p *process) logStderr(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debugw("stdio server stderr", "server", p.name, "line", logger.Sanitize(scanner.Text()))
	}
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// stop closes stdin and waits for the process to exit, killing it after the
// grace period.
func (p *process) stop() error {
	_ = p.stdin.Close()
	select {
	case <-p.exited:
		return nil
	case <-time.After(stopGracePeriod):
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing %s: %w", p.name, err)
	}
	<-p.exited
	return nil
}
