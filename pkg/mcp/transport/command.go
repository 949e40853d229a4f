// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
	"go.uber.org/zap"
)

// processGracePeriod is how long Close waits for the child to exit after its
// stdin closes before killing it.
const processGracePeriod = 5 * time.Second

// CommandConfig configures a subprocess stdio transport.
type CommandConfig struct {
	Command string            // Command to execute
	Args    []string          // Command arguments
	Env     map[string]string // Extra environment variables, merged over the base environment
	Dir     string            // Working directory
	Logger  *zap.Logger       // Logger for subprocess diagnostics

	// InheritEnv passes the parent's full environment to the child. When
	// false (the default) the child receives only a whitelist of standard
	// variables, so credentials in the parent environment never leak into
	// spawned servers.
	InheritEnv bool
}

// CommandTransport runs an MCP server as a child process and speaks
// newline-delimited JSON-RPC over its stdin/stdout. Close destroys the
// process.
type CommandTransport struct {
	callbacks

	config CommandConfig
	logger *zap.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	inner   *StdioTransport
	waitErr chan error
}

// NewCommandTransport creates a subprocess transport. The process is spawned
// by Start, not here.
func NewCommandTransport(config CommandConfig) *CommandTransport {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &CommandTransport{
		config:  config,
		logger:  config.Logger,
		waitErr: make(chan error, 1),
	}
}

// Start spawns the subprocess and begins reading its stdout.
func (t *CommandTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return protocol.ErrAlreadyStarted
	}
	if t.closed {
		return protocol.ErrNotConnected
	}

	// #nosec G204 -- the transport spawns server processes from trusted config
	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Dir = t.config.Dir
	cmd.Env = t.buildEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start %s: %w", t.config.Command, err)
	}

	inner := NewStdioTransport(stdout, stdin, t.logger)
	inner.SetMessageHandler(t.deliverMessage)
	inner.SetErrorHandler(t.reportError)
	inner.SetCloseHandler(t.fireClose)

	if err := inner.Start(ctx); err != nil {
		_ = cmd.Process.Kill()
		return err
	}

	t.cmd = cmd
	t.stdin = stdin
	t.inner = inner
	t.started = true

	go t.monitorStderr(stderr)
	go func() { t.waitErr <- cmd.Wait() }()

	t.logger.Info("MCP server started",
		zap.String("command", t.config.Command),
		zap.Strings("args", t.config.Args),
		zap.Int("pid", cmd.Process.Pid),
	)
	return nil
}

// Send forwards one envelope to the child's stdin.
func (t *CommandTransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	inner := t.inner
	closed := t.closed
	t.mu.Unlock()

	if inner == nil || closed {
		return protocol.ErrNotConnected
	}
	return inner.Send(ctx, message)
}

// Close closes the child's stdin, waits briefly for a clean exit, then kills
// the process. Safe to call multiple times.
func (t *CommandTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cmd := t.cmd
	inner := t.inner
	t.mu.Unlock()

	if inner != nil {
		_ = inner.Close()
	}

	if cmd != nil && cmd.Process != nil {
		select {
		case err := <-t.waitErr:
			if err != nil {
				t.logger.Warn("MCP server exited with error", zap.Error(err))
			}
		case <-time.After(processGracePeriod):
			t.logger.Warn("MCP server did not exit cleanly, killing process",
				zap.Int("pid", cmd.Process.Pid))
			_ = cmd.Process.Kill()
			<-t.waitErr
		}
	}

	t.fireClose()
	return nil
}

// monitorStderr logs subprocess stderr lines at debug level.
func (t *CommandTransport) monitorStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug("mcp server stderr", zap.String("line", scanner.Text()))
	}
}

// buildEnv assembles the child environment: the sanitized (or inherited)
// base, with configured variables merged on top.
func (t *CommandTransport) buildEnv() []string {
	var env []string
	if t.config.InheritEnv {
		env = os.Environ()
	} else {
		env = sanitizedEnv()
	}
	for k, v := range t.config.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// defaultEnvKeysPosix and defaultEnvKeysWindows are the environment variables
// passed through to child processes by default.
var (
	defaultEnvKeysPosix = []string{
		"HOME", "LOGNAME", "PATH", "SHELL", "TERM", "USER",
	}
	defaultEnvKeysWindows = []string{
		"APPDATA", "HOMEDRIVE", "HOMEPATH", "LOCALAPPDATA", "PATH",
		"PROCESSOR_ARCHITECTURE", "SYSTEMDRIVE", "SYSTEMROOT", "TEMP",
		"USERNAME", "USERPROFILE",
	}
)

// sanitizedEnv returns the whitelisted subset of the parent environment.
// Values that begin with "()" are skipped: they are shell functions, and
// inheriting them re-opens the shellshock class of bugs.
func sanitizedEnv() []string {
	keys := defaultEnvKeysPosix
	if runtime.GOOS == "windows" {
		keys = defaultEnvKeysWindows
	}

	env := make([]string, 0, len(keys))
	for _, key := range keys {
		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if strings.HasPrefix(value, "()") {
			continue
		}
		env = append(env, key+"="+value)
	}
	return env
}
