// Package agent runs the external attestation agent and captures the token
// it prints.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aspect-build/attestproof/internal/attestation"
	"github.com/aspect-build/attestproof/internal/logx"
)

// DefaultTimeout bounds one agent invocation.
const DefaultTimeout = 60 * time.Second

// maxStdout caps the captured token output.
const maxStdout = 1 << 20

// Runner invokes Command with Args. Stdout is the token; stderr is relayed
// to Stderr with Secrets redacted.
type Runner struct {
	Command string
	Args    []string
	Env     []string // nil inherits the current environment
	Secrets []string
	Timeout time.Duration
	Stderr  io.Writer
}

var _ attestation.Collector = (*Runner)(nil)

// SecretsFromEnv returns the current values of the named variables.
func SecretsFromEnv(names []string) []string {
	var out []string
	for _, n := range names {
		if v := os.Getenv(strings.TrimSpace(n)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Collect runs the agent once. Any failure wraps attestation.ErrTokenSource.
func (r *Runner) Collect(ctx context.Context) (string, error) {
	if r.Command == "" {
		return "", fmt.Errorf("%w: agent command not configured", attestation.ErrTokenSource)
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stderr := r.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	masked := NewMaskingWriter(stderr, r.Secrets)
	stdout := &cappedBuffer{limit: maxStdout}

	cmd := exec.Command(r.Command, r.Args...)
	cmd.Env = r.Env
	cmd.Stdout = stdout
	cmd.Stderr = masked
	cmd.WaitDelay = time.Second
	setProcAttr(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: start agent: %v", attestation.ErrTokenSource, err)
	}
	logx.Debugf("agent.start cmd=%s pid=%d timeout=%s", r.Command, cmd.Process.Pid, timeout)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		if err := killProcessGroup(cmd); err != nil {
			logx.Warnf("agent.kill pid=%d err=%v", cmd.Process.Pid, err)
		}
		<-done
		_ = masked.Flush()
		logx.Errorf("agent.timeout cmd=%s elapsed=%s", r.Command, time.Since(start))
		return "", fmt.Errorf("%w: agent: %v", attestation.ErrTokenSource, ctx.Err())
	}
	_ = masked.Flush()

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return "", fmt.Errorf("%w: agent exited with code %d", attestation.ErrTokenSource, exitErr.ExitCode())
		}
		return "", fmt.Errorf("%w: wait agent: %v", attestation.ErrTokenSource, waitErr)
	}
	if stdout.truncated {
		return "", fmt.Errorf("%w: agent output exceeds %d bytes", attestation.ErrTokenSource, maxStdout)
	}
	tok := strings.TrimSpace(stdout.String())
	if tok == "" {
		return "", fmt.Errorf("%w: agent produced no token", attestation.ErrTokenSource)
	}
	logx.Infof("agent.done cmd=%s bytes=%d elapsed=%s", r.Command, len(tok), time.Since(start))
	return tok, nil
}

// cappedBuffer keeps at most limit bytes and records overflow.
type cappedBuffer struct {
	bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.Len()
	if len(p) > room {
		b.truncated = true
		if room > 0 {
			b.Buffer.Write(p[:room])
		}
		return len(p), nil
	}
	return b.Buffer.Write(p)
}
