package process

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
)

func requirePTY(t *testing.T) {
	t.Helper()
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pseudo-terminal unavailable: %v", err)
	}
	_ = tty.Close()
	_ = ptmx.Close()
}

func runScript(t *testing.T, script string, timeout time.Duration) (string, error) {
	t.Helper()
	requirePTY(t)

	var out bytes.Buffer
	d := NewDriver(
		WithPrompt("Enter password"),
		WithHandshakeTimeout(timeout),
		WithOutput(&out),
	)
	err := d.Run(context.Background(), "/bin/sh", []string{"-c", script}, "hunter2")
	return out.String(), err
}

func TestRun_SendsSecretAndDrains(t *testing.T) {
	out, err := runScript(t, `printf 'Enter password: '; read pw; echo "received:$pw"; exit 0`, 5*time.Second)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(out, "received:hunter2") {
		t.Errorf("output does not show the secret was received: %q", out)
	}
}

func TestRun_PromptSplitAcrossWrites(t *testing.T) {
	out, err := runScript(t, `printf 'Enter pass'; sleep 0.2; printf 'word: '; read pw; echo "got:$pw"`, 5*time.Second)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(out, "got:hunter2") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestRun_DrainsLongOutput(t *testing.T) {
	script := `printf 'Enter password: '; read pw; i=0; while [ $i -lt 2000 ]; do echo "line $i"; i=$((i+1)); done`
	out, err := runScript(t, script, 5*time.Second)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(out, "line 1999") {
		t.Errorf("output truncated, last bytes: %q", out[max(0, len(out)-64):])
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	_, err := runScript(t, `printf 'Enter password: '; read pw; exit 3`, 5*time.Second)
	if !errors.Is(err, ErrNonZeroExit) {
		t.Fatalf("expected ErrNonZeroExit, got %v", err)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T", err)
	}
	if exitErr.Code != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.Code)
	}
}

func TestRun_HandshakeTimeout(t *testing.T) {
	start := time.Now()
	_, err := runScript(t, `sleep 10`, 200*time.Millisecond)
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %s, the process was not killed", elapsed)
	}
}

func TestRun_PromptMissing(t *testing.T) {
	_, err := runScript(t, `echo "no prompt here"`, 5*time.Second)
	if !errors.Is(err, ErrPromptMissing) {
		t.Fatalf("expected ErrPromptMissing, got %v", err)
	}
}

func TestRun_ContextCancelledDuringHandshake(t *testing.T) {
	requirePTY(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	d := NewDriver(WithHandshakeTimeout(10 * time.Second))
	err := d.Run(ctx, "/bin/sh", []string{"-c", "sleep 10"}, "hunter2")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestRun_MissingCommand(t *testing.T) {
	requirePTY(t)
	d := NewDriver()
	err := d.Run(context.Background(), "/nonexistent/xtrabackup", nil, "hunter2")
	if err == nil {
		t.Fatal("expected an error for a missing command")
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateAwaitingPrompt: "awaiting-prompt",
		StateHandshaking:    "handshaking",
		StateDraining:       "draining",
		StateClosed:         "closed",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
