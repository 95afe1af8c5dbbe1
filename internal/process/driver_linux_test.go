package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// alive reports whether pid names a running, non-zombie process.
func alive(pid int) bool {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// The state follows the parenthesised command name.
	fields := strings.Fields(string(stat[bytes.LastIndexByte(stat, ')')+1:]))
	return len(fields) > 0 && fields[0] != "Z" && fields[0] != "X"
}

func TestRun_HandshakeTimeoutStopsWholeGroup(t *testing.T) {
	requirePTY(t)
	pidFile := filepath.Join(t.TempDir(), "pid")
	// The wrapper forks the command that would hold the terminal, the way
	// sudo runs xtrabackup.
	script := fmt.Sprintf(`sh -c 'echo $$ > %s; exec sleep 30' & wait`, pidFile)

	d := NewDriver(WithHandshakeTimeout(300*time.Millisecond), WithKillGrace(time.Second))
	err := d.Run(context.Background(), "/bin/sh", []string{"-c", script}, "hunter2")
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("forked command never started: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("bad pid %q: %v", raw, err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for alive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("forked command %d still running after Run returned", pid)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestRun_KillsGroupIgnoringTermination(t *testing.T) {
	requirePTY(t)
	start := time.Now()
	d := NewDriver(WithHandshakeTimeout(200*time.Millisecond), WithKillGrace(300*time.Millisecond))
	err := d.Run(context.Background(), "/bin/sh", []string{"-c", `trap '' HUP TERM; sleep 30`}, "hunter2")
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %s, the group was not killed after the grace period", elapsed)
	}
}
