//go:build unix

package ptyrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/errs"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "script.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRun_autoRespondsToTrustPrompt(t *testing.T) {
	script := writeScript(t, `echo "Do you trust the files in this folder?"
IFS= read -r ans
if [ "$ans" = "y" ]; then echo "accepted"; else echo "rejected:$ans"; fi
sleep 5
`)
	r := NewRunner(nil, zap.NewNop())
	start := time.Now()
	res, err := r.Run(context.Background(), script, nil, "", Options{
		Timeout:          5 * time.Second,
		SendOnSubstrings: map[string]string{"do you TRUST the files in this folder?": "y\n"},
		StopOnSubstrings: []string{"accepted", "rejected"},
		SettleAfterStop:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !strings.Contains(res.Text, "accepted") {
		t.Fatalf("expected accepted, got %q", res.Text)
	}
	if res.TimedOut {
		t.Error("stop match should not report a timeout")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("stop match did not end the session early")
	}
}

func TestRun_idleIsSuccess(t *testing.T) {
	script := writeScript(t, "echo hello\nsleep 10\n")
	r := NewRunner(nil, zap.NewNop())
	start := time.Now()
	res, err := r.Run(context.Background(), script, nil, "", Options{
		Timeout:     6 * time.Second,
		IdleTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !strings.Contains(res.Text, "hello") || res.TimedOut {
		t.Fatalf("unexpected result %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("idle session took %v", elapsed)
	}
}

func TestRun_timeoutReturnsPartialText(t *testing.T) {
	script := writeScript(t, "echo partial\nsleep 10\n")
	r := NewRunner(nil, zap.NewNop())
	start := time.Now()
	res, err := r.Run(context.Background(), script, nil, "", Options{Timeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut")
	}
	if !strings.Contains(res.Text, "partial") {
		t.Errorf("expected partial text, got %q", res.Text)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("process group was not killed promptly: %v", elapsed)
	}
}

func TestRun_exitStatus(t *testing.T) {
	r := NewRunner(nil, zap.NewNop())
	res, err := r.Run(context.Background(), "/bin/sh", []string{"-c", "echo bye; exit 3"}, "", Options{Timeout: 3 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitStatus == nil || *res.ExitStatus != 3 {
		t.Fatalf("exit status: got %v", res.ExitStatus)
	}
}

func TestRun_workingDirectory(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(nil, zap.NewNop())
	res, err := r.Run(context.Background(), "/bin/pwd", nil, "", Options{Timeout: 3 * time.Second, WorkingDirectory: dir})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(StripANSI(res.Text), filepath.Base(dir)) {
		t.Errorf("expected %s in %q", dir, res.Text)
	}
}

func TestRun_binaryNotFound(t *testing.T) {
	r := NewRunner(nil, zap.NewNop())
	_, err := r.Run(context.Background(), "usagebar-no-such-binary", nil, "", Options{})
	if !errors.Is(err, errs.BinaryNotFound) {
		t.Fatalf("expected BinaryNotFound, got %v", err)
	}
}

func TestRun_cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	r := NewRunner(nil, zap.NewNop())
	_, err := r.Run(ctx, "/bin/sh", []string{"-c", "sleep 10"}, "", Options{Timeout: 10 * time.Second})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestRun_triggerFiresOnce(t *testing.T) {
	// A second reply would be waiting in the terminal's input queue when
	// the final read runs, so "late:" only shows up if the trigger fired twice.
	script := writeScript(t, `echo "Continue?"
IFS= read -r a
echo "got:$a"
echo "Continue?"
sleep 1
echo "end"
IFS= read -r b
echo "late:$b"
sleep 5
`)
	r := NewRunner(nil, zap.NewNop())
	res, err := r.Run(context.Background(), script, nil, "", Options{
		Timeout:          5 * time.Second,
		SendOnSubstrings: map[string]string{"continue?": "yes\n"},
		StopOnSubstrings: []string{"end"},
		SettleAfterStop:  300 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "got:yes") {
		t.Fatalf("first prompt not answered: %q", res.Text)
	}
	if strings.Contains(res.Text, "late:") {
		t.Errorf("trigger answered twice: %q", res.Text)
	}
}

func TestRun_stopNeedleSplitAcrossReads(t *testing.T) {
	script := writeScript(t, `printf 'Wee'
sleep 0.3
printf 'kly limit: 10%% used\n'
sleep 10
`)
	r := NewRunner(nil, zap.NewNop())
	start := time.Now()
	res, err := r.Run(context.Background(), script, nil, "", Options{
		Timeout:          5 * time.Second,
		StopOnSubstrings: []string{"weekly limit"},
		SettleAfterStop:  50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TimedOut || time.Since(start) > 3*time.Second {
		t.Fatalf("split needle was not detected (timed out %v)", res.TimedOut)
	}
	if !strings.Contains(res.Text, "kly limit") {
		t.Errorf("got %q", res.Text)
	}
}

// descendantScript starts a background sleep, records its pid in pidFile
// and waits on it.
func descendantScript(t *testing.T, pidFile string) string {
	return writeScript(t, fmt.Sprintf("sleep 30 &\necho $! > %s\necho started\nwait\n", pidFile))
}

func readPID(t *testing.T, pidFile string) int {
	t.Helper()
	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatal(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatal(err)
	}
	return pid
}

// processGone reports whether pid has exited. A zombie counts as exited:
// it has been killed and only awaits reaping by its new parent.
func processGone(pid int) bool {
	if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid)); err == nil {
		fields := strings.Fields(string(data[strings.LastIndexByte(string(data), ')')+1:]))
		return len(fields) > 0 && (fields[0] == "Z" || fields[0] == "X")
	}
	return errors.Is(syscall.Kill(pid, 0), syscall.ESRCH)
}

func waitGone(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !processGone(pid) {
		if time.Now().After(deadline) {
			_ = syscall.Kill(pid, syscall.SIGKILL)
			t.Fatalf("descendant %d survived the session", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRun_timeoutKillsDescendants(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	r := NewRunner(nil, zap.NewNop())
	res, err := r.Run(context.Background(), descendantScript(t, pidFile), nil, "", Options{Timeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut")
	}
	waitGone(t, readPID(t, pidFile))
}

func TestRun_cancelKillsDescendants(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for i := 0; i < 100; i++ {
			if data, err := os.ReadFile(pidFile); err == nil && len(strings.TrimSpace(string(data))) > 0 {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		cancel()
	}()
	r := NewRunner(nil, zap.NewNop())
	_, err := r.Run(ctx, descendantScript(t, pidFile), nil, "", Options{Timeout: 10 * time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	waitGone(t, readPID(t, pidFile))
}
