// Package ptyrun drives interactive CLIs through a pseudo-terminal,
// answering prompts and deciding when the screen of interest has been
// printed.
package ptyrun

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/metrics"
)

const (
	defaultTimeout = 20 * time.Second
	defaultSettle  = 250 * time.Millisecond
	defaultRows    = 50
	defaultCols    = 160
	killGrace      = 500 * time.Millisecond
	readChunkSize  = 4096
)

type Options struct {
	// Timeout bounds the whole session. Reaching it is reported through
	// Result.TimedOut, not as an error.
	Timeout time.Duration
	// IdleTimeout ends the session successfully once the child has been
	// quiet this long. Zero disables it.
	IdleTimeout time.Duration
	// SendOnSubstrings maps a prompt to the text written when it first
	// appears. Each prompt fires at most once.
	SendOnSubstrings map[string]string
	StopOnSubstrings []string
	SettleAfterStop  time.Duration
	WorkingDirectory string
	Env              map[string]string
	Rows, Cols       uint16
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.SettleAfterStop <= 0 {
		o.SettleAfterStop = defaultSettle
	}
	if o.Rows == 0 {
		o.Rows = defaultRows
	}
	if o.Cols == 0 {
		o.Cols = defaultCols
	}
	return o
}

type Result struct {
	Text       string
	TimedOut   bool
	ExitStatus *int
}

// Locator resolves binaries. *binpath.Resolver implements it.
type Locator interface {
	Lookup(ctx context.Context, name, override string) (string, error)
	LoginPATH(ctx context.Context) string
}

type Runner struct {
	locator Locator
	logger  *zap.Logger
}

// NewRunner returns a Runner. A nil locator falls back to exec.LookPath
// and the process environment.
func NewRunner(locator Locator, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{locator: locator, logger: logger}
}

type outcome string

const (
	outcomeStopped   outcome = "stopped"
	outcomeIdle      outcome = "idle"
	outcomeExited    outcome = "exited"
	outcomeTimedOut  outcome = "timed_out"
	outcomeCancelled outcome = "cancelled"
)

// Run starts binary attached to a pty, writes input, and reads until a
// stop needle settles, the child goes idle or exits, the timeout fires,
// or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, binary string, args []string, input string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	path, err := r.resolve(ctx, binary)
	if err != nil {
		return nil, err
	}

	loginPATH := ""
	if r.locator != nil {
		loginPATH = r.locator.LoginPATH(ctx)
	}
	home, _ := os.UserHomeDir()
	base := envMap(os.Environ())
	for k, v := range opts.Env {
		base[k] = v
	}

	cmd := exec.Command(path, args...)
	cmd.Env = envList(EnrichedEnvironment(base, loginPATH, home))
	cmd.Dir = opts.WorkingDirectory

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, errs.New(errs.KindSpawnFailed, binary, err)
	}
	log := r.logger.With(zap.String("binary", binary), zap.Int("pid", cmd.Process.Pid))
	log.Debug("pty session started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	done := make(chan struct{})
	chunks := make(chan []byte)
	go readLoop(ptmx, chunks, done)

	var exited bool
	defer func() {
		close(done)
		if !exited {
			terminate(cmd, waitCh, log)
		}
		_ = ptmx.Close()
	}()

	if input != "" {
		if _, err := ptmx.Write([]byte(input)); err != nil {
			log.Debug("initial write failed", zap.Error(err))
		}
	}

	var (
		out      bytes.Buffer
		scanner  = NewRollingBuffer(longestNeedle(opts))
		triggers = newTriggers(opts.SendOnSubstrings)
		stops    = make([][]byte, 0, len(opts.StopOnSubstrings))
		settleC  <-chan time.Time
		idle     *time.Timer
		idleC    <-chan time.Time
	)
	for _, s := range opts.StopOnSubstrings {
		stops = append(stops, LowercaseASCII([]byte(s)))
	}

	hard := time.NewTimer(opts.Timeout)
	defer hard.Stop()
	if opts.IdleTimeout > 0 {
		idle = time.NewTimer(opts.IdleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	end := outcomeExited
loop:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			out.Write(chunk)
			if idle != nil {
				idle.Reset(opts.IdleTimeout)
			}
			window := scanner.Append(LowercaseASCII(chunk))
			for _, t := range triggers {
				if t.fired || !bytes.Contains(window, t.needle) {
					continue
				}
				t.fired = true
				if _, err := ptmx.Write([]byte(t.response)); err != nil {
					log.Debug("trigger write failed", zap.Error(err))
				}
			}
			if settleC == nil && containsAny(window, stops) {
				settleC = time.After(opts.SettleAfterStop)
			}
		case <-settleC:
			end = outcomeStopped
			break loop
		case <-idleC:
			end = outcomeIdle
			break loop
		case <-hard.C:
			end = outcomeTimedOut
			break loop
		case <-ctx.Done():
			end = outcomeCancelled
			break loop
		}
	}
	metrics.PTYSessionsTotal.WithLabelValues(string(end)).Inc()

	res := &Result{Text: out.String(), TimedOut: end == outcomeTimedOut}
	switch end {
	case outcomeExited:
		// Output closed; the child is gone or about to be.
		select {
		case <-waitCh:
			exited = true
			res.ExitStatus = exitStatus(cmd.ProcessState)
		case <-time.After(killGrace):
		}
	case outcomeCancelled:
		log.Debug("pty session cancelled")
		return nil, ctx.Err()
	case outcomeTimedOut:
		log.Debug("pty session timed out", zap.Duration("timeout", opts.Timeout))
		terminate(cmd, waitCh, log)
		exited = true
		res.ExitStatus = exitStatus(cmd.ProcessState)
	}
	return res, nil
}

func (r *Runner) resolve(ctx context.Context, binary string) (string, error) {
	if r.locator != nil {
		return r.locator.Lookup(ctx, binary, "")
	}
	p, err := exec.LookPath(binary)
	if err != nil {
		return "", errs.New(errs.KindBinaryNotFound, binary, err)
	}
	return p, nil
}

func readLoop(f *os.File, chunks chan<- []byte, done <-chan struct{}) {
	defer close(chunks)
	buf := make([]byte, readChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case chunks <- chunk:
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// terminate signals the child's process group with SIGTERM, escalating to
// SIGKILL after a short grace period, and reaps it.
func terminate(cmd *exec.Cmd, waitCh <-chan error, log *zap.Logger) {
	if err := signalGroup(cmd.Process, false); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Debug("SIGTERM failed", zap.Error(err))
	}
	select {
	case <-waitCh:
		return
	case <-time.After(killGrace):
	}
	_ = signalGroup(cmd.Process, true)
	<-waitCh
}

// DecodeWaitStatus converts a raw wait status into a shell-style exit
// status: the exit code for a normal exit, 128+signal when signalled and 1
// for a stopped child.
func DecodeWaitStatus(raw uint32) int {
	switch sig := raw & 0x7f; sig {
	case 0:
		return int((raw >> 8) & 0xff)
	case 0x7f:
		return 1
	default:
		return 128 + int(sig)
	}
}
