//go:build unix

package ptyrun

import (
	"os"
	"syscall"
)

// signalGroup signals the process group led by p. pty.Start runs the
// child in a new session, so its pid is also its process-group id.
func signalGroup(p *os.Process, kill bool) error {
	sig := syscall.SIGTERM
	if kill {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-p.Pid, sig); err != nil {
		if err == syscall.ESRCH {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

func exitStatus(state *os.ProcessState) *int {
	if state == nil {
		return nil
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		code := state.ExitCode()
		return &code
	}
	code := DecodeWaitStatus(uint32(ws))
	return &code
}
