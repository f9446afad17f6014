//go:build !unix

package ptyrun

import "os"

func signalGroup(p *os.Process, kill bool) error {
	if !kill {
		// No process groups to signal; the hard kill follows after the grace period.
		return nil
	}
	return p.Kill()
}

func exitStatus(state *os.ProcessState) *int {
	if state == nil {
		return nil
	}
	code := state.ExitCode()
	return &code
}
