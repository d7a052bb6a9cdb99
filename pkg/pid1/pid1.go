/*
Copyright 2024 The uid-init Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pid1 lets a process that came up as PID 1 act as a minimal init:
// re-exec itself as a child, forward signals to it, and reap zombies.
package pid1

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
)

// ReRun converts the current process into a bare-bones init, runs the
// current commandline as a child process, and waits for it to complete.
// The new child process shares stdin/stdout/stderr with the parent.  When
// the child exits, this returns its exit code.
func ReRun() (int, error) {
	bin, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return 0, err
	}
	cmd := exec.Command(bin, os.Args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	// The child is reaped by runInit's wait4, not by exec.Cmd.Wait.
	return runInit(cmd.Process.Pid)
}

// runInit runs a bare-bones init process.  This returns the firstborn's
// exit code when it exits.
func runInit(firstborn int) (int, error) {
	sigs := make(chan os.Signal, 8)
	signal.Notify(sigs)
	defer signal.Stop(sigs)
	for sig := range sigs {
		if sig != syscall.SIGCHLD {
			// Pass it on to the real process.
			_ = syscall.Kill(firstborn, sig.(syscall.Signal))
		}
		// Always try to reap a child - empirically, sometimes this gets
		// missed.
		code, done, err := sigchld(firstborn)
		if err != nil {
			return 0, err
		}
		if done {
			return code, nil
		}
	}
	return 0, fmt.Errorf("signal channel closed unexpectedly")
}

// sigchld handles a SIGCHLD.  This returns done=true, with the firstborn's
// exit code, when the firstborn exits.
func sigchld(firstborn int) (int, bool, error) {
	// Loop to handle multiple child processes.
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil {
			if errors.Is(err, syscall.ECHILD) {
				// No children at all; should not happen for firstborn, but
				// don't crash init over it.
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("failed to wait4(): %w", err)
		}

		if pid == firstborn {
			if status.Signaled() {
				return 128 + int(status.Signal()), true, nil
			}
			return status.ExitStatus(), true, nil
		}
		if pid <= 0 {
			// No more children to reap.
			break
		}
		// Must have found one, see if there are more.
	}
	return 0, false, nil
}
