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

package hook

import (
	"context"
	"fmt"
	"os"
	"time"

	"uid-init/pkg/cmd"
	"uid-init/pkg/logging"
)

// Exechook runs a command after the UID was changed, implements Hook.  The
// new UID is passed in the UIDINIT_UID env var.
type Exechook struct {
	// Runner.
	cmdrunner cmd.Runner
	// Command to run.
	command string
	// Command args.
	args []string
	// Timeout for the command.
	timeout time.Duration
	// Logger.
	logger *logging.Logger
}

// NewExechook returns a new Exechook.
func NewExechook(cmdrunner cmd.Runner, command string, args []string, timeout time.Duration, l *logging.Logger) *Exechook {
	return &Exechook{
		cmdrunner: cmdrunner,
		command:   command,
		args:      args,
		timeout:   timeout,
		logger:    l,
	}
}

// Name describes the hook, implements Hook.Name.
func (h *Exechook) Name() string {
	return "exechook"
}

// Do runs exechook.command, implements Hook.Do.
func (h *Exechook) Do(ctx context.Context, uid string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	env := append(os.Environ(), envKV("UIDINIT_UID", uid))

	h.logger.V(0).Info("running exechook", "command", h.command, "timeout", h.timeout)
	_, _, err := h.cmdrunner.Run(ctx, "", env, h.command, h.args...)
	return err
}

func envKV(k, v string) string {
	return fmt.Sprintf("%s=%s", k, v)
}
