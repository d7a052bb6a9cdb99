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

// Package hook notifies interested parties after a successful UID change,
// either by running a command or by calling a webhook.
package hook

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"uid-init/pkg/logging"
)

var (
	hookRunCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uid_init_hook_run_count_total",
		Help: "How many hook runs completed, partitioned by name and state (success, error)",
	}, []string{"name", "status"})
)

func init() {
	prometheus.MustRegister(hookRunCount)
}

// Hook is anything the HookRunner can trigger with a new-UID payload.
type Hook interface {
	// Name describes the hook.
	Name() string
	// Do runs the hook for the given UID payload.
	Do(ctx context.Context, uid string) error
}

// hookData carries the payload from producer to consumer.
type hookData struct {
	ch    chan struct{}
	mutex sync.Mutex
	uid   string
}

// NewHookData returns a new hookData.
func NewHookData() *hookData {
	return &hookData{
		ch: make(chan struct{}, 1),
	}
}

func (d *hookData) events() chan struct{} {
	return d.ch
}

func (d *hookData) get() string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.uid
}

func (d *hookData) set(newUID string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.uid = newUID
}

func (d *hookData) send(newUID string) {
	d.set(newUID)

	// Non-blocking write.  If the channel is full, the consumer will see
	// the newest value.  If the channel was not full, the consumer will get
	// another event.
	select {
	case d.ch <- struct{}{}:
	default:
	}
}

// HookRunner waits for payloads and runs its hook, retrying with a fixed
// backoff on failure.
type HookRunner struct {
	// Hook to run and check.
	hook Hook
	// Backoff for failed hooks.
	backoff time.Duration
	// Holds the data as it crosses from producer to consumer.
	data *hookData
	// Logger.
	logger *logging.Logger
	// Used to send a status result when running in one-time mode.
	// Should be initialised to a buffered channel of size 1.
	oneTimeResult chan bool
}

// NewHookRunner returns a new HookRunner.
func NewHookRunner(hook Hook, backoff time.Duration, data *hookData, log *logging.Logger, oneTime bool) *HookRunner {
	hr := &HookRunner{hook: hook, backoff: backoff, data: data, logger: log}
	if oneTime {
		hr.oneTimeResult = make(chan bool, 1)
	}
	return hr
}

// Send triggers the hook with the given UID payload.
func (r *HookRunner) Send(uid string) {
	r.data.send(uid)
}

// Run waits for trigger events from the channel, and runs the hook when
// triggered.
func (r *HookRunner) Run(ctx context.Context) {
	var lastUID string

	// Wait for trigger from hookData.Send.
	for range r.data.events() {
		// Retry in case of error.
		for {
			// Always get the latest value, in case we fail-and-retry and
			// the value changed in the meantime.
			uid := r.data.get()
			if uid == lastUID {
				break
			}

			if err := r.hook.Do(ctx, uid); err != nil {
				r.logger.Error(err, "hook failed", "hook", r.hook.Name())
				updateHookRunCountMetric(r.hook.Name(), "error")
				// Don't sleep here in one-time mode, we are terminating
				// anyway.
				r.sendOneTimeResultAndTerminate(false)

				time.Sleep(r.backoff)
			} else {
				updateHookRunCountMetric(r.hook.Name(), "success")
				lastUID = uid
				r.sendOneTimeResultAndTerminate(true)
				break
			}
		}
	}
}

func updateHookRunCountMetric(name, status string) {
	hookRunCount.WithLabelValues(name, status).Inc()
}

// sendOneTimeResultAndTerminate does nothing unless this runner is in
// one-time mode.  Otherwise it forwards the success status to receivers of
// oneTimeResult, closes that channel, and terminates this goroutine.
func (r *HookRunner) sendOneTimeResultAndTerminate(completedSuccessfully bool) {
	if r.oneTimeResult != nil {
		r.oneTimeResult <- completedSuccessfully
		close(r.oneTimeResult)
		runtime.Goexit()
	}
}

// WaitForCompletion waits for the one-time result and returns nil if the
// hook succeeded.  Calling this on a runner that is not in one-time mode is
// an error.
func (r *HookRunner) WaitForCompletion() error {
	if r.oneTimeResult == nil {
		return fmt.Errorf("HookRunner.WaitForCompletion called on async runner")
	}

	hookRunnerFinishedSuccessfully := <-r.oneTimeResult
	if !hookRunnerFinishedSuccessfully {
		return fmt.Errorf("hook %q completed with error", r.hook.Name())
	}

	return nil
}
