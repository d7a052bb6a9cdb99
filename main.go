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

// uid-init is a container init helper.  On startup it optionally remaps the
// UID of the postgres account to the value of POSTGRES_UIDNUMBER, then
// parks forever so the container stays alive.  A failed or skipped remap is
// never fatal: the process always ends up parked.

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"uid-init/pkg/cmd"
	"uid-init/pkg/hook"
	"uid-init/pkg/logging"
	"uid-init/pkg/pid1"
	"uid-init/pkg/sysuser"
	"uid-init/pkg/version"
)

var (
	metricChangeDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name: "uid_init_change_duration_seconds",
		Help: "Summary of UID change attempt durations",
	}, []string{"status"})

	metricChangeCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uid_init_change_count_total",
		Help: "How many UID change attempts completed, partitioned by state (success, error, noop, skipped)",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(metricChangeDuration)
	prometheus.MustRegister(metricChangeCount)
}

const (
	metricKeySuccess = "success"
	metricKeyError   = "error"
	metricKeyNoOp    = "noop"
	metricKeySkipped = "skipped"
)

const (
	// The account whose UID gets remapped.  Fixed on purpose: this tool
	// does one thing, it is not a general user-management facility.
	targetAccount = "postgres"
	targetUIDEnv  = "POSTGRES_UIDNUMBER"

	// Allowed range for the target UID, inclusive.
	minTargetUID = 50
	maxTargetUID = 1000
)

func main() {
	// In case we come up as pid 1, act as init.
	if os.Getpid() == 1 {
		fmt.Fprintf(os.Stderr, "INFO: detected pid 1, running init handler\n")
		code, err := pid1.ReRun()
		if err == nil {
			os.Exit(code)
		}
		fmt.Fprintf(os.Stderr, "ERROR: unhandled pid1 error: %v\n", err)
		os.Exit(127)
	}

	//
	// Declare flags inside main() so they are not used as global variables.
	//

	flVersion := pflag.Bool("version", false, "print the version and exit")
	flHelp := pflag.BoolP("help", "h", false, "print help text and exit")

	flVerbose := pflag.IntP("verbose", "v",
		envInt(0, "UIDINIT_VERBOSE"),
		"logs at this V level and lower will be printed")

	flUID := pflag.String("uid", "",
		fmt.Sprintf("the target UID for the %s account (default $%s)", targetAccount, targetUIDEnv))
	flChangeTimeout := pflag.Duration("change-timeout",
		envDuration(time.Minute, "UIDINIT_CHANGE_TIMEOUT"),
		"the max time allowed for the usermod invocation")

	flPeriod := pflag.Duration("period",
		envDuration(time.Hour, "UIDINIT_PERIOD"),
		"how long to sleep between idle-loop wakeups")
	flOneTime := pflag.Bool("one-time",
		envBool(false, "UIDINIT_ONE_TIME"),
		"exit after the UID change attempt instead of parking")

	flErrorFile := pflag.String("error-file",
		envString("", "UIDINIT_ERROR_FILE"),
		"the path to an optional file into which errors will be written")

	flOnChangeCommand := pflag.String("on-change",
		envString("", "UIDINIT_ON_CHANGE"),
		"an optional command to run after the UID was changed")
	flOnChangeTimeout := pflag.Duration("on-change-timeout",
		envDuration(time.Second*30, "UIDINIT_ON_CHANGE_TIMEOUT"),
		"the timeout for the on-change command")
	flOnChangeBackoff := pflag.Duration("on-change-backoff",
		envDuration(time.Second*3, "UIDINIT_ON_CHANGE_BACKOFF"),
		"the time to wait before retrying a failed on-change command")

	flWebhookURL := pflag.String("webhook-url",
		envString("", "UIDINIT_WEBHOOK_URL"),
		"a URL for optional webhook notifications after the UID was changed")
	flWebhookMethod := pflag.String("webhook-method",
		envString("POST", "UIDINIT_WEBHOOK_METHOD"),
		"the HTTP method for the webhook")
	flWebhookStatusSuccess := pflag.Int("webhook-success-status",
		envInt(200, "UIDINIT_WEBHOOK_SUCCESS_STATUS"),
		"the HTTP status code indicating a successful webhook (-1 disables the check)")
	flWebhookTimeout := pflag.Duration("webhook-timeout",
		envDuration(time.Second, "UIDINIT_WEBHOOK_TIMEOUT"),
		"the timeout for the webhook")
	flWebhookBackoff := pflag.Duration("webhook-backoff",
		envDuration(time.Second*3, "UIDINIT_WEBHOOK_BACKOFF"),
		"the time to wait before retrying a failed webhook")

	flHTTPBind := pflag.String("http-bind",
		envString("", "UIDINIT_HTTP_BIND"),
		"the bind address (including port) for the HTTP endpoint")
	flHTTPMetrics := pflag.Bool("http-metrics",
		envBool(false, "UIDINIT_HTTP_METRICS"),
		"enable metrics on the HTTP endpoint")
	flHTTPprof := pflag.Bool("http-pprof",
		envBool(false, "UIDINIT_HTTP_PPROF"),
		"enable the pprof debug endpoints on the HTTP endpoint")

	//
	// Parse and verify flags.  Errors here are fatal.
	//

	pflag.Parse()

	// Handle print-and-exit cases.
	if *flVersion {
		fmt.Println(version.VERSION)
		os.Exit(0)
	}
	if *flHelp {
		pflag.CommandLine.SetOutput(os.Stdout)
		pflag.PrintDefaults()
		os.Exit(0)
	}

	// Init logging very early, so most errors can be exported.
	log := logging.New(*flErrorFile, *flVerbose)
	cmdRunner := cmd.NewRunner(log)

	if *flPeriod <= 0 {
		handleConfigError(log, true, "ERROR: --period must be greater than zero")
	}
	if *flChangeTimeout <= 0 {
		handleConfigError(log, true, "ERROR: --change-timeout must be greater than zero")
	}
	if *flHTTPBind == "" {
		if *flHTTPMetrics {
			handleConfigError(log, true, "ERROR: --http-bind must be specified when --http-metrics is set")
		}
		if *flHTTPprof {
			handleConfigError(log, true, "ERROR: --http-bind must be specified when --http-pprof is set")
		}
	}

	//
	// From here on, output goes through logging.
	//

	log.V(0).Info("starting up",
		"pid", os.Getpid(),
		"uid", os.Getuid(),
		"gid", os.Getgid(),
		"version", version.VERSION)

	if os.Geteuid() != 0 {
		log.V(0).Info("WARNING: not running as root, UID changes will likely fail", "euid", os.Geteuid())
	}

	if *flHTTPBind != "" {
		ln, err := net.Listen("tcp", *flHTTPBind)
		if err != nil {
			log.Error(err, "can't bind HTTP endpoint", "endpoint", *flHTTPBind)
			os.Exit(1)
		}
		mux := http.NewServeMux()
		reasons := []string{}

		// This is a dumb liveliness check endpoint.  It reports 503 only
		// until the change attempt has run; once the process is parked it
		// is, by definition, live.
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if !getInitDone() {
				http.Error(w, "uid change has not been attempted yet", http.StatusServiceUnavailable)
			}
			// Otherwise success
		})
		reasons = append(reasons, "liveness")

		if *flHTTPMetrics {
			mux.Handle("/metrics", promhttp.Handler())
			reasons = append(reasons, "metrics")
		}

		if *flHTTPprof {
			mux.HandleFunc("/debug/pprof/", pprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
			reasons = append(reasons, "pprof")
		}

		log.V(0).Info("serving HTTP", "endpoint", *flHTTPBind, "reasons", reasons)
		go func() {
			err := http.Serve(ln, mux)
			log.Error(err, "HTTP server terminated")
			os.Exit(1)
		}()
	}

	// Startup webhook goroutine.
	var webhookRunner *hook.HookRunner
	if *flWebhookURL != "" {
		webhook := hook.NewWebhook(
			*flWebhookURL,
			*flWebhookMethod,
			*flWebhookStatusSuccess,
			*flWebhookTimeout,
			log,
		)
		webhookRunner = hook.NewHookRunner(
			webhook,
			*flWebhookBackoff,
			hook.NewHookData(),
			log,
			*flOneTime,
		)
		log.V(1).Info("starting webhook runner", "url", *flWebhookURL)
		go webhookRunner.Run(context.Background())
	}

	// Startup on-change command goroutine.
	var exechookRunner *hook.HookRunner
	if *flOnChangeCommand != "" {
		exechook := hook.NewExechook(
			cmdRunner,
			*flOnChangeCommand,
			[]string{},
			*flOnChangeTimeout,
			log,
		)
		exechookRunner = hook.NewHookRunner(
			exechook,
			*flOnChangeBackoff,
			hook.NewHookData(),
			log,
			*flOneTime,
		)
		log.V(1).Info("starting on-change runner", "command", *flOnChangeCommand)
		go exechookRunner.Run(context.Background())
	}

	// The UID can come from the environment or the --uid flag; the flag
	// wins.  Unset and set-but-empty are deliberately distinct cases.
	raw, present := os.LookupEnv(targetUIDEnv)
	if pflag.CommandLine.Changed("uid") {
		raw, present = *flUID, true
	}

	changeFailed := false
	hooksFired := false
	if uid, ok := parseTargetUID(log, raw, present); !ok {
		log.V(0).Info("no valid target UID supplied, skipping UID change")
		metricChangeCount.WithLabelValues(metricKeySkipped).Inc()
	} else {
		start := time.Now()
		changer := sysuser.NewChanger(sysuser.NewOSDatabase(cmdRunner), log)

		ctx, cancel := context.WithTimeout(context.Background(), *flChangeTimeout)
		res, err := changer.Apply(ctx, targetAccount, uid)
		cancel()

		switch {
		case err != nil:
			// Deliberate policy: a failed remap must never block container
			// startup, so this is a warning, not a fatal error.
			changeFailed = true
			updateChangeMetrics(metricKeyError, start)
			log.Error(err, "WARNING: UID change failed, continuing anyway", "account", targetAccount, "uid", uid)
		case res == sysuser.Changed:
			updateChangeMetrics(metricKeySuccess, start)
			if webhookRunner != nil {
				webhookRunner.Send(strconv.Itoa(uid))
				hooksFired = true
			}
			if exechookRunner != nil {
				exechookRunner.Send(strconv.Itoa(uid))
				hooksFired = true
			}
		default:
			updateChangeMetrics(metricKeyNoOp, start)
		}
	}
	setInitDone()

	if *flOneTime {
		// Wait for hooks to complete at least once, if they were fired,
		// before deciding the exit code.
		exitCode := 0
		if changeFailed {
			exitCode = 1
		}
		if hooksFired {
			if exechookRunner != nil {
				if err := exechookRunner.WaitForCompletion(); err != nil {
					exitCode = 1
				}
			}
			if webhookRunner != nil {
				if err := webhookRunner.WaitForCompletion(); err != nil {
					exitCode = 1
				}
			}
		}
		if exitCode == 0 {
			log.DeleteErrorFile()
		}
		log.V(0).Info("exiting after one attempt", "status", exitCode)
		os.Exit(exitCode)
	}

	if !changeFailed {
		log.DeleteErrorFile()
	}

	sleepUntilSignal(log, *flPeriod)
}

// initDone indicates that the UID change stage has run (in any outcome).
var readyLock sync.Mutex
var initDone = false

func getInitDone() bool {
	readyLock.Lock()
	defer readyLock.Unlock()
	return initDone
}

func setInitDone() {
	readyLock.Lock()
	defer readyLock.Unlock()
	initDone = true
}

// parseTargetUID validates the externally supplied UID value.  Every
// failure mode is reported and folded into "absent", so the caller skips
// the change and keeps going.
func parseTargetUID(log *logging.Logger, raw string, present bool) (int, bool) {
	if !present {
		log.V(0).Info("INFO: env is not set, no UID change will be performed", "env", targetUIDEnv)
		return 0, false
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		log.V(0).Info("WARNING: env is set but empty, ignoring", "env", targetUIDEnv)
		return 0, false
	}
	uid, err := strconv.Atoi(trimmed)
	if err != nil {
		log.Error(err, "ERROR: target UID is not a valid integer", "env", targetUIDEnv, "value", raw)
		return 0, false
	}
	if uid < minTargetUID || uid > maxTargetUID {
		err := fmt.Errorf("uid %d is out of the allowed range (%d-%d)", uid, minTargetUID, maxTargetUID)
		log.Error(err, "ERROR: target UID is out of range", "env", targetUIDEnv, "value", raw)
		return 0, false
	}
	return uid, true
}

func updateChangeMetrics(key string, start time.Time) {
	metricChangeDuration.WithLabelValues(key).Observe(time.Since(start).Seconds())
	metricChangeCount.WithLabelValues(key).Inc()
}

// sleepUntilSignal parks the process, waking periodically so it stays
// responsive to shutdown signals, rather than one unbounded wait.  Do no
// work, but don't do something that triggers go's runtime into thinking it
// is deadlocked.
func sleepUntilSignal(log *logging.Logger, period time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.V(0).Info("entering idle loop", "period", period.String())
	t := time.NewTimer(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			log.V(2).Info("still parked")
			t.Reset(period)
		case sig := <-sigChan:
			log.V(0).Info("caught signal, exiting", "signal", unix.SignalName(sig.(syscall.Signal)))
			os.Exit(0)
		}
	}
}

// handleConfigError prints the error to the standard error, prints the
// usage if the printUsage flag is true, exports the error to the error
// file and exits the process with the exit code.
func handleConfigError(log *logging.Logger, printUsage bool, format string, a ...interface{}) {
	s := fmt.Sprintf(format, a...)
	fmt.Fprintln(os.Stderr, s)
	if printUsage {
		pflag.Usage()
	}
	log.ExportError(s)
	os.Exit(1)
}
