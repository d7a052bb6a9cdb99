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

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Overridable for testing.
var envWarnfOverride func(format string, args ...any)

func envWarnf(format string, args ...any) {
	if envWarnfOverride != nil {
		envWarnfOverride(format, args...)
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}

// lookupEnv returns the value of the first env var in the list of key and
// alts that is set to a non-empty value, warning when a deprecated alternate
// name was the one that matched.
func lookupEnv(key string, alts ...string) (string, bool) {
	if val := os.Getenv(key); val != "" {
		return val, true
	}
	for _, alt := range alts {
		if val := os.Getenv(alt); val != "" {
			envWarnf("env %s has been deprecated, use %s instead\n", alt, key)
			return val, true
		}
	}
	return "", false
}

func envString(def string, key string, alts ...string) string {
	if val, found := lookupEnv(key, alts...); found {
		return val
	}
	return def
}

func envIntOrError(def int, key string, alts ...string) (int, error) {
	val, found := lookupEnv(key, alts...)
	if !found {
		return def, nil
	}
	parsed, err := strconv.ParseInt(val, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("ERROR: invalid int env %s=%q: %w", key, val, err)
	}
	return int(parsed), nil
}

func envInt(def int, key string, alts ...string) int {
	val, err := envIntOrError(def, key, alts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return val
}

func envBoolOrError(def bool, key string, alts ...string) (bool, error) {
	val, found := lookupEnv(key, alts...)
	if !found {
		return def, nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("ERROR: invalid bool env %s=%q: %w", key, val, err)
	}
	return parsed, nil
}

func envBool(def bool, key string, alts ...string) bool {
	val, err := envBoolOrError(def, key, alts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return val
}

func envDurationOrError(def time.Duration, key string, alts ...string) (time.Duration, error) {
	val, found := lookupEnv(key, alts...)
	if !found {
		return def, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("ERROR: invalid duration env %s=%q: %w", key, val, err)
	}
	return parsed, nil
}

func envDuration(def time.Duration, key string, alts ...string) time.Duration {
	val, err := envDurationOrError(def, key, alts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return val
}
