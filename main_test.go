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
	"testing"

	"go.uber.org/goleak"

	"uid-init/pkg/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseTargetUID(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		present bool
		expUID  int
		expOK   bool
	}{{
		name: "unset", raw: "", present: false, expUID: 0, expOK: false,
	}, {
		name: "set but empty", raw: "", present: true, expUID: 0, expOK: false,
	}, {
		name: "whitespace only", raw: "   \t", present: true, expUID: 0, expOK: false,
	}, {
		name: "not an integer", raw: "abc", present: true, expUID: 0, expOK: false,
	}, {
		name: "trailing garbage", raw: "999x", present: true, expUID: 0, expOK: false,
	}, {
		name: "float", raw: "99.5", present: true, expUID: 0, expOK: false,
	}, {
		name: "negative", raw: "-1", present: true, expUID: 0, expOK: false,
	}, {
		name: "below range", raw: "40", present: true, expUID: 0, expOK: false,
	}, {
		name: "just below range", raw: "49", present: true, expUID: 0, expOK: false,
	}, {
		name: "bottom of range", raw: "50", present: true, expUID: 50, expOK: true,
	}, {
		name: "middle of range", raw: "999", present: true, expUID: 999, expOK: true,
	}, {
		name: "top of range", raw: "1000", present: true, expUID: 1000, expOK: true,
	}, {
		name: "just above range", raw: "1001", present: true, expUID: 0, expOK: false,
	}, {
		name: "surrounding whitespace is trimmed", raw: " 999 ", present: true, expUID: 999, expOK: true,
	}}

	log := logging.New("", 0)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uid, ok := parseTargetUID(log, tc.raw, tc.present)
			if ok != tc.expOK {
				t.Fatalf("expected ok=%v but got %v", tc.expOK, ok)
			}
			if uid != tc.expUID {
				t.Errorf("expected uid %d but got %d", tc.expUID, uid)
			}
		})
	}
}
