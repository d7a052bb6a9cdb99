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
	"os"
	"path/filepath"
	"testing"
	"time"

	"uid-init/pkg/cmd"
	"uid-init/pkg/logging"
)

func TestNotZeroReturnExechookDo(t *testing.T) {
	t.Run("test not zero return code", func(t *testing.T) {
		l := logging.New("", 0)
		ch := NewExechook(
			cmd.NewRunner(l),
			"false",
			[]string{},
			time.Second,
			l,
		)
		err := ch.Do(context.Background(), "999")
		if err == nil {
			t.Fatalf("expected error but got none")
		}
	})
}

func TestZeroReturnExechookDo(t *testing.T) {
	t.Run("test zero return code", func(t *testing.T) {
		l := logging.New("", 0)
		ch := NewExechook(
			cmd.NewRunner(l),
			"true",
			[]string{},
			time.Second,
			l,
		)
		err := ch.Do(context.Background(), "999")
		if err != nil {
			t.Fatalf("expected nil but got err")
		}
	})
}

func TestTimeoutExechookDo(t *testing.T) {
	t.Run("test timeout", func(t *testing.T) {
		l := logging.New("", 0)
		ch := NewExechook(
			cmd.NewRunner(l),
			"/bin/sh",
			[]string{"-c", "sleep 2"},
			time.Second,
			l,
		)
		err := ch.Do(context.Background(), "999")
		if err == nil {
			t.Fatalf("expected err but got nil")
		}
	})
}

func TestExechookSeesUIDEnv(t *testing.T) {
	l := logging.New("", 0)
	outFile := filepath.Join(t.TempDir(), "uid")
	ch := NewExechook(
		cmd.NewRunner(l),
		"/bin/sh",
		[]string{"-c", "echo -n $UIDINIT_UID > " + outFile},
		time.Second,
		l,
	)
	if err := ch.Do(context.Background(), "321"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("can't read hook output: %v", err)
	}
	if string(got) != "321" {
		t.Errorf("expected %q but got %q", "321", string(got))
	}
}
