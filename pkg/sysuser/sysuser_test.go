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

package sysuser

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"uid-init/pkg/cmd"
	"uid-init/pkg/logging"
)

func TestOSDatabaseLookupName(t *testing.T) {
	at := assert.New(t)
	db := NewOSDatabase(cmd.NewRunner(logging.New("", 0)))

	_, err := db.LookupName("uid-init-no-such-account")
	at.ErrorIs(err, ErrNotFound)
}

func TestOSDatabaseLookupUID(t *testing.T) {
	at := assert.New(t)
	db := NewOSDatabase(cmd.NewRunner(logging.New("", 0)))

	// The current UID must have a passwd entry for this test to mean
	// anything; skip in stripped-down environments.
	me, err := db.LookupUID(os.Getuid())
	if err != nil {
		t.Skipf("current uid has no passwd entry: %v", err)
	}
	at.Equal(os.Getuid(), me.UID)
	at.NotEmpty(me.Name)
}
