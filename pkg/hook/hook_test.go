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
	"fmt"
	"testing"
)

const (
	uid1 = "101"
	uid2 = "202"
)

func TestHookData(t *testing.T) {
	t.Run("consumer sees first value", func(t *testing.T) {
		hd := NewHookData()

		hd.send(uid1)

		<-hd.events()

		if uid := hd.get(); uid != uid1 {
			t.Fatalf("expected uid %s but got %s", uid1, uid)
		}
	})

	t.Run("last update wins when channel buffer is full", func(t *testing.T) {
		hd := NewHookData()

		for i := 0; i < 10; i++ {
			hd.send(fmt.Sprintf("10%d", i))
		}
		hd.send(uid2)

		<-hd.events()

		if uid := hd.get(); uid != uid2 {
			t.Fatalf("expected uid %s but got %s", uid2, uid)
		}
	})

	t.Run("same value twice", func(t *testing.T) {
		hd := NewHookData()
		events := hd.events()

		hd.send(uid1)
		<-events

		if uid := hd.get(); uid != uid1 {
			t.Fatalf("expected uid %s but got %s", uid1, uid)
		}

		hd.send(uid1)
		<-events

		if uid := hd.get(); uid != uid1 {
			t.Fatalf("expected uid %s but got %s", uid1, uid)
		}
	})
}
