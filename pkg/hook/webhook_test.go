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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"uid-init/pkg/logging"
)

func TestWebhookDo(t *testing.T) {
	t.Run("success status match", func(t *testing.T) {
		var gotMethod, gotUID string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotUID = r.Header.Get("Uidinit-Uid")
		}))
		defer ts.Close()

		wh := NewWebhook(ts.URL, "POST", 200, time.Second, logging.New("", 0))
		if err := wh.Do(context.Background(), "999"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotMethod != "POST" {
			t.Errorf("expected method POST but got %q", gotMethod)
		}
		if gotUID != "999" {
			t.Errorf("expected uid header %q but got %q", "999", gotUID)
		}
	})

	t.Run("success status mismatch", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer ts.Close()

		wh := NewWebhook(ts.URL, "POST", 200, time.Second, logging.New("", 0))
		if err := wh.Do(context.Background(), "999"); err == nil {
			t.Fatalf("expected error but got none")
		}
	})

	t.Run("success status unchecked", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer ts.Close()

		wh := NewWebhook(ts.URL, "POST", -1, time.Second, logging.New("", 0))
		if err := wh.Do(context.Background(), "999"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		wh := NewWebhook(":http://localhost:1/hooks/webhook", "POST", 200, time.Second, logging.New("", 0))
		if err := wh.Do(context.Background(), "999"); err == nil {
			t.Fatalf("expected error for invalid url but got none")
		}
	})
}
