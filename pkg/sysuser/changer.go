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
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// Result says what a successful Apply actually did.
type Result int

const (
	// Unchanged means the account already had the target UID.
	Unchanged Result = iota
	// Changed means usermod ran and succeeded.
	Changed
)

// Just the logr methods we need in this package.
type logintf interface {
	Info(msg string, keysAndValues ...interface{})
	Error(err error, msg string, keysAndValues ...interface{})
}

// Changer applies a target UID to an account.  Every mutation is preceded
// by read-only checks, so usermod is only ever invoked when a change is
// both possible and safe: a missing account, or a UID owned by a different
// account, short-circuits before any mutation is attempted.
type Changer struct {
	db  Database
	log logintf
}

// NewChanger returns a Changer backed by the given Database.
func NewChanger(db Database, log logintf) *Changer {
	return &Changer{db: db, log: log}
}

// Apply makes uid the UID of the named account.  When the account already
// has the target UID this is a no-op and reports success with Unchanged.
func (c *Changer) Apply(ctx context.Context, name string, uid int) (Result, error) {
	if _, err := c.db.LookupName(name); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Unchanged, fmt.Errorf("account %q does not exist on this system", name)
		}
		return Unchanged, fmt.Errorf("can't look up account %q: %w", name, err)
	}

	owner, err := c.db.LookupUID(uid)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Unchanged, fmt.Errorf("can't look up uid %d: %w", uid, err)
	}
	if owner != nil {
		if owner.Name != name {
			return Unchanged, fmt.Errorf("uid %d is already used by account %q", uid, owner.Name)
		}
		c.log.Info("uid is already set, nothing to do", "account", name, "uid", uid)
		return Unchanged, nil
	}

	c.log.Info("changing uid", "account", name, "uid", uid)
	if err := c.db.SetUID(ctx, name, uid); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return Unchanged, fmt.Errorf("permission denied changing uid of %q, this requires root: %w", name, err)
		}
		return Unchanged, fmt.Errorf("can't change uid of %q: %w", name, err)
	}
	c.log.Info("uid changed", "account", name, "uid", uid)
	return Changed, nil
}
