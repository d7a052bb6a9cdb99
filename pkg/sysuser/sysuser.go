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

// Package sysuser wraps the operating system's user database behind a
// narrow interface, so UID changes can be tested without ever invoking a
// real privileged operation.
package sysuser

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/user"
	"strconv"
	"strings"

	"uid-init/pkg/cmd"
)

// ErrNotFound reports that no account matched the lookup.
var ErrNotFound = errors.New("account not found")

// Account is a read-only view of one entry in the user database.  The
// database is an external system of record; this program never owns or
// caches its contents.
type Account struct {
	Name string
	UID  int
}

// Database is the subset of the system user database this program needs:
// two read-only lookups and the single privileged mutation.
type Database interface {
	// LookupName finds an account by username.  Returns ErrNotFound if
	// there is no such account.
	LookupName(name string) (*Account, error)
	// LookupUID finds an account by numeric UID.  Returns ErrNotFound if
	// no account has that UID.
	LookupUID(uid int) (*Account, error)
	// SetUID asks the OS to make uid the UID of the named account.  The
	// returned error matches fs.ErrPermission (via errors.Is) when the
	// caller lacks the privilege to do so.
	SetUID(ctx context.Context, name string, uid int) error
}

const usermodCmd = "usermod"

type osDatabase struct {
	runner cmd.Runner
}

// NewOSDatabase returns a Database backed by the real system user database,
// mutating through the usermod command.
func NewOSDatabase(runner cmd.Runner) Database {
	return &osDatabase{runner: runner}
}

func (db *osDatabase) LookupName(name string) (*Account, error) {
	u, err := user.Lookup(name)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return accountOf(u)
}

func (db *osDatabase) LookupUID(uid int) (*Account, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		var unknown user.UnknownUserIdError
		if errors.As(err, &unknown) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return accountOf(u)
}

func (db *osDatabase) SetUID(ctx context.Context, name string, uid int) error {
	_, stderr, err := db.runner.Run(ctx, "", nil, usermodCmd, "-u", strconv.Itoa(uid), name)
	if err != nil {
		// usermod reports missing privilege on stderr with a non-zero
		// exit; exec reports it when the binary itself is not runnable.
		if errors.Is(err, fs.ErrPermission) || strings.Contains(stderr, "Permission denied") {
			return fmt.Errorf("%v: %w", err, fs.ErrPermission)
		}
		return err
	}
	return nil
}

func accountOf(u *user.User) (*Account, error) {
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("account %q has non-numeric uid %q: %w", u.Username, u.Uid, err)
	}
	return &Account{Name: u.Username, UID: uid}, nil
}
