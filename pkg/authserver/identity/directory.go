// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// directoryFile is the on-disk layout of a user directory:
//
//	users:
//	  - id: "42"
//	    username: alice
//	    active: true
type directoryFile struct {
	Users []*User `yaml:"users"`
}

// Directory is a static, YAML-backed UserLookup. It is meant for development
// and for deployments where accounts are provisioned out of band.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewDirectory builds a directory from users. Duplicate or empty IDs are rejected.
func NewDirectory(users ...*User) (*Directory, error) {
	d := &Directory{users: make(map[string]*User, len(users))}
	for _, u := range users {
		if u == nil || u.ID == "" {
			return nil, errors.New("user id is required")
		}
		if _, dup := d.users[u.ID]; dup {
			return nil, fmt.Errorf("duplicate user id %q", u.ID)
		}
		cp := *u
		d.users[u.ID] = &cp
	}
	return d, nil
}

// ParseDirectory decodes a YAML user directory. Unknown fields are rejected.
func ParseDirectory(data []byte) (*Directory, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file directoryFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse user directory: %w", err)
	}
	return NewDirectory(file.Users...)
}

// LoadDirectory reads and parses the YAML user directory at path.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read user directory: %w", err)
	}
	return ParseDirectory(data)
}

// LookupUser implements UserLookup.
func (d *Directory) LookupUser(_ context.Context, id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// Put adds or replaces a user.
func (d *Directory) Put(user User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = &user
}

// Len returns the number of users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

var _ UserLookup = (*Directory)(nil)
