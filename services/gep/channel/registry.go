// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package channel

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Registry stores channels as files in one directory, normally /dev/shm,
// and maps them with MAP_SHARED so writes are visible to every process
// mapping the same name.
type Registry struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for lifecycle debug messages.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

var _ Store = (*Registry)(nil)

// DefaultDir returns /dev/shm when it exists, otherwise the system temp
// directory.
func DefaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// NewRegistry creates a registry rooted at dir, creating the directory if
// needed. An empty dir selects DefaultDir.
//
// Inputs:
//
//	dir - Channel directory, or "" for the default
//	opts - Optional settings
//
// Outputs:
//
//	*Registry - The registry
//	error - Non-nil if the directory cannot be created
func NewRegistry(dir string, opts ...Option) (*Registry, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("channel dir %s: %w", dir, err)
	}
	r := &Registry{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Dir returns the channel directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Purge removes each named channel. Missing names are skipped; other
// failures are joined and returned after every name has been tried.
func (r *Registry) Purge(names ...string) error {
	var errs []error
	for _, name := range names {
		if err := validateName(name); err != nil {
			errs = append(errs, err)
			continue
		}
		err := os.Remove(r.path(name))
		switch {
		case err == nil:
			r.logger.Debug("purged channel", "channel", name)
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, fmt.Errorf("purge channel %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Create exclusively creates and maps a channel of exactly size bytes.
// A zero size creates the channel without mapping it.
func (r *Registry) Create(name string, size int) (*Segment, error) {
	if err := validateName(name); err != nil {
		return nil, &CreateError{Name: name, Size: size, Cause: err}
	}
	if size < 0 {
		return nil, &CreateError{Name: name, Size: size, Cause: errors.New("negative size")}
	}

	path := r.path(name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if errors.Is(err, fs.ErrExist) {
		return nil, &CreateError{Name: name, Size: size, Cause: fmt.Errorf("%w: %s", ErrChannelExists, path)}
	}
	if err != nil {
		return nil, &CreateError{Name: name, Size: size, Cause: err}
	}
	defer file.Close()

	cleanup := func() {
		_ = os.Remove(path)
	}

	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, &CreateError{Name: name, Size: size, Cause: fmt.Errorf("resize: %w", err)}
	}

	seg := &Segment{name: name, data: []byte{}, writable: true}
	if size > 0 {
		data, err := mapFile(file, size, true)
		if err != nil {
			cleanup()
			return nil, &CreateError{Name: name, Size: size, Cause: err}
		}
		seg.data = data
		seg.mapped = true
	}

	r.logger.Debug("created channel", "channel", name, "bytes", size)
	return seg, nil
}

// OpenRead maps an existing channel read-only.
func (r *Registry) OpenRead(name string, size int) (*Segment, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	file, err := os.Open(r.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open channel %q: %w", name, ErrChannelNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open channel %q: %w", name, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat channel %q: %w", name, err)
	}
	actual := int(info.Size())
	if size != SizeAny && actual != size {
		return nil, &SizeError{Name: name, Want: size, Got: actual}
	}

	seg := &Segment{name: name, data: []byte{}}
	if actual > 0 {
		data, err := mapFile(file, actual, false)
		if err != nil {
			return nil, fmt.Errorf("map channel %q: %w", name, err)
		}
		seg.data = data
		seg.mapped = true
	}
	return seg, nil
}

// Exists reports whether the named channel is present.
func (r *Registry) Exists(name string) bool {
	if validateName(name) != nil {
		return false
	}
	_, err := os.Stat(r.path(name))
	return err == nil
}

func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, name)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
