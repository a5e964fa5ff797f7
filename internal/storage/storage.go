// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storage abstracts the object stores that hold source assets and
// published outputs. Locators are URIs:
//
//	s3://bucket/key      object in an S3-compatible store
//	file://rel/path      file under the local media root
//	output://rel/path    published output under the output root
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound means the object does not exist. Not retryable.
	ErrNotFound = errors.New("object not found")
	// ErrAccessDenied means the credentials cannot read the object. Not retryable.
	ErrAccessDenied = errors.New("access denied")
	// ErrUnavailable wraps transient failures: network, 5xx, open breaker.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrUnsupported is returned for locators no backend handles.
	ErrUnsupported = errors.New("unsupported locator")
)

// ObjectInfo is the subset of object metadata the engine uses.
type ObjectInfo struct {
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Backend is an object store that can sign time-limited URLs.
type Backend interface {
	Name() string
	Exists(ctx context.Context, locator string) (bool, error)
	Stat(ctx context.Context, locator string) (ObjectInfo, error)
	// Sign returns a URL granting method (GET or HEAD) on the object for ttl.
	Sign(ctx context.Context, locator string, ttl time.Duration, method string) (string, error)
	Remove(ctx context.Context, locator string) error
}

// PathResolver is implemented by backends whose objects are plain files.
// The engine reads such sources directly instead of through a signed URL.
type PathResolver interface {
	LocalPath(locator string) (string, error)
}

// Scheme returns the URI scheme of a locator, or "file" for bare paths.
func Scheme(locator string) string {
	if i := strings.Index(locator, "://"); i > 0 {
		return locator[:i]
	}
	return "file"
}

// SplitLocator returns scheme and the remainder after "://".
func SplitLocator(locator string) (scheme, rest string) {
	if i := strings.Index(locator, "://"); i > 0 {
		return locator[:i], locator[i+3:]
	}
	return "file", locator
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func checkMethod(method string) error {
	if method != http.MethodGet && method != http.MethodHead {
		return fmt.Errorf("unsupported sign method %q", method)
	}
	return nil
}

// Mux routes each locator to the backend registered for its scheme.
type Mux struct {
	backends map[string]Backend
}

// NewMux returns an empty router.
func NewMux() *Mux {
	return &Mux{backends: make(map[string]Backend)}
}

// Handle registers b for scheme.
func (m *Mux) Handle(scheme string, b Backend) *Mux {
	m.backends[scheme] = b
	return m
}

func (m *Mux) route(locator string) (Backend, error) {
	b, ok := m.backends[Scheme(locator)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, Scheme(locator))
	}
	return b, nil
}

func (m *Mux) Name() string { return "mux" }

func (m *Mux) Exists(ctx context.Context, locator string) (bool, error) {
	b, err := m.route(locator)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, locator)
}

func (m *Mux) Stat(ctx context.Context, locator string) (ObjectInfo, error) {
	b, err := m.route(locator)
	if err != nil {
		return ObjectInfo{}, err
	}
	return b.Stat(ctx, locator)
}

func (m *Mux) Sign(ctx context.Context, locator string, ttl time.Duration, method string) (string, error) {
	b, err := m.route(locator)
	if err != nil {
		return "", err
	}
	return b.Sign(ctx, locator, ttl, method)
}

func (m *Mux) Remove(ctx context.Context, locator string) error {
	b, err := m.route(locator)
	if err != nil {
		return err
	}
	return b.Remove(ctx, locator)
}

// LocalPath resolves through the routed backend if it stores plain files.
func (m *Mux) LocalPath(locator string) (string, error) {
	b, err := m.route(locator)
	if err != nil {
		return "", err
	}
	pr, ok := b.(PathResolver)
	if !ok {
		return "", fmt.Errorf("%w: %s has no local paths", ErrUnsupported, b.Name())
	}
	return pr.LocalPath(locator)
}
