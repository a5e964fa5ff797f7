// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/subclip/internal/fsutil"
)

var (
	// ErrBadSignature is returned by Verify for tampered or foreign URLs.
	ErrBadSignature = errors.New("invalid signature")
	// ErrLinkExpired is returned by Verify once exp has passed.
	ErrLinkExpired = errors.New("link expired")
)

// Local serves files from named roots. Each locator scheme maps to one root
// and signed URLs point at the daemon's /files/{root}/ handler.
type Local struct {
	roots   map[string]string // root name -> directory
	schemes map[string]string // locator scheme -> root name
	secret  []byte
	baseURL string
	now     func() time.Time
}

// LocalRoot binds a locator scheme to a directory published as Name.
type LocalRoot struct {
	Scheme string
	Name   string
	Dir    string
}

// NewLocal creates a local backend. baseURL is the externally reachable
// daemon address, e.g. "http://127.0.0.1:8088".
func NewLocal(baseURL string, secret []byte, roots ...LocalRoot) (*Local, error) {
	if len(secret) < 16 {
		return nil, errors.New("local storage signing secret must be at least 16 bytes")
	}
	l := &Local{
		roots:   make(map[string]string),
		schemes: make(map[string]string),
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
	for _, r := range roots {
		if r.Dir == "" || r.Name == "" || r.Scheme == "" {
			return nil, fmt.Errorf("incomplete local root %+v", r)
		}
		l.roots[r.Name] = r.Dir
		l.schemes[r.Scheme] = r.Name
	}
	return l, nil
}

func (l *Local) Name() string { return "local" }

// URLPrefix is the prefix of every URL this backend signs.
func (l *Local) URLPrefix() string { return l.baseURL + "/files/" }

// Root returns the directory behind a published root name.
func (l *Local) Root(name string) (string, bool) {
	dir, ok := l.roots[name]
	return dir, ok
}

func (l *Local) split(locator string) (root, rel string, err error) {
	scheme, rest := SplitLocator(locator)
	name, ok := l.schemes[scheme]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupported, locator)
	}
	if rest == "" {
		return "", "", fmt.Errorf("%w: empty path", ErrUnsupported)
	}
	return name, path.Clean(rest), nil
}

// LocalPath returns the confined absolute path of a locator.
func (l *Local) LocalPath(locator string) (string, error) {
	root, rel, err := l.split(locator)
	if err != nil {
		return "", err
	}
	return l.Resolve(root, rel)
}

// Resolve confines rel to the named root.
func (l *Local) Resolve(root, rel string) (string, error) {
	dir, ok := l.roots[root]
	if !ok {
		return "", fmt.Errorf("%w: unknown root %q", ErrNotFound, root)
	}
	p, err := fsutil.ConfineRelPath(dir, rel)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return p, nil
}

func (l *Local) Exists(ctx context.Context, locator string) (bool, error) {
	_, err := l.Stat(ctx, locator)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (l *Local) Stat(_ context.Context, locator string) (ObjectInfo, error) {
	p, err := l.LocalPath(locator)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, locator)
		case errors.Is(err, os.ErrPermission):
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrAccessDenied, locator)
		}
		return ObjectInfo{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	size := info.Size()
	if info.IsDir() {
		if size, err = fsutil.DirSize(p); err != nil {
			return ObjectInfo{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	return ObjectInfo{Size: size, ModTime: info.ModTime()}, nil
}

// Sign returns base/files/{root}/{rel}?exp=<unix>&sig=<hex>.
func (l *Local) Sign(_ context.Context, locator string, ttl time.Duration, method string) (string, error) {
	if err := checkMethod(method); err != nil {
		return "", err
	}
	root, rel, err := l.split(locator)
	if err != nil {
		return "", err
	}
	if _, err := l.Resolve(root, rel); err != nil {
		return "", err
	}
	exp := l.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", l.mac(method, root, rel, exp))
	return l.baseURL + "/files/" + root + "/" + escapePath(rel) + "?" + q.Encode(), nil
}

// Verify checks a signature produced by Sign. HEAD requests are accepted
// with GET signatures.
func (l *Local) Verify(method, root, rel, expRaw, sig string) error {
	exp, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	rel = path.Clean(rel)
	ok := hmac.Equal([]byte(sig), []byte(l.mac(method, root, rel, exp)))
	if !ok && method == http.MethodHead {
		ok = hmac.Equal([]byte(sig), []byte(l.mac(http.MethodGet, root, rel, exp)))
	}
	if !ok {
		return ErrBadSignature
	}
	if l.now().Unix() > exp {
		return ErrLinkExpired
	}
	return nil
}

func (l *Local) mac(method, root, rel string, exp int64) string {
	h := hmac.New(sha256.New, l.secret)
	fmt.Fprintf(h, "%s\n%s\n%s\n%d", method, root, rel, exp)
	return hex.EncodeToString(h.Sum(nil))
}

func (l *Local) Remove(_ context.Context, locator string) error {
	p, err := l.LocalPath(locator)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func escapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
