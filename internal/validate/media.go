// SPDX-License-Identifier: MIT

package validate

import (
	"fmt"
	"math"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/fsutil"
)

// Policy is the allow list the Validator enforces.
type Policy struct {
	// LocalRoot confines file:// and bare-path source locators.
	LocalRoot string
	// OutputRoot confines every path the engine writes.
	OutputRoot string
	// Buckets lists the s3 buckets sources may live in. Empty denies all s3.
	Buckets []string
	// EndpointPrefixes lists scheme://host/path prefixes a signed URL may use.
	EndpointPrefixes []string
}

// Validator builds the opaque values below. Nothing else can construct them
// with content, so an argument builder that accepts only these types cannot
// be handed an unchecked string.
type Validator struct {
	policy   Policy
	prefixes []*url.URL
}

// NewValidator parses the endpoint prefixes up front.
func NewValidator(p Policy) (*Validator, error) {
	v := &Validator{policy: p}
	for _, raw := range p.EndpointPrefixes {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("invalid endpoint prefix %q", raw)
		}
		v.prefixes = append(v.prefixes, u)
	}
	return v, nil
}

// Policy returns the configured allow list.
func (v *Validator) Policy() Policy { return v.policy }

// Range is a validated [start, end) window in seconds.
type Range struct {
	start, end float64
}

func (r Range) Start() float64    { return r.start }
func (r Range) End() float64      { return r.end }
func (r Range) Duration() float64 { return r.end - r.start }
func (r Range) IsZero() bool      { return r.start == 0 && r.end == 0 }

// Range checks that start/end are finite, ordered and inside the asset once
// its duration is known.
func (v *Validator) Range(a asset.Asset, start, end float64) (Range, error) {
	for _, x := range []float64{start, end} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Range{}, failure.New(failure.KindInvalidRange, "range values must be finite")
		}
	}
	if start < 0 || end <= start {
		return Range{}, failure.Newf(failure.KindInvalidRange, "range [%.3f, %.3f] is empty or negative", start, end)
	}
	if a.DurationKnown() && end > a.DurationSec {
		return Range{}, failure.Newf(failure.KindInvalidRange, "range end %.3f exceeds duration %.3f", end, a.DurationSec)
	}
	return Range{start: start, end: end}, nil
}

// SourceScheme identifies where a source object lives.
type SourceScheme string

const (
	SchemeS3   SourceScheme = "s3"
	SchemeFile SourceScheme = "file"
)

// Source is a confined storage locator.
type Source struct {
	scheme SourceScheme
	bucket string
	key    string
	path   string // resolved absolute path for file sources
}

func (s Source) Scheme() SourceScheme { return s.scheme }
func (s Source) Bucket() string       { return s.bucket }
func (s Source) Key() string          { return s.key }

// LocalPath is the confined absolute path of a file source.
func (s Source) LocalPath() string { return s.path }

// String renders the canonical locator.
func (s Source) String() string {
	if s.scheme == SchemeS3 {
		return "s3://" + s.bucket + "/" + s.key
	}
	return "file://" + s.key
}

// Source parses "s3://bucket/key", "file://rel/path" or a bare relative path.
func (v *Validator) Source(locator string) (Source, error) {
	reject := func(reason string) (Source, error) {
		return Source{}, failure.Newf(failure.KindLocatorRejected, "source locator rejected: %s", reason)
	}
	if locator == "" {
		return reject("empty")
	}
	if hasControl(locator) {
		return reject("control characters")
	}

	switch {
	case strings.HasPrefix(locator, "s3://"):
		rest := strings.TrimPrefix(locator, "s3://")
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return reject("s3 locator must be s3://bucket/key")
		}
		if !slices.Contains(v.policy.Buckets, bucket) {
			return reject("bucket not allowed")
		}
		if err := checkKey(key); err != nil {
			return reject(err.Error())
		}
		return Source{scheme: SchemeS3, bucket: bucket, key: key}, nil

	case strings.Contains(locator, "://") && !strings.HasPrefix(locator, "file://"):
		return reject("unsupported scheme")
	}

	rel := strings.TrimPrefix(locator, "file://")
	if err := checkKey(rel); err != nil {
		return reject(err.Error())
	}
	if v.policy.LocalRoot == "" {
		return reject("local sources are disabled")
	}
	p, err := fsutil.ConfineRelPath(v.policy.LocalRoot, rel)
	if err != nil {
		return reject("path escapes storage root")
	}
	return Source{scheme: SchemeFile, key: path.Clean(rel), path: p}, nil
}

func checkKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("key must be relative")
	}
	if strings.HasPrefix(key, "-") {
		return fmt.Errorf("key must not start with '-'")
	}
	if strings.Contains(key, "\\") {
		return fmt.Errorf("backslash in key")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return fmt.Errorf("parent segment in key")
		}
	}
	return nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

// Endpoint is a resolved engine input: an allow-listed URL or a confined
// local path.
type Endpoint struct {
	value  string
	remote bool
}

func (e Endpoint) String() string { return e.value }

// IsRemote reports whether the engine reads the input over HTTP.
func (e Endpoint) IsRemote() bool { return e.remote }

// Endpoint checks a resolved URL or local path against the allow list.
func (v *Validator) Endpoint(raw string) (Endpoint, error) {
	reject := func(reason string) (Endpoint, error) {
		return Endpoint{}, failure.Newf(failure.KindLocatorRejected, "endpoint rejected: %s", reason)
	}
	if raw == "" || strings.HasPrefix(raw, "-") {
		return reject("empty or option-like")
	}
	if hasControl(raw) {
		return reject("control characters")
	}

	if filepath.IsAbs(raw) {
		if v.policy.LocalRoot == "" {
			return reject("local endpoints are disabled")
		}
		p, err := fsutil.ConfineAbsPath(v.policy.LocalRoot, raw)
		if err != nil {
			return reject("path escapes storage root")
		}
		return Endpoint{value: p}, nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return reject("not an absolute URL")
	}
	for _, prefix := range v.prefixes {
		if u.Scheme == prefix.Scheme &&
			strings.EqualFold(u.Host, prefix.Host) &&
			strings.HasPrefix(u.EscapedPath(), prefix.EscapedPath()) {
			return Endpoint{value: raw, remote: true}, nil
		}
	}
	return reject("prefix not allowed")
}

// OutputPath is an absolute path confined under the output root.
type OutputPath struct {
	path string
}

func (o OutputPath) String() string { return o.path }

// Output confines p (relative to the output root, or absolute) to the
// output root.
func (v *Validator) Output(p string) (OutputPath, error) {
	if v.policy.OutputRoot == "" {
		return OutputPath{}, failure.New(failure.KindInvalidParameter, "output root not configured")
	}
	if hasControl(p) || strings.HasPrefix(filepath.Base(p), "-") {
		return OutputPath{}, failure.New(failure.KindInvalidParameter, "output path rejected")
	}
	var (
		resolved string
		err      error
	)
	if filepath.IsAbs(p) {
		resolved, err = fsutil.ConfineAbsPath(v.policy.OutputRoot, p)
	} else {
		resolved, err = fsutil.ConfineRelPath(v.policy.OutputRoot, p)
	}
	if err != nil {
		return OutputPath{}, failure.Wrap(failure.KindInvalidParameter, "output path escapes output root", err)
	}
	return OutputPath{path: resolved}, nil
}

// Endpoint lets the engine read back a file it wrote under the output root.
func (o OutputPath) Endpoint() Endpoint { return Endpoint{value: o.path} }
