// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures the S3-compatible backend.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3 talks to AWS S3, MinIO or any S3-compatible service.
type S3 struct {
	client *miniogo.Client
	cfg    S3Config
}

// NewS3 creates the client. No network call is made until first use. The
// region is pinned so presigning never needs a bucket location lookup.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &S3{client: client, cfg: cfg}, nil
}

func (s *S3) Name() string { return "s3" }

// URLPrefix is the scheme://host/ prefix presigned URLs start with.
func (s *S3) URLPrefix() string {
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + s.cfg.Endpoint + "/"
}

func parseS3(locator string) (bucket, key string, err error) {
	scheme, rest := SplitLocator(locator)
	if scheme != "s3" {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupported, locator)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: malformed s3 locator %q", ErrUnsupported, locator)
	}
	return bucket, key, nil
}

func (s *S3) Exists(ctx context.Context, locator string) (bool, error) {
	_, err := s.Stat(ctx, locator)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *S3) Stat(ctx context.Context, locator string) (ObjectInfo, error) {
	bucket, key, err := parseS3(locator)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := s.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, classifyS3(err)
	}
	return ObjectInfo{Size: info.Size, ContentType: info.ContentType, ModTime: info.LastModified}, nil
}

func (s *S3) Sign(ctx context.Context, locator string, ttl time.Duration, method string) (string, error) {
	if err := checkMethod(method); err != nil {
		return "", err
	}
	bucket, key, err := parseS3(locator)
	if err != nil {
		return "", err
	}
	var u *url.URL
	if method == http.MethodHead {
		u, err = s.client.PresignedHeadObject(ctx, bucket, key, ttl, url.Values{})
	} else {
		u, err = s.client.PresignedGetObject(ctx, bucket, key, ttl, url.Values{})
	}
	if err != nil {
		return "", classifyS3(err)
	}
	return u.String(), nil
}

func (s *S3) Remove(ctx context.Context, locator string) error {
	bucket, key, err := parseS3(locator)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		return classifyS3(err)
	}
	return nil
}

// classifyS3 maps S3 error codes onto the storage sentinels.
func classifyS3(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp := miniogo.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Message)
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAccessDenied, resp.Message)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
