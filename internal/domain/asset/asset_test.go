// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package asset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBitrate(t *testing.T) {
	a := Asset{SizeBytes: 10_000_000, DurationSec: 10}
	assert.InDelta(t, 8.0, a.BitrateMbps(), 1e-9)
	assert.Zero(t, Asset{}.BitrateMbps())
}

func TestWithProxyDoesNotMutate(t *testing.T) {
	now := time.Now()
	a := Asset{ID: "a1", DurationSec: 600, ProxyState: ProxyPending}
	b := a.WithProxy(ProxyReady, "file://proxies/ab/x", now)

	assert.Equal(t, ProxyPending, a.ProxyState)
	assert.Equal(t, ProxyReady, b.ProxyState)
	assert.Equal(t, "file://proxies/ab/x", b.ProxyLocator)
	assert.Equal(t, 600.0, b.DurationSec)

	failed := b.WithProxy(ProxyFailed, "", now)
	assert.Empty(t, failed.ProxyLocator)
}
