// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindRetryable(t *testing.T) {
	assert.True(t, KindEndpointExpired.Retryable())
	assert.True(t, KindStorageUnavailable.Retryable())
	assert.True(t, KindEngineCrash.Retryable())
	assert.False(t, KindTimeout.Retryable())
	assert.False(t, KindSourceUnavailable.Retryable())
	assert.False(t, KindInvalidRange.Retryable())
}

func TestFromClassifiesContextErrors(t *testing.T) {
	assert.Equal(t, KindCanceled, KindOf(context.Canceled))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrappedKindSurvivesFmtWrap(t *testing.T) {
	base := Wrap(KindSourceUnavailable, "object missing", errors.New("NoSuchKey"))
	err := fmt.Errorf("resolve: %w", base)

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindSourceUnavailable, fe.Kind)
	assert.False(t, IsRetryable(err))
	assert.True(t, errors.Is(err, New(KindSourceUnavailable, "")))
	assert.False(t, errors.Is(err, New(KindTimeout, "")))
}

func TestExhaustedKeepsCause(t *testing.T) {
	e := Exhausted(3, New(KindEngineCrash, "killed"))
	assert.Equal(t, KindRetriesExhausted, e.Kind)
	assert.Equal(t, KindEngineCrash, e.Cause)
	assert.False(t, e.Retryable)
	assert.Contains(t, e.Error(), "3 attempts")
}
