// SPDX-License-Identifier: MIT
package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func lookup(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestJobAttributes(t *testing.T) {
	attrs := JobAttributes("j1", "subclip", "remux_copy", "a1", 2)
	assert.Len(t, attrs, 5)
	v, ok := lookup(attrs, JobAttemptKey)
	assert.True(t, ok)
	assert.Equal(t, int64(2), v.AsInt64())

	proxy := JobAttributes("j2", "proxy", "", "a1", 1)
	assert.Len(t, proxy, 4)
	_, ok = lookup(proxy, JobModeKey)
	assert.False(t, ok)
}

func TestEngineAndErrorAttributes(t *testing.T) {
	attrs := EngineAttributes("timed_out", 60000, 16)
	v, _ := lookup(attrs, EngineOutcomeKey)
	assert.Equal(t, "timed_out", v.AsString())

	errAttrs := ErrorAttributes("timeout")
	v, _ = lookup(errAttrs, ErrorKey)
	assert.True(t, v.AsBool())
	v, _ = lookup(errAttrs, ErrorTypeKey)
	assert.Equal(t, "timeout", v.AsString())
}
