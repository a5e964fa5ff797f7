// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package job

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// IdempotencyKey derives the dedupe key for a submission. Floats are
// rendered at millisecond precision so 10 and 10.0000001 collapse to the
// same key. Proxy keys ignore range parameters.
func IdempotencyKey(kind Kind, assetID string, p Params) string {
	var b strings.Builder
	b.WriteString("v1|")
	b.WriteString(string(kind))
	b.WriteByte('|')
	b.WriteString(assetID)
	if kind == KindSubclip {
		mode := p.Mode
		if mode == "" {
			mode = ModeRemuxCopy
		}
		b.WriteByte('|')
		b.WriteString(ms(p.StartSec))
		b.WriteByte('|')
		b.WriteString(ms(p.EndSec))
		b.WriteByte('|')
		b.WriteString(ms(p.PaddingSec))
		b.WriteByte('|')
		b.WriteString(string(mode))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func ms(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// OutputRel returns the canonical output path, relative to the output root,
// derived from the key. Subclips are single files, proxies are directories.
func OutputRel(kind Kind, key string) string {
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	if kind == KindProxy {
		return "proxies/" + shard + "/" + key
	}
	return "clips/" + shard + "/" + key + ".mp4"
}
