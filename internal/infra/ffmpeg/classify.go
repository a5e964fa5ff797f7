package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/ManuGH/subclip/internal/domain/failure"
)

var (
	expiredMarkers = []string{
		"http error 403",
		"403 forbidden",
		"http error 410",
		"410 gone",
		"request has expired",
		"expiredtoken",
	}
	storageMarkers = []string{
		"connection reset",
		"connection refused",
		"connection timed out",
		"network is unreachable",
		"server returned 5",
		"http error 5",
		"input/output error",
		"i/o error",
		"i/o timeout",
		"operation timed out",
	}
)

// ClassifyStderr looks for signs of an expired signed URL or a storage
// outage in engine stderr. It returns nil when neither is present.
func ClassifyStderr(lines []string) *failure.Error {
	var storage bool
	for _, l := range lines {
		l = strings.ToLower(l)
		for _, m := range expiredMarkers {
			if strings.Contains(l, m) {
				return failure.New(failure.KindEndpointExpired, "signed source URL expired or was revoked")
			}
		}
		if !storage {
			for _, m := range storageMarkers {
				if strings.Contains(l, m) {
					storage = true
					break
				}
			}
		}
	}
	if storage {
		return failure.New(failure.KindStorageUnavailable, "source storage unreachable during extraction")
	}
	return nil
}

// Classify maps a finished run to a failure. A clean exit returns nil.
// Timeouts and cancellation are decided by the caller, which owns the
// deadline.
func Classify(res RunResult) *failure.Error {
	if res.Signal != "" {
		return failure.Newf(failure.KindEngineCrash, "engine killed by %s", res.Signal)
	}
	if res.ExitCode == 0 {
		return nil
	}
	if f := ClassifyStderr(res.Stderr); f != nil {
		return f
	}
	return failure.New(failure.KindExtractionFailed, fmt.Sprintf("engine exited with status %d", res.ExitCode))
}
