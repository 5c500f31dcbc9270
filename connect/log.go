package connect

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `connect` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on
//     normal operation, with the exception of infrequent lifecycle data that
//     is useful for monitoring. this includes:
//     - reconnects, handshake failures, dropped frames
//     - optimistic state that disagrees with the store after resync
// Error:
//     unrecoverable crash details
// V(2):
//     key events for trace debugging
//     - per-frame send/receive, toggle dispatch, promotion and backfill

type LogFunction func(format string, a ...any)

// tagged verbose logger, e.g. `[g]follow` or `[s]alice<->bob`
func LogFn(tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(2) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("%s %s", tag, m))
		}
	}
}

func SubLogFn(log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		m := fmt.Sprintf(format, a...)
		log("%s %s", tag, m)
	}
}
