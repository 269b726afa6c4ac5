//go:build !linux || !(amd64 || arm64)

package loopback

import "log/slog"

// raiseRTPriority no-ops on platforms without the Linux scheduling hint
// path; the realtime worker still functions, just without the priority
// boost.
func raiseRTPriority(logger *slog.Logger) {
	logger.Debug("realtime worker priority hint unavailable on this platform")
}
