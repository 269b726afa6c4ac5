//go:build linux && (amd64 || arm64)

package loopback

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// raiseRTPriority is a best-effort attempt to get the realtime worker's OS
// thread scheduled ahead of ordinary goroutines. Go doesn't expose a way to
// pin a single goroutine to a locked OS thread from outside that goroutine,
// so callers must invoke this from inside the goroutine they want affected,
// after runtime.LockOSThread.
//
// This is an approximation of a real time-constraint scheduling class: nice
// level -11 is a common realtime-audio convention on Linux for processes
// without CAP_SYS_NICE to use SCHED_FIFO outright. Failure is logged and
// otherwise ignored; audio callbacks must survive running at normal
// priority.
func raiseRTPriority(logger *slog.Logger) {
	const niceRealtime = -11
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, niceRealtime); err != nil {
		logger.Debug("could not raise realtime worker priority", "err", err)
	}
}
