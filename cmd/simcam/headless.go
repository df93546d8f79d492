package main

import (
	"context"
	"time"

	"github.com/cjeanneret/simcam/internal/debug"
	"github.com/cjeanneret/simcam/internal/logic/acquisition"
)

const headlessReportInterval = time.Second

// headlessRetryInterval is the wait between failed connect attempts.
var headlessRetryInterval = time.Second

// headlessSession is what runHeadless needs from the session.
type headlessSession interface {
	Connect(index int) bool
	LoopStats() acquisition.Stats
	LeakedBytes() int
}

// runHeadless connects to the camera, retrying until it comes up, then logs
// loop counters every report period until ctx is done.
func runHeadless(ctx context.Context, sess headlessSession, index int, report time.Duration) error {
	debug.Section("Headless")
	for !sess.Connect(index) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(headlessRetryInterval):
			debug.Live("Retrying camera %d", index)
		}
	}

	ticker := time.NewTicker(report)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			s := sess.LoopStats()
			debug.Info("Stopped after %d frames (%d unavailable, %d failed)", s.Frames, s.Unavailable, s.Failures)
			return nil
		case <-ticker.C:
			s := sess.LoopStats()
			debug.Info("frames=%d (+%d) unavailable=%d failures=%d leaked=%d",
				s.Frames, s.Frames-last, s.Unavailable, s.Failures, sess.LeakedBytes())
			if s.LastError != "" && debug.IsEnabled(debug.LevelVerbose) {
				debug.Verbose("last error: %s", s.LastError)
			}
			last = s.Frames
		}
	}
}
