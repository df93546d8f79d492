package framesource

// triggerGate tracks trigger mode and the software triggers still owed a
// frame. Callers hold their own lock.
type triggerGate struct {
	enabled bool
	pending int
}

// setMode switches mode and drops triggers queued under the old one.
func (g *triggerGate) setMode(enabled bool) {
	g.enabled = enabled
	g.pending = 0
}

// fire queues one frame in trigger mode; free-run ignores it.
func (g *triggerGate) fire() {
	if g.enabled {
		g.pending++
	}
}

// ready reports whether a frame may be produced now.
func (g *triggerGate) ready() bool {
	return !g.enabled || g.pending > 0
}

// delivered spends one trigger. Call it only after a frame was written.
func (g *triggerGate) delivered() {
	if g.enabled && g.pending > 0 {
		g.pending--
	}
}

// reset drops queued triggers, keeping the mode.
func (g *triggerGate) reset() {
	g.pending = 0
}
