// Package memwatch samples the process memory footprint so the simulated
// leak can be watched growing while the bug simulation is on.
package memwatch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cjeanneret/simcam/internal/debug"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultInterval is used when the watcher is given a non-positive interval.
const DefaultInterval = time.Second

// Usage is one memory reading of the process.
type Usage struct {
	RSS uint64
	VMS uint64
}

// Sampler reads the current memory usage.
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// ProcessSampler reads this process's memory through gopsutil.
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler attaches to the running process.
func NewProcessSampler(ctx context.Context) (*ProcessSampler, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("attach to process %d: %w", os.Getpid(), err)
	}
	return &ProcessSampler{proc: p}, nil
}

func (p *ProcessSampler) Sample(ctx context.Context) (Usage, error) {
	mi, err := p.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("read memory info: %w", err)
	}
	return Usage{RSS: mi.RSS, VMS: mi.VMS}, nil
}

// Sample is one reading taken by the Watcher.
type Sample struct {
	At          time.Time `json:"at"`
	RSS         uint64    `json:"rss"`
	VMS         uint64    `json:"vms"`
	LeakedBytes int       `json:"leaked_bytes"`
	// Growth is RSS minus the first sample's RSS; negative when memory shrank.
	Growth int64 `json:"growth"`
}

// Watcher samples memory at a fixed interval and keeps the baseline and the
// latest reading.
type Watcher struct {
	sampler  Sampler
	interval time.Duration
	leaked   func() int
	onSample func(Sample)

	mu       sync.RWMutex
	baseline *Sample
	last     *Sample
	count    int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLeakCounter reports the bytes retained by the bug simulation in each sample.
func WithLeakCounter(fn func() int) Option {
	return func(w *Watcher) { w.leaked = fn }
}

// WithOnSample registers a callback invoked after every successful sample.
func WithOnSample(fn func(Sample)) Option {
	return func(w *Watcher) { w.onSample = fn }
}

// New creates a Watcher. It does nothing until Run or SampleOnce is called.
func New(sampler Sampler, interval time.Duration, opts ...Option) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	w := &Watcher{sampler: sampler, interval: interval}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run samples every interval until ctx is done. A failed sample is logged and
// the next one is attempted on schedule.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	if _, err := w.SampleOnce(ctx); err != nil {
		debug.Error(err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.SampleOnce(ctx); err != nil {
				debug.Error(err)
			}
		}
	}
}

// SampleOnce takes one reading and records it.
func (w *Watcher) SampleOnce(ctx context.Context) (Sample, error) {
	u, err := w.sampler.Sample(ctx)
	if err != nil {
		return Sample{}, err
	}
	s := Sample{At: time.Now(), RSS: u.RSS, VMS: u.VMS}
	if w.leaked != nil {
		s.LeakedBytes = w.leaked()
	}

	w.mu.Lock()
	if w.baseline == nil {
		b := s
		w.baseline = &b
	}
	s.Growth = int64(s.RSS) - int64(w.baseline.RSS)
	w.last = &s
	w.count++
	w.mu.Unlock()

	debug.Live("Memory: rss=%s growth=%+d leaked=%s", FormatBytes(s.RSS), s.Growth, FormatBytes(uint64(s.LeakedBytes)))
	if w.onSample != nil {
		w.onSample(s)
	}
	return s, nil
}

// Last returns the most recent sample, or false before the first one.
func (w *Watcher) Last() (Sample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return Sample{}, false
	}
	return *w.last, true
}

// Baseline returns the first sample, or false before it was taken.
func (w *Watcher) Baseline() (Sample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.baseline == nil {
		return Sample{}, false
	}
	return *w.baseline, true
}

// Count returns the number of successful samples.
func (w *Watcher) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count
}

// FormatBytes renders n with a binary unit, e.g. "1.5 MiB".
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
