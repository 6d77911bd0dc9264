// Package entropy gathers raw seed material for new vault alphabets from
// several weak, independent sources sampled concurrently.
package entropy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

// ErrSourceUnavailable marks a source that cannot produce readings on this host.
var ErrSourceUnavailable = errors.New("entropy source unavailable")

// Source is one weak entropy source.
type Source interface {
	// Name identifies the source in logs and in Sample.Skipped.
	Name() string

	// Read returns one reading. It should return quickly; readings that take
	// longer than the sampling interval are treated as unavailable and the
	// source is not read again. Read must return once ctx is done: a Read
	// that ignores ctx keeps its goroutine alive until it returns.
	Read(ctx context.Context) ([]byte, error)
}

// Options configures a collection.
type Options struct {
	Window        time.Duration
	Interval      time.Duration
	MinBytes      int
	MaxExtension  time.Duration
	ExtensionStep time.Duration
}

// DefaultOptions returns the 30 second window with a 10 second extension budget.
func DefaultOptions() Options {
	return Options{
		Window:        30 * time.Second,
		Interval:      250 * time.Millisecond,
		MinBytes:      256,
		MaxExtension:  10 * time.Second,
		ExtensionStep: time.Second,
	}
}

// Sample is the raw material of one collection.
type Sample struct {
	Data     []byte
	Degraded bool     // at least one source was skipped
	Skipped  []string // names of skipped sources
	Readings int
	Duration time.Duration
}

// Wipe zeroes the sample data.
func (s *Sample) Wipe() {
	for i := range s.Data {
		s.Data[i] = 0
	}
	s.Data = nil
}

// Collector samples its sources over a fixed window.
type Collector struct {
	sources []Source
	opts    Options
	logger  *events.Logger
}

// NewCollector creates a collector. With no sources it uses DefaultSources.
func NewCollector(opts Options, logger *events.Logger, sources ...Source) *Collector {
	if len(sources) == 0 {
		sources = DefaultSources()
	}
	if opts.ExtensionStep <= 0 {
		opts.ExtensionStep = time.Second
	}
	return &Collector{
		sources: sources,
		opts:    opts,
		logger:  logger.WithField("component", "entropy_collector"),
	}
}

// pool accumulates readings from all source goroutines.
type pool struct {
	mu       sync.Mutex
	data     []byte
	readings int
	skipped  map[string]bool
	start    time.Time
}

func (p *pool) add(sourceIdx int, reading []byte) {
	var hdr [11]byte
	hdr[0] = byte(sourceIdx)
	binary.BigEndian.PutUint64(hdr[1:9], uint64(time.Since(p.start)))
	binary.BigEndian.PutUint16(hdr[9:11], uint16(len(reading)))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = append(p.data, hdr[:]...)
	p.data = append(p.data, reading...)
	p.readings++
}

func (p *pool) skip(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skipped[name] = true
}

func (p *pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}

func (p *pool) wipe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.data {
		p.data[i] = 0
	}
	p.data = nil
}

// Collect runs one collection. Cancelling ctx aborts it and discards every
// reading gathered so far.
func (c *Collector) Collect(ctx context.Context) (*Sample, error) {
	if c.opts.Window <= 0 || c.opts.Interval <= 0 {
		return nil, fmt.Errorf("entropy window and interval must be positive")
	}

	p := &pool{skipped: make(map[string]bool), start: time.Now()}

	c.logger.WithFields(map[string]interface{}{
		"sources": len(c.sources),
		"window":  c.opts.Window,
	}).Info("Collecting entropy")

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var alive atomic.Int32
	allStopped := make(chan struct{})
	alive.Store(int32(len(c.sources)))

	for i, src := range c.sources {
		wg.Add(1)
		go func(idx int, src Source) {
			defer wg.Done()
			defer func() {
				if alive.Add(-1) == 0 {
					close(allStopped)
				}
			}()
			c.sampleSource(runCtx, p, idx, src)
		}(i, src)
	}

	stop := func() {
		cancel()
		wg.Wait()
	}

	timer := time.NewTimer(c.opts.Window)
	defer timer.Stop()
	var extended time.Duration

	for {
		select {
		case <-ctx.Done():
			stop()
			p.wipe()
			c.logger.Warn("Entropy collection aborted")
			return nil, fmt.Errorf("%w: %v", models.ErrEntropyAborted, ctx.Err())

		case <-allStopped:
			stop()
			if p.size() < c.opts.MinBytes {
				p.wipe()
				return nil, fmt.Errorf("%w: every source stopped", models.ErrInsufficientEntropy)
			}
			return c.finish(p), nil

		case <-timer.C:
			have := p.size()
			if have >= c.opts.MinBytes {
				stop()
				return c.finish(p), nil
			}

			if extended >= c.opts.MaxExtension {
				stop()
				p.wipe()
				return nil, fmt.Errorf("%w: %d of %d bytes after %s",
					models.ErrInsufficientEntropy, have, c.opts.MinBytes, c.opts.Window+extended)
			}

			step := c.opts.ExtensionStep
			if remaining := c.opts.MaxExtension - extended; step > remaining {
				step = remaining
			}
			extended += step
			timer.Reset(step)

			c.logger.WithFields(map[string]interface{}{
				"bytes":    have,
				"needed":   c.opts.MinBytes,
				"extended": extended,
			}).Warn("Extending entropy collection")
		}
	}
}

// sampleSource reads src at the configured interval until ctx ends or the
// source fails.
func (c *Collector) sampleSource(ctx context.Context, p *pool, idx int, src Source) {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		reading, err := readBounded(ctx, src, c.opts.Interval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.skip(src.Name())
			c.logger.WithError(err).WithField("source", src.Name()).Warn("Skipping entropy source")
			return
		}
		if len(reading) > 0 {
			p.add(idx, reading)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readBounded gives a source at most timeout to answer. A read that outlives
// the timeout is abandoned; its result lands in the buffered channel.
func readBounded(ctx context.Context, src Source, timeout time.Duration) ([]byte, error) {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := src.Read(readCtx)
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-readCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: read timed out after %s", ErrSourceUnavailable, timeout)
	}
}

func (c *Collector) finish(p *pool) *Sample {
	p.mu.Lock()
	defer p.mu.Unlock()

	skipped := make([]string, 0, len(p.skipped))
	for name := range p.skipped {
		skipped = append(skipped, name)
	}
	sort.Strings(skipped)

	s := &Sample{
		Data:     p.data,
		Degraded: len(skipped) > 0,
		Skipped:  skipped,
		Readings: p.readings,
		Duration: time.Since(p.start),
	}
	p.data = nil

	c.logger.WithFields(map[string]interface{}{
		"bytes":    len(s.Data),
		"readings": s.Readings,
		"degraded": s.Degraded,
		"duration": s.Duration,
	}).Info("Entropy collected")

	return s
}
