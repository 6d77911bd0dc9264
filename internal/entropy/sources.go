package entropy

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"time"
)

// DefaultSources returns every built-in source. Sources that do not apply to
// the host report ErrSourceUnavailable on first read and are skipped.
func DefaultSources() []Source {
	return []Source{
		TimingJitter{},
		AllocationCounters{},
		SchedulerJitter{},
		IOCompletion{Dir: os.TempDir()},
		InterfaceCounters{Path: "/proc/net/dev"},
		SystemLoad{Paths: []string{"/proc/loadavg", "/proc/stat"}},
		Clock{},
	}
}

// TimingJitter measures how long small hash computations take.
type TimingJitter struct{}

func (TimingJitter) Name() string { return "timing_jitter" }

func (TimingJitter) Read(ctx context.Context) ([]byte, error) {
	var block [64]byte
	out := make([]byte, 0, 32*2)

	for i := 0; i < 32; i++ {
		start := time.Now()
		sum := sha256.Sum256(block[:])
		copy(block[:], sum[:])
		delta := time.Since(start).Nanoseconds()
		out = append(out, byte(delta), byte(delta>>8))
	}

	return out, nil
}

// AllocationCounters reads runtime allocator and GC counters.
type AllocationCounters struct{}

func (AllocationCounters) Name() string { return "allocation_counters" }

func (AllocationCounters) Read(ctx context.Context) ([]byte, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	out := make([]byte, 0, 6*8)
	for _, v := range []uint64{
		ms.Mallocs, ms.Frees, ms.HeapAlloc,
		uint64(ms.NumGC), ms.PauseTotalNs, ms.Sys,
	} {
		out = binary.BigEndian.AppendUint64(out, v)
	}
	return out, nil
}

// SchedulerJitter times goroutine hand-offs through an unbuffered channel.
type SchedulerJitter struct{}

func (SchedulerJitter) Name() string { return "scheduler_jitter" }

func (SchedulerJitter) Read(ctx context.Context) ([]byte, error) {
	ping := make(chan struct{})
	pong := make(chan struct{})
	go func() {
		for range ping {
			pong <- struct{}{}
		}
		close(pong)
	}()
	defer close(ping)

	out := make([]byte, 0, 16*2)
	for i := 0; i < 16; i++ {
		start := time.Now()
		ping <- struct{}{}
		<-pong
		delta := time.Since(start).Nanoseconds()
		out = append(out, byte(delta), byte(delta>>8))
	}
	return out, nil
}

// IOCompletion writes and syncs a small temporary file and records when the
// write completes.
type IOCompletion struct {
	Dir string
}

func (IOCompletion) Name() string { return "io_completion" }

func (s IOCompletion) Read(ctx context.Context) ([]byte, error) {
	f, err := os.CreateTemp(s.Dir, ".chaosvault-entropy-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	name := f.Name()
	defer os.Remove(name)
	defer f.Close()

	var buf [512]byte
	start := time.Now()
	if _, err := f.Write(buf[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	out := binary.BigEndian.AppendUint64(nil, uint64(time.Since(start).Nanoseconds()))
	return binary.BigEndian.AppendUint64(out, uint64(time.Now().UnixNano())), nil
}

// InterfaceCounters reads network interface packet and byte counters.
type InterfaceCounters struct {
	Path string
}

func (InterfaceCounters) Name() string { return "interface_counters" }

func (s InterfaceCounters) Read(ctx context.Context) ([]byte, error) {
	return digestFile(s.Path)
}

// SystemLoad reads kernel load and CPU accounting counters. The first
// readable path wins.
type SystemLoad struct {
	Paths []string
}

func (SystemLoad) Name() string { return "system_load" }

func (s SystemLoad) Read(ctx context.Context) ([]byte, error) {
	for _, p := range s.Paths {
		if out, err := digestFile(p); err == nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: no load counters", ErrSourceUnavailable)
}

// Clock mixes the wall clock, the monotonic clock and the process id.
type Clock struct{}

func (Clock) Name() string { return "clock" }

func (Clock) Read(ctx context.Context) ([]byte, error) {
	now := time.Now()
	out := binary.BigEndian.AppendUint64(nil, uint64(now.UnixNano()))
	out = binary.BigEndian.AppendUint64(out, uint64(time.Since(processStart).Nanoseconds()))
	return binary.BigEndian.AppendUint32(out, uint32(os.Getpid())), nil
}

var processStart = time.Now()

// digestFile hashes a counters file so mostly static text does not inflate
// the collected byte count.
func digestFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}
