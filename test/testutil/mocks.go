package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/chaosvault/internal/entropy"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

// SeededSource is a deterministic entropy source. Each read returns the
// next block of a hash chain started from Seed.
type SeededSource struct {
	SourceName string
	Seed       string
	Size       int

	mu      sync.Mutex
	counter uint64
}

// NewSeededSource creates a seeded source producing size bytes per read.
func NewSeededSource(name, seed string, size int) *SeededSource {
	return &SeededSource{SourceName: name, Seed: seed, Size: size}
}

func (s *SeededSource) Name() string { return s.SourceName }

func (s *SeededSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.counter++
	n := s.counter
	s.mu.Unlock()

	out := make([]byte, 0, s.Size+sha256.Size)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], n)
	block := sha256.Sum256(append([]byte(s.Seed), ctr[:]...))
	for len(out) < s.Size {
		out = append(out, block[:]...)
		block = sha256.Sum256(block[:])
	}
	return out[:s.Size], nil
}

// UnavailableSource always fails, which marks a collection as degraded.
type UnavailableSource struct {
	SourceName string
}

func (s UnavailableSource) Name() string { return s.SourceName }

func (s UnavailableSource) Read(ctx context.Context) ([]byte, error) {
	return nil, entropy.ErrSourceUnavailable
}

// NewTestCollector builds a fast collector over the given sources. With
// no sources it uses one seeded source.
func NewTestCollector(sources ...entropy.Source) *entropy.Collector {
	if len(sources) == 0 {
		sources = []entropy.Source{NewSeededSource("seeded", "test", 32)}
	}
	opts := entropy.Options{
		Window:        40 * time.Millisecond,
		Interval:      5 * time.Millisecond,
		MinBytes:      64,
		MaxExtension:  100 * time.Millisecond,
		ExtensionStep: 20 * time.Millisecond,
	}
	return entropy.NewCollector(opts, NewTestLogger(), sources...)
}

// MockFactorProvider mocks factor.Provider.
type MockFactorProvider struct {
	mock.Mock
}

// NewMockFactorProvider creates a mock factor provider.
func NewMockFactorProvider() *MockFactorProvider {
	return &MockFactorProvider{}
}

func (m *MockFactorProvider) Kind() models.FactorKind {
	args := m.Called()
	return args.Get(0).(models.FactorKind)
}

func (m *MockFactorProvider) Factor(ctx context.Context) (models.SecondaryFactor, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.SecondaryFactor), args.Error(1)
}

// ProgressRecorder collects progress reports in order.
type ProgressRecorder[T any] struct {
	mu      sync.Mutex
	reports []T
}

func (r *ProgressRecorder[T]) Report(p T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, p)
}

// Reports returns a copy of the recorded reports.
func (r *ProgressRecorder[T]) Reports() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.reports))
	copy(out, r.reports)
	return out
}
