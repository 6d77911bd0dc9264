// Package factor resolves the optional secondary factor for an operation.
package factor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/chaosvault/internal/models"
)

// ErrFactorUnavailable is returned when a provider has nothing to offer.
var ErrFactorUnavailable = errors.New("secondary factor unavailable")

// Provider supplies a secondary factor. It is queried once per operation.
type Provider interface {
	Kind() models.FactorKind
	Factor(ctx context.Context) (models.SecondaryFactor, error)
}

// Resolve queries p once, giving up after timeout with
// ErrSecondaryFactorTimeout. A nil provider resolves to the None factor.
func Resolve(ctx context.Context, p Provider, timeout time.Duration) (models.SecondaryFactor, error) {
	if p == nil {
		return models.NoFactor(), nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		factor models.SecondaryFactor
		err    error
	}
	done := make(chan result, 1)
	go func() {
		f, err := p.Factor(ctx)
		done <- result{f, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return models.SecondaryFactor{}, fmt.Errorf("%w: %v", models.ErrSecondaryFactorTimeout, r.err)
			}
			return models.SecondaryFactor{}, r.err
		}
		return r.factor, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.SecondaryFactor{}, fmt.Errorf("%w after %s", models.ErrSecondaryFactorTimeout, timeout)
		}
		return models.SecondaryFactor{}, ctx.Err()
	}
}

// None always yields the None factor.
type None struct{}

func (None) Kind() models.FactorKind { return models.FactorNone }

func (None) Factor(ctx context.Context) (models.SecondaryFactor, error) {
	return models.NoFactor(), nil
}

// Static yields a fixed factor.
type Static struct {
	Value models.SecondaryFactor
}

func (s Static) Kind() models.FactorKind { return s.Value.EffectiveKind() }

func (s Static) Factor(ctx context.Context) (models.SecondaryFactor, error) {
	return s.Value, nil
}

// TokenReader adapts a physical-token reader capability. The function
// blocks until the token is tapped or ctx ends.
type TokenReader func(ctx context.Context) ([]byte, error)

func (TokenReader) Kind() models.FactorKind { return models.FactorToken }

func (r TokenReader) Factor(ctx context.Context) (models.SecondaryFactor, error) {
	id, err := r(ctx)
	if err != nil {
		return models.SecondaryFactor{}, err
	}
	if len(id) == 0 {
		return models.SecondaryFactor{}, fmt.Errorf("%w: empty token id", ErrFactorUnavailable)
	}
	return models.NewTokenID(id), nil
}
