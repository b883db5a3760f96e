package enrichment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealmatch/matchengine/pkg/apperrors"
)

type flakyLookup struct {
	err   error
	calls int
}

func (f *flakyLookup) Enrich(context.Context, LookupRequest) (*LookupResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &LookupResult{}, nil
}

func TestBreakeredLookup_TripsAfterConsecutiveTransientFailures(t *testing.T) {
	inner := &flakyLookup{err: apperrors.AsTransient(errors.New("timeout"))}
	breaker := NewBreakeredLookup(inner, BreakerConfig{Threshold: 3, ResetAfter: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := breaker.Enrich(ctx, LookupRequest{Name: "Acme"})
		require.Error(t, err)
	}
	assert.Equal(t, "open", breaker.State())

	// Open circuit fails fast without touching the provider.
	_, err := breaker.Enrich(ctx, LookupRequest{Name: "Acme"})
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, 3, inner.calls)
}

func TestBreakeredLookup_PermanentFailuresDoNotTrip(t *testing.T) {
	inner := &flakyLookup{err: apperrors.AsPermanent(errors.New("bad request"))}
	breaker := NewBreakeredLookup(inner, BreakerConfig{Threshold: 2, ResetAfter: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := breaker.Enrich(ctx, LookupRequest{Name: "Acme"})
		require.Error(t, err)
	}
	assert.Equal(t, "closed", breaker.State())
	assert.Equal(t, 5, inner.calls)
}

func TestBreakeredLookup_RecoversThroughHalfOpenProbe(t *testing.T) {
	inner := &flakyLookup{err: apperrors.AsTransient(errors.New("timeout"))}
	breaker := NewBreakeredLookup(inner, BreakerConfig{Threshold: 1, ResetAfter: 10 * time.Millisecond})
	ctx := context.Background()

	_, err := breaker.Enrich(ctx, LookupRequest{Name: "Acme"})
	require.Error(t, err)
	assert.Equal(t, "open", breaker.State())

	time.Sleep(20 * time.Millisecond)

	// The probe succeeds and closes the circuit.
	inner.err = nil
	_, err = breaker.Enrich(ctx, LookupRequest{Name: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "closed", breaker.State())
}

func TestBreakeredLookup_SuccessResetsFailureCount(t *testing.T) {
	inner := &flakyLookup{}
	breaker := NewBreakeredLookup(inner, BreakerConfig{Threshold: 2, ResetAfter: time.Minute})
	ctx := context.Background()

	inner.err = apperrors.AsTransient(errors.New("timeout"))
	_, _ = breaker.Enrich(ctx, LookupRequest{Name: "Acme"})

	inner.err = nil
	_, err := breaker.Enrich(ctx, LookupRequest{Name: "Acme"})
	require.NoError(t, err)

	inner.err = apperrors.AsTransient(errors.New("timeout"))
	_, _ = breaker.Enrich(ctx, LookupRequest{Name: "Acme"})
	assert.Equal(t, "closed", breaker.State())
}
