package extcall

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyhub/internal/pkg/errs"
)

var fast = Policy{Timeout: 20 * time.Millisecond, Backoff: time.Millisecond}

func TestDo_Success(t *testing.T) {
	var calls int32
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestDo_RetriesTimeoutOnce(t *testing.T) {
	var calls int32
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return ctx.Err()
	})

	assert.True(t, errs.HasCode(err, errs.ErrTimeout))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDo_SecondAttemptSucceeds(t *testing.T) {
	var calls int32
	v, err := Value(context.Background(), fast, func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDo_NonTimeoutErrorNotRetried(t *testing.T) {
	boom := errors.New("boom")
	var calls int32
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls)
}

func TestDo_IgnoredDeadlineStillBounded(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		<-block
		return nil
	})

	assert.True(t, errs.HasCode(err, errs.ErrTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestValue_LateAttemptDiscarded(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	lateDone := make(chan struct{})

	v, err := Value(context.Background(), fast, func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			defer close(lateDone)
			<-release
			return "stale", nil
		}
		return "fresh", nil
	})
	close(release)
	<-lateDone

	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
