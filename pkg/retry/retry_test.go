package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		maxAttempts  int
		wantErr      bool
		wantAttempts int
	}{
		{name: "succeeds first try", failures: 0, maxAttempts: 3, wantAttempts: 1},
		{name: "succeeds after retries", failures: 2, maxAttempts: 3, wantAttempts: 3},
		{name: "exhausted", failures: 5, maxAttempts: 3, wantErr: true, wantAttempts: 3},
		{name: "zero attempts runs once", failures: 1, maxAttempts: 0, wantErr: true, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), Policy{MaxAttempts: tt.maxAttempts, Interval: time.Millisecond}, func(ctx context.Context) error {
				calls++
				if calls <= tt.failures {
					return errors.New("device not ready")
				}
				return nil
			})

			assert.Equal(t, tt.wantAttempts, calls)
			if tt.wantErr {
				require.Error(t, err)
				var exhausted *ExhaustedError
				require.ErrorAs(t, err, &exhausted)
				assert.Equal(t, "device not ready", err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDoPermanentStops(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, Interval: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("group deleted"))
	})

	assert.Equal(t, 1, calls)
	assert.EqualError(t, err, "group deleted")
}

func TestDoShouldRetry(t *testing.T) {
	fatal := errors.New("401 unauthorized")
	calls := 0
	err := Do(context.Background(), Policy{
		MaxAttempts: 5,
		Interval:    time.Millisecond,
		ShouldRetry: func(err error) bool { return !errors.Is(err, fatal) },
	}, func(ctx context.Context) error {
		calls++
		return fatal
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, fatal)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 10, Interval: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("still waiting")
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUntil(t *testing.T) {
	calls := 0
	err := Until(context.Background(), Policy{MaxAttempts: 2, Interval: time.Millisecond}, "device group never appeared", func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})

	assert.Equal(t, 2, calls)
	assert.EqualError(t, err, "device group never appeared")
}
