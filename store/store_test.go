package store

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestRetryOnConflict(t *testing.T) {
	t.Run("succeeds after conflicts", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 3, func() error {
			calls++
			if calls < 3 {
				return ErrConflict
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 2, func() error {
			calls++
			return ErrConflict
		})
		assert.True(t, errors.Is(err, ErrConflict))
		assert.Equal(t, 2, calls)
	})

	t.Run("other errors are returned at once", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 5, func() error {
			calls++
			return ErrNotFound
		})
		assert.Equal(t, ErrNotFound, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := RetryOnConflict(ctx, 5, func() error { return nil })
		assert.Equal(t, context.Canceled, err)
	})
}
