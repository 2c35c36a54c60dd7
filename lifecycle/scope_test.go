package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_ReverseOrder(t *testing.T) {
	s := NewScope(log.NewNopLogger())
	var order []string
	for _, name := range []string{"registry", "pool", "unregister"} {
		name := name
		require.NoError(t, s.OnShutdown(name, func(context.Context) error {
			order = append(order, name)
			return nil
		}))
	}

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, []string{"unregister", "pool", "registry"}, order)
}

func TestScope_RunsOnce(t *testing.T) {
	s := NewScope(log.NewNopLogger())
	calls := 0
	require.NoError(t, s.OnShutdown("count", func(context.Context) error {
		calls++
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Shutdown(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestScope_ErrorsDoNotStopOthers(t *testing.T) {
	s := NewScope(log.NewNopLogger())
	boom := errors.New("boom")
	ran := false

	require.NoError(t, s.OnShutdown("last", func(context.Context) error {
		ran = true
		return nil
	}))
	require.NoError(t, s.OnShutdown("panics", func(context.Context) error { panic("bad") }))
	require.NoError(t, s.OnShutdown("fails", func(context.Context) error { return boom }))

	err := s.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "panics")
	assert.True(t, ran)

	assert.Equal(t, err, s.Shutdown(context.Background()))
}

func TestScope_RejectsAfterShutdown(t *testing.T) {
	s := NewScope(log.NewNopLogger())
	require.NoError(t, s.Shutdown(context.Background()))
	assert.ErrorIs(t, s.OnShutdown("late", func(context.Context) error { return nil }), ErrShutDown)
}
