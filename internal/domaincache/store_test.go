package domaincache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/deliverkit/internal/domaincache"
)

func TestStore_ResolveMXCaches(t *testing.T) {
	s := domaincache.New()
	var calls atomic.Int64
	resolve := func(context.Context) (domaincache.MXResult, error) {
		calls.Add(1)
		return domaincache.MXResult{Hosts: []string{"mx1.example.com", "mx2.example.com"}}, nil
	}

	res, hit, err := s.ResolveMX(context.Background(), "example.com", resolve)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"mx1.example.com", "mx2.example.com"}, res.Hosts)

	res, hit, err = s.ResolveMX(context.Background(), "example.com", resolve)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Len(t, res.Hosts, 2)
	assert.Equal(t, int64(1), calls.Load())

	p, ok := s.Profile("example.com")
	require.True(t, ok)
	assert.Equal(t, []string{"mx1.example.com", "mx2.example.com"}, p.MXHosts)
	assert.Equal(t, domaincache.CatchAllUnknown, p.CatchAll)
}

func TestStore_ResolveMXDoesNotCacheErrors(t *testing.T) {
	s := domaincache.New()
	var calls atomic.Int64
	resolve := func(context.Context) (domaincache.MXResult, error) {
		calls.Add(1)
		return domaincache.MXResult{}, errors.New("servfail")
	}

	_, _, err := s.ResolveMX(context.Background(), "flaky.test", resolve)
	assert.Error(t, err)
	_, _, err = s.ResolveMX(context.Background(), "flaky.test", resolve)
	assert.Error(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestStore_ResolveMXCoalesces(t *testing.T) {
	s := domaincache.New()
	var calls atomic.Int64
	release := make(chan struct{})
	resolve := func(context.Context) (domaincache.MXResult, error) {
		calls.Add(1)
		<-release
		return domaincache.MXResult{Hosts: []string{"mx.example.com"}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := s.ResolveMX(context.Background(), "example.com", resolve)
			assert.NoError(t, err)
			assert.Len(t, res.Hosts, 1)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
}

func TestStore_WaiterTakesOverAfterWriterTimeout(t *testing.T) {
	s := domaincache.New()
	writerCtx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	go func() {
		_, _, _ = s.ResolveMX(writerCtx, "example.com", func(ctx context.Context) (domaincache.MXResult, error) {
			close(started)
			<-ctx.Done()
			return domaincache.MXResult{}, ctx.Err()
		})
	}()
	<-started

	done := make(chan domaincache.MXResult)
	go func() {
		res, _, err := s.ResolveMX(context.Background(), "example.com", func(context.Context) (domaincache.MXResult, error) {
			return domaincache.MXResult{Hosts: []string{"mx.example.com"}}, nil
		})
		assert.NoError(t, err)
		done <- res
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case res := <-done:
		assert.Equal(t, []string{"mx.example.com"}, res.Hosts)
	case <-time.After(time.Second):
		t.Fatal("waiter did not take over")
	}
}

func TestStore_PanicReleasesWaiters(t *testing.T) {
	s := domaincache.New()
	started := make(chan struct{})
	release := make(chan struct{})

	recovered := make(chan any)
	go func() {
		defer func() { recovered <- recover() }()
		_, _, _ = s.ResolveMX(context.Background(), "example.com", func(context.Context) (domaincache.MXResult, error) {
			close(started)
			<-release
			panic("resolver bug")
		})
	}()
	<-started

	waited := make(chan error)
	go func() {
		_, hit, err := s.ResolveMX(context.Background(), "example.com", func(context.Context) (domaincache.MXResult, error) {
			return domaincache.MXResult{Hosts: []string{"unused.example.com"}}, nil
		})
		assert.True(t, hit, "joined the running resolution")
		waited <- err
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)
	assert.Equal(t, "resolver bug", <-recovered)
	select {
	case err := <-waited:
		assert.ErrorIs(t, err, domaincache.ErrPanicked)
	case <-time.After(time.Second):
		t.Fatal("waiter still blocked after the panic")
	}

	res, hit, err := s.ResolveMX(context.Background(), "example.com", func(context.Context) (domaincache.MXResult, error) {
		return domaincache.MXResult{Hosts: []string{"mx.example.com"}}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit, "the panicked entry is not kept")
	assert.Equal(t, []string{"mx.example.com"}, res.Hosts)
}

func TestStore_ReturnsCopy(t *testing.T) {
	s := domaincache.New()
	resolve := func(context.Context) (domaincache.MXResult, error) {
		return domaincache.MXResult{Hosts: []string{"mx1.", "mx2."}}, nil
	}
	r1, _, _ := s.ResolveMX(context.Background(), "example.com", resolve)
	r2, _, _ := s.ResolveMX(context.Background(), "example.com", resolve)
	r1.Hosts[0] = "modified"
	assert.NotEqual(t, r1.Hosts[0], r2.Hosts[0])
}

func TestStore_DetectCatchAll(t *testing.T) {
	s := domaincache.New()
	var calls atomic.Int64
	detect := func(context.Context) (domaincache.CatchAllState, error) {
		calls.Add(1)
		return domaincache.CatchAllDetected, nil
	}

	for i := 0; i < 3; i++ {
		st, hit, err := s.DetectCatchAll(context.Background(), "catchall.test", detect)
		require.NoError(t, err)
		assert.Equal(t, domaincache.CatchAllDetected, st)
		assert.Equal(t, i > 0, hit)
	}
	assert.Equal(t, int64(1), calls.Load())

	p, ok := s.Profile("catchall.test")
	require.True(t, ok)
	assert.Equal(t, domaincache.CatchAllDetected, p.CatchAll)
	assert.False(t, p.LastProbed.IsZero())
}

func TestStore_DetectCatchAllUnknownIsNotCached(t *testing.T) {
	s := domaincache.New()
	var calls atomic.Int64
	detect := func(context.Context) (domaincache.CatchAllState, error) {
		calls.Add(1)
		return domaincache.CatchAllUnknown, nil
	}

	st, _, err := s.DetectCatchAll(context.Background(), "example.com", detect)
	assert.Error(t, err)
	assert.Equal(t, domaincache.CatchAllUnknown, st)
	_, _, _ = s.DetectCatchAll(context.Background(), "example.com", detect)
	assert.Equal(t, int64(2), calls.Load())
}

func TestStore_AcquireSerializesPerDomain(t *testing.T) {
	s := domaincache.New()
	release, err := s.Acquire(context.Background(), "example.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, "example.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := s.Acquire(context.Background(), "other.com")
	require.NoError(t, err, "different domains do not contend")
	other()

	release()
	again, err := s.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	again()
}

func TestStore_MarkDisposable(t *testing.T) {
	s := domaincache.New()
	s.MarkDisposable("mailinator.com", true)
	p, ok := s.Profile("mailinator.com")
	require.True(t, ok)
	assert.True(t, p.Disposable)
	assert.Equal(t, 1, s.Len())
}
