package registry

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"twentyeight/internal/rules"
)

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := New(log.New(io.Discard), opts...)
	t.Cleanup(r.Stop)
	return r
}

func TestCreateAssignsUniqueIDAndCode(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.Create(context.Background(), rules.Mode28)
	require.NoError(t, err)
	b, err := r.Create(context.Background(), rules.Mode28)
	require.NoError(t, err)

	require.NotEqual(t, a.ID(), b.ID())
	require.NotEqual(t, a.ShortCode(), b.ShortCode())
}

func TestResolveFindsByIDOrShortCode(t *testing.T) {
	r := newTestRegistry(t)
	e, err := r.Create(context.Background(), rules.Mode28)
	require.NoError(t, err)

	byID, ok := r.Resolve(e.ID())
	require.True(t, ok)
	require.Equal(t, e.ID(), byID.ID())

	byCode, ok := r.Resolve(e.ShortCode())
	require.True(t, ok)
	require.Equal(t, e.ID(), byCode.ID())

	_, ok = r.Resolve("not-a-real-session")
	require.False(t, ok)
}

func TestGetOrLoadSharesOneInFlightLoadAcrossCallers(t *testing.T) {
	var loadCount int32
	blob := make(chan []byte)
	loader := func(ctx context.Context, sessionID string) ([]byte, error) {
		atomic.AddInt32(&loadCount, 1)
		return <-blob, nil
	}

	saver := func(ctx context.Context, sessionID, shortCode string) error { return nil }
	r := newTestRegistry(t, WithLoader(loader), WithSaver(saver))

	seed, err := r.Create(context.Background(), rules.Mode28)
	require.NoError(t, err)
	serialized, err := seed.Serialize()
	require.NoError(t, err)
	r.Delete(seed.ID())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*struct {
		e   interface{ ID() string }
		err error
	}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := r.GetOrLoad(context.Background(), seed.ID())
			results[i] = &struct {
				e   interface{ ID() string }
				err error
			}{e, err}
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let every goroutine block inside Do
	blob <- serialized
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&loadCount))
	for _, res := range results {
		require.NoError(t, res.err)
		require.Equal(t, seed.ID(), res.e.ID())
	}
}

func TestGetOrLoadPropagatesMissingSnapshot(t *testing.T) {
	loader := func(ctx context.Context, sessionID string) ([]byte, error) { return nil, nil }
	r := newTestRegistry(t, WithLoader(loader))

	_, err := r.GetOrLoad(context.Background(), "ghost-session")
	require.Error(t, err)
}

func TestGetOrLoadFallsBackToShortCodeLoader(t *testing.T) {
	uuidLoader := func(ctx context.Context, sessionID string) ([]byte, error) { return nil, nil }
	var codeLoaderCalls int32
	var serialized []byte
	codeLoader := func(ctx context.Context, shortCode string) ([]byte, error) {
		atomic.AddInt32(&codeLoaderCalls, 1)
		return serialized, nil
	}
	r := newTestRegistry(t, WithLoader(uuidLoader), WithShortCodeLoader(codeLoader))

	seed, err := r.Create(context.Background(), rules.Mode28)
	require.NoError(t, err)
	serialized, err = seed.Serialize()
	require.NoError(t, err)
	r.Delete(seed.ID())

	e, err := r.GetOrLoad(context.Background(), seed.ShortCode())
	require.NoError(t, err)
	require.Equal(t, seed.ID(), e.ID())
	require.Equal(t, int32(1), atomic.LoadInt32(&codeLoaderCalls))
}

func TestGetOrLoadWithoutLoaderFailsOnMiss(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetOrLoad(context.Background(), "missing")
	require.Error(t, err)
}

func TestCleanupIdleUsesPhaseScopedThresholds(t *testing.T) {
	r := newTestRegistry(t, WithIdleTTLs(0, time.Hour, time.Hour))

	lobbySession, err := r.Create(context.Background(), rules.Mode28)
	require.NoError(t, err)

	// A zero lobby TTL means any elapsed time counts as idle.
	n := r.CleanupIdle()
	require.Equal(t, 1, n)

	_, ok := r.Resolve(lobbySession.ID())
	require.False(t, ok)
}

func TestDeleteRemovesBothIndexEntries(t *testing.T) {
	r := newTestRegistry(t)
	e, err := r.Create(context.Background(), rules.Mode28)
	require.NoError(t, err)

	r.Delete(e.ID())
	_, ok := r.Resolve(e.ID())
	require.False(t, ok)
	_, ok = r.Resolve(e.ShortCode())
	require.False(t, ok)
}

// fakeGroup lets TestGetOrLoad-style tests substitute a trivial
// non-deduplicating Group to confirm the Group seam is actually used.
type fakeGroup struct {
	calls int32
}

func (f *fakeGroup) Do(key string, fn func() (interface{}, error)) (interface{}, error, bool) {
	atomic.AddInt32(&f.calls, 1)
	v, err := fn()
	return v, err, false
}

func TestGetOrLoadUsesInjectedGroup(t *testing.T) {
	fg := &fakeGroup{}
	loadErr := errors.New("boom")
	r := New(log.New(io.Discard), WithLoader(func(ctx context.Context, sessionID string) ([]byte, error) {
		return nil, loadErr
	}))
	t.Cleanup(r.Stop)
	r.group = fg

	_, err := r.GetOrLoad(context.Background(), "x")
	require.ErrorIs(t, err, loadErr)
	require.Equal(t, int32(1), fg.calls)
}
