package symbols

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestObtainClaimsUnseenID(t *testing.T) {
	c := NewSharedGroupsResourcesCollection(testZoom)

	res, future, claimed := c.ObtainReferenceOrFutureReferenceOrMakePromise(42)
	require.True(t, claimed)
	require.Nil(t, res)
	require.Nil(t, future)
	require.Equal(t, uint64(0), c.GetReferencesCount(42))

	res, future, claimed = c.ObtainReferenceOrFutureReferenceOrMakePromise(42)
	require.False(t, claimed)
	require.Nil(t, res)
	require.NotNil(t, future)

	gr := newGroupResources(&MapSymbolsGroup{ID: 42, Shareable: true})
	c.FulfilPromiseAndReference(42, gr)
	// claimant plus one future
	require.Equal(t, uint64(2), c.GetReferencesCount(42))

	got, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.Same(t, gr, got)

	res, future, claimed = c.ObtainReferenceOrFutureReferenceOrMakePromise(42)
	require.False(t, claimed)
	require.Nil(t, future)
	require.Same(t, gr, res)
	require.Equal(t, uint64(3), c.GetReferencesCount(42))
}

func TestReleaseReferenceRemovesAtZero(t *testing.T) {
	c := NewSharedGroupsResourcesCollection(testZoom)
	gr := newGroupResources(&MapSymbolsGroup{ID: 7, Shareable: true})

	_, _, claimed := c.ObtainReferenceOrFutureReferenceOrMakePromise(7)
	require.True(t, claimed)
	c.FulfilPromiseAndReference(7, gr)
	res, _, _ := c.ObtainReferenceOrFutureReferenceOrMakePromise(7)
	require.Same(t, gr, res)

	removed, remaining := c.ReleaseReference(7, gr, true)
	assert.False(t, removed)
	assert.Equal(t, uint64(1), remaining)

	removed, remaining = c.ReleaseReference(7, gr, true)
	assert.True(t, removed)
	assert.Equal(t, uint64(0), remaining)
	assert.Equal(t, 0, c.Len())

	// unseen again
	_, _, claimed = c.ObtainReferenceOrFutureReferenceOrMakePromise(7)
	assert.True(t, claimed)
}

func TestReleaseReferenceWithoutRemovalKeepsEntry(t *testing.T) {
	c := NewSharedGroupsResourcesCollection(testZoom)
	gr := newGroupResources(&MapSymbolsGroup{ID: 7, Shareable: true})
	c.ObtainReferenceOrFutureReferenceOrMakePromise(7)
	c.FulfilPromiseAndReference(7, gr)

	removed, remaining := c.ReleaseReference(7, gr, false)
	assert.False(t, removed)
	assert.Equal(t, uint64(0), remaining)
	assert.Equal(t, 1, c.Len())

	res, _, claimed := c.ObtainReferenceOrFutureReferenceOrMakePromise(7)
	assert.False(t, claimed)
	assert.Same(t, gr, res)
	assert.Equal(t, uint64(1), c.GetReferencesCount(7))
}

func TestContractViolationsPanic(t *testing.T) {
	c := NewSharedGroupsResourcesCollection(testZoom)
	gr := newGroupResources(&MapSymbolsGroup{ID: 1, Shareable: true})

	assert.Panics(t, func() { c.ReleaseReference(1, gr, true) }, "unknown id")
	assert.Panics(t, func() { c.FulfilPromiseAndReference(1, gr) }, "no promise")
	assert.Panics(t, func() { c.BreakPromise(1) }, "no promise")

	c.ObtainReferenceOrFutureReferenceOrMakePromise(1)
	assert.Panics(t, func() { c.ReleaseReference(1, gr, true) }, "still pending")
	c.FulfilPromiseAndReference(1, gr)
	assert.Panics(t, func() { c.FulfilPromiseAndReference(1, gr) }, "double fulfil")

	other := newGroupResources(&MapSymbolsGroup{ID: 1, Shareable: true})
	assert.Panics(t, func() { c.ReleaseReference(1, other, true) }, "foreign instance")

	c.ReleaseReference(1, gr, false)
	assert.Panics(t, func() { c.ReleaseReference(1, gr, false) }, "double release")
}

func TestBreakPromiseWakesFutures(t *testing.T) {
	c := NewSharedGroupsResourcesCollection(testZoom)
	c.ObtainReferenceOrFutureReferenceOrMakePromise(9)
	_, future, _ := c.ObtainReferenceOrFutureReferenceOrMakePromise(9)
	require.NotNil(t, future)

	c.BreakPromise(9)
	_, err := future.Wait(context.Background())
	require.ErrorIs(t, err, ErrPromiseBroken)
	require.Equal(t, 0, c.Len())

	_, _, claimed := c.ObtainReferenceOrFutureReferenceOrMakePromise(9)
	require.True(t, claimed)
}

func TestFutureWaitCancelledWithdrawsWaiter(t *testing.T) {
	c := NewSharedGroupsResourcesCollection(testZoom)
	c.ObtainReferenceOrFutureReferenceOrMakePromise(5)
	_, future, _ := c.ObtainReferenceOrFutureReferenceOrMakePromise(5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := future.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	gr := newGroupResources(&MapSymbolsGroup{ID: 5, Shareable: true})
	c.FulfilPromiseAndReference(5, gr)
	require.Equal(t, uint64(1), c.GetReferencesCount(5))
}

func TestFutureWaitCancelledAfterPublishKeepsReference(t *testing.T) {
	c := NewSharedGroupsResourcesCollection(testZoom)
	c.ObtainReferenceOrFutureReferenceOrMakePromise(5)
	_, future, _ := c.ObtainReferenceOrFutureReferenceOrMakePromise(5)
	gr := newGroupResources(&MapSymbolsGroup{ID: 5, Shareable: true})
	c.FulfilPromiseAndReference(5, gr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := future.Wait(ctx)
	require.NoError(t, err)
	require.Same(t, gr, got)
	require.Equal(t, uint64(2), c.GetReferencesCount(5))

	removed, refs := c.ReleaseReference(5, got, true)
	assert.False(t, removed)
	assert.Equal(t, uint64(1), refs)
}

func TestConcurrentObtainClaimsOnce(t *testing.T) {
	const callers = 32
	c := NewSharedGroupsResourcesCollection(testZoom)
	gr := newGroupResources(&MapSymbolsGroup{ID: 42, Shareable: true})

	var claims atomic.Int32
	start := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			<-start
			res, future, claimed := c.ObtainReferenceOrFutureReferenceOrMakePromise(42)
			switch {
			case claimed:
				claims.Add(1)
				time.Sleep(5 * time.Millisecond)
				c.FulfilPromiseAndReference(42, gr)
				return nil
			case future != nil:
				got, err := future.Wait(context.Background())
				if err != nil {
					return err
				}
				res = got
			}
			assert.Same(t, gr, res)
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), claims.Load())
	assert.Equal(t, uint64(callers), c.GetReferencesCount(42))
}

func TestStatsOrderedByID(t *testing.T) {
	c := NewSharedGroupsResourcesCollection(testZoom)
	c.ObtainReferenceOrFutureReferenceOrMakePromise(3)
	c.ObtainReferenceOrFutureReferenceOrMakePromise(1)
	c.FulfilPromiseAndReference(1, newGroupResources(&MapSymbolsGroup{ID: 1, Shareable: true}))

	assert.Equal(t, []SharedGroupStat{
		{ID: 1, Refs: 1},
		{ID: 3, Pending: true},
	}, c.Stats())
}
