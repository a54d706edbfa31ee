package symbols

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type promiseState int

const (
	pending promiseState = iota
	resolved
	broken
)

type sharedEntry struct {
	state   promiseState
	res     *GroupResources
	refs    uint64
	waiters uint64
	done    chan struct{}
}

//SharedGroupsResourcesCollection 某一级别下跨瓦片共享的符号组
//
// An id is either absent, pending (a loader claimed it) or resolved. Only one
// caller ever moves an id from absent to pending; everyone else either gets
// the resolved reference or a future of it.
type SharedGroupsResourcesCollection struct {
	Zoom ZoomLevel

	mu      sync.Mutex
	entries map[uint64]*sharedEntry
}

//NewSharedGroupsResourcesCollection 创建共享组缓存
func NewSharedGroupsResourcesCollection(zoom ZoomLevel) *SharedGroupsResourcesCollection {
	return &SharedGroupsResourcesCollection{
		Zoom:    zoom,
		entries: make(map[uint64]*sharedEntry),
	}
}

// FutureGroupResources resolves to the GroupResources another caller is
// loading. The holder is counted as a reference once the value is published.
type FutureGroupResources struct {
	ID    uint64
	owner *SharedGroupsResourcesCollection
	entry *sharedEntry
}

// Wait blocks until the loader publishes or gives up. If ctx ends first while
// the group is still pending, the waiter is withdrawn and holds no reference.
func (f *FutureGroupResources) Wait(ctx context.Context) (*GroupResources, error) {
	select {
	case <-f.entry.done:
		return f.result()
	case <-ctx.Done():
	}
	res, err := f.Withdraw()
	if err == context.Canceled {
		err = ctx.Err()
	}
	return res, err
}

// Withdraw gives up waiting. If the group was published meanwhile the
// reference is kept and returned, so the caller still has to release it.
func (f *FutureGroupResources) Withdraw() (*GroupResources, error) {
	c := f.owner
	c.mu.Lock()
	defer c.mu.Unlock()
	switch f.entry.state {
	case resolved:
		return f.entry.res, nil
	case broken:
		return nil, ErrPromiseBroken
	}
	f.entry.waiters--
	return nil, context.Canceled
}

func (f *FutureGroupResources) result() (*GroupResources, error) {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()
	if f.entry.state == broken {
		return nil, ErrPromiseBroken
	}
	return f.entry.res, nil
}

// ObtainReferenceOrFutureReferenceOrMakePromise returns exactly one of:
// a resolved reference (count already incremented), a future of a group
// being loaded elsewhere, or claimed=true meaning the caller must load the
// group and then call FulfilPromiseAndReference or BreakPromise.
func (c *SharedGroupsResourcesCollection) ObtainReferenceOrFutureReferenceOrMakePromise(id uint64) (
	res *GroupResources, future *FutureGroupResources, claimed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		c.entries[id] = &sharedEntry{state: pending, done: make(chan struct{})}
		return nil, nil, true
	}
	if entry.state == resolved {
		entry.refs++
		sharedGroupHits.Inc()
		return entry.res, nil, false
	}
	entry.waiters++
	sharedGroupWaits.Inc()
	return nil, &FutureGroupResources{ID: id, owner: c, entry: entry}, false
}

// FulfilPromiseAndReference publishes the claimant's result. The claimant and
// every future waiting at this point each hold one reference.
func (c *SharedGroupsResourcesCollection) FulfilPromiseAndReference(id uint64, res *GroupResources) {
	if res == nil {
		panic(fmt.Sprintf("shared group %d fulfilled with nil resources", id))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok || entry.state != pending {
		panic(fmt.Sprintf("shared group %d fulfilled without a pending promise", id))
	}
	entry.res = res
	entry.refs = 1 + entry.waiters
	entry.waiters = 0
	entry.state = resolved
	close(entry.done)
}

// BreakPromise drops a claim that will never be fulfilled. Waiting futures
// observe ErrPromiseBroken and the id becomes unseen again.
func (c *SharedGroupsResourcesCollection) BreakPromise(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok || entry.state != pending {
		panic(fmt.Sprintf("shared group %d has no pending promise to break", id))
	}
	delete(c.entries, id)
	entry.state = broken
	close(entry.done)
}

// ReleaseReference drops one reference to a resolved group. When the count
// reaches zero and allowRemoval is set the entry is removed.
func (c *SharedGroupsResourcesCollection) ReleaseReference(id uint64, res *GroupResources, allowRemoval bool) (
	wasRemoved bool, refsRemaining uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok || entry.state != resolved {
		panic(fmt.Sprintf("release of unknown shared group %d", id))
	}
	if entry.res != res {
		panic(fmt.Sprintf("release of shared group %d with foreign resources", id))
	}
	if entry.refs == 0 {
		panic(fmt.Sprintf("release of shared group %d without references", id))
	}
	entry.refs--
	if entry.refs == 0 && allowRemoval {
		delete(c.entries, id)
		return true, 0
	}
	return false, entry.refs
}

//GetReferencesCount 引用计数, 0 if absent or still loading
func (c *SharedGroupsResourcesCollection) GetReferencesCount(id uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[id]; ok && entry.state == resolved {
		return entry.refs
	}
	return 0
}

//Len 条目数
func (c *SharedGroupsResourcesCollection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

//SharedGroupStat 诊断输出
type SharedGroupStat struct {
	ID      uint64 `json:"id"`
	Refs    uint64 `json:"refs"`
	Pending bool   `json:"pending"`
}

//Stats snapshot of all entries ordered by id
func (c *SharedGroupsResourcesCollection) Stats() []SharedGroupStat {
	c.mu.Lock()
	stats := make([]SharedGroupStat, 0, len(c.entries))
	for id, entry := range c.entries {
		stats = append(stats, SharedGroupStat{ID: id, Refs: entry.refs, Pending: entry.state == pending})
	}
	c.mu.Unlock()
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}
