package mission

import (
	"container/heap"
	"testing"
	"time"

	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueueOrdersByPriorityThenFIFO(t *testing.T) {
	now := time.Now()
	pq := &priorityQueue{}
	heap.Init(pq)

	low := &queueItem{mission: &types.Mission{ID: "low", Priority: 1, CreatedAt: now}}
	highFirst := &queueItem{mission: &types.Mission{ID: "high-first", Priority: 5, CreatedAt: now}}
	highSecond := &queueItem{mission: &types.Mission{ID: "high-second", Priority: 5, CreatedAt: now.Add(time.Second)}}

	heap.Push(pq, low)
	heap.Push(pq, highSecond)
	heap.Push(pq, highFirst)

	first := heap.Pop(pq).(*queueItem)
	second := heap.Pop(pq).(*queueItem)
	third := heap.Pop(pq).(*queueItem)

	assert.Equal(t, "high-first", first.mission.ID)
	assert.Equal(t, "high-second", second.mission.ID)
	assert.Equal(t, "low", third.mission.ID)
}

func TestPriorityQueueLenAndSwap(t *testing.T) {
	pq := &priorityQueue{}
	require.Equal(t, 0, pq.Len())

	heap.Push(pq, &queueItem{mission: &types.Mission{ID: "a", Priority: 1}})
	heap.Push(pq, &queueItem{mission: &types.Mission{ID: "b", Priority: 2}})
	assert.Equal(t, 2, pq.Len())
}

func TestNextPendingSkipsStaleEntries(t *testing.T) {
	s := NewStore(nil)

	pending := &types.Mission{ID: "pending", State: types.MissionPending, CreatedAt: time.Now()}
	stale := &types.Mission{ID: "stale", State: types.MissionAssigned, CreatedAt: time.Now(), Priority: 10}

	item1 := &queueItem{mission: stale}
	item2 := &queueItem{mission: pending}
	heap.Push(&s.queue, item1)
	heap.Push(&s.queue, item2)
	s.index[stale.ID] = item1
	s.index[pending.ID] = item2

	next := s.NextPending()
	require.NotNil(t, next)
	assert.Equal(t, "pending", next.ID)

	assert.Nil(t, s.NextPending())
}

func TestNextPendingDefersMissionStillInBackoff(t *testing.T) {
	s := NewStore(nil)

	backedOff := &types.Mission{
		ID:        "backed-off",
		State:     types.MissionPending,
		CreatedAt: time.Now(),
		Priority:  10,
		Retry:     types.RetryState{NextEligibleAt: time.Now().Add(time.Hour)},
	}
	ready := &types.Mission{ID: "ready", State: types.MissionPending, CreatedAt: time.Now(), Priority: 1}

	s.Requeue(backedOff)
	s.Requeue(ready)

	next := s.NextPending()
	require.NotNil(t, next)
	assert.Equal(t, "ready", next.ID, "higher-priority mission still in backoff must be skipped, not popped")

	// the backed-off mission should still be in the queue, not dropped
	assert.Equal(t, 1, s.Len())
	assert.Nil(t, s.NextPending(), "backed-off mission is not yet eligible")
}

func TestRequeueAddsBackToQueue(t *testing.T) {
	s := NewStore(nil)
	assert.Equal(t, 0, s.Len())

	m := &types.Mission{ID: "m-1", State: types.MissionPending, CreatedAt: time.Now()}
	s.Requeue(m)
	assert.Equal(t, 1, s.Len())
}
