// Package mission implements the priority admission queue the
// scheduler pulls from, and the handful of lifecycle helpers every
// caller needs instead of hand-rolling Raft commands directly.
package mission

import (
	"container/heap"
	"sync"
	"time"

	"github.com/fleetcore/fleetcore/pkg/raftnode"
	"github.com/fleetcore/fleetcore/pkg/types"
)

// Store is the leader-side admission queue: a max-heap over PENDING
// missions ordered by priority, tie-broken FIFO by creation time, on
// top of the Raft-replicated mission records.
type Store struct {
	node *raftnode.Node

	mu    sync.Mutex
	queue priorityQueue
	index map[string]*queueItem
}

// NewStore wires a Store to the replica's consensus layer.
func NewStore(node *raftnode.Node) *Store {
	return &Store{
		node:  node,
		index: make(map[string]*queueItem),
	}
}

// Submit appends a new mission to the Raft log and the local admission
// queue. The caller must be the leader; raftnode.Apply surfaces a
// NotLeaderError otherwise.
func (s *Store) Submit(m *types.Mission) error {
	if m.State == "" {
		m.State = types.MissionPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.UpdatedAt = m.CreatedAt
	m.Version = 1

	if err := s.node.CreateMission(m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	item := &queueItem{mission: m}
	heap.Push(&s.queue, item)
	s.index[m.ID] = item
	return nil
}

// NextPending pops the highest-priority PENDING mission whose retry
// backoff (if any) has elapsed, or nil if none is eligible yet. It
// does not change the mission's Raft-replicated state; callers that
// actually assign it must still call raftnode.Node.AssignMission.
// Missions skipped because they are still backed off are pushed back
// onto the queue before returning, rather than dropped.
func (s *Store) NextPending() *types.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var deferred []*queueItem
	defer func() {
		for _, d := range deferred {
			heap.Push(&s.queue, d)
			s.index[d.mission.ID] = d
		}
	}()

	for s.queue.Len() > 0 {
		item := heap.Pop(&s.queue).(*queueItem)
		delete(s.index, item.mission.ID)
		if item.mission.State != types.MissionPending {
			// stale entry (already assigned/cancelled elsewhere): skip it
			continue
		}
		if !item.mission.Retry.NextEligibleAt.IsZero() && item.mission.Retry.NextEligibleAt.After(now) {
			deferred = append(deferred, item)
			continue
		}
		return item.mission
	}
	return nil
}

// UpdateProgress reports a worker's progress against a RUNNING
// mission, auto-completing it once progress reaches 1.0.
func (s *Store) UpdateProgress(id string, progress float64) error {
	return s.node.ReportMissionProgress(id, progress)
}

// Requeue puts a mission back on the admission queue, used when an
// assignment attempt finds no feasible worker set.
func (s *Store) Requeue(m *types.Mission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := &queueItem{mission: m}
	heap.Push(&s.queue, item)
	s.index[m.ID] = item
}

// Len reports the number of missions currently queued for admission.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// RefillFromStore reloads PENDING missions from the durable store into
// the in-memory queue; called on leadership acquisition, since the
// queue itself is not part of the FSM snapshot.
func (s *Store) RefillFromStore() error {
	pending, err := s.node.ListMissionsByState(types.MissionPending)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.index = make(map[string]*queueItem)
	for _, m := range pending {
		item := &queueItem{mission: m}
		heap.Push(&s.queue, item)
		s.index[m.ID] = item
	}
	return nil
}

type queueItem struct {
	mission *types.Mission
	seq     uint64
}

var seqCounter uint64

type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].mission.Priority != pq[j].mission.Priority {
		return pq[i].mission.Priority > pq[j].mission.Priority
	}
	return pq[i].mission.CreatedAt.Before(pq[j].mission.CreatedAt)
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x interface{}) {
	item := x.(*queueItem)
	seqCounter++
	item.seq = seqCounter
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}
