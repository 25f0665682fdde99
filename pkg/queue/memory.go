package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process queue that records tasks instead of delivering
// them. Tests drain it explicitly, which makes workflow execution fully
// deterministic. Pop order is earliest ETA first, insertion order
// breaking ties.
type Memory struct {
	mu    sync.Mutex
	seen  map[string]bool
	tasks []*Task
	seq   map[*Task]int
	next  int
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{
		seen: make(map[string]bool),
		seq:  make(map[*Task]int),
	}
}

func (m *Memory) Add(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if task.Name != "" {
		if m.seen[task.Name] {
			return ErrTaskExists
		}
		m.seen[task.Name] = true
	}
	copied := *task
	m.tasks = append(m.tasks, &copied)
	m.seq[&copied] = m.next
	m.next++
	return nil
}

// Pop removes and returns the next runnable task: the one with the
// earliest ETA, FIFO among equals. Returns nil when the queue is empty.
func (m *Memory) Pop() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tasks) == 0 {
		return nil
	}
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if !m.tasks[i].ETA.Equal(m.tasks[j].ETA) {
			return m.tasks[i].ETA.Before(m.tasks[j].ETA)
		}
		return m.seq[m.tasks[i]] < m.seq[m.tasks[j]]
	})
	task := m.tasks[0]
	m.tasks = m.tasks[1:]
	delete(m.seq, task)
	return task
}

// Len returns the number of pending tasks.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// NextETA returns the earliest ETA among pending tasks, or the zero time
// when the queue is empty. Tests use it to advance their fake clock.
func (m *Memory) NextETA() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	var earliest time.Time
	for _, task := range m.tasks {
		if earliest.IsZero() || task.ETA.Before(earliest) {
			earliest = task.ETA
		}
	}
	return earliest
}
