package tasks

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Enqueuer accepts tasks for later execution. Submission never waits for
// execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, tasks ...Task) error
}

// Broker holds tasks until they become eligible and hands them to workers.
type Broker interface {
	Enqueuer
	// Dequeue blocks until a task is eligible or ctx is done.
	Dequeue(ctx context.Context) (Task, error)
	// Len counts queued tasks, eligible or not.
	Len(ctx context.Context) (int64, error)
}

// MemoryBroker is an unbounded in-process broker ordered by eligibility
// time, FIFO among equal times.
type MemoryBroker struct {
	mu     sync.Mutex
	queue  taskHeap
	seq    uint64
	notify chan struct{}
	now    func() time.Time
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// SetClock overrides the time source used to decide eligibility.
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *MemoryBroker) Enqueue(ctx context.Context, tasks ...Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	for _, t := range tasks {
		b.seq++
		heap.Push(&b.queue, queuedTask{task: t, seq: b.seq})
	}
	b.mu.Unlock()
	b.wake()
	return nil
}

func (b *MemoryBroker) Dequeue(ctx context.Context) (Task, error) {
	for {
		b.mu.Lock()
		wait := time.Duration(-1)
		if b.queue.Len() > 0 {
			top := b.queue[0]
			wait = top.task.EligibleAt.Sub(b.now())
			if wait <= 0 {
				heap.Pop(&b.queue)
				more := b.queue.Len() > 0
				b.mu.Unlock()
				if more {
					// pass the wakeup on to the next idle worker
					b.wake()
				}
				return top.task, nil
			}
		}
		b.mu.Unlock()

		if wait < 0 {
			select {
			case <-ctx.Done():
				return Task{}, ctx.Err()
			case <-b.notify:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Task{}, ctx.Err()
		case <-b.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (b *MemoryBroker) Len(context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(b.queue.Len()), nil
}

// Pending returns a copy of queued tasks in eligibility order.
func (b *MemoryBroker) Pending() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make(taskHeap, len(b.queue))
	copy(cp, b.queue)
	out := make([]Task, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(queuedTask).task)
	}
	return out
}

func (b *MemoryBroker) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

type queuedTask struct {
	task Task
	seq  uint64
}

type taskHeap []queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.EligibleAt.Equal(h[j].task.EligibleAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].task.EligibleAt.Before(h[j].task.EligibleAt)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(queuedTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var _ Broker = (*MemoryBroker)(nil)
