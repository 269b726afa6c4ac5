package loopback

import "sync/atomic"

// TaskID names the operation a Task performs once it reaches a worker.
// Dispatch on this is a plain switch in TaskQueue's worker loops; there is
// no per-task closure, so the queue itself never needs to know about the
// concrete types flowing through arg1/arg2 beyond what each case asserts.
type TaskID int

const (
	// TaskStopWorker asks a worker goroutine to drain and exit.
	TaskStopWorker TaskID = iota
	// TaskSwapClientShadowMaps runs on the realtime worker only: it
	// exchanges ClientMap's primary and shadow maps under mapsLock.
	TaskSwapClientShadowMaps
	// TaskStartClientIO and TaskStopClientIO run on the non-realtime
	// worker: they call into Clients to update a client's DoingIO state
	// and refcount, synchronously or fire-and-forget depending on how
	// they were queued.
	TaskStartClientIO
	TaskStopClientIO
	// TaskSendPropertyNotification runs on the non-realtime worker and
	// tells the host that a property's value changed.
	TaskSendPropertyNotification
)

// Task is a unit of work handed to one of TaskQueue's two workers. arg1 and
// arg2 are opaque payloads whose meaning is fixed by ID; using `any` here
// instead of packing pointers into integers keeps the queue type-safe
// without giving up the "the queue doesn't know what it's carrying" shape
// the original task dispatch has.
type Task struct {
	id     TaskID
	isSync bool
	arg1   any
	arg2   any

	next atomic.Pointer[Task]

	complete    atomic.Bool
	returnValue any
	err         error

	// pooled marks a Task drawn from TaskQueue's free list, so the
	// worker knows to return it after processing instead of letting it
	// become garbage.
	pooled bool
}

// taskStack is a lock-free intrusive LIFO built on atomic.Pointer, used
// both as the per-worker inbox and as the non-realtime free list.
type taskStack struct {
	head atomic.Pointer[Task]
}

func (s *taskStack) push(t *Task) {
	for {
		old := s.head.Load()
		t.next.Store(old)
		if s.head.CompareAndSwap(old, t) {
			return
		}
	}
}

// pop removes and returns the most recently pushed task, or nil if empty.
func (s *taskStack) pop() *Task {
	for {
		old := s.head.Load()
		if old == nil {
			return nil
		}
		next := old.next.Load()
		if s.head.CompareAndSwap(old, next) {
			old.next.Store(nil)
			return old
		}
	}
}

// popAllReversed atomically detaches the whole stack and reverses it, so
// the returned linked list is in the order tasks were pushed (oldest
// first) rather than LIFO order.
func (s *taskStack) popAllReversed() *Task {
	old := s.head.Swap(nil)
	var prev *Task
	cur := old
	for cur != nil {
		next := cur.next.Load()
		cur.next.Store(prev)
		prev = cur
		cur = next
	}
	return prev
}
