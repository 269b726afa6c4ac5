package loopback

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// PropertyNotifier is the host collaborator a TaskQueue calls into when a
// TaskSendPropertyNotification task runs. The host-plugin shim (out of
// scope here) implements it against whatever notification API the host
// exposes.
type PropertyNotifier interface {
	NotifyPropertyChanged(propertyID uint32, objectID uint32)
}

// TaskQueue runs two independent workers: one intended for a realtime
// scheduling class (short, bounded, non-blocking work only) and one for
// everything else. Both accept synchronous tasks (QueueSync blocks the
// caller until the worker finishes it) and, on the non-realtime side,
// asynchronous tasks drawn from a pre-allocated free list (QueueAsync).
//
// Grounded on RDC_TaskQueue's dual-thread design: an intrusive lock-free
// stack feeds each worker, sync completion is a broadcast (not a
// single-target signal) because a worker processes its whole inbox in one
// pass and any of several concurrent sync callers might be waiting on
// tasks scattered through that batch, and a bounded computation budget
// caps how long a sync caller will wait before it starts logging.
type TaskQueue struct {
	id     uuid.UUID
	logger *slog.Logger

	nominalComputation time.Duration
	maxComputation     time.Duration

	notify PropertyNotifier

	rtTasks    taskStack
	nonRTTasks taskStack
	freeList   taskStack
	freeSem    *semaphore.Weighted

	rtWork    chan struct{}
	nonRTWork chan struct{}

	rtSyncCond    *sync.Cond
	nonRTSyncCond *sync.Cond

	wg sync.WaitGroup
}

// NewTaskQueue constructs a TaskQueue and starts its two worker goroutines.
// freeListSize bounds how many QueueAsync calls can be outstanding before
// the queue falls back to allocating (and logging that it did).
func NewTaskQueue(nominalComputation, maxComputation time.Duration, freeListSize int64, notify PropertyNotifier, logger *slog.Logger) *TaskQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &TaskQueue{
		id:                 uuid.New(),
		logger:             logger,
		nominalComputation: nominalComputation,
		maxComputation:     maxComputation,
		notify:             notify,
		freeSem:            semaphore.NewWeighted(freeListSize),
		rtWork:             make(chan struct{}, 1),
		nonRTWork:          make(chan struct{}, 1),
		rtSyncCond:         sync.NewCond(&sync.Mutex{}),
		nonRTSyncCond:      sync.NewCond(&sync.Mutex{}),
	}
	q.logger = logger.With("task_queue_id", q.id)
	for i := int64(0); i < freeListSize; i++ {
		q.freeList.push(&Task{})
	}
	q.wg.Add(2)
	go func() {
		runtime.LockOSThread()
		raiseRTPriority(q.logger)
		q.workerLoop(&q.rtTasks, q.rtWork, q.rtSyncCond, q.processRT, "rt")
	}()
	go q.workerLoop(&q.nonRTTasks, q.nonRTWork, q.nonRTSyncCond, q.processNonRT, "non-rt")
	return q
}

// Stop asks both workers to drain and exit, and waits for them to do so.
func (q *TaskQueue) Stop() {
	q.rtTasks.push(&Task{id: TaskStopWorker, isSync: false})
	signal(q.rtWork)
	q.nonRTTasks.push(&Task{id: TaskStopWorker, isSync: false})
	signal(q.nonRTWork)
	q.wg.Wait()
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (q *TaskQueue) workerLoop(stack *taskStack, work chan struct{}, cond *sync.Cond, process func(*Task) bool, name string) {
	defer q.wg.Done()
	for {
		<-work
		t := stack.popAllReversed()
		stop := false
		for t != nil && !stop {
			next := t.next.Load()
			stop = process(t)
			if t.isSync {
				t.complete.Store(true)
				cond.L.Lock()
				cond.Broadcast()
				cond.L.Unlock()
			} else if t.pooled {
				q.freeList.push(t)
				q.freeSem.Release(1)
			}
			t = next
		}
		if stop {
			return
		}
		q.logger.Debug("worker drained batch", "worker", name)
	}
}

func (q *TaskQueue) processRT(t *Task) bool {
	switch t.id {
	case TaskStopWorker:
		return true
	case TaskSwapClientShadowMaps:
		cm, _ := t.arg1.(*ClientMap)
		if cm != nil {
			cm.swapShadowMapsRT()
		}
	default:
		q.logger.Warn("unexpected task on realtime worker", "task_id", t.id)
	}
	return false
}

func (q *TaskQueue) processNonRT(t *Task) bool {
	switch t.id {
	case TaskStopWorker:
		return true
	case TaskStartClientIO:
		clients, _ := t.arg1.(*Clients)
		clientID, _ := t.arg2.(uint32)
		started, err := clients.startIONonRT(clientID)
		t.returnValue = started
		t.err = err
	case TaskStopClientIO:
		clients, _ := t.arg1.(*Clients)
		clientID, _ := t.arg2.(uint32)
		stopped, err := clients.stopIONonRT(clientID)
		t.returnValue = stopped
		t.err = err
	case TaskSendPropertyNotification:
		if q.notify != nil {
			propertyID, _ := t.arg1.(uint32)
			objectID, _ := t.arg2.(uint32)
			q.notify.NotifyPropertyChanged(propertyID, objectID)
		}
	default:
		q.logger.Warn("unexpected task on non-realtime worker", "task_id", t.id)
	}
	if t.err != nil {
		q.logger.Info("task boundary error", "task_id", t.id, "sync", t.isSync, "err", t.err)
		if !t.isSync {
			// Swallowed for async tasks: the caller already moved on.
			t.err = nil
		}
	}
	return false
}

// QueueSync submits a task and blocks the caller until a worker finishes
// it, returning the task's result and any error the worker recorded
// (surfaced, not swallowed, since a synchronous caller is still there to
// receive it).
func (q *TaskQueue) QueueSync(id TaskID, runOnRT bool, arg1, arg2 any) (any, error) {
	t := &Task{id: id, isSync: true, arg1: arg1, arg2: arg2}
	stack, work, cond := &q.rtTasks, q.rtWork, q.rtSyncCond
	if !runOnRT {
		stack, work, cond = &q.nonRTTasks, q.nonRTWork, q.nonRTSyncCond
	}
	stack.push(t)
	signal(work)

	timeout := 4 * q.maxComputation
	cond.L.Lock()
	timer := time.AfterFunc(timeout, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	waited := false
	for !t.complete.Load() {
		if waited {
			q.logger.Warn("sync task taking longer than expected", "task_id", id, "timeout", timeout)
		}
		cond.Wait()
		waited = true
	}
	cond.L.Unlock()
	timer.Stop()

	if t.err != nil {
		// §7's error-boundary rule: InvalidClient (and other task-level
		// errors) are caught at the queue boundary and surfaced to a
		// synchronous caller as IllegalOperation, never propagated by
		// their original Kind - the queue boundary is the one place
		// that distinction collapses.
		return t.returnValue, newError(KindIllegalOperation, "TaskQueue.QueueSync", t.err)
	}
	return t.returnValue, nil
}

// QueueAsync submits a fire-and-forget task on the non-realtime worker,
// drawing a pre-allocated Task from the free list when one is available
// and falling back to an allocation (logged, since it means the pool was
// undersized for the offered load) otherwise.
func (q *TaskQueue) QueueAsync(id TaskID, arg1, arg2 any) {
	var t *Task
	pooled := false
	if q.freeSem.TryAcquire(1) {
		t = q.freeList.pop()
		if t == nil {
			// Pool bookkeeping and free list briefly disagreed; fall
			// back rather than risk a nil task.
			q.freeSem.Release(1)
			t = &Task{}
		} else {
			pooled = true
		}
	} else {
		q.logger.Warn("non-realtime task free list exhausted, allocating", "task_id", id)
		t = &Task{}
	}
	*t = Task{id: id, isSync: false, arg1: arg1, arg2: arg2, pooled: pooled}
	q.nonRTTasks.push(t)
	signal(q.nonRTWork)
}
