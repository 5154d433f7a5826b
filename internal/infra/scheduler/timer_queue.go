package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler is invoked when a timer comes due.
type Handler func(ctx context.Context, id string)

// ArmedObserver is told the queue depth after every change.
type ArmedObserver func(n int)

// TimerQueue holds at most one pending deadline per id in a min-heap and
// fires them from a single loop. Arming an id that is already armed replaces
// its deadline.
type TimerQueue struct {
	mu      sync.Mutex
	items   timerHeap
	index   map[string]*timerItem
	wake    chan struct{}
	stopCh  chan struct{}
	stopped sync.Once
	started bool
	wg      sync.WaitGroup

	logger   *logrus.Entry
	observer ArmedObserver
}

func NewTimerQueue(logger *logrus.Entry, observer ArmedObserver) *TimerQueue {
	return &TimerQueue{
		index:    make(map[string]*timerItem),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		logger:   logger,
		observer: observer,
	}
}

// Arm schedules id to fire at at. Past deadlines fire on the next loop pass.
func (q *TimerQueue) Arm(id string, at time.Time) {
	q.mu.Lock()
	if it, ok := q.index[id]; ok {
		heap.Remove(&q.items, it.index)
		delete(q.index, id)
	}
	it := &timerItem{id: id, at: at}
	heap.Push(&q.items, it)
	q.index[id] = it
	n := len(q.items)
	q.mu.Unlock()

	q.observe(n)
	q.signal()
}

// Disarm drops any pending deadline for id. Unknown ids are ignored.
func (q *TimerQueue) Disarm(id string) {
	q.mu.Lock()
	it, ok := q.index[id]
	if ok {
		heap.Remove(&q.items, it.index)
		delete(q.index, id)
	}
	n := len(q.items)
	q.mu.Unlock()

	if ok {
		q.observe(n)
		q.signal()
	}
}

// Armed reports whether id currently has a pending deadline.
func (q *TimerQueue) Armed(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[id]
	return ok
}

func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Start runs the dispatch loop until ctx is done or Stop is called. Each due
// id is handed to handler on its own goroutine.
func (q *TimerQueue) Start(ctx context.Context, handler Handler) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.loop(ctx, handler)
	}()
}

// Stop ends the loop and waits for in-flight handlers.
func (q *TimerQueue) Stop() {
	q.stopped.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

func (q *TimerQueue) loop(ctx context.Context, handler Handler) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, wait := q.popDue(time.Now())
		for _, id := range due {
			q.dispatch(ctx, handler, id)
		}
		if len(due) > 0 {
			q.observe(q.Len())
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

func (q *TimerQueue) popDue(now time.Time) ([]string, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []string
	for len(q.items) > 0 && !q.items[0].at.After(now) {
		it := heap.Pop(&q.items).(*timerItem)
		delete(q.index, it.id)
		due = append(due, it.id)
	}
	if len(q.items) == 0 {
		return due, time.Hour
	}
	return due, q.items[0].at.Sub(now)
}

func (q *TimerQueue) dispatch(ctx context.Context, handler Handler, id string) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				q.logger.WithFields(logrus.Fields{"id": id, "panic": r}).Error("timer handler panicked")
			}
		}()
		handler(ctx, id)
	}()
}

func (q *TimerQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *TimerQueue) observe(n int) {
	if q.observer != nil {
		q.observer(n)
	}
}

type timerItem struct {
	id    string
	at    time.Time
	index int
}

type timerHeap []*timerItem

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	it := x.(*timerItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
