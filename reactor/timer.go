/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package reactor

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// TimerId is a dense handle distinguishing general timers from the
// high-resolution mm timers by the owning wheel.
type TimerId uint64

// TimerObserver receives on_timer upcalls.
type TimerObserver interface {
	OnTimer(id TimerId, userData any)
}

type timerEntry struct {
	id        TimerId
	observer  TimerObserver
	userData  any
	period    time.Duration
	nextFire  time.Time
	tombstone int32 // set via atomic; cancel races with an in-flight fire
	heartbeat bool
	hbIndex   int
}

type timerMinHeap []*timerEntry

func (h timerMinHeap) Len() int            { return len(h) }
func (h timerMinHeap) Less(i, j int) bool  { return h[i].nextFire.Before(h[j].nextFire) }
func (h timerMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerMinHeap) Push(x any)         { *h = append(*h, x.(*timerEntry)) }
func (h *timerMinHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Wheel drives general and mm timers off a single sleeping goroutine. A
// timer id that has begun firing in one goroutine stays visible to
// CancelTimer in another: cancellation sets a tombstone that the firing
// goroutine checks right before invoking the observer, so an in-flight
// callback is never aborted mid-flight, only future firings are suppressed.
type Wheel struct {
	mu     sync.Mutex
	byId   map[TimerId]*timerEntry
	h      timerMinHeap
	nextId uint64

	heartbeatOrder    []*timerEntry
	heartbeatInterval time.Duration

	wakeup chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWheel creates a timer wheel with the given default heartbeat interval
// (20s if zero).
func NewWheel(defaultHeartbeat time.Duration) *Wheel {
	if defaultHeartbeat <= 0 {
		defaultHeartbeat = 20 * time.Second
	}
	return &Wheel{
		byId:              make(map[TimerId]*timerEntry),
		heartbeatInterval: defaultHeartbeat,
		wakeup:            make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
	}
}

// Start spins up the background firing goroutine.
func (w *Wheel) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the background goroutine and blocks until it has returned.
func (w *Wheel) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Wheel) nudge() {
	select {
	case w.wakeup <- struct{}{}:
	default:
	}
}

// SetupTimer arms a one-shot (period==0) or periodic timer.
func (w *Wheel) SetupTimer(observer TimerObserver, firstDelay, period time.Duration, userData any) TimerId {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextId++
	e := &timerEntry{
		id:       TimerId(w.nextId),
		observer: observer,
		userData: userData,
		period:   period,
		nextFire: time.Now().Add(firstDelay),
	}
	w.byId[e.id] = e
	heap.Push(&w.h, e)
	w.nudge()
	return e.id
}

// SetupHeartbeatTimer arms a timer bound to the wheel's shared heartbeat
// interval; its phase is assigned by UpdateHeartbeatTimers (or, absent any
// call to it yet, the k-th (0-indexed) registered timer first fires after S*k/(k+1),
// without moving the timers registered before it).
func (w *Wheel) SetupHeartbeatTimer(observer TimerObserver, userData any) TimerId {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextId++
	idx := len(w.heartbeatOrder)
	e := &timerEntry{
		id:        TimerId(w.nextId),
		observer:  observer,
		userData:  userData,
		period:    w.heartbeatInterval,
		heartbeat: true,
		hbIndex:   idx,
	}
	n := idx + 1
	e.nextFire = time.Now().Add(w.heartbeatInterval * time.Duration(idx) / time.Duration(n))
	w.byId[e.id] = e
	w.heartbeatOrder = append(w.heartbeatOrder, e)
	heap.Push(&w.h, e)
	w.nudge()
	return e.id
}

// UpdateHeartbeatTimers re-phases every registered heartbeat timer so timer
// k (0-indexed) fires first after S*k/N seconds and then every S seconds —
// mandatory re-slotting, per the spec's resolution of its own open question.
func (w *Wheel) UpdateHeartbeatTimers(newInterval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.heartbeatInterval = newInterval
	n := len(w.heartbeatOrder)
	if n == 0 {
		return
	}
	now := time.Now()
	live := w.heartbeatOrder[:0]
	for _, e := range w.heartbeatOrder {
		if atomic.LoadInt32(&e.tombstone) != 0 {
			continue
		}
		live = append(live, e)
	}
	w.heartbeatOrder = live
	n = len(live)
	for k, e := range live {
		e.period = newInterval
		e.nextFire = now.Add(newInterval * time.Duration(k) / time.Duration(n))
	}
	heap.Init(&w.h)
	w.nudge()
}

// CancelTimer is idempotent. If the timer is already firing on another
// goroutine, that callback is allowed to complete; only future firings stop.
func (w *Wheel) CancelTimer(id TimerId) {
	w.mu.Lock()
	e, ok := w.byId[id]
	if ok {
		delete(w.byId, id)
	}
	w.mu.Unlock()
	if ok {
		atomic.StoreInt32(&e.tombstone, 1)
	}
}

func (w *Wheel) loop() {
	defer w.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		w.mu.Lock()
		var wait time.Duration
		if len(w.h) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(w.h[0].nextFire)
			if wait < 0 {
				wait = 0
			}
		}
		w.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-w.stopCh:
			return
		case <-w.wakeup:
			continue
		case <-timer.C:
			w.fireDue()
		}
	}
}

func (w *Wheel) fireDue() {
	now := time.Now()
	for {
		w.mu.Lock()
		if len(w.h) == 0 || w.h[0].nextFire.After(now) {
			w.mu.Unlock()
			return
		}
		e := heap.Pop(&w.h).(*timerEntry)
		if e.period > 0 && atomic.LoadInt32(&e.tombstone) == 0 {
			e.nextFire = e.nextFire.Add(e.period)
			heap.Push(&w.h, e)
		} else {
			delete(w.byId, e.id)
		}
		w.mu.Unlock()

		if atomic.LoadInt32(&e.tombstone) != 0 {
			continue
		}
		if e.observer != nil {
			e.observer.OnTimer(e.id, e.userData)
		}
	}
}
