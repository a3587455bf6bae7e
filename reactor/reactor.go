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

// Package reactor implements the epoll-backed readiness reactor: a pool of
// worker goroutines multiplexing I/O events across registered sockets, plus
// a timer wheel (general and high-resolution "mm" timers) with heartbeat
// re-phasing and cancellation-safe firing.
package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
	log "github.com/sirupsen/logrus"

	liberr "github.com/pronet-go/pronet/errors"
)

var logger = log.WithField("component", "reactor")

// EventMask is the reactor's interest set over {READ, WRITE}.
type EventMask uint32

const (
	EventRead EventMask = 1 << iota
	EventWrite
)

// Handler receives reactor callbacks for a socket. It is reference-counted
// by the reactor only for the duration of each callback; no lock is held
// across the call.
type Handler interface {
	OnInput(sock int)
	OnOutput(sock int)
	OnError(sock int, err error)
}

type registration struct {
	handler Handler
	mask    EventMask
}

// Reactor owns the epoll instance, the worker pool and the timer wheel.
type Reactor struct {
	epfd int

	mu       sync.RWMutex
	handlers map[int]*registration

	wakeR, wakeW int // self-pipe used to break epoll_wait on Stop
	stopped      bool
	wg           sync.WaitGroup

	wheel   *Wheel
	mmWheel *Wheel
}

// New creates an unstarted reactor.
func New() (*Reactor, liberr.Error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		logger.WithError(err).Error("epoll_create1 failed")
		return nil, liberr.New(uint16(liberr.MinPkgReactor+1), "epoll_create1: "+err.Error())
	}
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(epfd)
		logger.WithError(err).Error("pipe2 failed")
		return nil, liberr.New(uint16(liberr.MinPkgReactor+2), "pipe2: "+err.Error())
	}
	r := &Reactor{
		epfd:     epfd,
		handlers: make(map[int]*registration),
		wakeR:    fds[0],
		wakeW:    fds[1],
		wheel:    NewWheel(20 * time.Second),
		mmWheel:  NewWheel(20 * time.Second),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r.wakeR, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r.wakeR)}); err != nil {
		_ = unix.Close(epfd)
		logger.WithError(err).Error("epoll_ctl(wake) failed")
		return nil, liberr.New(uint16(liberr.MinPkgReactor+3), "epoll_ctl(wake): "+err.Error())
	}
	logger.Debug("reactor created")
	return r, nil
}

// Start spins up ioThreadCount worker goroutines sharing the epoll
// instance, plus the timer wheels.
func (r *Reactor) Start(ioThreadCount int) liberr.Error {
	if ioThreadCount <= 0 {
		ioThreadCount = 1
	}
	r.wheel.Start()
	r.mmWheel.Start()
	for i := 0; i < ioThreadCount; i++ {
		r.wg.Add(1)
		go r.workerLoop()
	}
	logger.WithField("ioThreads", ioThreadCount).Debug("reactor started")
	return nil
}

// Stop stops accepting new work and blocks until every worker (and hence
// every in-flight callback) has returned. MUST NOT be called from within a
// reactor callback.
func (r *Reactor) Stop() liberr.Error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	_, _ = unix.Write(r.wakeW, []byte{0})
	r.wg.Wait()
	r.wheel.Stop()
	r.mmWheel.Stop()
	_ = unix.Close(r.epfd)
	_ = unix.Close(r.wakeR)
	_ = unix.Close(r.wakeW)
	logger.Debug("reactor stopped")
	return nil
}

// AddHandler registers interest in mask for sock. Returns false if sock is
// invalid or a handler is already registered with overlapping mask.
func (r *Reactor) AddHandler(sock int, h Handler, mask EventMask) bool {
	if sock < 0 || h == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, exists := r.handlers[sock]
	if exists {
		if reg.mask&mask != 0 {
			return false
		}
		reg.mask |= mask
		return r.epollMod(sock, reg.mask) == nil
	}
	reg = &registration{handler: h, mask: mask}
	r.handlers[sock] = reg
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, sock, &unix.EpollEvent{Events: epollEvents(mask), Fd: int32(sock)}); err != nil {
		delete(r.handlers, sock)
		logger.WithError(err).WithField("socket_id", sock).Error("epoll_ctl(add) failed")
		return false
	}
	return true
}

// RemoveHandler clears interest bits; no-op if absent. Safe to call from
// inside a callback.
func (r *Reactor) RemoveHandler(sock int, mask EventMask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.handlers[sock]
	if !ok {
		return
	}
	reg.mask &^= mask
	if reg.mask == 0 {
		delete(r.handlers, sock)
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, sock, nil)
		return
	}
	_ = r.epollMod(sock, reg.mask)
}

func (r *Reactor) epollMod(sock int, mask EventMask) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, sock, &unix.EpollEvent{Events: epollEvents(mask), Fd: int32(sock)})
}

func epollEvents(mask EventMask) uint32 {
	var ev uint32 = unix.EPOLLET
	if mask&EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if mask&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (r *Reactor) workerLoop() {
	defer r.wg.Done()
	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakeR {
				r.mu.RLock()
				stopped := r.stopped
				r.mu.RUnlock()
				if stopped {
					return
				}
				continue
			}
			r.dispatch(fd, events[i].Events)
		}
	}
}

func (r *Reactor) dispatch(sock int, events uint32) {
	r.mu.RLock()
	reg, ok := r.handlers[sock]
	r.mu.RUnlock()
	if !ok {
		return
	}
	h := reg.handler

	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		logger.WithField("socket_id", sock).Debug("epoll reported EPOLLERR/EPOLLHUP")
		h.OnError(sock, unix.EBADF)
		r.RemoveHandler(sock, EventRead|EventWrite)
		return
	}
	if events&unix.EPOLLIN != 0 {
		h.OnInput(sock)
	}
	if events&unix.EPOLLOUT != 0 {
		h.OnOutput(sock)
	}
}

// SetupTimer arms a one-shot (periodMs==0) or periodic general timer.
func (r *Reactor) SetupTimer(observer TimerObserver, firstDelayMs, periodMs int64, userData any) TimerId {
	return r.wheel.SetupTimer(observer, time.Duration(firstDelayMs)*time.Millisecond, time.Duration(periodMs)*time.Millisecond, userData)
}

// SetupHeartbeatTimer arms a timer bound to the shared heartbeat interval.
func (r *Reactor) SetupHeartbeatTimer(observer TimerObserver, userData any) TimerId {
	return r.wheel.SetupHeartbeatTimer(observer, userData)
}

// UpdateHeartbeatTimers re-phases all heartbeat timers across newIntervalS.
func (r *Reactor) UpdateHeartbeatTimers(newIntervalS float64) {
	r.wheel.UpdateHeartbeatTimers(time.Duration(newIntervalS * float64(time.Second)))
}

// CancelTimer is idempotent; see Wheel.CancelTimer.
func (r *Reactor) CancelTimer(id TimerId) { r.wheel.CancelTimer(id) }

// SetupMmTimer arms a high-resolution timer on the dedicated mm wheel.
func (r *Reactor) SetupMmTimer(observer TimerObserver, firstDelayMs, periodMs int64, userData any) TimerId {
	return r.mmWheel.SetupTimer(observer, time.Duration(firstDelayMs)*time.Millisecond, time.Duration(periodMs)*time.Millisecond, userData)
}

// CancelMmTimer is idempotent; see Wheel.CancelTimer.
func (r *Reactor) CancelMmTimer(id TimerId) { r.mmWheel.CancelTimer(id) }

// WheelForHeartbeats exposes the general-purpose timer wheel so transports
// can arm their own per-connection heartbeat timer directly.
func (r *Reactor) WheelForHeartbeats() *Wheel { return r.wheel }
