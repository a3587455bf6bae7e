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

package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pronet-go/pronet/bsdsock"
	"github.com/pronet-go/pronet/buffer"
	"github.com/pronet-go/pronet/reactor"
)

// Tcp is a non-blocking, edge-triggered stream transport. Sockets that carry
// SCM_RIGHTS ancillary data (the servicehub's host-side control pipe) set
// FdRecvMode so on_input surfaces OnRecvFd instead of OnRecv.
type Tcp struct {
	mu sync.Mutex

	fd  int
	r   *reactor.Reactor
	obs Observer

	recv *buffer.RecvPool
	send *buffer.SendPool

	pendingWr   bool
	recvArmed   bool
	canUpcall   bool
	closed      bool
	fdRecvMode  bool
	wantOnSend  bool
	actionQueue []uint64

	upcall  upcallGate
	errOnce errOnce
	hb      heartbeat

	bytesSent atomic.Uint64
	bytesRecv atomic.Uint64
}

// NewTcp wraps an already-connected, already-nonblocking socket fd.
func NewTcp(r *reactor.Reactor, fd int, obs Observer, fdRecvMode bool) *Tcp {
	return &Tcp{
		fd:         fd,
		r:          r,
		obs:        obs,
		recv:       newRecvPool(),
		send:       buffer.NewSendPool(),
		canUpcall:  true,
		fdRecvMode: fdRecvMode,
	}
}

// Init registers the transport with the reactor for READ interest.
func (t *Tcp) Init() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recvArmed = true
	ok := t.r.AddHandler(t.fd, t, reactor.EventRead)
	logger.WithField("socket_id", t.fd).WithField("fdRecvMode", t.fdRecvMode).Debug("tcp transport initialized")
	return ok
}

func (t *Tcp) Kind() Kind { return KindTcp }
func (t *Tcp) Fd() int    { return t.fd }

func (t *Tcp) BytesSent() uint64 { return t.bytesSent.Load() }
func (t *Tcp) BytesRecv() uint64 { return t.bytesRecv.Load() }

// Send enqueues a frame for sending, arming WRITE interest if needed.
// Returns false iff the transport is closed.
func (t *Tcp) Send(buf []byte, actionId uint64, _ net.Addr) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.send.PushBack(&buffer.Buffer{Data: buf})
	t.actionQueue = append(t.actionQueue, actionId)
	wasPending := t.pendingWr
	t.pendingWr = true
	t.mu.Unlock()

	t.bytesSent.Add(uint64(len(buf)))

	if !wasPending {
		t.r.AddHandler(t.fd, t, reactor.EventWrite)
	}
	return true
}

// RequestOnSend asks for an OnSend callback next time the socket is
// writable, even with nothing queued (used to pace timed releases).
func (t *Tcp) RequestOnSend() {
	t.mu.Lock()
	t.wantOnSend = true
	already := t.pendingWr
	t.mu.Unlock()
	if !already {
		t.r.AddHandler(t.fd, t, reactor.EventWrite)
	}
}

func (t *Tcp) SuspendRecv() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recvArmed {
		t.recvArmed = false
		t.r.RemoveHandler(t.fd, reactor.EventRead)
	}
}

func (t *Tcp) ResumeRecv() {
	t.mu.Lock()
	armed := t.recvArmed
	t.recvArmed = true
	t.mu.Unlock()
	if !armed {
		t.r.AddHandler(t.fd, t, reactor.EventRead)
	}
}

func (t *Tcp) StartHeartbeat(interval time.Duration) {
	t.hb.start(t.r.WheelForHeartbeats(), interval, heartbeatObserver{t}, nil)
}

func (t *Tcp) StopHeartbeat() { t.hb.stop() }

type heartbeatObserver struct{ t *Tcp }

func (h heartbeatObserver) OnTimer(reactor.TimerId, any) {
	h.t.upcall.run(func() {
		if h.t.obs != nil {
			h.t.obs.OnHeartbeat(h.t)
		}
	})
}

// OnInput is the reactor readiness callback for READ events.
func (t *Tcp) OnInput(int) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	fd := t.fd
	t.mu.Unlock()

	if t.fdRecvMode {
		t.onInputFdMode(fd)
		return
	}

	for {
		t.mu.Lock()
		idle := t.recv.ContinuousIdle()
		t.mu.Unlock()
		if len(idle) == 0 {
			t.SuspendRecv()
			return
		}
		n, err := unix.Read(fd, idle)
		if n > 0 {
			t.mu.Lock()
			_ = t.recv.Commit(n)
			t.mu.Unlock()
			t.bytesRecv.Add(uint64(n))
			t.upcall.run(func() {
				if t.obs != nil {
					t.obs.OnRecv(t, nil)
				}
			})
			continue
		}
		if n == 0 {
			t.Close(nil)
			return
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err == unix.EINTR {
			continue
		}
		t.Close(err)
		return
	}
}

func (t *Tcp) onInputFdMode(fd int) {
	data, fds, lerr := bsdsock.RecvFds(fd, 4096, 1)
	if lerr != nil {
		t.Close(lerr)
		return
	}
	if len(data) == 0 && len(fds) == 0 {
		t.Close(nil)
		return
	}
	t.mu.Lock()
	_ = t.recv.Commit(0)
	t.mu.Unlock()
	t.bytesRecv.Add(uint64(len(data)))
	if len(fds) > 0 {
		passed := fds[0]
		t.upcall.run(func() {
			if t.obs != nil {
				t.obs.OnRecvFd(t, passed, nil)
			}
		})
	} else {
		t.upcall.run(func() {
			if t.obs != nil {
				t.obs.OnRecv(t, nil)
			}
		})
	}
}

// OnOutput is the reactor readiness callback for WRITE events.
func (t *Tcp) OnOutput(int) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	fd := t.fd

	for {
		pending := t.send.PreSend()
		if len(pending) == 0 {
			break
		}
		t.mu.Unlock()
		n, err := unix.Write(fd, pending)
		t.mu.Lock()
		if n > 0 {
			t.send.Flush(n)
			if full := t.send.OnSendBuf(); full != nil {
				t.send.PostSend()
				actionId := uint64(0)
				if len(t.actionQueue) > 0 {
					actionId = t.actionQueue[0]
					t.actionQueue = t.actionQueue[1:]
				}
				t.mu.Unlock()
				t.upcall.run(func() {
					if t.obs != nil {
						t.obs.OnSend(t, actionId)
					}
				})
				t.mu.Lock()
			}
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		if err == unix.EINTR {
			continue
		}
		t.mu.Unlock()
		t.Close(err)
		return
	}

	drained := t.send.Len() == 0
	wantOnSend := t.wantOnSend
	if drained {
		t.pendingWr = false
		t.wantOnSend = false
	}
	t.mu.Unlock()

	if drained {
		t.r.RemoveHandler(fd, reactor.EventWrite)
		if wantOnSend {
			t.upcall.run(func() {
				if t.obs != nil {
					t.obs.OnSend(t, 0)
				}
			})
		}
	}
}

// OnError is the reactor readiness callback for error/hangup conditions.
func (t *Tcp) OnError(_ int, err error) {
	t.Close(err)
}

// Close tears the transport down, deferring if currently inside an upcall so
// the in-flight callback is never aborted mid-flight.
func (t *Tcp) Close(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	fd := t.fd
	t.mu.Unlock()

	t.hb.stop()
	t.r.RemoveHandler(fd, reactor.EventRead|reactor.EventWrite)
	coded := closeError(err)
	if coded != nil {
		logger.WithField("socket_id", fd).WithField("code", coded.GetCode()).Error("tcp transport closed with error")
	} else {
		logger.WithField("socket_id", fd).Debug("tcp transport closed")
	}
	t.errOnce.fire(func() {
		t.upcall.run(func() {
			if t.obs != nil {
				t.obs.OnClose(t, coded)
			}
		})
	})
	_ = unix.Close(fd)
}

// Recv exposes the raw receive pool for the handshaker / session layer to
// peek and flush application-level framing out of.
func (t *Tcp) Recv() *buffer.RecvPool { return t.recv }
