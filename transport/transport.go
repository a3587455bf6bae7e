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

// Package transport implements the reactor-driven, non-blocking socket
// abstractions (TCP, UDP, MCAST, TLS) sitting underneath an rtp.Session or a
// servicehub control pipe.
package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pronet-go/pronet/buffer"
	liberr "github.com/pronet-go/pronet/errors"
	"github.com/pronet-go/pronet/reactor"
)

// Kind identifies a transport's underlying wire family.
type Kind uint8

const (
	KindTcp Kind = iota
	KindUdp
	KindMcast
	KindSsl
)

// Observer receives transport-level upcalls. Every upcall is issued without
// the transport's state lock held; the transport itself guarantees at most
// one observer callback in flight at a time via its upcall lock.
type Observer interface {
	OnRecv(t Transport, remote net.Addr)
	OnRecvFd(t Transport, fd int, remote net.Addr)
	OnSend(t Transport, actionId uint64)
	// OnClose reports why the transport went down. err is nil for an
	// orderly peer-initiated close and otherwise carries one of the
	// package's Code* constants (CodeTimeout, CodeClosedPeer, CodeIo,
	// CodeTls, CodeResourceExhausted).
	OnClose(t Transport, err liberr.Error)
	OnHeartbeat(t Transport)
}

// Transport is the common capability set across Tcp/Udp/Mcast/Ssl.
type Transport interface {
	Kind() Kind
	Fd() int
	Send(buf []byte, actionId uint64, remote net.Addr) bool
	RequestOnSend()
	SuspendRecv()
	ResumeRecv()
	StartHeartbeat(interval time.Duration)
	StopHeartbeat()
	Close(err error)
	// BytesSent and BytesRecv are cumulative counters a monitor can poll
	// and diff against its own last-seen value to feed AddBytes.
	BytesSent() uint64
	BytesRecv() uint64
}

// upcallGate serialises observer callbacks per transport: at most one
// in-flight at a time, never called with the state lock held.
type upcallGate struct {
	mu sync.Mutex
}

func (g *upcallGate) run(f func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f()
}

// errOnce reports a fatal socket error to the observer exactly once.
type errOnce struct {
	mu   sync.Mutex
	done bool
}

func (e *errOnce) fire(report func()) {
	e.mu.Lock()
	already := e.done
	e.done = true
	e.mu.Unlock()
	if !already {
		report()
	}
}

const defaultRecvPoolSize = 64 * 1024

func newRecvPool() *buffer.RecvPool { return buffer.NewRecvPool(defaultRecvPoolSize) }

// heartbeat wraps a reactor timer id plus the observer callback so Start/Stop
// stay symmetric across all transport variants.
type heartbeat struct {
	w      *reactor.Wheel
	id     reactor.TimerId
	active bool
}

func (h *heartbeat) start(w *reactor.Wheel, interval time.Duration, obs reactor.TimerObserver, userData any) {
	if h.active {
		h.w.CancelTimer(h.id)
	}
	h.w = w
	h.id = w.SetupTimer(obs, interval, interval, userData)
	h.active = true
}

func (h *heartbeat) stop() {
	if h.active {
		h.w.CancelTimer(h.id)
		h.active = false
	}
}
