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

// Package handshake converts a freshly accepted or connected raw socket into
// a ready transport, optionally exchanging a fixed-size payload first (the
// plain TCP handshaker) or additionally completing a TLS handshake (the TLS
// handshaker).
package handshake

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
	log "github.com/sirupsen/logrus"

	liberr "github.com/pronet-go/pronet/errors"
	"github.com/pronet-go/pronet/reactor"
)

var logger = log.WithField("component", "handshake")

// Observer receives the outcome of a handshake.
type Observer interface {
	OnHandshakeDone(fd int, recvData []byte)
	OnHandshakeTimeout(fd int)
	// OnHandshakeError reports a non-timeout failure, coded with one of
	// this package's Code* constants.
	OnHandshakeError(fd int, err liberr.Error)
}

// Params configures one TCP handshake attempt.
type Params struct {
	SendData     []byte
	RecvDataSize int
	RecvFirst    bool
	TimeoutS     float64
}

// Tcp drives one handshake attempt against an already-nonblocking fd.
type Tcp struct {
	mu sync.Mutex

	fd  int
	r   *reactor.Reactor
	obs Observer
	p   Params

	sendOff int
	recvBuf []byte
	recvOff int

	done      bool
	timerId   reactor.TimerId
	haveTimer bool
}

// NewTcp creates a handshaker for fd; call Start to register it.
func NewTcp(r *reactor.Reactor, fd int, obs Observer, p Params) *Tcp {
	return &Tcp{r: r, fd: fd, obs: obs, p: p, recvBuf: make([]byte, p.RecvDataSize)}
}

// Start registers the handshaker's initial interest mask, computed per the
// protocol-at-registration-time rules, and arms the timeout.
func (h *Tcp) Start() bool {
	mask := h.initialMask()
	if h.p.TimeoutS > 0 {
		h.timerId = h.r.SetupTimer(h, int64(h.p.TimeoutS*1000), 0, nil)
		h.haveTimer = true
	}
	return h.r.AddHandler(h.fd, h, mask)
}

func (h *Tcp) initialMask() reactor.EventMask {
	switch {
	case h.p.RecvDataSize == 0:
		return reactor.EventWrite
	case len(h.p.SendData) == 0:
		return reactor.EventRead
	case h.p.RecvFirst:
		return reactor.EventRead
	default:
		return reactor.EventRead | reactor.EventWrite
	}
}

func (h *Tcp) OnTimer(reactor.TimerId, any) {
	logger.WithField("socket_id", h.fd).Debug("tcp handshake timed out")
	h.finish(func() {
		if h.obs != nil {
			h.obs.OnHandshakeTimeout(h.fd)
		}
	})
}

func (h *Tcp) OnInput(int) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	fd := h.fd
	h.mu.Unlock()

	for {
		h.mu.Lock()
		if h.recvOff >= len(h.recvBuf) {
			h.mu.Unlock()
			break
		}
		target := h.recvBuf[h.recvOff:]
		h.mu.Unlock()

		n, err := unix.Read(fd, target)
		if n > 0 {
			h.mu.Lock()
			h.recvOff += n
			complete := h.recvOff >= len(h.recvBuf)
			h.mu.Unlock()
			if complete {
				break
			}
			continue
		}
		if n == 0 {
			h.failErr(unix.ECONNRESET)
			return
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err == unix.EINTR {
			continue
		}
		h.failErr(err)
		return
	}

	h.mu.Lock()
	recvDone := h.recvOff >= len(h.recvBuf)
	needWriteNow := h.p.RecvFirst && len(h.p.SendData) > 0
	h.mu.Unlock()

	if recvDone {
		if needWriteNow {
			h.r.RemoveHandler(fd, reactor.EventRead)
			h.r.AddHandler(fd, h, reactor.EventWrite)
			return
		}
		h.succeed()
	}
}

func (h *Tcp) OnOutput(int) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	fd := h.fd

	for h.sendOff < len(h.p.SendData) {
		target := h.p.SendData[h.sendOff:]
		h.mu.Unlock()
		n, err := unix.Write(fd, target)
		h.mu.Lock()
		if n > 0 {
			h.sendOff += n
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			h.mu.Unlock()
			return
		}
		if err == unix.EINTR {
			continue
		}
		h.mu.Unlock()
		h.failErr(err)
		return
	}
	sendDone := h.sendOff >= len(h.p.SendData)
	recvPending := h.recvOff < len(h.recvBuf)
	h.mu.Unlock()

	if sendDone {
		if recvPending {
			h.r.RemoveHandler(fd, reactor.EventWrite)
			h.r.AddHandler(fd, h, reactor.EventRead)
			return
		}
		h.succeed()
	}
}

func (h *Tcp) OnError(_ int, err error) {
	h.failErr(err)
}

func (h *Tcp) succeed() {
	logger.WithField("socket_id", h.fd).Debug("tcp handshake completed")
	h.finish(func() {
		if h.obs != nil {
			h.obs.OnHandshakeDone(h.fd, h.recvBuf)
		}
	})
}

func (h *Tcp) failErr(err error) {
	coded := classifyError(err)
	logger.WithField("socket_id", h.fd).WithField("code", coded.GetCode()).WithError(err).Error("tcp handshake failed")
	h.finish(func() {
		if h.obs != nil {
			h.obs.OnHandshakeError(h.fd, coded)
		}
	})
}

// classifyError wraps a raw syscall error with CodeIo or CodeClosedPeer,
// the same split transport's OnClose uses for its own failures.
func classifyError(err error) liberr.Error {
	if err == unix.ECONNRESET || err == unix.EPIPE {
		return liberr.New(CodeClosedPeer, err.Error(), err)
	}
	return liberr.New(CodeIo, err.Error(), err)
}

func (h *Tcp) finish(report func()) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	h.mu.Unlock()

	if h.haveTimer {
		h.r.CancelTimer(h.timerId)
	}
	h.r.RemoveHandler(h.fd, reactor.EventRead|reactor.EventWrite)
	report()
}
