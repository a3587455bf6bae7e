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

	"github.com/pronet-go/pronet/buffer"
	"github.com/pronet-go/pronet/reactor"
)

// Udp is a single-socket, queue-less datagram transport. Every Send call
// emits exactly one datagram; EMSGSIZE, EWOULDBLOCK and (unless opted in)
// ECONNRESET are swallowed rather than surfaced as fatal.
type Udp struct {
	mu sync.Mutex

	fd          int
	r           *reactor.Reactor
	obs         Observer
	recv        *buffer.RecvPool
	defaultDst  *unix.SockaddrInet4
	closed      bool
	resetIsErr  bool
	recvArmed   bool

	upcall  upcallGate
	errOnce errOnce
	hb      heartbeat

	bytesSent atomic.Uint64
	bytesRecv atomic.Uint64
}

// NewUdp wraps an already-bound, already-nonblocking UDP socket fd.
func NewUdp(r *reactor.Reactor, fd int, obs Observer) *Udp {
	return &Udp{fd: fd, r: r, obs: obs, recv: newRecvPool()}
}

func (u *Udp) Init() bool {
	u.mu.Lock()
	u.recvArmed = true
	u.mu.Unlock()
	ok := u.r.AddHandler(u.fd, u, reactor.EventRead)
	logger.WithField("socket_id", u.fd).Debug("udp transport initialized")
	return ok
}

func (u *Udp) Kind() Kind { return KindUdp }
func (u *Udp) Fd() int    { return u.fd }

func (u *Udp) BytesSent() uint64 { return u.bytesSent.Load() }
func (u *Udp) BytesRecv() uint64 { return u.bytesRecv.Load() }

// UdpConnResetAsError opts in (irreversibly) to promoting ECONNRESET into a
// fatal OnClose instead of silently swallowing it.
func (u *Udp) UdpConnResetAsError() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.resetIsErr = true
}

func sockaddrFromUDPAddr(a *net.UDPAddr) unix.Sockaddr {
	if a == nil {
		return nil
	}
	if ip4 := a.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], ip4)
		return sa
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return sa
}

// Send emits one datagram to remote (or the socket's connected peer if nil).
func (u *Udp) Send(buf []byte, _ uint64, remote net.Addr) bool {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return false
	}
	fd := u.fd
	u.mu.Unlock()

	var err error
	if ua, ok := remote.(*net.UDPAddr); ok && ua != nil {
		err = unix.Sendto(fd, buf, 0, sockaddrFromUDPAddr(ua))
	} else {
		_, err = unix.Write(fd, buf)
	}
	if err == nil {
		u.bytesSent.Add(uint64(len(buf)))
		return true
	}
	switch err {
	case unix.EMSGSIZE, unix.EAGAIN, unix.EWOULDBLOCK:
		return false
	case unix.ECONNREFUSED:
		return false
	default:
		return false
	}
}

func (u *Udp) RequestOnSend() {}

func (u *Udp) SuspendRecv() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.recvArmed {
		u.recvArmed = false
		u.r.RemoveHandler(u.fd, reactor.EventRead)
	}
}

func (u *Udp) ResumeRecv() {
	u.mu.Lock()
	armed := u.recvArmed
	u.recvArmed = true
	u.mu.Unlock()
	if !armed {
		u.r.AddHandler(u.fd, u, reactor.EventRead)
	}
}

func (u *Udp) StartHeartbeat(interval time.Duration) {
	u.hb.start(u.r.WheelForHeartbeats(), interval, udpHeartbeatObserver{u}, nil)
}
func (u *Udp) StopHeartbeat() { u.hb.stop() }

type udpHeartbeatObserver struct{ u *Udp }

func (h udpHeartbeatObserver) OnTimer(reactor.TimerId, any) {
	h.u.upcall.run(func() {
		if h.u.obs != nil {
			h.u.obs.OnHeartbeat(h.u)
		}
	})
}

func (u *Udp) OnInput(int) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	fd := u.fd
	idle := u.recv.ContinuousIdle()
	u.mu.Unlock()

	if len(idle) == 0 {
		// no room for a full datagram: drop it, as if EMSGSIZE
		var scratch [65535]byte
		_, _, _ = unix.Recvfrom(fd, scratch[:], 0)
		return
	}

	n, _, err := unix.Recvfrom(fd, idle, 0)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EWOULDBLOCK:
			return
		case unix.ECONNRESET:
			u.mu.Lock()
			resetIsErr := u.resetIsErr
			u.mu.Unlock()
			if resetIsErr {
				u.Close(err)
			}
			return
		default:
			u.Close(err)
			return
		}
	}
	u.mu.Lock()
	_ = u.recv.Commit(n)
	u.mu.Unlock()
	u.bytesRecv.Add(uint64(n))
	u.upcall.run(func() {
		if u.obs != nil {
			u.obs.OnRecv(u, nil)
		}
	})
}

func (u *Udp) OnOutput(int) {}

func (u *Udp) OnError(_ int, err error) { u.Close(err) }

func (u *Udp) Close(err error) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	fd := u.fd
	u.mu.Unlock()

	u.hb.stop()
	u.r.RemoveHandler(fd, reactor.EventRead|reactor.EventWrite)
	coded := closeError(err)
	if coded != nil {
		logger.WithField("socket_id", fd).WithField("code", coded.GetCode()).Error("udp transport closed with error")
	} else {
		logger.WithField("socket_id", fd).Debug("udp transport closed")
	}
	u.errOnce.fire(func() {
		u.upcall.run(func() {
			if u.obs != nil {
				u.obs.OnClose(u, coded)
			}
		})
	})
	_ = unix.Close(fd)
}

// Recv exposes the raw receive pool.
func (u *Udp) Recv() *buffer.RecvPool { return u.recv }
