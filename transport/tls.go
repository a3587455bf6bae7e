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
	"crypto/tls"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pronet-go/pronet/buffer"
	"github.com/pronet-go/pronet/reactor"
)

// Tls is a TCP transport whose raw read/write is replaced by a TLS engine.
// crypto/tls.Conn is a blocking API; rather than reimplement TLS record
// framing against the reactor's readiness model, each connection gets a
// dedicated read goroutine (with a short read deadline, a timeout being
// treated as WANT_READ) and write goroutine. The raw fd is never registered
// with the reactor; Fd() returns it and Close() closes it directly.
type Tls struct {
	mu sync.Mutex

	fd   int
	r    *reactor.Reactor
	obs  Observer
	conn *tls.Conn

	recv *buffer.RecvPool
	send *buffer.SendPool

	closed      bool
	recvPaused  bool
	actionQueue []uint64

	upcall  upcallGate
	errOnce errOnce
	hb      heartbeat

	stopCh chan struct{}
	wakeWr chan struct{}
	wg     sync.WaitGroup

	bytesSent atomic.Uint64
	bytesRecv atomic.Uint64
}

// NewTlsClient/NewTlsServer wrap an already-connected, blocking-mode fd in a
// TLS client/server handshake driven by the supplied config.
func newTlsConn(fd int, cfg *tls.Config, isServer bool) (*tls.Conn, error) {
	f := os.NewFile(uintptr(fd), "tls-raw")
	raw, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}
	if isServer {
		return tls.Server(raw, cfg), nil
	}
	return tls.Client(raw, cfg), nil
}

func NewTlsServer(r *reactor.Reactor, fd int, cfg *tls.Config, obs Observer) (*Tls, error) {
	conn, err := newTlsConn(fd, cfg, true)
	if err != nil {
		return nil, err
	}
	return newTls(r, fd, conn, obs), nil
}

func NewTlsClient(r *reactor.Reactor, fd int, cfg *tls.Config, obs Observer) (*Tls, error) {
	conn, err := newTlsConn(fd, cfg, false)
	if err != nil {
		return nil, err
	}
	return newTls(r, fd, conn, obs), nil
}

func newTls(r *reactor.Reactor, fd int, conn *tls.Conn, obs Observer) *Tls {
	t := &Tls{
		fd:     fd,
		r:      r,
		obs:    obs,
		conn:   conn,
		recv:   newRecvPool(),
		send:   buffer.NewSendPool(),
		stopCh: make(chan struct{}),
		wakeWr: make(chan struct{}, 1),
	}
	return t
}

// Init performs the TLS handshake (blocking the calling goroutine) then
// starts the read/write pump goroutines.
func (t *Tls) Init() error {
	if err := t.conn.Handshake(); err != nil {
		logger.WithField("socket_id", t.fd).WithError(err).Error("tls handshake failed")
		return err
	}
	t.wg.Add(2)
	go t.readLoop()
	go t.writeLoop()
	logger.WithField("socket_id", t.fd).Debug("tls transport initialized")
	return nil
}

func (t *Tls) Kind() Kind { return KindSsl }
func (t *Tls) Fd() int    { return t.fd }

func (t *Tls) BytesSent() uint64 { return t.bytesSent.Load() }
func (t *Tls) BytesRecv() uint64 { return t.bytesRecv.Load() }

func (t *Tls) Send(buf []byte, actionId uint64, _ net.Addr) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.send.PushBack(&buffer.Buffer{Data: buf})
	t.actionQueue = append(t.actionQueue, actionId)
	t.mu.Unlock()

	select {
	case t.wakeWr <- struct{}{}:
	default:
	}
	return true
}

func (t *Tls) RequestOnSend() {
	select {
	case t.wakeWr <- struct{}{}:
	default:
	}
}

func (t *Tls) SuspendRecv() {
	t.mu.Lock()
	t.recvPaused = true
	t.mu.Unlock()
}

func (t *Tls) ResumeRecv() {
	t.mu.Lock()
	t.recvPaused = false
	t.mu.Unlock()
}

func (t *Tls) StartHeartbeat(interval time.Duration) {
	t.hb.start(t.r.WheelForHeartbeats(), interval, tlsHeartbeatObserver{t}, nil)
}
func (t *Tls) StopHeartbeat() { t.hb.stop() }

type tlsHeartbeatObserver struct{ t *Tls }

func (h tlsHeartbeatObserver) OnTimer(reactor.TimerId, any) {
	h.t.upcall.run(func() {
		if h.t.obs != nil {
			h.t.obs.OnHeartbeat(h.t)
		}
	})
}

// readLoop pulls TLS application data with a short read deadline so it can
// observe SuspendRecv/Close promptly; after any successful read it keeps
// reading without yielding, since one TCP segment may carry several TLS
// records, stopping only once a read times out (WANT_READ-equivalent).
func (t *Tls) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		t.mu.Lock()
		paused := t.recvPaused
		t.mu.Unlock()
		if paused {
			time.Sleep(5 * time.Millisecond)
			continue
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.mu.Lock()
			idle := t.recv.ContinuousIdle()
			copyable := n
			if len(idle) < copyable {
				copyable = len(idle)
			}
			copy(idle, buf[:copyable])
			_ = t.recv.Commit(copyable)
			t.mu.Unlock()
			t.bytesRecv.Add(uint64(copyable))
			t.upcall.run(func() {
				if t.obs != nil {
					t.obs.OnRecv(t, nil)
				}
			})
			continue
		}
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			continue
		}
		t.Close(err)
		return
	}
}

func (t *Tls) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stopCh:
			return
		case <-t.wakeWr:
		}

		for {
			t.mu.Lock()
			pending := t.send.PreSend()
			t.mu.Unlock()
			if len(pending) == 0 {
				break
			}
			n, err := t.conn.Write(pending)
			if n > 0 {
				t.bytesSent.Add(uint64(n))
				t.mu.Lock()
				t.send.Flush(n)
				var actionId uint64
				fired := false
				if full := t.send.OnSendBuf(); full != nil {
					t.send.PostSend()
					if len(t.actionQueue) > 0 {
						actionId = t.actionQueue[0]
						t.actionQueue = t.actionQueue[1:]
					}
					fired = true
				}
				t.mu.Unlock()
				if fired {
					t.upcall.run(func() {
						if t.obs != nil {
							t.obs.OnSend(t, actionId)
						}
					})
				}
				continue
			}
			if err != nil {
				t.Close(err)
				return
			}
		}
	}
}

func (t *Tls) Close(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	close(t.stopCh)
	t.hb.stop()
	_ = t.conn.Close()
	_ = unix.Close(t.fd)
	coded := tlsCloseError(err)
	if coded != nil {
		logger.WithField("socket_id", t.fd).WithField("code", coded.GetCode()).Error("tls transport closed with error")
	} else {
		logger.WithField("socket_id", t.fd).Debug("tls transport closed")
	}
	t.errOnce.fire(func() {
		t.upcall.run(func() {
			if t.obs != nil {
				t.obs.OnClose(t, coded)
			}
		})
	})
}

func (t *Tls) Recv() *buffer.RecvPool { return t.recv }
