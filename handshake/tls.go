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

package handshake

import (
	"crypto/tls"
	"io"
	"net"
	"os"
	"time"

	liberr "github.com/pronet-go/pronet/errors"
)

// TlsObserver receives the outcome of a TLS handshake, optionally followed
// by the same fixed-size app-level exchange the plain Tcp handshaker does.
type TlsObserver interface {
	OnTlsHandshakeDone(conn *tls.Conn, recvData []byte)
	OnTlsHandshakeTimeout(fd int)
	OnTlsHandshakeError(fd int, err liberr.Error)
}

// Tls drives the TLS engine's own handshake to completion (blocking, in its
// own goroutine so the reactor stays non-blocking elsewhere) and then, once
// the engine reports the handshake is over, behaves as a Tcp handshaker for
// the optional app-level exchange — same WANT_READ/WANT_WRITE interest
// shaping rules as the TLS transport, expressed here as plain blocking calls
// with a deadline instead of reactor readiness events.
type Tls struct {
	fd  int
	cfg *tls.Config
	obs TlsObserver
	p   Params
	srv bool
}

// NewTls creates a TLS handshaker for fd. srv selects server vs client role.
func NewTls(fd int, cfg *tls.Config, obs TlsObserver, p Params, srv bool) *Tls {
	return &Tls{fd: fd, cfg: cfg, obs: obs, p: p, srv: srv}
}

// Start runs the handshake (and optional app-level exchange) to completion
// on a dedicated goroutine, reporting the outcome to the observer.
func (h *Tls) Start() {
	go h.run()
}

func (h *Tls) run() {
	f := osFile(h.fd)
	raw, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		logger.WithField("socket_id", h.fd).WithError(err).Error("tls handshake: net.FileConn failed")
		h.obs.OnTlsHandshakeError(h.fd, liberr.New(CodeIo, err.Error(), err))
		return
	}

	deadline := time.Time{}
	if h.p.TimeoutS > 0 {
		deadline = time.Now().Add(time.Duration(h.p.TimeoutS * float64(time.Second)))
		_ = raw.SetDeadline(deadline)
	}

	var conn *tls.Conn
	if h.srv {
		conn = tls.Server(raw, h.cfg)
	} else {
		conn = tls.Client(raw, h.cfg)
	}

	if err := conn.Handshake(); err != nil {
		if isTimeout(err) {
			logger.WithField("socket_id", h.fd).Debug("tls handshake timed out")
			h.obs.OnTlsHandshakeTimeout(h.fd)
		} else {
			logger.WithField("socket_id", h.fd).WithError(err).Error("tls handshake failed")
			h.obs.OnTlsHandshakeError(h.fd, liberr.New(CodeTls, err.Error(), err))
		}
		return
	}

	var recvBuf []byte
	if h.p.RecvDataSize > 0 {
		recvBuf = make([]byte, h.p.RecvDataSize)
	}

	doSend := func() error {
		if len(h.p.SendData) == 0 {
			return nil
		}
		_, err := conn.Write(h.p.SendData)
		return err
	}
	doRecv := func() error {
		if len(recvBuf) == 0 {
			return nil
		}
		_, err := io.ReadFull(conn, recvBuf)
		return err
	}

	var opErr error
	if h.p.RecvFirst {
		opErr = doRecv()
		if opErr == nil {
			opErr = doSend()
		}
	} else {
		opErr = doSend()
		if opErr == nil {
			opErr = doRecv()
		}
	}

	if opErr != nil {
		if isTimeout(opErr) {
			logger.WithField("socket_id", h.fd).Debug("tls post-handshake exchange timed out")
			h.obs.OnTlsHandshakeTimeout(h.fd)
		} else {
			logger.WithField("socket_id", h.fd).WithError(opErr).Error("tls post-handshake exchange failed")
			h.obs.OnTlsHandshakeError(h.fd, liberr.New(CodeTls, opErr.Error(), opErr))
		}
		return
	}

	_ = raw.SetDeadline(time.Time{})
	logger.WithField("socket_id", h.fd).Debug("tls handshake completed")
	h.obs.OnTlsHandshakeDone(conn, recvBuf)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func osFile(fd int) *os.File {
	return os.NewFile(uintptr(fd), "tls-handshake-raw")
}
