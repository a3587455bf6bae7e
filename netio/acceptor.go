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

// Package netio implements the acceptor/connector pair and the extended
// handshake wire protocol (server nonce, client serviceId/serviceOpt/nonce
// echo) layered on top of the reactor and handshake packages.
package netio

import (
	"crypto/rand"
	"net"

	"golang.org/x/sys/unix"
	log "github.com/sirupsen/logrus"

	liberr "github.com/pronet-go/pronet/errors"
	"github.com/pronet-go/pronet/handshake"
	"github.com/pronet-go/pronet/reactor"
)

var logger = log.WithField("component", "netio")

const nonceSize = 32
const extReplySize = 1 + 1 + nonceSize + nonceSize // serviceId, serviceOpt, r, r+1

// AcceptorObserver receives accepted sockets, raw or extended-handshaked.
type AcceptorObserver interface {
	OnAccept(sock int, remote net.Addr)
	OnAcceptEx(sock int, serviceId uint8, serviceOpt uint8, nonce [nonceSize]byte, remote net.Addr)
	OnAcceptExFailed(sock int, timedOut bool, err error)
}

// Acceptor binds and listens on (ip, port); each accepted connection is
// either delivered directly or taken through the extended handshake before
// being surfaced to the observer.
type Acceptor struct {
	fd       int
	r        *reactor.Reactor
	obs      AcceptorObserver
	extended bool
	timeoutS float64
}

// NewAcceptor creates and binds a listening socket. If extended is true,
// every accepted socket goes through the server side of the extended
// handshake before OnAcceptEx fires; otherwise OnAccept fires immediately.
func NewAcceptor(r *reactor.Reactor, ip net.IP, port int, backlog int, obs AcceptorObserver, extended bool, timeoutS float64) (*Acceptor, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: port}
	if ip4 := ip.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	a := &Acceptor{fd: fd, r: r, obs: obs, extended: extended, timeoutS: timeoutS}
	logger.WithField("socket_id", fd).WithField("extended", extended).Debug("acceptor bound")
	return a, nil
}

// Start registers the listening socket with the reactor.
func (a *Acceptor) Start() bool {
	logger.WithField("socket_id", a.fd).Debug("acceptor started")
	return a.r.AddHandler(a.fd, a, reactor.EventRead)
}

// Stop deregisters and closes the listening socket.
func (a *Acceptor) Stop() {
	logger.WithField("socket_id", a.fd).Debug("acceptor stopped")
	a.r.RemoveHandler(a.fd, reactor.EventRead|reactor.EventWrite)
	_ = unix.Close(a.fd)
}

func (a *Acceptor) OnInput(int) {
	for {
		nfd, sa, err := unix.Accept(a.fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			return
		}
		_ = unix.SetNonblock(nfd, true)
		remote := sockaddrToAddr(sa)

		if !a.extended {
			a.obs.OnAccept(nfd, remote)
			continue
		}

		var nonce [nonceSize]byte
		_, _ = rand.Read(nonce[:])
		h := handshake.NewTcp(a.r, nfd, &acceptExObserver{a: a, nonce: nonce, remote: remote}, handshake.Params{
			SendData:     nonce[:],
			RecvDataSize: extReplySize,
			RecvFirst:    false,
			TimeoutS:     a.timeoutS,
		})
		h.Start()
	}
}

func (a *Acceptor) OnOutput(int) {}
func (a *Acceptor) OnError(int, error) {}

type acceptExObserver struct {
	a      *Acceptor
	nonce  [nonceSize]byte
	remote net.Addr
}

func (o *acceptExObserver) OnHandshakeDone(fd int, recvData []byte) {
	serviceId := recvData[0]
	serviceOpt := recvData[1]
	echoedR := recvData[2 : 2+nonceSize]
	echoedRPlus1 := recvData[2+nonceSize : 2+2*nonceSize]

	if string(echoedR) != string(o.nonce[:]) || !isIncrementedBy1(o.nonce[:], echoedRPlus1) {
		_ = unix.Close(fd)
		logger.WithField("socket_id", fd).Warn("extended handshake: nonce echo mismatch")
		o.a.obs.OnAcceptExFailed(fd, false, errNonceMismatch{})
		return
	}
	logger.WithField("socket_id", fd).WithField("service_id", serviceId).Debug("extended accept completed")
	o.a.obs.OnAcceptEx(fd, serviceId, serviceOpt, o.nonce, o.remote)
}

func (o *acceptExObserver) OnHandshakeTimeout(fd int) {
	logger.WithField("socket_id", fd).Debug("extended accept handshake timed out")
	o.a.obs.OnAcceptExFailed(fd, true, nil)
}

func (o *acceptExObserver) OnHandshakeError(fd int, err liberr.Error) {
	logger.WithField("socket_id", fd).WithError(err).Error("extended accept handshake failed")
	o.a.obs.OnAcceptExFailed(fd, false, err)
}

type errNonceMismatch struct{}

func (errNonceMismatch) Error() string { return "extended handshake: nonce echo mismatch" }

// isIncrementedBy1 reports whether b equals a viewed as a big-endian integer
// plus one, per the extended handshake wire protocol.
func isIncrementedBy1(a, b []byte) bool {
	want := make([]byte, len(a))
	copy(want, a)
	incrementBigEndian(want)
	return string(want) == string(b)
}

func incrementBigEndian(b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return nil
	}
}
