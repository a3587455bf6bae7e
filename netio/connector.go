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

package netio

import (
	"net"

	"golang.org/x/sys/unix"

	liberr "github.com/pronet-go/pronet/errors"
	"github.com/pronet-go/pronet/handshake"
	"github.com/pronet-go/pronet/reactor"
)

// ConnectorObserver receives the outcome of a connect attempt.
type ConnectorObserver interface {
	OnConnectOk(sock int)
	OnConnectOkEx(sock int, nonce [nonceSize]byte)
	OnConnectFailed(timedOut bool, err error)
}

// Connector resolves a remote and connects to it, optionally preferring a
// UNIX-domain socket when the target is 127.0.0.1 (loopback fast path, no
// TCP/IP stack round trip needed for same-host hub/host control pipes).
type Connector struct {
	r         *reactor.Reactor
	obs       ConnectorObserver
	extended  bool
	serviceId uint8
	optionB   uint8
	timeoutS  float64
}

// NewConnector creates a connector; serviceId/serviceOpt are only meaningful
// when extended is true.
func NewConnector(r *reactor.Reactor, obs ConnectorObserver, extended bool, serviceId, serviceOpt uint8, timeoutS float64) *Connector {
	return &Connector{r: r, obs: obs, extended: extended, serviceId: serviceId, optionB: serviceOpt, timeoutS: timeoutS}
}

// Connect resolves ip:port (or, when unixPathFor127001 is non-empty and ip is
// 127.0.0.1, dials that UNIX-domain socket instead) and drives the handshake.
func (c *Connector) Connect(ip net.IP, port int, unixPathFor127001 string) error {
	var fd int
	var err error

	if unixPathFor127001 != "" && ip.Equal(net.IPv4(127, 0, 0, 1)) {
		fd, err = dialUnix(unixPathFor127001)
	} else {
		fd, err = dialTcp(ip, port)
	}
	if err != nil {
		logger.WithField("ip", ip.String()).WithField("port", port).WithError(err).Error("connect failed")
		return err
	}
	logger.WithField("socket_id", fd).WithField("ip", ip.String()).WithField("port", port).Debug("connected")

	if !c.extended {
		c.obs.OnConnectOk(fd)
		return nil
	}

	h := handshake.NewTcp(c.r, fd, &connectRecvNonceObserver{c: c}, handshake.Params{
		RecvDataSize: nonceSize,
		RecvFirst:    true,
		TimeoutS:     c.timeoutS,
	})
	h.Start()
	return nil
}

// dialTcp opens a non-blocking socket and issues connect(); EINPROGRESS is
// expected and not an error — the socket is returned while the connect may
// still be in progress.
func dialTcp(ip net.IP, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	sa := &unix.SockaddrInet4{Port: port}
	if ip4 := ip.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func dialUnix(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

type connectRecvNonceObserver struct {
	c *Connector
}

func (o *connectRecvNonceObserver) OnHandshakeDone(fd int, recvData []byte) {
	var nonce [nonceSize]byte
	copy(nonce[:], recvData)

	reply := make([]byte, extReplySize)
	reply[0] = o.c.serviceId
	reply[1] = o.c.optionB
	copy(reply[2:2+nonceSize], nonce[:])
	rPlus1 := make([]byte, nonceSize)
	copy(rPlus1, nonce[:])
	incrementBigEndian(rPlus1)
	copy(reply[2+nonceSize:], rPlus1)

	h := handshake.NewTcp(o.c.r, fd, &connectSendReplyObserver{c: o.c, nonce: nonce}, handshake.Params{
		SendData: reply,
		TimeoutS: o.c.timeoutS,
	})
	h.Start()
}

func (o *connectRecvNonceObserver) OnHandshakeTimeout(fd int) {
	_ = unix.Close(fd)
	o.c.obs.OnConnectFailed(true, nil)
}

func (o *connectRecvNonceObserver) OnHandshakeError(fd int, err liberr.Error) {
	_ = unix.Close(fd)
	o.c.obs.OnConnectFailed(false, err)
}

type connectSendReplyObserver struct {
	c     *Connector
	nonce [nonceSize]byte
}

func (o *connectSendReplyObserver) OnHandshakeDone(fd int, _ []byte) {
	o.c.obs.OnConnectOkEx(fd, o.nonce)
}

func (o *connectSendReplyObserver) OnHandshakeTimeout(fd int) {
	_ = unix.Close(fd)
	o.c.obs.OnConnectFailed(true, nil)
}

func (o *connectSendReplyObserver) OnHandshakeError(fd int, err liberr.Error) {
	_ = unix.Close(fd)
	o.c.obs.OnConnectFailed(false, err)
}
