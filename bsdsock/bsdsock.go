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

// Package bsdsock wraps the raw socket primitives the reactor and
// servicehub packages need and that net.Conn does not expose: non-blocking
// mode, scatter/gather I/O and SCM_RIGHTS ancillary file-descriptor passing
// over UNIX-domain sockets.
package bsdsock

import (
	"net"
	"os"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"

	liberr "github.com/pronet-go/pronet/errors"
)

// FdFromConn extracts the raw file descriptor backing a net.Conn, the same
// way a prometheus collector would to call getsockopt(TCP_INFO) on it.
func FdFromConn(c net.Conn) int {
	return netfd.GetFdFromConn(c)
}

// SetNonblock toggles O_NONBLOCK on fd.
func SetNonblock(fd int, nonblocking bool) liberr.Error {
	if err := unix.SetNonblock(fd, nonblocking); err != nil {
		return liberr.New(uint16(liberr.MinPkgBsdSock+1), "setnonblock: "+err.Error())
	}
	return nil
}

// Readv performs a scatter read into bufs, returning the total bytes read.
func Readv(fd int, bufs [][]byte) (int, error) {
	return unix.Readv(fd, bufs)
}

// Writev performs a gather write from bufs, returning the total bytes
// written.
func Writev(fd int, bufs [][]byte) (int, error) {
	return unix.Writev(fd, bufs)
}

// SendFds sends data plus one or more open file descriptors as SCM_RIGHTS
// ancillary data over a UNIX-domain socket. Used by servicehub to hand a
// freshly accepted client socket from the hub process to a host process.
func SendFds(sockFd int, data []byte, fds ...int) liberr.Error {
	if len(data) == 0 {
		data = []byte{0}
	}
	rights := unix.UnixRights(fds...)
	if err := unix.Sendmsg(sockFd, data, rights, nil, 0); err != nil {
		return liberr.New(uint16(liberr.MinPkgBsdSock+2), "sendmsg(SCM_RIGHTS): "+err.Error())
	}
	return nil
}

// RecvFds receives data plus any SCM_RIGHTS file descriptors carried in the
// same datagram/stream message. maxFds bounds how many descriptors are
// parsed out of the control message.
func RecvFds(sockFd int, bufSize int, maxFds int) (data []byte, fds []int, lerr liberr.Error) {
	buf := make([]byte, bufSize)
	oob := make([]byte, unix.CmsgSpace(maxFds*4))

	n, oobn, _, _, err := unix.Recvmsg(sockFd, buf, oob, 0)
	if err != nil {
		return nil, nil, liberr.New(uint16(liberr.MinPkgBsdSock+3), "recvmsg: "+err.Error())
	}
	data = buf[:n]

	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return data, nil, liberr.New(uint16(liberr.MinPkgBsdSock+4), "parse cmsg: "+err.Error())
		}
		for _, c := range cmsgs {
			parsed, err := unix.ParseUnixRights(&c)
			if err != nil {
				continue
			}
			fds = append(fds, parsed...)
		}
	}
	return data, fds, nil
}

// ListenUnix opens a UNIX-domain stream socket for the hub/host control
// channel at path, removing any stale socket file first.
func ListenUnix(path string) (*net.UnixListener, liberr.Error) {
	_ = os.Remove(path)
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, liberr.New(uint16(liberr.MinPkgBsdSock+5), "listen unix: "+err.Error())
	}
	return l, nil
}

// DialUnix connects to a UNIX-domain control-channel socket.
func DialUnix(path string) (*net.UnixConn, liberr.Error) {
	c, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, liberr.New(uint16(liberr.MinPkgBsdSock+6), "dial unix: "+err.Error())
	}
	return c, nil
}
