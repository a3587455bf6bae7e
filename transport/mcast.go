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

	"golang.org/x/sys/unix"

	liberr "github.com/pronet-go/pronet/errors"
	"github.com/pronet-go/pronet/reactor"
)

// Mcast is a Udp transport bound and joined for multicast reception. TTL is
// fixed at 32 and loopback delivery is disabled, per the bind/join contract.
type Mcast struct {
	*Udp
}

// NewMcastSocket creates, binds and joins a multicast socket, returning its
// raw fd ready to be wrapped by NewMcast.
func NewMcastSocket(localBindIp net.IP, mcastPort int, mcastIp net.IP) (int, liberr.Error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		logger.WithError(err).Error("mcast socket() failed")
		return -1, liberr.New(uint16(liberr.MinPkgTransport+1), "socket: "+err.Error())
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, liberr.New(uint16(liberr.MinPkgTransport+2), "so_reuseaddr: "+err.Error())
	}

	sa := &unix.SockaddrInet4{Port: mcastPort}
	if ip4 := localBindIp.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, liberr.New(uint16(liberr.MinPkgTransport+3), "bind: "+err.Error())
	}

	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], mcastIp.To4())
	copy(mreq.Interface[:], localBindIp.To4())
	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		_ = unix.Close(fd)
		return -1, liberr.New(uint16(liberr.MinPkgTransport+4), "ip_add_membership: "+err.Error())
	}
	if err := unix.SetsockoptByte(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, 32); err != nil {
		_ = unix.Close(fd)
		return -1, liberr.New(uint16(liberr.MinPkgTransport+5), "ip_multicast_ttl: "+err.Error())
	}
	if err := unix.SetsockoptByte(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 0); err != nil {
		_ = unix.Close(fd)
		return -1, liberr.New(uint16(liberr.MinPkgTransport+6), "ip_multicast_loop: "+err.Error())
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, liberr.New(uint16(liberr.MinPkgTransport+7), "setnonblock: "+err.Error())
	}
	logger.WithField("socket_id", fd).WithField("mcastIp", mcastIp.String()).Debug("mcast socket joined")
	return fd, nil
}

// NewMcast wraps a socket created by NewMcastSocket.
func NewMcast(r *reactor.Reactor, fd int, obs Observer) *Mcast {
	return &Mcast{Udp: NewUdp(r, fd, obs)}
}

func (m *Mcast) Kind() Kind { return KindMcast }

// AddMcastReceiver joins an additional multicast group on the bound fd.
func (m *Mcast) AddMcastReceiver(localBindIp, mcastIp net.IP) liberr.Error {
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], mcastIp.To4())
	copy(mreq.Interface[:], localBindIp.To4())
	if err := unix.SetsockoptIPMreq(m.fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		return liberr.New(uint16(liberr.MinPkgTransport+8), "ip_add_membership: "+err.Error())
	}
	return nil
}

// RemoveMcastReceiver leaves a previously joined multicast group.
func (m *Mcast) RemoveMcastReceiver(localBindIp, mcastIp net.IP) liberr.Error {
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], mcastIp.To4())
	copy(mreq.Interface[:], localBindIp.To4())
	if err := unix.SetsockoptIPMreq(m.fd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, mreq); err != nil {
		return liberr.New(uint16(liberr.MinPkgTransport+9), "ip_drop_membership: "+err.Error())
	}
	return nil
}
