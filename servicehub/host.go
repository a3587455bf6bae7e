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

package servicehub

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	liberr "github.com/pronet-go/pronet/errors"

	"github.com/pronet-go/pronet/bsdsock"
)

// HostObserver receives client sockets routed from the hub and is consulted
// for the live socket count advertised on each heartbeat.
type HostObserver interface {
	OnSocketReceived(fd int, remoteAddr string)
	OnHubDisconnected(err error)
	CurrentSocketCount() uint64
}

// Host is the control-channel client: it registers with a hub for a given
// serviceId, keeps the registration alive with periodic heartbeats, and
// receives client sockets the hub routes to it via SCM_RIGHTS.
type Host struct {
	ctlSocketPath string
	serviceId     uint8
	processId     uint64
	obs           HostObserver

	stopped atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewHost creates a host that will register for serviceId against the hub
// listening on ctlSocketPath.
func NewHost(ctlSocketPath string, serviceId uint8, processId uint64, obs HostObserver) *Host {
	return &Host{
		ctlSocketPath: ctlSocketPath,
		serviceId:     serviceId,
		processId:     processId,
		obs:           obs,
		stopCh:        make(chan struct{}),
	}
}

// Start runs the connect/register/heartbeat/reconnect loop until Stop.
func (h *Host) Start() {
	h.wg.Add(1)
	go h.run()
}

// Stop tears down the current connection and prevents further reconnects.
func (h *Host) Stop() {
	if h.stopped.CompareAndSwap(false, true) {
		close(h.stopCh)
	}
	h.wg.Wait()
}

func (h *Host) run() {
	defer h.wg.Done()
	for !h.stopped.Load() {
		if err := h.connectAndServe(); err != nil {
			logger.WithField("service_id", h.serviceId).WithError(err).Warn("hub connection lost")
			if h.obs != nil {
				h.obs.OnHubDisconnected(err)
			}
		}
		if h.stopped.Load() {
			return
		}
		select {
		case <-h.stopCh:
			return
		case <-time.After(ReconnectInterval):
		}
	}
}

func (h *Host) connectAndServe() error {
	c, lerr := bsdsock.DialUnix(h.ctlSocketPath)
	if lerr != nil {
		return lerr
	}
	defer func() { _ = c.Close() }()

	fd := bsdsock.FdFromConn(c)

	reg := ServicePacket{C2S: C2S{
		ServiceId: h.serviceId,
		ProcessId: h.processId,
		TotalSock: h.currentCount(),
	}}
	if lerr := bsdsock.SendFds(fd, Encode(reg)); lerr != nil {
		return lerr
	}

	data, _, lerr := bsdsock.RecvFds(fd, WireSize, 0)
	if lerr != nil {
		return lerr
	}
	if _, derr := Decode(data); derr != nil {
		return derr
	}
	logger.WithField("service_id", h.serviceId).WithField("process_id", h.processId).Debug("registered with hub")

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	recvDone := make(chan error, 1)
	go h.recvLoop(fd, recvDone)

	for {
		select {
		case <-h.stopCh:
			return nil
		case err := <-recvDone:
			return err
		case <-ticker.C:
			hb := ServicePacket{C2S: C2S{
				ServiceId: h.serviceId,
				ProcessId: h.processId,
				TotalSock: h.currentCount(),
			}}
			if lerr := bsdsock.SendFds(fd, Encode(hb)); lerr != nil {
				return lerr
			}
		}
	}
}

func (h *Host) currentCount() uint64 {
	if h.obs == nil {
		return 0
	}
	return h.obs.CurrentSocketCount()
}

// recvLoop reads routed client sockets off the control connection; each
// message's leading bytes are the remote address string passed by the hub,
// any SCM_RIGHTS fds are the handed-off client sockets.
func (h *Host) recvLoop(fd int, done chan<- error) {
	for {
		data, fds, lerr := bsdsock.RecvFds(fd, 256, 1)
		if lerr != nil {
			done <- lerr
			return
		}
		if len(fds) == 0 {
			continue
		}
		addr := string(data)
		for _, f := range fds {
			logger.WithField("service_id", h.serviceId).WithField("fd", f).WithField("remote", addr).Debug("socket received from hub")
			if h.obs != nil {
				h.obs.OnSocketReceived(f, addr)
			} else {
				_ = unix.Close(f)
			}
		}
	}
}
