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
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	log "github.com/sirupsen/logrus"

	liberr "github.com/pronet-go/pronet/errors"

	"github.com/pronet-go/pronet/bsdsock"
)

var logger = log.WithField("component", "servicehub")

func closeFd(fd int) {
	_ = unix.Close(fd)
}

// HeartbeatInterval is how often a registered host is expected to send a
// control-channel heartbeat.
const HeartbeatInterval = 1 * time.Second

// PipeTimeout is how long the hub waits without a heartbeat before evicting
// a registered host's entry.
const PipeTimeout = 10 * time.Second

// ReconnectInterval is how long a host waits between failed connect attempts
// to the hub's control channel.
const ReconnectInterval = 5 * time.Second

// SockTimeout is a handoff expiry of 5 s. The hub does not consult it: it
// keeps no set of pending handoffs, and RouteAccept closes its local copy of
// the client socket as soon as the SCM_RIGHTS send returns.
const SockTimeout = 5 * time.Second

// HubObserver is notified of registration lifecycle events, mainly for
// logging/metrics at the call site.
type HubObserver interface {
	OnHostRegistered(serviceId uint8, processId uint64)
	OnHostEvicted(serviceId uint8, processId uint64, reason error)
}

type hostEntry struct {
	mu            sync.Mutex
	serviceId     uint8
	processId     uint64
	totalSock     uint64
	conn          *net.UnixConn
	fd            int
	lastHeartbeat time.Time
}

func (e *hostEntry) touch() {
	e.mu.Lock()
	e.lastHeartbeat = time.Now()
	e.mu.Unlock()
}

func (e *hostEntry) idleFor() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Since(e.lastHeartbeat)
}

// Hub is the control-channel server: it accepts registrations from host
// processes over a UNIX-domain socket, tracks their liveness, and routes
// accepted client sockets to the registered host for their serviceId via
// SCM_RIGHTS fd-passing.
type Hub struct {
	mu       sync.RWMutex
	byServ   map[uint8]*hostEntry
	obs      HubObserver
	listener *net.UnixListener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewHub creates a hub listening for host registrations on ctlSocketPath.
func NewHub(ctlSocketPath string, obs HubObserver) (*Hub, liberr.Error) {
	l, lerr := bsdsock.ListenUnix(ctlSocketPath)
	if lerr != nil {
		return nil, lerr
	}
	h := &Hub{
		byServ:   make(map[uint8]*hostEntry),
		obs:      obs,
		listener: l,
		stopCh:   make(chan struct{}),
	}
	return h, nil
}

// Start accepts registrations and runs the heartbeat-eviction reaper.
func (h *Hub) Start() {
	h.wg.Add(2)
	go h.acceptLoop()
	go h.reapLoop()
}

// Stop closes the listener and every registered host connection.
func (h *Hub) Stop() {
	close(h.stopCh)
	_ = h.listener.Close()
	h.mu.Lock()
	for _, e := range h.byServ {
		_ = e.conn.Close()
	}
	h.byServ = make(map[uint8]*hostEntry)
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) acceptLoop() {
	defer h.wg.Done()
	for {
		c, err := h.listener.AcceptUnix()
		if err != nil {
			select {
			case <-h.stopCh:
				return
			default:
				continue
			}
		}
		go h.handleRegistration(c)
	}
}

func (h *Hub) handleRegistration(c *net.UnixConn) {
	fd := bsdsock.FdFromConn(c)

	buf := make([]byte, WireSize)
	data, _, lerr := bsdsock.RecvFds(fd, len(buf), 0)
	if lerr != nil {
		logger.WithError(lerr).Error("registration: recv failed")
		_ = c.Close()
		return
	}
	pkt, derr := Decode(data)
	if derr != nil {
		logger.WithError(derr).Error("registration: decode failed")
		_ = c.Close()
		return
	}

	entry := &hostEntry{
		serviceId:     pkt.C2S.ServiceId,
		processId:     pkt.C2S.ProcessId,
		totalSock:     pkt.C2S.TotalSock,
		conn:          c,
		fd:            fd,
		lastHeartbeat: time.Now(),
	}

	reply := ServicePacket{
		C2S: pkt.C2S,
		S2C: S2C{ServiceId: pkt.C2S.ServiceId},
	}
	if lerr := bsdsock.SendFds(fd, Encode(reply)); lerr != nil {
		_ = c.Close()
		return
	}

	h.mu.Lock()
	h.byServ[pkt.C2S.ServiceId] = entry
	h.mu.Unlock()

	logger.WithField("service_id", entry.serviceId).WithField("process_id", entry.processId).Debug("host registered")
	if h.obs != nil {
		h.obs.OnHostRegistered(entry.serviceId, entry.processId)
	}

	h.heartbeatLoop(entry)
}

func (h *Hub) heartbeatLoop(e *hostEntry) {
	for {
		data, _, lerr := bsdsock.RecvFds(e.fd, WireSize, 0)
		if lerr != nil || len(data) == 0 {
			h.evict(e, lerr)
			return
		}
		pkt, derr := Decode(data)
		if derr != nil {
			h.evict(e, derr)
			return
		}
		e.mu.Lock()
		e.totalSock = pkt.C2S.TotalSock
		e.mu.Unlock()
		e.touch()
	}
}

func (h *Hub) reapLoop() {
	defer h.wg.Done()
	t := time.NewTicker(HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-t.C:
			h.mu.RLock()
			stale := make([]*hostEntry, 0)
			for _, e := range h.byServ {
				if e.idleFor() > PipeTimeout {
					stale = append(stale, e)
				}
			}
			h.mu.RUnlock()
			for _, e := range stale {
				h.evict(e, errPipeTimeout{})
			}
		}
	}
}

func (h *Hub) evict(e *hostEntry, reason error) {
	h.mu.Lock()
	if cur, ok := h.byServ[e.serviceId]; ok && cur == e {
		delete(h.byServ, e.serviceId)
	}
	h.mu.Unlock()
	_ = e.conn.Close()
	logger.WithField("service_id", e.serviceId).WithField("process_id", e.processId).WithError(reason).Warn("host evicted")
	if h.obs != nil {
		h.obs.OnHostEvicted(e.serviceId, e.processId, reason)
	}
}

// SnapshotHosts returns the currently registered serviceId -> processId map.
func (h *Hub) SnapshotHosts() map[uint8]uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[uint8]uint64, len(h.byServ))
	for id, e := range h.byServ {
		out[id] = e.processId
	}
	return out
}

// TotalActiveSockets sums each registered host's most recently heartbeated
// socket count. The hub itself never holds a routed client socket open past
// the SCM_RIGHTS handoff, so this — not a local fd count — is its view of
// how many transports are live across the fleet.
func (h *Hub) TotalActiveSockets() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var total uint64
	for _, e := range h.byServ {
		e.mu.Lock()
		total += e.totalSock
		e.mu.Unlock()
	}
	return total
}

// RouteAccept hands clientFd to the host registered for serviceId via
// SCM_RIGHTS. The caller's copy of clientFd is always closed afterward,
// whether or not the handoff succeeded, since ownership has transferred
// (or the socket is unroutable and must not leak).
func (h *Hub) RouteAccept(serviceId uint8, clientFd int, remote net.Addr) liberr.Error {
	h.mu.RLock()
	e, ok := h.byServ[serviceId]
	h.mu.RUnlock()

	defer closeFd(clientFd)

	if !ok {
		logger.WithField("service_id", serviceId).Warn("route accept: no host registered for service")
		return liberr.New(uint16(liberr.MinPkgServiceHub+3), "no host registered for service")
	}

	addr := ""
	if remote != nil {
		addr = remote.String()
	}
	payload := []byte(addr)
	return bsdsock.SendFds(e.fd, payload, clientFd)
}

type errPipeTimeout struct{}

func (errPipeTimeout) Error() string { return "control pipe heartbeat timeout" }
