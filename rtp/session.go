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

package rtp

import (
	"container/list"
	"math"
	"sync"
	"time"

	"github.com/pronet-go/pronet/bucket"
	"github.com/pronet-go/pronet/reorder"
)

// TransportKind distinguishes datagram-family transports (Udp/Mcast, where
// every bucket push drains immediately) from stream-family ones (Tcp/Ssl,
// where draining is instead driven by the transport's own on_send upcalls).
type TransportKind uint8

const (
	KindDatagram TransportKind = iota
	KindStream
)

// Transport is the minimal capability the session needs from whatever sits
// underneath it. The transport package's Tcp/Udp/Mcast/Tls types do not
// implement it directly: their Kind returns transport.Kind and their Send
// also takes an action id and a remote address.
type Transport interface {
	Kind() TransportKind
	Send(data []byte) bool
}

// Observer receives the session-level upcalls.
type Observer interface {
	OnRecv(p *Packet)
	OnSendErased()
	OnClose(err error)
	OnHeartbeat()
}

// SessionInfo is negotiated once at session setup (§3 RtpSessionInfo).
type SessionInfo struct {
	MmType       uint8
	PackMode     PackMode
	LocalVersion uint16
	RemoteVer    uint16
	SomeId       uint32
	MmId         uint32
	InSrcMmId    uint32
	OutSrcMmId   uint32
	UserData     [64]byte
}

// Session composes one transport, one bucket, and per-direction statistics.
type Session struct {
	mu sync.Mutex

	transport Transport
	bkt       bucket.Bucket
	info      SessionInfo
	observer  Observer

	enabledInput  bool
	enabledOutput bool

	lastPushFailed bool

	reorderBuf  *reorder.Buffer
	recvStat    *bucket.FlowStat
	haveLastSeq bool
	lastSeq     uint16
	lastRecvAt  time.Time

	maxBrokenDuration time.Duration

	timerDeque  *list.List
	timerMu     sync.Mutex
	timerTicker *time.Ticker
	timerStop   chan struct{}
}

type timedEntry struct {
	entry    *bucket.Entry
	deadline time.Time
}

// NewSession wires a transport and a bucket (one of bucket.NewBase /
// NewAudio / NewVideo) into a session, optionally enabling the receive-side
// reorder buffer for datagram-family sessions.
func NewSession(t Transport, b bucket.Bucket, info SessionInfo, obs Observer, reorderParams *reorder.Params) *Session {
	s := &Session{
		transport:         t,
		bkt:               b,
		info:              info,
		observer:          obs,
		enabledInput:      true,
		enabledOutput:     true,
		recvStat:          bucket.NewFlowStat(time.Second),
		maxBrokenDuration: 10 * time.Second,
	}
	if reorderParams != nil {
		p := *reorderParams
		s.reorderBuf = reorder.New(p)
	}
	return s
}

// EnableInput pauses/resumes upcalls to the observer; the transport keeps
// receiving underneath regardless.
func (s *Session) EnableInput(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabledInput = on
}

// EnableOutput empties and holds the bucket when disabled.
func (s *Session) EnableOutput(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabledOutput = on
	if !on {
		s.bkt.Reset()
	}
}

// SendPacket pushes a packet into the bucket; for datagram-family sessions
// it also attempts to drain one frame immediately.
func (s *Session) SendPacket(p *Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendPacketLocked(p)
}

func (s *Session) sendPacketLocked(p *Packet) bool {
	if !s.enabledOutput {
		return false
	}
	e := &bucket.Entry{
		Payload:            p.Payload,
		EnqueueTick:        time.Now(),
		Marker:             p.Marker,
		KeyFrame:           p.KeyFrame,
		FirstPacketOfFrame: p.FirstPacketOfFrame,
	}
	ok := s.bkt.PushBack(e, e.EnqueueTick)
	if !ok && !s.lastPushFailed && s.observer != nil {
		s.observer.OnSendErased()
	}
	s.lastPushFailed = !ok
	if ok && s.transport != nil && s.transport.Kind() == KindDatagram {
		s.drainOneLocked()
	}
	return ok
}

// DrainOneToTransport pulls the bucket's front entry and hands it to the
// transport. Stream-family sessions call this from their on_send upcall.
func (s *Session) DrainOneToTransport() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainOneLocked()
}

func (s *Session) drainOneLocked() bool {
	e := s.bkt.GetFront()
	if e == nil {
		return false
	}
	wire := s.encodeEntry(e)
	if !s.transport.Send(wire) {
		return false
	}
	s.bkt.PopFront(time.Now())
	return true
}

func (s *Session) encodeEntry(e *bucket.Entry) []byte {
	p := &Packet{
		Marker:             e.Marker,
		KeyFrame:           e.KeyFrame,
		FirstPacketOfFrame: e.FirstPacketOfFrame,
		PackMode:           s.info.PackMode,
		MmType:             s.info.MmType,
		MmId:               s.info.MmId,
		Payload:            e.Payload,
	}
	if s.transport != nil && s.transport.Kind() == KindDatagram {
		return EncodeDatagram(p)
	}
	wire, err := EncodeStream(p)
	if err != nil {
		return nil
	}
	return wire
}

// SendPacketByTimer appends the packet to a time-scheduled deque served by a
// 1ms ticker; each tick releases ceil(len/remaining_ms) packets into the
// bucket so the whole batch completes within durationMs.
func (s *Session) SendPacketByTimer(p *Packet, durationMs int64) {
	s.timerMu.Lock()
	if s.timerDeque == nil {
		s.timerDeque = list.New()
	}
	deadline := time.Now().Add(time.Duration(durationMs) * time.Millisecond)
	s.timerDeque.PushBack(&timedEntry{entry: &bucket.Entry{
		Payload:            p.Payload,
		Marker:             p.Marker,
		KeyFrame:           p.KeyFrame,
		FirstPacketOfFrame: p.FirstPacketOfFrame,
	}, deadline: deadline})
	needStart := s.timerTicker == nil
	s.timerMu.Unlock()

	if needStart {
		s.startTimerLoop()
	}
}

func (s *Session) startTimerLoop() {
	s.timerMu.Lock()
	s.timerTicker = time.NewTicker(time.Millisecond)
	s.timerStop = make(chan struct{})
	ticker := s.timerTicker
	stop := s.timerStop
	s.timerMu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				ticker.Stop()
				return
			case now := <-ticker.C:
				s.tickTimerDeque(now)
			}
		}
	}()
}

func (s *Session) tickTimerDeque(now time.Time) {
	s.timerMu.Lock()
	if s.timerDeque == nil || s.timerDeque.Len() == 0 {
		s.timerMu.Unlock()
		return
	}
	remainingMs := int64(1)
	if front := s.timerDeque.Front(); front != nil {
		te := front.Value.(*timedEntry)
		if d := te.deadline.Sub(now).Milliseconds(); d > 1 {
			remainingMs = d
		}
	}
	release := int(math.Ceil(float64(s.timerDeque.Len()) / float64(remainingMs)))
	if release < 1 {
		release = 1
	}
	var batch []*bucket.Entry
	for i := 0; i < release; i++ {
		e := s.timerDeque.Front()
		if e == nil {
			break
		}
		s.timerDeque.Remove(e)
		batch = append(batch, e.Value.(*timedEntry).entry)
	}
	s.timerMu.Unlock()

	s.mu.Lock()
	for _, e := range batch {
		s.bkt.PushBack(e, now)
	}
	if s.transport != nil && s.transport.Kind() == KindDatagram {
		for s.drainOneLocked() {
		}
	}
	s.mu.Unlock()
}

// StopTimer halts the timed-release goroutine, if any.
func (s *Session) StopTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timerStop != nil {
		close(s.timerStop)
		s.timerStop = nil
		s.timerTicker = nil
	}
}

// OnRecv processes one inbound packet: optional reorder, then statistics
// and the observer upcall (unless input is disabled).
func (s *Session) OnRecv(p *Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.haveLastSeq {
		if now.Sub(s.lastRecvAt) > s.maxBrokenDuration {
			s.haveLastSeq = false
		}
	}
	s.lastRecvAt = now
	s.haveLastSeq = true
	s.lastSeq = p.Seq

	s.recvStat.RecordPush(len(p.Payload), now)

	if s.reorderBuf != nil {
		s.reorderBuf.Push(p.Seq, p.Payload, now)
		for {
			e := s.reorderBuf.Pop(false, now)
			if e == nil {
				break
			}
			if s.enabledInput && s.observer != nil {
				cp := *p
				cp.Payload = e.Payload
				cp.Seq = e.Seq16
				s.observer.OnRecv(&cp)
			}
		}
		return
	}

	if s.enabledInput && s.observer != nil {
		s.observer.OnRecv(p)
	}
}

// RecvStats returns a snapshot of inbound frame/bit rate statistics.
func (s *Session) RecvStats() bucket.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvStat.Snapshot()
}

// SendStats returns a snapshot of the bucket's outbound statistics.
func (s *Session) SendStats() bucket.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bkt.Stats().Snapshot()
}
