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

package bucket

import (
	"container/list"
	"time"
)

// MaxFrameSize is the per-frame ceiling; exceeding it forces resynchronisation.
const MaxFrameSize = 1024 * 1024

// Video is the GOP-aware bucket. Unlike Base/Audio it queues individual
// packets (get_front/pop_front surface one RTP entry at a time) but groups
// them internally into frames (bracketed by FirstPacketOfFrame ... Marker)
// to decide flush-on-keyframe and drop-on-overflow behaviour.
type Video struct {
	redline      Redline
	stat         *FlowStat
	needKeyFrame bool

	inProgress   []*Entry
	inProgressSz int
	inProgressKF bool
	frameTick    time.Time

	packets      *list.List // flat queue of *Entry, oldest first
	frames       *list.List // *frameMeta, oldest first, parallel grouping of packets
	queuedBytes  int
	queuedFrames int
}

type frameMeta struct {
	count    int
	size     int
	keyFrame bool
	tick     time.Time
}

// NewVideo creates an empty video bucket, initially waiting for a keyframe.
func NewVideo(r Redline) *Video {
	return &Video{
		redline:      r,
		stat:         NewFlowStat(time.Second),
		needKeyFrame: true,
		packets:      list.New(),
		frames:       list.New(),
	}
}

// NeedKeyFrame reports whether the bucket is currently waiting for the next
// keyframe before it will accept any further data.
func (v *Video) NeedKeyFrame() bool { return v.needKeyFrame }

func (v *Video) resync() {
	v.needKeyFrame = true
	v.inProgress = nil
	v.inProgressSz = 0
	v.packets.Init()
	v.frames.Init()
	v.queuedBytes, v.queuedFrames = 0, 0
}

func (v *Video) PushBack(e *Entry, now time.Time) bool {
	if v.needKeyFrame {
		if !(e.KeyFrame && e.FirstPacketOfFrame) {
			return true
		}
		v.needKeyFrame = false
		v.inProgress = []*Entry{e}
		v.inProgressSz = e.size()
		v.inProgressKF = true
		v.frameTick = now
		if e.Marker {
			v.completeFrame(now)
		}
		return true
	}

	if e.FirstPacketOfFrame {
		v.inProgress = []*Entry{e}
		v.inProgressSz = e.size()
		v.inProgressKF = e.KeyFrame
		v.frameTick = now
	} else {
		if v.inProgress == nil {
			// stray continuation packet: resynchronise
			v.resync()
			return true
		}
		v.inProgress = append(v.inProgress, e)
		v.inProgressSz += e.size()
		if v.inProgressSz > MaxFrameSize {
			v.resync()
			return true
		}
	}

	if e.Marker {
		v.completeFrame(now)
	}
	return true
}

func (v *Video) oldestFrameExpired(now time.Time) bool {
	if v.redline.DelayMs <= 0 {
		return false
	}
	for fm := v.frames.Front(); fm != nil; fm = fm.Next() {
		m := fm.Value.(*frameMeta)
		if m.keyFrame {
			continue
		}
		return now.Sub(m.tick) > time.Duration(v.redline.DelayMs)*time.Millisecond
	}
	return false
}

func (v *Video) completeFrame(now time.Time) {
	entries := v.inProgress
	size := v.inProgressSz
	isKey := v.inProgressKF
	tick := v.frameTick
	v.inProgress = nil
	v.inProgressSz = 0

	if isKey {
		// implicit flush: an I-frame discards everything queued before it.
		v.packets.Init()
		v.frames.Init()
		v.queuedBytes, v.queuedFrames = 0, 0
		for _, e := range entries {
			v.packets.PushBack(e)
		}
		v.frames.PushBack(&frameMeta{count: len(entries), size: size, keyFrame: true, tick: tick})
		v.queuedBytes += size
		v.queuedFrames++
		v.stat.RecordPush(size, now)
		return
	}

	overflow := (v.redline.Bytes > 0 && v.queuedBytes+size > v.redline.Bytes) ||
		(v.redline.Frames > 0 && v.queuedFrames+1 > v.redline.Frames) ||
		v.oldestFrameExpired(now)
	if overflow {
		v.resync()
		return
	}
	for _, e := range entries {
		v.packets.PushBack(e)
	}
	v.frames.PushBack(&frameMeta{count: len(entries), size: size, keyFrame: false, tick: tick})
	v.queuedBytes += size
	v.queuedFrames++
	v.stat.RecordPush(size, now)
}

// pruneExpired drops whole expired non-key frames (and their packets) from
// the front of the queue.
func (v *Video) pruneExpired(now time.Time) {
	if v.redline.DelayMs <= 0 {
		return
	}
	delay := time.Duration(v.redline.DelayMs) * time.Millisecond
	for fe := v.frames.Front(); fe != nil; fe = v.frames.Front() {
		m := fe.Value.(*frameMeta)
		if m.keyFrame || now.Sub(m.tick) <= delay {
			break
		}
		v.frames.Remove(fe)
		v.queuedBytes -= m.size
		v.queuedFrames--
		for i := 0; i < m.count; i++ {
			if pe := v.packets.Front(); pe != nil {
				v.packets.Remove(pe)
			}
		}
	}
}

func (v *Video) GetFront() *Entry {
	v.pruneExpired(time.Now())
	if e := v.packets.Front(); e != nil {
		return e.Value.(*Entry)
	}
	return nil
}

func (v *Video) PopFront(now time.Time) *Entry {
	v.pruneExpired(now)
	pe := v.packets.Front()
	if pe == nil {
		return nil
	}
	ent := pe.Value.(*Entry)
	v.packets.Remove(pe)

	fe := v.frames.Front()
	if fe != nil {
		m := fe.Value.(*frameMeta)
		m.count--
		if m.count <= 0 {
			v.frames.Remove(fe)
			v.queuedFrames--
		}
		v.queuedBytes -= ent.size()
	}
	v.stat.RecordPop(ent.size(), now)
	return ent
}

func (v *Video) Reset() {
	v.resync()
}

func (v *Video) SetRedline(r Redline) { v.redline = r }
func (v *Video) GetRedline() Redline  { return v.redline }
func (v *Video) Stats() *FlowStat     { return v.stat }
