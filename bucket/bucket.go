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

// Package bucket implements the outbound flow-control queues interposed
// between an RTP session and its transport: a plain FIFO (base), a
// latest-wins variant (audio) and a GOP-aware variant (video).
package bucket

import "time"

// Entry is one outbound unit of work held by a bucket. The video bucket
// groups entries into frames by FirstPacketOfFrame/Marker bracketing but
// still pops them one entry at a time; base and audio buckets treat every
// push as its own entry.
type Entry struct {
	Payload            []byte
	EnqueueTick        time.Time
	Marker             bool
	KeyFrame           bool
	FirstPacketOfFrame bool
}

func (e *Entry) size() int {
	if e == nil {
		return 0
	}
	return len(e.Payload)
}

// Redline bounds a bucket's queue growth.
type Redline struct {
	Bytes   int
	Frames  int
	DelayMs int64
}

// Bucket is the common outbound-queue capability shared by the base, audio
// and video variants.
type Bucket interface {
	// PushBack enqueues an entry. Returns false iff the push was refused
	// (base bucket only — audio and video never refuse a push outright,
	// though video may drop the whole in-progress frame on overflow).
	PushBack(e *Entry, now time.Time) bool
	GetFront() *Entry
	PopFront(now time.Time) *Entry
	Reset()
	SetRedline(r Redline)
	GetRedline() Redline
	Stats() *FlowStat
}

// FlowStat tracks push/pop frame and bit rates over a sliding window, plus
// cached (currently queued) bytes and frame count.
type FlowStat struct {
	window time.Duration

	pushFrames, popFrames     int64
	pushBytes, popBytes       int64
	windowStart               time.Time
	pushFrameRate, popFrameRate float64
	pushBitRate, popBitRate     float64

	cachedBytes  int64
	cachedFrames int64
}

// NewFlowStat creates a flow-control statistics tracker with the given
// averaging window (defaults to 1s if zero or negative).
func NewFlowStat(window time.Duration) *FlowStat {
	if window <= 0 {
		window = time.Second
	}
	return &FlowStat{window: window, windowStart: time.Time{}}
}

func (f *FlowStat) RecordPush(n int, now time.Time) {
	f.rollWindow(now)
	f.pushFrames++
	f.pushBytes += int64(n)
	f.cachedBytes += int64(n)
	f.cachedFrames++
}

func (f *FlowStat) RecordPop(n int, now time.Time) {
	f.rollWindow(now)
	f.popFrames++
	f.popBytes += int64(n)
	f.cachedBytes -= int64(n)
	f.cachedFrames--
	if f.cachedBytes < 0 {
		f.cachedBytes = 0
	}
	if f.cachedFrames < 0 {
		f.cachedFrames = 0
	}
}

func (f *FlowStat) rollWindow(now time.Time) {
	if f.windowStart.IsZero() {
		f.windowStart = now
		return
	}
	if now.Sub(f.windowStart) < f.window {
		return
	}
	elapsed := now.Sub(f.windowStart).Seconds()
	if elapsed <= 0 {
		elapsed = f.window.Seconds()
	}
	f.pushFrameRate = float64(f.pushFrames) / elapsed
	f.popFrameRate = float64(f.popFrames) / elapsed
	f.pushBitRate = float64(f.pushBytes*8) / elapsed
	f.popBitRate = float64(f.popBytes*8) / elapsed
	f.pushFrames, f.popFrames = 0, 0
	f.pushBytes, f.popBytes = 0, 0
	f.windowStart = now
}

// Snapshot is a point-in-time read of the flow statistics.
type Snapshot struct {
	PushFrameRate float64
	PopFrameRate  float64
	PushBitRate   float64
	PopBitRate    float64
	CachedBytes   int64
	CachedFrames  int64
}

func (f *FlowStat) Snapshot() Snapshot {
	return Snapshot{
		PushFrameRate: f.pushFrameRate,
		PopFrameRate:  f.popFrameRate,
		PushBitRate:   f.pushBitRate,
		PopBitRate:    f.popBitRate,
		CachedBytes:   f.cachedBytes,
		CachedFrames:  f.cachedFrames,
	}
}
