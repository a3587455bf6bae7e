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

// Package reorder implements the single-writer single-reader receive-side
// reorder buffer over wrap-around 16-bit RTP sequence numbers.
package reorder

import (
	"container/heap"
	"time"
)

// MaxLossCount is the hard ceiling on circular distance beyond which a
// stream is considered reset rather than merely reordered.
const MaxLossCount = 15000

// ExtendSeq maps a 16-bit wire sequence number onto the 64-bit monotonic
// space anchored at minSeq64, choosing whichever circular direction (forward
// or backward) has distance under MaxLossCount. Reports false when neither
// direction fits, meaning the stream should be treated as reset.
func ExtendSeq(minSeq64 uint64, seq16 uint16) (uint64, bool) {
	base16 := uint16(minSeq64)
	fwd := seq16 - base16
	bwd := base16 - seq16
	if fwd < MaxLossCount {
		return minSeq64 + uint64(fwd), true
	}
	if bwd < MaxLossCount {
		return minSeq64 - uint64(bwd), true
	}
	return 0, false
}

// Params bounds the buffer's jitter window and silence-based reset.
type Params struct {
	HeightInPackets   int
	HeightInMs        int64
	MaxBrokenDuration time.Duration
}

// DefaultParams matches the spec's defaults: 100 packets, 500ms, 10s.
func DefaultParams() Params {
	return Params{HeightInPackets: 100, HeightInMs: 500, MaxBrokenDuration: 10 * time.Second}
}

// Entry is one buffered packet awaiting in-order delivery.
type Entry struct {
	Seq16       uint16
	Payload     []byte
	EnqueueTick time.Time
}

// Buffer is the reorder buffer itself. Not safe for concurrent use beyond
// the single-writer/single-reader contract the spec assumes.
type Buffer struct {
	params Params

	initialized bool
	hasPopped   bool
	minSeq64    uint64
	lastPush    time.Time

	entries map[uint64]*Entry
	keys    seq64Heap
}

// New creates a reorder buffer with the given parameters.
func New(p Params) *Buffer {
	return &Buffer{
		params:  p,
		entries: make(map[uint64]*Entry),
	}
}

func (b *Buffer) clear() {
	b.entries = make(map[uint64]*Entry)
	b.keys = b.keys[:0]
	b.hasPopped = false
}

// Push inserts a packet. See package doc / spec §4.9 for the full algorithm.
func (b *Buffer) Push(seq16 uint16, payload []byte, now time.Time) {
	if !b.initialized || now.Sub(b.lastPush) > b.params.MaxBrokenDuration {
		b.clear()
		b.minSeq64 = uint64(seq16)
		b.initialized = true
	}
	b.lastPush = now

	seq64, ok := ExtendSeq(b.minSeq64, seq16)
	if !ok {
		b.clear()
		b.minSeq64 = uint64(seq16)
		seq64 = b.minSeq64
	}

	if b.hasPopped && seq64 < b.minSeq64 {
		return
	}
	if !b.hasPopped && seq64 < b.minSeq64 {
		b.minSeq64 = seq64
	}
	if _, exists := b.entries[seq64]; exists {
		return
	}

	e := &Entry{Seq16: seq16, Payload: payload, EnqueueTick: now}
	b.entries[seq64] = e
	heap.Push(&b.keys, seq64)
}

// Pop returns the next in-order packet, or nil if none is deliverable yet.
// force bypasses the jitter-window wait (used on flush/teardown).
func (b *Buffer) Pop(force bool, now time.Time) *Entry {
	if len(b.keys) == 0 {
		return nil
	}
	head := b.keys[0]
	e := b.entries[head]

	deliver := force || head == b.minSeq64
	if !deliver && len(b.keys) > b.params.HeightInPackets {
		deliver = true
	}
	if !deliver && b.params.HeightInMs > 0 && now.Sub(e.EnqueueTick) > time.Duration(b.params.HeightInMs)*time.Millisecond {
		deliver = true
	}
	if !deliver {
		return nil
	}

	heap.Pop(&b.keys)
	delete(b.entries, head)
	b.hasPopped = true
	b.minSeq64 = head + 1
	return e
}

// Len reports the number of packets currently buffered.
func (b *Buffer) Len() int { return len(b.keys) }

type seq64Heap []uint64

func (h seq64Heap) Len() int            { return len(h) }
func (h seq64Heap) Less(i, j int) bool  { return h[i] < h[j] }
func (h seq64Heap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *seq64Heap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *seq64Heap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
