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

// Base is a plain FIFO bucket. Before pushing, entries older than the delay
// redline are dropped from the head; the push itself fails when it would
// cross the byte or frame redline.
type Base struct {
	q       *list.List
	redline Redline
	stat    *FlowStat
	bytes   int
	frames  int
}

// NewBase creates an empty base bucket with the given redline.
func NewBase(r Redline) *Base {
	return &Base{q: list.New(), redline: r, stat: NewFlowStat(time.Second)}
}

func (b *Base) expireHead(now time.Time) {
	if b.redline.DelayMs <= 0 {
		return
	}
	for e := b.q.Front(); e != nil; e = b.q.Front() {
		ent := e.Value.(*Entry)
		if now.Sub(ent.EnqueueTick) > time.Duration(b.redline.DelayMs)*time.Millisecond {
			b.q.Remove(e)
			b.bytes -= ent.size()
			b.frames--
			continue
		}
		break
	}
}

func (b *Base) PushBack(e *Entry, now time.Time) bool {
	b.expireHead(now)
	if b.redline.Bytes > 0 && b.bytes+e.size() > b.redline.Bytes {
		return false
	}
	if b.redline.Frames > 0 && b.frames+1 > b.redline.Frames {
		return false
	}
	b.q.PushBack(e)
	b.bytes += e.size()
	b.frames++
	b.stat.RecordPush(e.size(), now)
	return true
}

func (b *Base) GetFront() *Entry {
	if f := b.q.Front(); f != nil {
		return f.Value.(*Entry)
	}
	return nil
}

func (b *Base) PopFront(now time.Time) *Entry {
	f := b.q.Front()
	if f == nil {
		return nil
	}
	ent := f.Value.(*Entry)
	b.q.Remove(f)
	b.bytes -= ent.size()
	b.frames--
	b.stat.RecordPop(ent.size(), now)
	return ent
}

func (b *Base) Reset() {
	b.q.Init()
	b.bytes, b.frames = 0, 0
}

func (b *Base) SetRedline(r Redline) { b.redline = r }
func (b *Base) GetRedline() Redline  { return b.redline }
func (b *Base) Stats() *FlowStat     { return b.stat }
