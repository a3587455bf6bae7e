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

// Audio is like Base but never refuses a push: on overflow it drops from the
// head until either the new entry fits within the byte redline or the queue
// empties. Newest audio always wins over stale audio.
type Audio struct {
	q       *list.List
	redline Redline
	stat    *FlowStat
	bytes   int
	frames  int
}

// NewAudio creates an empty audio bucket with the given redline.
func NewAudio(r Redline) *Audio {
	return &Audio{q: list.New(), redline: r, stat: NewFlowStat(time.Second)}
}

func (a *Audio) PushBack(e *Entry, now time.Time) bool {
	for a.redline.Bytes > 0 && a.bytes+e.size() > a.redline.Bytes && a.q.Len() > 0 {
		f := a.q.Front()
		ent := f.Value.(*Entry)
		a.q.Remove(f)
		a.bytes -= ent.size()
		a.frames--
	}
	a.q.PushBack(e)
	a.bytes += e.size()
	a.frames++
	a.stat.RecordPush(e.size(), now)
	return true
}

func (a *Audio) GetFront() *Entry {
	if f := a.q.Front(); f != nil {
		return f.Value.(*Entry)
	}
	return nil
}

func (a *Audio) PopFront(now time.Time) *Entry {
	f := a.q.Front()
	if f == nil {
		return nil
	}
	ent := f.Value.(*Entry)
	a.q.Remove(f)
	a.bytes -= ent.size()
	a.frames--
	a.stat.RecordPop(ent.size(), now)
	return ent
}

func (a *Audio) Reset() {
	a.q.Init()
	a.bytes, a.frames = 0, 0
}

func (a *Audio) SetRedline(r Redline) { a.redline = r }
func (a *Audio) GetRedline() Redline  { return a.redline }
func (a *Audio) Stats() *FlowStat     { return a.stat }
