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

package buffer

import "container/list"

// SendPool is an ordered sequence of owned frames, each carrying a pending
// offset. pre_send exposes the contiguous unsent tail of the head frame;
// flush advances the offset; post_send pops a frame once fully sent.
type SendPool struct {
	frames *list.List
}

// NewSendPool creates an empty send pool.
func NewSendPool() *SendPool {
	return &SendPool{frames: list.New()}
}

// PushBack enqueues a new frame at the tail of the pool.
func (s *SendPool) PushBack(b *Buffer) {
	if b == nil {
		return
	}
	s.frames.PushBack(&pendingFrame{buf: b})
}

// Len returns the number of frames still queued.
func (s *SendPool) Len() int {
	return s.frames.Len()
}

// PreSend returns the contiguous unsent tail of the head frame, or nil if
// the pool is empty.
func (s *SendPool) PreSend() []byte {
	e := s.frames.Front()
	if e == nil {
		return nil
	}
	f := e.Value.(*pendingFrame)
	return f.buf.Data[f.offset:]
}

// Flush advances the head frame's pending offset by n bytes.
func (s *SendPool) Flush(n int) {
	e := s.frames.Front()
	if e == nil || n <= 0 {
		return
	}
	f := e.Value.(*pendingFrame)
	f.offset += n
	if f.offset > len(f.buf.Data) {
		f.offset = len(f.buf.Data)
	}
}

// OnSendBuf returns the head frame's buffer iff it has been fully sent
// (pending offset reached the frame length), without popping it.
func (s *SendPool) OnSendBuf() *Buffer {
	e := s.frames.Front()
	if e == nil {
		return nil
	}
	f := e.Value.(*pendingFrame)
	if f.offset >= len(f.buf.Data) {
		return f.buf
	}
	return nil
}

// PostSend pops the head frame. Call only after OnSendBuf confirmed it was
// fully drained.
func (s *SendPool) PostSend() {
	if e := s.frames.Front(); e != nil {
		s.frames.Remove(e)
	}
}

type pendingFrame struct {
	buf    *Buffer
	offset int
}
