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

import (
	liberr "github.com/pronet-go/pronet/errors"
)

// RecvPool is a fixed-size ring buffer with two cursors (data start, idle
// start). data_size + free_size always equals capacity; continuous views
// never wrap; peek is non-destructive.
type RecvPool struct {
	buf  []byte
	head int // data start
	size int // data size
}

// NewRecvPool allocates a RecvPool of the given capacity in bytes.
func NewRecvPool(capacity int) *RecvPool {
	return &RecvPool{buf: make([]byte, capacity)}
}

// Capacity returns the pool's fixed size.
func (p *RecvPool) Capacity() int {
	return len(p.buf)
}

// DataSize returns the number of bytes currently held.
func (p *RecvPool) DataSize() int {
	return p.size
}

// FreeSize returns the number of bytes of idle space remaining.
func (p *RecvPool) FreeSize() int {
	return len(p.buf) - p.size
}

// ContinuousIdle returns the longest contiguous idle slice available for a
// single read, without wrapping past the end of the backing array. Once the
// tail reaches capacity, no more idle space is offered until a Flush resets
// the cursors to origin (data drained to zero).
func (p *RecvPool) ContinuousIdle() []byte {
	tail := p.head + p.size
	if tail >= len(p.buf) {
		return nil
	}
	return p.buf[tail:len(p.buf)]
}

// Peek returns the longest contiguous slice of data available for reading,
// without advancing the data cursor.
func (p *RecvPool) Peek() []byte {
	if p.size == 0 {
		return nil
	}
	end := p.head + p.size
	if end > len(p.buf) {
		end = len(p.buf)
	}
	return p.buf[p.head:end]
}

// Commit records that n bytes were written into the slice returned by
// ContinuousIdle, growing the data region by n.
func (p *RecvPool) Commit(n int) liberr.Error {
	if n < 0 || n > p.FreeSize() {
		return liberr.New(uint16(liberr.MinPkgBuffer+1), "recv pool commit exceeds free size")
	}
	p.size += n
	return nil
}

// Flush advances the data cursor by n (n <= DataSize), discarding those
// bytes. When the pool empties, both cursors reset to origin — required for
// message-oriented UDP semantics.
func (p *RecvPool) Flush(n int) liberr.Error {
	if n < 0 || n > p.size {
		return liberr.New(uint16(liberr.MinPkgBuffer+2), "recv pool flush exceeds data size")
	}
	p.head += n
	p.size -= n
	if p.size == 0 {
		p.head = 0
	} else if p.head >= len(p.buf) {
		p.head -= len(p.buf)
	}
	return nil
}

// Reset clears the pool back to its origin.
func (p *RecvPool) Reset() {
	p.head = 0
	p.size = 0
}
