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

// Package buffer implements the owned byte buffers used across the
// networking runtime: a tagged Buffer, a ring-style RecvPool and a
// FIFO SendPool of pending frames.
package buffer

// Buffer is an owned byte region carrying an opaque 64-bit tag used by
// senders to correlate completions (action ids surfaced on on_send).
type Buffer struct {
	Magic uint64
	Data  []byte
}

// New allocates a Buffer wrapping data with the given correlation tag.
func New(magic uint64, data []byte) *Buffer {
	return &Buffer{Magic: magic, Data: data}
}

// Len returns the number of bytes currently held by the buffer.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}
