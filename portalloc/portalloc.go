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

// Package portalloc implements the process-wide port allocator singleton:
// a simple lock-protected range cursor handing out ports for ephemeral
// listeners (RTP/RTCP pairs, control-channel reconnects) without reusing a
// port still marked in-use.
package portalloc

import (
	"net"
	"sync"

	liberr "github.com/pronet-go/pronet/errors"
)

// Allocator hands out ports from a bounded range, skipping ports already
// marked reserved and probing the OS to avoid handing out a
// port some unrelated process is already listening on.
type Allocator struct {
	mut      sync.Mutex
	lo, hi   uint16
	cursor   uint16
	reserved map[uint16]struct{}
}

var (
	once     sync.Once
	instance *Allocator
)

// Default returns the process-wide singleton, lazily initialised on first
// use to the full ephemeral range [20000, 60000).
func Default() *Allocator {
	once.Do(func() {
		instance = New(20000, 60000)
	})
	return instance
}

// New creates an allocator over [lo, hi). Exposed for tests and for
// callers needing a private range instead of the process-wide singleton.
func New(lo, hi uint16) *Allocator {
	return &Allocator{lo: lo, hi: hi, cursor: lo, reserved: make(map[uint16]struct{})}
}

// Reserve marks a port unavailable until Release is called, without
// requiring it to have been produced by Acquire (e.g. a fixed config port).
func (a *Allocator) Reserve(port uint16) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.reserved[port] = struct{}{}
}

// Release frees a previously reserved or acquired port.
func (a *Allocator) Release(port uint16) {
	a.mut.Lock()
	defer a.mut.Unlock()
	delete(a.reserved, port)
}

// Acquire returns the next free UDP port in range, probing the OS with a
// transient bind to avoid colliding with a foreign listener.
func (a *Allocator) Acquire() (uint16, liberr.Error) {
	a.mut.Lock()
	defer a.mut.Unlock()

	span := int(a.hi) - int(a.lo)
	if span <= 0 {
		return 0, liberr.New(uint16(liberr.MinPkgPortAlloc+1), "empty port range")
	}

	for i := 0; i < span; i++ {
		p := a.lo + uint16((int(a.cursor-a.lo)+i)%span)
		if _, used := a.reserved[p]; used {
			continue
		}
		if !probeFree(p) {
			continue
		}
		a.reserved[p] = struct{}{}
		a.cursor = p + 1
		if a.cursor >= a.hi {
			a.cursor = a.lo
		}
		return p, nil
	}
	return 0, liberr.New(uint16(liberr.MinPkgPortAlloc+2), "no free port available in range")
}

func probeFree(port uint16) bool {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(port)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
