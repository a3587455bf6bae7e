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

// Package rtp implements the RTP packet model, its three on-wire pack
// modes, and the session wrapper tying a bucket to a transport.
package rtp

// PackMode selects the on-wire framing used ahead of the 12-byte RFC header.
type PackMode uint8

const (
	// Default is RFC-1889/3550 compliant when used over a datagram
	// transport; over a stream transport it is prefixed with an 8-byte
	// extension block carrying the frame length.
	Default PackMode = iota
	// Tcp2 prefixes the RFC header + payload with a 2-byte length.
	Tcp2
	// Tcp4 prefixes the RFC header + payload with a 4-byte length.
	Tcp4
)

const (
	rfcHeaderSize = 12
	extWireSize   = 8

	// MaxPayloadDefault bounds Default/Tcp2 payloads (1024*63 bytes).
	MaxPayloadDefault = 1024 * 63
	// MaxPayloadTcp4 bounds Tcp4 payloads (~96 MiB).
	MaxPayloadTcp4 = 1024 * 1024 * 96
)

// MaxPayload returns the payload ceiling for the given pack mode.
func MaxPayload(mode PackMode) int {
	if mode == Tcp4 {
		return MaxPayloadTcp4
	}
	return MaxPayloadDefault
}

// Packet is the in-memory RTP packet: RFC header fields, the framework's
// extension fields (mm_id/mm_type/key_frame/first_packet_of_frame), and the
// payload. The pack mode only governs what subset of this is put on the wire.
type Packet struct {
	Marker      bool
	PayloadType uint8 // 7 bits
	Seq         uint16
	Ts          uint32
	Ssrc        uint32

	MmId               uint32
	MmType             uint8
	KeyFrame           bool
	FirstPacketOfFrame bool

	PackMode PackMode
	Payload  []byte
}
