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

package rtp

import (
	"encoding/binary"

	liberr "github.com/pronet-go/pronet/errors"
)

func putRfcHeader(b []byte, p *Packet) {
	b[0] = 0x80 // V=2, P=0, X=0, CC=0
	b[1] = p.PayloadType & 0x7f
	if p.Marker {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:4], p.Seq)
	binary.BigEndian.PutUint32(b[4:8], p.Ts)
	binary.BigEndian.PutUint32(b[8:12], p.Ssrc)
}

func getRfcHeader(b []byte, p *Packet) (csrcCount int, hasExt bool) {
	p.Marker = b[1]&0x80 != 0
	p.PayloadType = b[1] & 0x7f
	p.Seq = binary.BigEndian.Uint16(b[2:4])
	p.Ts = binary.BigEndian.Uint32(b[4:8])
	p.Ssrc = binary.BigEndian.Uint32(b[8:12])
	return int(b[0] & 0x0f), b[0]&0x10 != 0
}

// EncodeDatagram renders a Default-mode packet exactly as RFC-1889/3550
// requires for interop: 12-byte header immediately followed by the payload,
// no CSRCs and no extension header (this stack never originates either).
func EncodeDatagram(p *Packet) []byte {
	out := make([]byte, rfcHeaderSize+len(p.Payload))
	putRfcHeader(out, p)
	copy(out[rfcHeaderSize:], p.Payload)
	return out
}

// DecodeDatagram parses a Default-mode datagram. It tolerates CSRCs and a
// header-extension block from a third-party RTP sender by skipping them
// before surfacing the payload, per spec.
func DecodeDatagram(raw []byte) (*Packet, liberr.Error) {
	if len(raw) < rfcHeaderSize {
		return nil, liberr.New(uint16(liberr.MinPkgRtp+1), "datagram shorter than RTP header")
	}
	p := &Packet{PackMode: Default}
	csrcCount, hasExt := getRfcHeader(raw, p)
	off := rfcHeaderSize + csrcCount*4
	if off > len(raw) {
		return nil, liberr.New(uint16(liberr.MinPkgRtp+2), "truncated CSRC list")
	}
	if hasExt {
		if off+4 > len(raw) {
			return nil, liberr.New(uint16(liberr.MinPkgRtp+3), "truncated extension header")
		}
		extLenWords := binary.BigEndian.Uint16(raw[off+2 : off+4])
		off += 4 + int(extLenWords)*4
		if off > len(raw) {
			return nil, liberr.New(uint16(liberr.MinPkgRtp+4), "truncated extension body")
		}
	}
	p.Payload = append([]byte(nil), raw[off:]...)
	return p, nil
}

// EncodeStream renders a packet for a stream transport (TCP/TLS) under the
// given pack mode: a length prefix sized per mode, followed by the 12-byte
// RFC header and the payload. Default mode additionally carries the 8-byte
// extension block (hdr_and_payload_size, a truncated 16-bit mm_id, mm_type
// and the key_frame/first_packet_of_frame flags); Tcp2/Tcp4 carry none of
// that — "no ext wire bytes" per spec.
func EncodeStream(p *Packet) ([]byte, liberr.Error) {
	if len(p.Payload) > MaxPayload(p.PackMode) {
		return nil, liberr.New(uint16(liberr.MinPkgRtp+5), "payload exceeds pack mode limit")
	}
	body := make([]byte, rfcHeaderSize+len(p.Payload))
	putRfcHeader(body, p)
	copy(body[rfcHeaderSize:], p.Payload)

	switch p.PackMode {
	case Tcp2:
		out := make([]byte, 2+len(body))
		binary.BigEndian.PutUint16(out, uint16(len(body)))
		copy(out[2:], body)
		return out, nil
	case Tcp4:
		out := make([]byte, 4+len(body))
		binary.BigEndian.PutUint32(out, uint32(len(body)))
		copy(out[4:], body)
		return out, nil
	default:
		ext := make([]byte, extWireSize)
		binary.BigEndian.PutUint32(ext[0:4], uint32(len(body)))
		binary.BigEndian.PutUint16(ext[4:6], uint16(p.MmId))
		ext[6] = p.MmType
		var flags byte
		if p.KeyFrame {
			flags |= 0x01
		}
		if p.FirstPacketOfFrame {
			flags |= 0x02
		}
		ext[7] = flags
		out := make([]byte, extWireSize+len(body))
		copy(out, ext)
		copy(out[extWireSize:], body)
		return out, nil
	}
}

// TryDecodeStream attempts to parse one frame of the given pack mode from
// the front of buf. ok is false when buf does not yet hold a complete
// frame (caller should wait for more bytes); consumed is only meaningful
// when ok is true.
func TryDecodeStream(mode PackMode, buf []byte) (p *Packet, consumed int, ok bool, err liberr.Error) {
	var prefixLen, bodyLen int
	var extBytes []byte

	switch mode {
	case Tcp2:
		if len(buf) < 2 {
			return nil, 0, false, nil
		}
		bodyLen = int(binary.BigEndian.Uint16(buf[:2]))
		prefixLen = 2
	case Tcp4:
		if len(buf) < 4 {
			return nil, 0, false, nil
		}
		bodyLen = int(binary.BigEndian.Uint32(buf[:4]))
		prefixLen = 4
	default:
		if len(buf) < extWireSize {
			return nil, 0, false, nil
		}
		extBytes = buf[:extWireSize]
		bodyLen = int(binary.BigEndian.Uint32(extBytes[0:4]))
		prefixLen = extWireSize
	}

	if bodyLen < rfcHeaderSize {
		return nil, 0, false, liberr.New(uint16(liberr.MinPkgRtp+6), "frame shorter than RTP header")
	}
	total := prefixLen + bodyLen
	if len(buf) < total {
		return nil, 0, false, nil
	}

	body := buf[prefixLen:total]
	p = &Packet{PackMode: mode}
	getRfcHeader(body, p)
	p.Payload = append([]byte(nil), body[rfcHeaderSize:]...)

	if extBytes != nil {
		p.MmId = uint32(binary.BigEndian.Uint16(extBytes[4:6]))
		p.MmType = extBytes[6]
		p.KeyFrame = extBytes[7]&0x01 != 0
		p.FirstPacketOfFrame = extBytes[7]&0x02 != 0
	}

	return p, total, true, nil
}
